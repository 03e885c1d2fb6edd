package ejdb

import "sync"

const maxPooledBuffer = 1024 * 1024

var docBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func getDocBytes(sizeHint int) []byte {
	buf := docBytesPool.Get().([]byte)
	return ensureCapacity(buf, sizeHint)
}

func releaseDocBytes(b []byte) {
	if cap(b) > maxPooledBuffer {
		return
	}
	docBytesPool.Put(b[:0])
}
