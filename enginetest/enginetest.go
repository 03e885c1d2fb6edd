// Package enginetest is a conformance suite for ejdb.Engine implementations.
package enginetest

import (
	"bytes"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/andreyvit/ejdb"
	"github.com/stretchr/testify/require"
)

// Factory opens a fresh, empty engine. The suite closes it.
type Factory func(t *testing.T) ejdb.Engine

// Run runs every conformance test against engines produced by open.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, e ejdb.Engine)
	}{
		{"EnsureIdempotent", RunTestEnsureIdempotent},
		{"DropAbsent", RunTestDropAbsent},
		{"SaveLoadRaw", RunTestSaveLoadRaw},
		{"SaveAssignsID", RunTestSaveAssignsID},
		{"Upsert", RunTestUpsert},
		{"LoadAbsent", RunTestLoadAbsent},
		{"SaveCreatesCollection", RunTestSaveCreatesCollection},
		{"DropHidesRecords", RunTestDropHidesRecords},
		{"Compressed", RunTestCompressed},
		{"Remove", RunTestRemove},
		{"Isolation", RunTestIsolation},
		{"InvalidName", RunTestInvalidName},
		{"UseAfterClose", RunTestUseAfterClose},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := open(t)
			t.Cleanup(func() { _ = e.Close() })
			tt.fn(t, e)
		})
	}
}

func encode(t testing.TB, d ejdb.Doc) []byte {
	t.Helper()
	raw, err := ejdb.Encode(d)
	require.NoError(t, err)
	return raw
}

func decode(t testing.TB, raw []byte) ejdb.Doc {
	t.Helper()
	d, err := ejdb.Decode(raw)
	require.NoError(t, err)
	return d
}

func RunTestEnsureIdempotent(t *testing.T, e ejdb.Engine) {
	opts := ejdb.CollectionOptions{RecordSizeHint: 512, Compressed: true}
	ok, err := e.EnsureCollection("things", opts)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.EnsureCollection("things", ejdb.CollectionOptions{})
	require.NoError(t, err)
	require.True(t, ok)

	if insp, is := e.(ejdb.CollectionInspector); is {
		got, found, err := insp.CollectionOptions("things")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, opts, got, "second EnsureCollection must keep the original options")
	}
	if lister, is := e.(ejdb.CollectionLister); is {
		names, err := lister.CollectionNames()
		require.NoError(t, err)
		require.Equal(t, []string{"things"}, names)
	}
}

func RunTestDropAbsent(t *testing.T, e ejdb.Engine) {
	for _, prune := range []bool{false, true} {
		ok, err := e.DropCollection("nothing", prune)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func RunTestSaveLoadRaw(t *testing.T, e ejdb.Engine) {
	_, err := e.EnsureCollection("raw", ejdb.CollectionOptions{})
	require.NoError(t, err)

	id := ejdb.NewObjectID()
	raw := encode(t, ejdb.Doc{{"_id", id}, {"n", int32(1)}, {"s", "hello"}})
	saved, err := e.SaveRecord("raw", raw)
	require.NoError(t, err)
	require.Equal(t, id, saved)

	got, err := e.LoadRecord("raw", id)
	require.NoError(t, err)
	require.True(t, bytes.Equal(raw, got), "LoadRecord = %x, wanted %x", got, raw)
}

func RunTestSaveAssignsID(t *testing.T, e ejdb.Engine) {
	saved, err := e.SaveRecord("auto", encode(t, ejdb.Doc{{"name", "a"}}))
	require.NoError(t, err)
	require.False(t, saved.IsZero())

	got, err := e.LoadRecord("auto", saved)
	require.NoError(t, err)
	require.Equal(t, ejdb.Doc{{"name", "a"}, {"_id", saved}}, decode(t, got))
}

func RunTestUpsert(t *testing.T, e ejdb.Engine) {
	id := ejdb.NewObjectID()
	_, err := e.SaveRecord("up", encode(t, ejdb.Doc{{"_id", id}, {"v", int32(1)}}))
	require.NoError(t, err)
	_, err = e.SaveRecord("up", encode(t, ejdb.Doc{{"_id", id}, {"v", int32(2)}}))
	require.NoError(t, err)

	got, err := e.LoadRecord("up", id)
	require.NoError(t, err)
	require.Equal(t, ejdb.Doc{{"_id", id}, {"v", int32(2)}}, decode(t, got))
}

func RunTestLoadAbsent(t *testing.T, e ejdb.Engine) {
	got, err := e.LoadRecord("missing", ejdb.NewObjectID())
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = e.EnsureCollection("present", ejdb.CollectionOptions{})
	require.NoError(t, err)
	got, err = e.LoadRecord("present", ejdb.NewObjectID())
	require.NoError(t, err)
	require.Nil(t, got)
}

func RunTestSaveCreatesCollection(t *testing.T, e ejdb.Engine) {
	_, err := e.SaveRecord("implicit", encode(t, ejdb.Doc{{"x", true}}))
	require.NoError(t, err)
	if lister, is := e.(ejdb.CollectionLister); is {
		names, err := lister.CollectionNames()
		require.NoError(t, err)
		require.Contains(t, names, "implicit")
	}
}

func RunTestDropHidesRecords(t *testing.T, e ejdb.Engine) {
	for _, prune := range []bool{false, true} {
		_, err := e.EnsureCollection("gone", ejdb.CollectionOptions{})
		require.NoError(t, err)
		id, err := e.SaveRecord("gone", encode(t, ejdb.Doc{{"name", "a"}}))
		require.NoError(t, err)

		ok, err := e.DropCollection("gone", prune)
		require.NoError(t, err)
		require.True(t, ok)

		got, err := e.LoadRecord("gone", id)
		require.NoError(t, err)
		require.Nil(t, got, "prune=%v: record visible after drop", prune)

		_, err = e.EnsureCollection("gone", ejdb.CollectionOptions{})
		require.NoError(t, err)
		got, err = e.LoadRecord("gone", id)
		require.NoError(t, err)
		require.Nil(t, got, "prune=%v: record visible in re-created collection", prune)

		_, err = e.DropCollection("gone", true)
		require.NoError(t, err)
	}

	if v, is := e.(ejdb.Vacuumer); is {
		n, err := v.Vacuum()
		require.NoError(t, err)
		require.Equal(t, 1, n, "one collection was dropped without prune")
		n, err = v.Vacuum()
		require.NoError(t, err)
		require.Equal(t, 0, n)
	}
}

func RunTestCompressed(t *testing.T, e ejdb.Engine) {
	_, err := e.EnsureCollection("zipped", ejdb.CollectionOptions{Compressed: true})
	require.NoError(t, err)

	text := string(bytes.Repeat([]byte("compressible "), 200))
	doc := ejdb.Doc{
		{"_id", ejdb.NewObjectID()},
		{"text", text},
		{"when", time.UnixMilli(1700000000123).UTC()},
	}
	raw := encode(t, doc)
	id, err := e.SaveRecord("zipped", raw)
	require.NoError(t, err)

	got, err := e.LoadRecord("zipped", id)
	require.NoError(t, err)
	require.Equal(t, doc, decode(t, got))
}

func RunTestRemove(t *testing.T, e ejdb.Engine) {
	r, is := e.(ejdb.RecordRemover)
	if !is {
		t.Skip("engine does not implement RecordRemover")
	}
	id, err := e.SaveRecord("rm", encode(t, ejdb.Doc{{"a", int32(1)}}))
	require.NoError(t, err)

	removed, err := r.RemoveRecord("rm", id)
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = r.RemoveRecord("rm", id)
	require.NoError(t, err)
	require.False(t, removed)

	removed, err = r.RemoveRecord("nope", id)
	require.NoError(t, err)
	require.False(t, removed)

	got, err := e.LoadRecord("rm", id)
	require.NoError(t, err)
	require.Nil(t, got)
}

func RunTestIsolation(t *testing.T, e ejdb.Engine) {
	id := ejdb.NewObjectID()
	_, err := e.SaveRecord("left", encode(t, ejdb.Doc{{"_id", id}, {"side", "left"}}))
	require.NoError(t, err)
	_, err = e.SaveRecord("right", encode(t, ejdb.Doc{{"_id", id}, {"side", "right"}}))
	require.NoError(t, err)

	_, err = e.DropCollection("left", true)
	require.NoError(t, err)

	got, err := e.LoadRecord("right", id)
	require.NoError(t, err)
	require.Equal(t, ejdb.Doc{{"_id", id}, {"side", "right"}}, decode(t, got))

	if lister, is := e.(ejdb.CollectionLister); is {
		names, err := lister.CollectionNames()
		require.NoError(t, err)
		require.False(t, slices.Contains(names, "left"))
	}
}

func RunTestInvalidName(t *testing.T, e ejdb.Engine) {
	for _, name := range []string{"", "a/b", "nul\x00"} {
		_, err := e.EnsureCollection(name, ejdb.CollectionOptions{})
		require.True(t, errors.Is(err, ejdb.ErrInvalidName), "EnsureCollection(%q) err = %v, wanted ErrInvalidName", name, err)
	}
}

func RunTestUseAfterClose(t *testing.T, e ejdb.Engine) {
	require.NoError(t, e.Close())
	_, err := e.LoadRecord("any", ejdb.NewObjectID())
	require.Error(t, err)
	_, err = e.SaveRecord("any", encode(t, ejdb.Doc{{"a", int32(1)}}))
	require.Error(t, err)
}
