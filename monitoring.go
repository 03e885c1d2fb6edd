package ejdb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

const (
	opEnsure = "ensure"
	opDrop   = "drop"
	opLoad   = "load"
	opSave   = "save"
	opRemove = "remove"
	opSync   = "sync"
	opVacuum = "vacuum"
)

var allOps = []string{opEnsure, opDrop, opLoad, opSave, opRemove, opSync, opVacuum}

type opMetrics struct {
	total    *metrics.Counter
	errors   *metrics.Counter
	duration *metrics.Histogram
}

type dbMetrics struct {
	set *metrics.Set
	ops map[string]*opMetrics
}

func newDBMetrics() *dbMetrics {
	m := &dbMetrics{
		set: metrics.NewSet(),
		ops: make(map[string]*opMetrics, len(allOps)),
	}
	for _, op := range allOps {
		m.ops[op] = &opMetrics{
			total:    m.set.NewCounter(fmt.Sprintf(`ejdb_ops_total{op=%q}`, op)),
			errors:   m.set.NewCounter(fmt.Sprintf(`ejdb_op_errors_total{op=%q}`, op)),
			duration: m.set.NewHistogram(fmt.Sprintf(`ejdb_op_duration_seconds{op=%q}`, op)),
		}
	}
	return m
}

// observe records one finished operation and, in verbose mode, logs it.
func (db *DB) observe(op, coll string, id ObjectID, start time.Time, err error) {
	om := db.metrics.ops[op]
	om.total.Inc()
	om.duration.UpdateDuration(start)
	if err != nil {
		om.errors.Inc()
	}
	if db.verbose {
		attrs := []slog.Attr{slog.String("coll", coll)}
		if !id.IsZero() {
			attrs = append(attrs, hexAttr("id", id[:]))
		}
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))
		if err != nil {
			attrs = append(attrs, slog.Any("err", err))
		}
		db.logger.LogAttrs(context.Background(), slog.LevelDebug, "db: "+op, attrs...)
	}
}

// OpCount returns how many times op has been called, for diagnostics and tests.
func (db *DB) OpCount(op string) uint64 {
	if om := db.metrics.ops[op]; om != nil {
		return om.total.Get()
	}
	return 0
}

// WritePrometheus writes the DB's operation metrics in Prometheus text format.
func (db *DB) WritePrometheus(w io.Writer) {
	db.metrics.set.WritePrometheus(w)
}
