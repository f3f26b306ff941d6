package observer

import (
	"strings"
	"time"

	"github.com/hazyhaar/hovertime/domwatch/mutation"
)

// debounceConfig controls the batching behaviour.
type debounceConfig struct {
	// Window is the debounce time. Default: 250ms.
	Window time.Duration
	// MaxBuffer flushes immediately when this many records accumulate. Default: 1000.
	MaxBuffer int
}

func (dc *debounceConfig) defaults() {
	if dc.Window <= 0 {
		dc.Window = 250 * time.Millisecond
	}
	if dc.MaxBuffer <= 0 {
		dc.MaxBuffer = 1000
	}
}

// debouncer collects records and emits compressed batches when the window
// expires or the buffer fills. It is not safe for concurrent use; the
// observer loop owns it.
type debouncer struct {
	cfg     debounceConfig
	records []mutation.Record
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func([]mutation.Record)
}

func newDebouncer(cfg debounceConfig, flushFn func([]mutation.Record)) *debouncer {
	cfg.defaults()
	return &debouncer{
		cfg:     cfg,
		records: make([]mutation.Record, 0, cfg.MaxBuffer),
		flushFn: flushFn,
	}
}

// add buffers rec. It reports true if the buffer was full and got flushed.
func (d *debouncer) add(rec mutation.Record) bool {
	d.records = append(d.records, rec)
	if len(d.records) >= d.cfg.MaxBuffer {
		d.flush()
		return true
	}
	if d.timer == nil {
		d.timer = time.NewTimer(d.cfg.Window)
		d.timerCh = d.timer.C
	} else {
		d.timer.Reset(d.cfg.Window)
	}
	return false
}

// timerC fires when the window expires. It is nil while the buffer is empty.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

// flush compresses and emits the buffered records, then resets.
func (d *debouncer) flush() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
	if len(d.records) == 0 {
		return
	}
	out := compress(d.records)
	d.records = make([]mutation.Record, 0, d.cfg.MaxBuffer)
	d.flushFn(out)
}

// compress drops records the coordinator would do nothing new with:
//   - an insert whose path, or one of its ancestors, was already inserted
//     earlier in the batch, since inserted subtrees are examined whole;
//   - all but the last of consecutive navigate records.
//
// A remove forgets the inserts at or under its path. remove and doc_reset
// records are kept as they are.
func compress(records []mutation.Record) []mutation.Record {
	if len(records) <= 1 {
		return records
	}

	out := make([]mutation.Record, 0, len(records))
	inserted := make(map[string]bool)
	for _, rec := range records {
		switch rec.Op {
		case mutation.OpInsert:
			if coveredBy(inserted, rec.XPath) {
				continue
			}
			inserted[rec.XPath] = true
		case mutation.OpRemove:
			for p := range inserted {
				if p == rec.XPath || strings.HasPrefix(p, rec.XPath+"/") {
					delete(inserted, p)
				}
			}
		case mutation.OpDocReset:
			clear(inserted)
		case mutation.OpNavigate:
			if n := len(out); n > 0 && out[n-1].Op == mutation.OpNavigate {
				out[n-1] = rec
				continue
			}
		}
		out = append(out, rec)
	}
	return out
}

// coveredBy reports whether xpath or one of its ancestors is in set.
func coveredBy(set map[string]bool, xpath string) bool {
	for p := xpath; p != ""; {
		if set[p] {
			return true
		}
		i := strings.LastIndexByte(p, '/')
		if i <= 0 {
			return false
		}
		p = p[:i]
	}
	return false
}
