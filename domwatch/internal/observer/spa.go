package observer

import (
	"time"

	"github.com/hazyhaar/hovertime/domwatch/mutation"
)

// handleNavigate follows a route change inside the chat client: records
// keep flowing until the DOM has been quiet for the settle delay, then a
// navigate record and a snapshot are emitted.
func (o *Observer) handleNavigate(newURL string) {
	o.logger.Info("observer: SPA navigation detected", "url", newURL)
	o.tab.PageURL = newURL
	o.debouncer.add(mutation.Record{Op: mutation.OpNavigate, Value: newURL})
	if !o.settleDOM() {
		return
	}
	o.emitSnapshot("navigate")
}

// handleDocReset follows a full page load: the old document and its
// observer are gone. A doc_reset batch goes out first, then the script is
// re-injected once the new document has settled, then a reset snapshot.
func (o *Observer) handleDocReset() {
	o.logger.Info("observer: document replaced (doc_reset)", "url", o.tab.PageURL)
	o.debouncer.flush()
	o.emitBatch([]mutation.Record{{Op: mutation.OpDocReset}})

	if !o.settleDOM() {
		return
	}
	if err := o.inject(); err != nil {
		o.logger.Error("observer: re-inject failed", "error", err)
	}
	o.emitSnapshot("reset")
}

// settleDOM keeps buffering records until none arrived for the settle
// delay, then flushes. It reports false when the observer was stopped.
func (o *Observer) settleDOM() bool {
	timer := time.NewTimer(o.settle)
	defer timer.Stop()
	for {
		select {
		case <-o.ctx.Done():
			return false
		case r := <-o.rawCh:
			o.debouncer.add(r)
			timer.Reset(o.settle)
		case <-timer.C:
			o.debouncer.flush()
			return true
		}
	}
}
