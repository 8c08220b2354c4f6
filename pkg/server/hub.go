package server

import (
	"sync"

	"github.com/robotalks/stabilizer/pkg/host"
)

// hub fans snapshots out to streams. A slow stream misses snapshots
// rather than stalling the control loop.
type hub struct {
	lock sync.Mutex
	subs map[chan host.Snapshot]struct{}
}

func (h *hub) subscribe() chan host.Snapshot {
	ch := make(chan host.Snapshot, 16)
	h.lock.Lock()
	h.subs[ch] = struct{}{}
	h.lock.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan host.Snapshot) {
	h.lock.Lock()
	delete(h.subs, ch)
	h.lock.Unlock()
}

func (h *hub) broadcast(snap host.Snapshot) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for ch := range h.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (h *hub) count() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.subs)
}
