package device

import "sync"

// Mailbox holds at most one Status. Publish always overwrites, so an
// unread Status is silently dropped when a newer one arrives.
type Mailbox struct {
	lock     sync.Mutex
	slot     Status
	filled   bool
	notifyCh chan struct{}
}

// NewMailbox creates an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{notifyCh: make(chan struct{}, 1)}
}

// Publish replaces the slot content. It never waits for the reader.
func (m *Mailbox) Publish(s Status) {
	s.Rendered = false
	m.lock.Lock()
	m.slot, m.filled = s, true
	m.lock.Unlock()
	select {
	case m.notifyCh <- struct{}{}:
	default:
	}
}

// TakeIfPending returns the unread Status and marks it rendered.
// A second call without a Publish in between returns false.
func (m *Mailbox) TakeIfPending() (Status, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if !m.filled || m.slot.Rendered {
		return Status{}, false
	}
	m.slot.Rendered = true
	return m.slot, true
}

// Pending returns the unread Status without taking it.
func (m *Mailbox) Pending() (Status, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if !m.filled || m.slot.Rendered {
		return Status{}, false
	}
	return m.slot, true
}

// Outranks reports whether an unread Status with priority above p is waiting.
func (m *Mailbox) Outranks(p Priority) bool {
	s, ok := m.Pending()
	return ok && s.Priority > p
}

// Notify returns a channel signalled after each Publish.
func (m *Mailbox) Notify() <-chan struct{} {
	return m.notifyCh
}
