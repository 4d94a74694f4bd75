package tracker

// Subscription delivers snapshots to one watcher. Only the latest snapshot
// is buffered: a slow reader skips intermediate versions but always ends
// up with the newest one.
type Subscription struct {
	C <-chan Snapshot

	session *Session
	ch      chan Snapshot
	closed  bool
}

// Watch registers a watcher and immediately queues the current snapshot.
// Callers must Cancel the subscription when done; Close cancels all of them.
func (s *Session) Watch() *Subscription {
	ch := make(chan Snapshot, 1)
	sub := &Subscription{C: ch, session: s, ch: ch}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		sub.closeLocked()
		return sub
	}

	s.watchers[sub] = struct{}{}
	sub.offer(s.snapshotLocked())
	return sub
}

// Cancel unregisters the watcher and closes C. It is safe to call twice.
func (sub *Subscription) Cancel() {
	s := sub.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watchers != nil {
		delete(s.watchers, sub)
	}
	sub.closeLocked()
}

func (sub *Subscription) closeLocked() {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
}

// offer replaces any unread snapshot with snap. Called with the session lock
// held, so this is the only sender.
func (sub *Subscription) offer(snap Snapshot) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- snap:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	sub.ch <- snap
}
