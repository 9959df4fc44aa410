package gatt

import "sync"

// A ConfirmFunc receives the confirmation status of one indication.
type ConfirmFunc func(d BDAddr, c *Characteristic, s Status)

type pendingIndication struct {
	d       BDAddr
	c       *Characteristic
	confirm ConfirmFunc
}

// notifier tracks indications waiting for a confirmation, by cookie.
type notifier struct {
	mu      sync.Mutex
	pending map[int]pendingIndication
}

// queue runs send and records p under the returned cookie. The lock is
// held across send so that a confirmation racing with it waits until
// the cookie is recorded.
func (n *notifier) queue(send func() int, p pendingIndication) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	cookie := send()
	if cookie == 0 {
		return false
	}
	if n.pending == nil {
		n.pending = make(map[int]pendingIndication)
	}
	n.pending[cookie] = p
	return true
}

// take removes and returns the indication recorded under cookie.
func (n *notifier) take(cookie int) (pendingIndication, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.pending[cookie]
	if ok {
		delete(n.pending, cookie)
	}
	return p, ok
}

// len returns the number of unconfirmed indications.
func (n *notifier) len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

// reset drops every pending indication without confirming it.
func (n *notifier) reset() {
	n.mu.Lock()
	n.pending = nil
	n.mu.Unlock()
}
