package bus

import "sync"

// result is what a waiter receives for one call: the reply body or the
// error that terminated the call.
type result struct {
	body []byte
	err  error
}

// pendingCalls is the correlation map shared between callers and the
// reply-queue consumer. Slots are registered before publishing so a
// reply can never arrive ahead of its registration.
type pendingCalls struct {
	mu    sync.Mutex
	slots map[string]chan result
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{slots: make(map[string]chan result)}
}

// register creates the slot for a correlation id. The channel is
// buffered so the consumer never blocks on a slow waiter.
func (p *pendingCalls) register(id string) <-chan result {
	slot := make(chan result, 1)
	p.mu.Lock()
	p.slots[id] = slot
	p.mu.Unlock()
	return slot
}

// resolve removes the slot and hands the body to its waiter. Returns
// false when no slot exists, which means the call was cancelled or the
// reply is not ours; such replies are dropped by the caller.
func (p *pendingCalls) resolve(id string, body []byte) bool {
	p.mu.Lock()
	slot, ok := p.slots[id]
	if ok {
		delete(p.slots, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	slot <- result{body: body}
	return true
}

// drop removes the slot without delivering anything. Used on
// cancellation; a reply arriving afterwards no longer matches.
func (p *pendingCalls) drop(id string) {
	p.mu.Lock()
	delete(p.slots, id)
	p.mu.Unlock()
}

// failAll terminates every pending call with err. Used when the broker
// connection is lost or the client is closed.
func (p *pendingCalls) failAll(err error) {
	p.mu.Lock()
	slots := p.slots
	p.slots = make(map[string]chan result)
	p.mu.Unlock()
	for _, slot := range slots {
		slot <- result{err: err}
	}
}

func (p *pendingCalls) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
