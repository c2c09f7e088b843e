package apicache

import "sync"

type notification struct {
	sub  *Subscription
	snap Snapshot
}

// dispatcher delivers notifications from one goroutine in the order they
// were queued. push never blocks, so it is safe under Client.mu.
type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []notification
	closed bool
	done   chan struct{}
	log    Logger
}

func newDispatcher(log Logger) *dispatcher {
	d := &dispatcher{done: make(chan struct{}), log: log}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

func (d *dispatcher) push(n notification) {
	d.mu.Lock()
	if !d.closed {
		d.queue = append(d.queue, n)
		d.cond.Signal()
	}
	d.mu.Unlock()
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, n := range batch {
			if n.sub.active.Load() {
				d.deliver(n)
			}
		}
	}
}

func (d *dispatcher) deliver(n notification) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("subscriber callback panicked", Fields{"key": n.sub.Key(), "panic": r})
		}
	}()
	n.sub.fn(n.snap)
}

// close drains what is queued, then stops the loop.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	<-d.done
}
