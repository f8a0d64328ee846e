package engine

// Dispatcher is a single-consumer serialization queue: when the hosting
// scheduler cannot itself guarantee serialized execute/onAsyncUpdate
// delivery, a Step wraps its work in one. Each Step owns one, so its
// exported methods never race each other even when callers invoke them
// from multiple goroutines (as the async executor's progress callbacks
// naturally do).
type Dispatcher struct {
	jobs chan func()
	done chan struct{}
}

// NewDispatcher starts the consumer goroutine and returns the queue.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		jobs: make(chan func(), 256),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	for fn := range d.jobs {
		fn()
	}
	close(d.done)
}

// Do enqueues fn and blocks until it has run, serialized against every
// other call to Do on this Dispatcher.
func (d *Dispatcher) Do(fn func()) {
	reply := make(chan struct{})
	d.jobs <- func() {
		fn()
		close(reply)
	}
	<-reply
}

// Close stops accepting new work once queued jobs drain. Do must not be
// called again afterward.
func (d *Dispatcher) Close() {
	close(d.jobs)
	<-d.done
}
