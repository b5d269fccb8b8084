package transport

import "sync"

// Request is a message received from the peer that can be answered once.
//
// Handlers that answer asynchronously take a Deferral first; the automatic empty
// response waits until every deferral is completed.
type Request struct {
	Message any

	conn  *connCore
	reply func(msg any) error

	mu        sync.Mutex
	responded bool
	deferrals deferralCounter
}

func newRequest(conn *connCore, msg any, reply func(any) error) *Request {
	return &Request{Message: msg, conn: conn, reply: reply}
}

// HasResponded reports whether a response was sent or is being sent.
func (r *Request) HasResponded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responded
}

// SendResponse answers the request. Only the first call sends anything; later calls
// return ResponseAlreadyRespondedTo.
func (r *Request) SendResponse(msg any) ResponseResult {
	d := r.Defer()
	defer d.Complete()

	r.mu.Lock()
	if r.responded {
		r.mu.Unlock()
		return ResponseResult{Status: ResponseAlreadyRespondedTo}
	}
	r.responded = true
	r.mu.Unlock()

	return r.conn.respond(r, msg)
}

// Defer postpones the automatic empty response until the returned deferral completes.
func (r *Request) Defer() *Deferral {
	r.deferrals.add()
	return &Deferral{counter: &r.deferrals}
}

// Deferral is a handle returned by Request.Defer.
type Deferral struct {
	once    sync.Once
	counter *deferralCounter
}

// Complete releases the deferral. Calling it more than once is a no-op.
func (d *Deferral) Complete() {
	d.once.Do(d.counter.done)
}

// deferralCounter is a counter that can be waited on until it reaches zero.
// Unlike sync.WaitGroup it allows add while a wait is in progress.
type deferralCounter struct {
	mu     sync.Mutex
	n      int
	waiter chan struct{}
}

func (c *deferralCounter) add() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *deferralCounter) done() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n--
	if c.n == 0 && c.waiter != nil {
		close(c.waiter)
		c.waiter = nil
	}
}

func (c *deferralCounter) wait() {
	c.mu.Lock()
	if c.n == 0 {
		c.mu.Unlock()
		return
	}
	if c.waiter == nil {
		c.waiter = make(chan struct{})
	}
	ch := c.waiter
	c.mu.Unlock()
	<-ch
}
