package services

import (
	"github.com/nimbusdns/resolvcore/internal/core/ports"
)

// ResolveResult is the outcome of one resolve call, successful or not.
type ResolveResult struct {
	Hostname  string
	Addresses []string
	Status    ports.StatusCode
	ElapsedMs int64
}

// ResolveFuture is a typed wrapper over a buffered, single-value channel.
// It is fulfilled exactly once, either synchronously (cache hit,
// not-initialized) or from the provider's completion goroutine.
type ResolveFuture struct {
	ch     chan ResolveResult
	done   chan struct{}
	result ResolveResult
}

func newResolveFuture() *ResolveFuture {
	return &ResolveFuture{ch: make(chan ResolveResult, 1), done: make(chan struct{})}
}

func (f *ResolveFuture) fulfill(r ResolveResult) {
	f.result = r
	f.ch <- r
	close(f.done)
}

// Wait blocks until the future is fulfilled and returns its result. It may
// be called any number of times, before or after other Wait calls.
func (f *ResolveFuture) Wait() ResolveResult {
	<-f.done
	return f.result
}

// Done returns the channel the future is delivered on, for callers that
// want to select on several futures at once.
func (f *ResolveFuture) Done() <-chan ResolveResult {
	return f.ch
}
