// Package scheduler overlaps input acquisition with prediction: while one
// job runs on the accelerator, the next jobs' alignments are already being
// fetched in the background.
package scheduler

import (
	"context"
	"sync"
)

// Result carries one job's fetched inputs, or the error the fetch ended
// with. Consumers must check Err before touching Value.
type Result struct {
	Value any
	Err   error
}

// FetchFunc acquires the inputs for one named job.
type FetchFunc func(ctx context.Context, name string) (any, error)

// Prefetcher runs fetches ahead of the consumer and hands each job's
// result over exactly once.
type Prefetcher struct {
	fetch FetchFunc
	slots chan struct{}

	mu      sync.Mutex
	results map[string]chan Result
}

// New returns a Prefetcher that keeps at most ahead unconsumed results in
// flight.
func New(fetch FetchFunc, ahead int) *Prefetcher {
	if ahead < 1 {
		ahead = 1
	}
	return &Prefetcher{
		fetch:   fetch,
		slots:   make(chan struct{}, ahead),
		results: make(map[string]chan Result),
	}
}

func (p *Prefetcher) future(name string) chan Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.results[name]
	if !ok {
		ch = make(chan Result, 1)
		p.results[name] = ch
	}
	return ch
}

// Run fetches the named jobs in order, publishing each result into the
// job's future. A failed fetch is published as a Result with Err set and
// does not stop the remaining jobs. Run returns when every job has been
// published or ctx is done. Call it from its own goroutine.
func (p *Prefetcher) Run(ctx context.Context, names []string) {
	for _, name := range names {
		select {
		case p.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		value, err := p.fetch(ctx, name)
		p.future(name) <- Result{Value: value, Err: err}
		if ctx.Err() != nil {
			return
		}
	}
}

// Wait blocks until name's result is available and returns it, removing
// the entry. Ownership of the value passes to the caller; a second Wait
// for the same name blocks until ctx is done.
func (p *Prefetcher) Wait(ctx context.Context, name string) (any, error) {
	ch := p.future(name)
	select {
	case res := <-ch:
		p.mu.Lock()
		delete(p.results, name)
		p.mu.Unlock()
		<-p.slots
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending reports how many results are published or in flight.
func (p *Prefetcher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.results)
}
