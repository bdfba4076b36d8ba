package download

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Deduplicator collapses concurrent downloads of the same URL into one. A page
// can trigger the same blob twice in quick succession (an anchor click and an
// explicit bridge call); only one file should be saved.
type Deduplicator struct {
	group singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the shared context of one key's run and the callers waiting on it.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Do runs fn once per key among concurrent callers. The returned bool reports
// whether the result was shared with another caller. One caller giving up does
// not abort the download for the others; the context passed to fn is
// cancelled once every caller has gone.
func (d *Deduplicator) Do(ctx context.Context, key string, fn func(ctx context.Context) (*Result, error)) (*Result, bool, error) {
	f := d.join(ctx, key)
	defer d.leave(key, f)

	ch := d.group.DoChan(key, func() (any, error) {
		return fn(f.ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*Result), res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (d *Deduplicator) join(ctx context.Context, key string) *flight {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.flights == nil {
		d.flights = make(map[string]*flight)
	}
	f, ok := d.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		d.flights[key] = f
	}
	f.waiters++
	return f
}

func (d *Deduplicator) leave(key string, f *flight) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	delete(d.flights, key)
	// A run abandoned by every caller must not be joined by the next one.
	d.group.Forget(key)
}
