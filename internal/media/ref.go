package media

import (
	"context"
	"sync"

	"github.com/jfk9w-go/flu"
	"github.com/jfk9w-go/flu/syncf"
	"github.com/pkg/errors"
)

// Ref points to a media file which may not be downloaded yet.
// A resolved Ref returns its file immediately. A pending Ref starts
// its fetch at most once no matter how many goroutines call Get:
// concurrent callers wait for the same in-flight fetch. A successful
// fetch is remembered in place, a failed one is reported to every
// current waiter and forgotten, so a later Get may try again.
type Ref struct {
	mu      sync.Mutex
	file    flu.File
	ok      bool
	fetch   syncf.Resolve[flu.File]
	current *flight
	spawn   func(body func(ctx context.Context))
}

type flight struct {
	done chan struct{}
	file flu.File
	err  error
}

// Resolved creates a Ref pointing to an existing local file.
func Resolved(file flu.File) *Ref {
	return &Ref{file: file, ok: true}
}

// Pending creates a Ref which will be resolved via fetch on demand.
func Pending(fetch syncf.Resolve[flu.File]) *Ref {
	return &Ref{fetch: fetch}
}

// Get returns the local file, waiting for the fetch to complete if necessary.
func (r *Ref) Get(ctx context.Context) (flu.File, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	if r.ok {
		file := r.file
		r.mu.Unlock()
		return file, nil
	}

	if r.fetch == nil {
		r.mu.Unlock()
		return "", errors.New("empty ref")
	}

	current := r.ensure()
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-current.done:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if current.err != nil {
		if r.current == current {
			r.current = nil
		}

		return "", current.err
	}

	r.file = current.file
	r.ok = true
	r.current = nil
	return current.file, nil
}

// Start schedules the fetch without waiting for its completion.
func (r *Ref) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ok && r.fetch != nil {
		r.ensure()
	}
}

// Peek returns the local file if the Ref is already resolved.
func (r *Ref) Peek() (flu.File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file, r.ok
}

func (r *Ref) ensure() *flight {
	if r.current != nil {
		return r.current
	}

	current := &flight{done: make(chan struct{})}
	r.current = current
	spawn := r.spawn
	if spawn == nil {
		spawn = func(body func(ctx context.Context)) {
			_, _ = syncf.Go(context.Background(), body)
		}
	}

	fetch := r.fetch
	spawn(func(ctx context.Context) {
		current.file, current.err = fetch(ctx)
		close(current.done)
	})

	return current
}
