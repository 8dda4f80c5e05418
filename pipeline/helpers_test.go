package pipeline

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

// collector records every item its action receives.
type collector[T any] struct {
	mu    sync.Mutex
	items []T
}

func (c *collector[T]) action(_ context.Context, item T) error {
	c.mu.Lock()
	c.items = append(c.items, item)
	c.mu.Unlock()
	return nil
}

func (c *collector[T]) snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

func (c *collector[T]) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// recordTarget is a Target that records what it receives. When reject is
// set, Send fails with it.
type recordTarget[T any] struct {
	mu        sync.Mutex
	items     []T
	completed bool
	fault     error
	reject    error
	done      chan struct{}
	once      sync.Once
}

func newRecordTarget[T any]() *recordTarget[T] {
	return &recordTarget[T]{done: make(chan struct{})}
}

func (r *recordTarget[T]) Send(_ context.Context, item T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject != nil {
		return r.reject
	}
	r.items = append(r.items, item)
	return nil
}

func (r *recordTarget[T]) Complete() {
	r.mu.Lock()
	r.completed = true
	r.mu.Unlock()
	r.once.Do(func() { close(r.done) })
}

func (r *recordTarget[T]) Fault(err error) {
	r.mu.Lock()
	r.fault = err
	r.mu.Unlock()
	r.once.Do(func() { close(r.done) })
}

func (r *recordTarget[T]) Done() <-chan struct{} { return r.done }

func (r *recordTarget[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fault
}

func (r *recordTarget[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.items...)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func closeCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
