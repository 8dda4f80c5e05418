package pipeline

import (
	"context"
	"reflect"
	"sync"
)

// resolvable is implemented by items that carry a completion slot. The
// pipeline tracks them so none is left pending after teardown.
type resolvable interface {
	Fail(err error) bool
	onResolve(fn func())
}

var resolvableType = reflect.TypeFor[resolvable]()

// failItem fails item when it carries a completion slot. A slice, such as a
// batch, has each of its resolvable elements failed.
func failItem[T any](item T, err error) {
	if r, ok := any(item).(resolvable); ok {
		r.Fail(err)
		return
	}
	v := reflect.ValueOf(item)
	if v.Kind() != reflect.Slice || !v.Type().Elem().Implements(resolvableType) {
		return
	}
	for i := range v.Len() {
		e := v.Index(i)
		if isNilValue(e) {
			continue
		}
		e.Interface().(resolvable).Fail(err)
	}
}

func isNilValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

func failItems[T any](items []T, err error) {
	for _, item := range items {
		failItem(item, err)
	}
}

// cell is a first-write-wins completion slot. The zero value is ready to use.
type cell[R any] struct {
	mu       sync.Mutex
	resolved bool
	result   R
	err      error
	done     chan struct{}
	hooks    []func()
}

// doneLocked returns the done channel, creating it on first use.
func (c *cell[R]) doneLocked() chan struct{} {
	if c.done == nil {
		c.done = make(chan struct{})
	}
	return c.done
}

func (c *cell[R]) resolve(result R, err error) bool {
	c.mu.Lock()
	if c.resolved {
		c.mu.Unlock()
		return false
	}
	c.resolved = true
	c.result = result
	c.err = err
	close(c.doneLocked())
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return true
}

// Fail resolves the slot with err. It returns false when the slot was
// already resolved or err is nil.
func (c *cell[R]) Fail(err error) bool {
	if err == nil {
		return false
	}
	var zero R
	return c.resolve(zero, err)
}

// Done is closed once the slot is resolved.
func (c *cell[R]) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doneLocked()
}

// Err returns the failure, nil while pending or after success.
func (c *cell[R]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Resolved reports whether the slot has been completed or failed.
func (c *cell[R]) Resolved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolved
}

// onResolve runs fn after resolution, immediately if already resolved.
func (c *cell[R]) onResolve(fn func()) {
	c.mu.Lock()
	if c.resolved {
		c.mu.Unlock()
		fn()
		return
	}
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

func (c *cell[R]) wait(ctx context.Context) (R, error) {
	select {
	case <-c.Done():
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}

// Completable pairs an item with a completion signal, letting the sender
// wait until the pipeline finished with that particular item.
//
// The stage that finishes the work calls Complete or Fail; only the first
// call has an effect.
type Completable[T any] struct {
	Value T
	cell[struct{}]
}

// NewCompletable wraps value in a pending Completable.
func NewCompletable[T any](value T) *Completable[T] {
	return &Completable[T]{Value: value}
}

// Complete marks the item as successfully processed. It returns false when
// the item was already resolved.
func (c *Completable[T]) Complete() bool {
	return c.resolve(struct{}{}, nil)
}

// Wait blocks until the item is resolved or ctx is done, and returns the
// failure if any.
func (c *Completable[T]) Wait(ctx context.Context) error {
	_, err := c.wait(ctx)
	return err
}

// CompletableResult is a Completable that carries a result of type R back
// to the sender.
type CompletableResult[T, R any] struct {
	Value T
	cell[R]
}

// NewCompletableResult wraps value in a pending CompletableResult.
func NewCompletableResult[T, R any](value T) *CompletableResult[T, R] {
	return &CompletableResult[T, R]{Value: value}
}

// Complete resolves the item with result. It returns false when the item
// was already resolved.
func (c *CompletableResult[T, R]) Complete(result R) bool {
	return c.resolve(result, nil)
}

// Result returns the result, the zero value while pending or after a failure.
func (c *CompletableResult[T, R]) Result() R {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Wait blocks until the item is resolved or ctx is done.
func (c *CompletableResult[T, R]) Wait(ctx context.Context) (R, error) {
	return c.wait(ctx)
}

// tracker holds the completion slots of every item a pipeline accepted, so
// teardown can fail the ones nobody resolved.
type tracker struct {
	mu     sync.Mutex
	items  map[uint64]resolvable
	next   uint64
	closed bool
}

func newTracker() *tracker {
	return &tracker{items: make(map[uint64]resolvable)}
}

// add registers r. It returns false after failAll.
func (t *tracker) add(r resolvable) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.next++
	id := t.next
	t.items[id] = r
	t.mu.Unlock()

	r.onResolve(func() { t.remove(id) })
	return true
}

func (t *tracker) remove(id uint64) {
	t.mu.Lock()
	delete(t.items, id)
	t.mu.Unlock()
}

// pending returns the number of unresolved tracked items.
func (t *tracker) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// failAll closes the tracker and fails every pending item with err.
func (t *tracker) failAll(err error) {
	t.mu.Lock()
	t.closed = true
	items := t.items
	t.items = make(map[uint64]resolvable)
	t.mu.Unlock()

	for _, r := range items {
		r.Fail(err)
	}
}
