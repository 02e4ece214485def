package testutil

import (
	"sync"

	"github.com/c360/stagegraph/reactive"
)

// ManualPublisher is a publisher driven by the test. It records every
// Request and Cancel made on its subscription and lets the test emit
// signals at will, including ones that break the protocol.
// Thread-safe for concurrent use from multiple goroutines.
type ManualPublisher[T any] struct {
	mu         sync.Mutex
	subscriber reactive.Subscriber[T]
	requests   []int64
	cancels    int
}

// NewManualPublisher creates an unsubscribed probe.
func NewManualPublisher[T any]() *ManualPublisher[T] {
	return &ManualPublisher[T]{}
}

// Subscribe stores s and hands it a recording subscription.
func (p *ManualPublisher[T]) Subscribe(s reactive.Subscriber[T]) {
	p.mu.Lock()
	p.subscriber = s
	p.mu.Unlock()
	s.OnSubscribe(&manualSubscription[T]{publisher: p})
}

// Subscribed reports whether a subscriber is attached.
func (p *ManualPublisher[T]) Subscribed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscriber != nil
}

// Next emits item regardless of demand.
func (p *ManualPublisher[T]) Next(items ...T) {
	s := p.current()
	for _, item := range items {
		s.OnNext(item)
	}
}

// Complete signals completion.
func (p *ManualPublisher[T]) Complete() {
	p.current().OnComplete()
}

// Error signals failure.
func (p *ManualPublisher[T]) Error(err error) {
	p.current().OnError(err)
}

// Requests returns every Request argument in call order.
func (p *ManualPublisher[T]) Requests() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.requests...)
}

// Requested returns the sum of all requests.
func (p *ManualPublisher[T]) Requested() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total int64
	for _, n := range p.requests {
		total += n
	}
	return total
}

// Cancels returns how many times Cancel was called.
func (p *ManualPublisher[T]) Cancels() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancels
}

func (p *ManualPublisher[T]) current() reactive.Subscriber[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscriber == nil {
		panic("testutil: ManualPublisher has no subscriber")
	}
	return p.subscriber
}

type manualSubscription[T any] struct {
	publisher *ManualPublisher[T]
}

func (s *manualSubscription[T]) Request(n int64) {
	s.publisher.mu.Lock()
	s.publisher.requests = append(s.publisher.requests, n)
	s.publisher.mu.Unlock()
}

func (s *manualSubscription[T]) Cancel() {
	s.publisher.mu.Lock()
	s.publisher.cancels++
	s.publisher.mu.Unlock()
}

// RecordingSubscriber records every signal it receives.
// Thread-safe for concurrent use from multiple goroutines.
type RecordingSubscriber[T any] struct {
	mu            sync.Mutex
	initial       int64
	subscription  reactive.Subscription
	subscriptions int
	items         []T
	err           error
	completed     bool
	terminals     int
	done          chan struct{}
}

// NewRecordingSubscriber creates a subscriber that requests initial elements
// on subscription. Zero requests nothing.
func NewRecordingSubscriber[T any](initial int64) *RecordingSubscriber[T] {
	return &RecordingSubscriber[T]{initial: initial, done: make(chan struct{})}
}

// OnSubscribe implements reactive.Subscriber.
func (r *RecordingSubscriber[T]) OnSubscribe(s reactive.Subscription) {
	r.mu.Lock()
	r.subscriptions++
	if r.subscription != nil {
		r.mu.Unlock()
		s.Cancel()
		return
	}
	r.subscription = s
	initial := r.initial
	r.mu.Unlock()

	if initial > 0 {
		s.Request(initial)
	}
}

// OnNext implements reactive.Subscriber.
func (r *RecordingSubscriber[T]) OnNext(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
}

// OnError implements reactive.Subscriber.
func (r *RecordingSubscriber[T]) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	r.terminate()
}

// OnComplete implements reactive.Subscriber.
func (r *RecordingSubscriber[T]) OnComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = true
	r.terminate()
}

func (r *RecordingSubscriber[T]) terminate() {
	r.terminals++
	if r.terminals == 1 {
		close(r.done)
	}
}

// Request asks the subscription for n more elements.
func (r *RecordingSubscriber[T]) Request(n int64) {
	r.mu.Lock()
	s := r.subscription
	r.mu.Unlock()
	if s != nil {
		s.Request(n)
	}
}

// Cancel cancels the subscription.
func (r *RecordingSubscriber[T]) Cancel() {
	r.mu.Lock()
	s := r.subscription
	r.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}

// Items returns a copy of the received elements.
func (r *RecordingSubscriber[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.items...)
}

// Err returns the error received, if any.
func (r *RecordingSubscriber[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Completed reports whether OnComplete was received.
func (r *RecordingSubscriber[T]) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// Terminals returns how many terminal signals were received.
func (r *RecordingSubscriber[T]) Terminals() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminals
}

// Subscriptions returns how many times OnSubscribe was called.
func (r *RecordingSubscriber[T]) Subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscriptions
}

// Done is closed on the first terminal signal.
func (r *RecordingSubscriber[T]) Done() <-chan struct{} {
	return r.done
}
