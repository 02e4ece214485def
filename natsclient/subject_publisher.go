package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/c360/stagegraph/errors"
	"github.com/c360/stagegraph/pkg/buffer"
	"github.com/c360/stagegraph/reactive"
)

// SubjectPublisher exposes the messages arriving on a subject as a
// reactive.Publisher. Messages wait in a bounded buffer until the subscriber
// requests them.
//
// The stream completes when an end-of-stream marker arrives (after every
// message buffered before it has been delivered) or when the publisher's
// context ends. A marker carrying HeaderError fails the stream with
// ErrRemoteStream instead.
//
// Only one subscriber is accepted; later ones fail with
// errors.ErrAlreadySubscribed.
type SubjectPublisher struct {
	ctx        context.Context
	transport  Transport
	subject    string
	opts       subjectOptions
	subscribed atomic.Bool
	dropped    atomic.Int64
}

// NewSubjectPublisher creates a publisher for subject. The NATS subscription
// is made when a subscriber arrives.
func NewSubjectPublisher(ctx context.Context, transport Transport, subject string,
	opts ...SubjectOption) (*SubjectPublisher, error) {
	o, err := newSubjectOptions("SubjectPublisher", "New", subject, opts)
	if err != nil {
		return nil, err
	}
	return &SubjectPublisher{
		ctx:       ctx,
		transport: transport,
		subject:   subject,
		opts:      o,
	}, nil
}

// Subject returns the subject this publisher listens on.
func (p *SubjectPublisher) Subject() string {
	return p.subject
}

// Dropped returns how many messages the overflow policy discarded.
func (p *SubjectPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Subscribe implements reactive.Publisher.
func (p *SubjectPublisher) Subscribe(s reactive.Subscriber[[]byte]) {
	if !p.subscribed.CompareAndSwap(false, true) {
		s.OnSubscribe(noopSubscription{})
		s.OnError(errors.IllegalState("SubjectPublisher", "Subscribe",
			"publisher for "+p.subject+" already has a subscriber", errors.ErrAlreadySubscribed))
		return
	}

	sub := &subjectSubscription{
		subscriber: s,
		subject:    p.subject,
		logger:     p.opts.logger,
	}
	sub.pending = buffer.NewCircularBuffer[[]byte](p.opts.maxPending,
		buffer.WithOverflowPolicy[[]byte](p.opts.overflow),
		buffer.WithDropCallback[[]byte](func([]byte) {
			p.dropped.Add(1)
		}),
	)

	natsSub, err := p.transport.SubscribeMsg(p.ctx, p.subject, sub.onMsg)
	if err != nil {
		s.OnSubscribe(noopSubscription{})
		s.OnError(errors.Wrap(err, "SubjectPublisher", "Subscribe", "subscribe "+p.subject))
		return
	}
	sub.attach(natsSub, context.AfterFunc(p.ctx, sub.contextDone))

	s.OnSubscribe(sub)

	sub.mu.Lock()
	sub.started = true
	sub.mu.Unlock()
	sub.drain()
}

// subjectSubscription buffers messages from the NATS callback goroutine and
// hands them to the subscriber from a trampoline, so OnNext calls never
// overlap and Request calls made from OnNext do not recurse.
type subjectSubscription struct {
	mu         sync.Mutex
	subscriber reactive.Subscriber[[]byte]
	subject    string
	logger     *slog.Logger
	pending    buffer.Buffer[[]byte]
	demand     int64
	started    bool
	emitting   bool
	// ended: no more messages will be buffered; endErr is the terminal to
	// deliver once pending is empty.
	ended  bool
	endErr error
	// done: terminal delivered or subscription canceled.
	done bool

	natsSub      Subscription
	unsubscribed bool
	stopCtx      func() bool
	releaseOnce  sync.Once
}

func (s *subjectSubscription) attach(natsSub Subscription, stopCtx func() bool) {
	s.mu.Lock()
	s.stopCtx = stopCtx
	if !s.unsubscribed {
		s.natsSub = natsSub
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	// Ended while SubscribeMsg was still returning.
	s.unsubscribe(natsSub)
}

func (s *subjectSubscription) onMsg(msg *nats.Msg) {
	if eos, remoteErr := IsEndOfStream(msg); eos {
		s.end(remoteErr)
		return
	}

	s.mu.Lock()
	if s.done || s.ended {
		s.mu.Unlock()
		return
	}
	if err := s.pending.Write(msg.Data); err != nil {
		s.ended = true
		s.endErr = errors.WrapTransient(fmt.Errorf("%w: %w", ErrSlowConsumer, err),
			"SubjectPublisher", "onMsg", fmt.Sprintf("buffer message (%d pending)", s.pending.Size()))
		s.pending.Clear()
		s.mu.Unlock()
		s.logger.Warn("Pending buffer overflow, failing stream", "capacity", s.pending.Capacity())
		s.detach()
		s.drain()
		return
	}
	s.mu.Unlock()
	s.drain()
}

// end stops intake; the terminal follows the already buffered messages.
func (s *subjectSubscription) end(err error) {
	s.mu.Lock()
	if !s.ended {
		s.ended = true
		s.endErr = err
	}
	s.mu.Unlock()
	s.detach()
	s.drain()
}

func (s *subjectSubscription) contextDone() {
	s.logger.Debug("Context done, completing stream")
	s.end(nil)
}

func (s *subjectSubscription) Request(n int64) {
	if n <= 0 {
		s.mu.Lock()
		if s.done {
			s.mu.Unlock()
			return
		}
		s.done = true
		s.pending.Clear()
		s.mu.Unlock()
		s.release()
		s.subscriber.OnError(errors.ProtocolViolation("SubjectPublisher", "Request", errors.ErrInvalidDemand))
		return
	}

	s.mu.Lock()
	s.demand = reactive.AddDemand(s.demand, n)
	s.mu.Unlock()
	s.drain()
}

func (s *subjectSubscription) Cancel() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.pending.Clear()
	s.mu.Unlock()
	s.release()
}

func (s *subjectSubscription) drain() {
	s.mu.Lock()
	if s.emitting || !s.started {
		s.mu.Unlock()
		return
	}
	s.emitting = true

	for {
		if s.done {
			s.emitting = false
			s.mu.Unlock()
			return
		}
		if s.demand > 0 {
			if item, ok := s.pending.Read(); ok {
				if s.demand != math.MaxInt64 {
					s.demand--
				}
				s.mu.Unlock()
				s.subscriber.OnNext(item)
				s.mu.Lock()
				continue
			}
		}
		if s.ended && s.pending.IsEmpty() {
			s.done = true
			s.emitting = false
			err := s.endErr
			s.mu.Unlock()
			s.release()
			if err != nil {
				s.subscriber.OnError(err)
			} else {
				s.subscriber.OnComplete()
			}
			return
		}
		s.emitting = false
		s.mu.Unlock()
		return
	}
}

// detach stops the NATS subscription but keeps the context hook.
func (s *subjectSubscription) detach() {
	s.mu.Lock()
	natsSub := s.natsSub
	s.natsSub = nil
	s.unsubscribed = true
	s.mu.Unlock()
	s.unsubscribe(natsSub)
}

func (s *subjectSubscription) release() {
	s.releaseOnce.Do(func() {
		s.detach()
		s.mu.Lock()
		stop := s.stopCtx
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
	})
}

func (s *subjectSubscription) unsubscribe(natsSub Subscription) {
	if natsSub == nil {
		return
	}
	if err := natsSub.Unsubscribe(); err != nil {
		s.logger.Debug("Unsubscribe failed", "error", err)
	}
}

type noopSubscription struct{}

func (noopSubscription) Request(int64) {}
func (noopSubscription) Cancel()       {}
