package natsclient

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/stagegraph/errors"
	"github.com/c360/stagegraph/reactive"
)

// SubjectSubscriber publishes every element it receives to a subject. It
// requests in batches bounded by its watermarks and, unless disabled, ends the
// subject stream with an end-of-stream marker when upstream terminates.
//
// Result resolves with the number of published messages on completion, with
// the upstream error on failure, and with the publish or context error when
// the subscriber gives up on its own (canceling upstream).
type SubjectSubscriber struct {
	ctx       context.Context
	transport Transport
	subject   string
	high, low int64
	eos       bool
	logger    *slog.Logger
	result    *reactive.Future[int64]

	mu          sync.Mutex
	sub         reactive.Subscription
	outstanding int64
	published   int64
	done        bool
	stopCtx     func() bool
}

// NewSubjectSubscriber creates a subscriber publishing to subject.
func NewSubjectSubscriber(ctx context.Context, transport Transport, subject string,
	opts ...SubjectOption) (*SubjectSubscriber, error) {
	o, err := newSubjectOptions("SubjectSubscriber", "New", subject, opts)
	if err != nil {
		return nil, err
	}
	return &SubjectSubscriber{
		ctx:       ctx,
		transport: transport,
		subject:   subject,
		high:      int64(o.high),
		low:       int64(o.low),
		eos:       o.endOfStream,
		logger:    o.logger,
		result:    reactive.NewFuture[int64](),
	}, nil
}

// Result returns the future resolved when the stream ends.
func (s *SubjectSubscriber) Result() *reactive.Future[int64] {
	return s.result
}

// OnSubscribe implements reactive.Subscriber. A second subscription is
// canceled.
func (s *SubjectSubscriber) OnSubscribe(sub reactive.Subscription) {
	s.mu.Lock()
	if s.sub != nil || s.done {
		s.mu.Unlock()
		sub.Cancel()
		return
	}
	s.sub = sub
	s.outstanding = s.high
	s.mu.Unlock()

	stop := context.AfterFunc(s.ctx, s.contextDone)
	s.mu.Lock()
	s.stopCtx = stop
	s.mu.Unlock()

	sub.Request(s.high)
}

// OnNext implements reactive.Subscriber.
func (s *SubjectSubscriber) OnNext(data []byte) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.outstanding--
	s.mu.Unlock()

	if err := s.transport.PublishMsg(s.ctx, &nats.Msg{Subject: s.subject, Data: data}); err != nil {
		s.abandon(errors.Wrap(err, "SubjectSubscriber", "OnNext", "publish "+s.subject))
		return
	}

	s.mu.Lock()
	s.published++
	var n int64
	if !s.done && s.outstanding <= s.low {
		n = s.high - s.outstanding
		s.outstanding = s.high
	}
	sub := s.sub
	s.mu.Unlock()

	if n > 0 {
		sub.Request(n)
	}
}

// OnError implements reactive.Subscriber.
func (s *SubjectSubscriber) OnError(err error) {
	s.finish(err)
}

// OnComplete implements reactive.Subscriber.
func (s *SubjectSubscriber) OnComplete() {
	s.finish(nil)
}

func (s *SubjectSubscriber) finish(cause error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	published := s.published
	s.mu.Unlock()
	s.stop()

	if s.eos {
		if err := s.transport.PublishMsg(s.ctx, EndOfStream(s.subject, cause)); err != nil {
			s.logger.Warn("Failed to publish end of stream", "error", err)
			if cause == nil {
				cause = errors.Wrap(err, "SubjectSubscriber", "finish", "publish end of stream")
			}
		}
	}

	if cause != nil {
		s.logger.Debug("Stream failed", "published", published, "error", cause)
		s.result.Fail(cause)
		return
	}
	s.logger.Debug("Stream completed", "published", published)
	s.result.Complete(published)
}

// abandon cancels upstream and fails the result with err.
func (s *SubjectSubscriber) abandon(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	sub := s.sub
	s.mu.Unlock()
	s.stop()

	if sub != nil {
		sub.Cancel()
	}
	s.logger.Warn("Abandoning stream", "error", err)
	s.result.Fail(err)
}

func (s *SubjectSubscriber) contextDone() {
	s.abandon(s.ctx.Err())
}

func (s *SubjectSubscriber) stop() {
	s.mu.Lock()
	stop := s.stopCtx
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}
