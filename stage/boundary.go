package stage

import (
	"fmt"

	"github.com/c360/stagegraph/errors"
	"github.com/c360/stagegraph/pkg/buffer"
	"github.com/c360/stagegraph/reactive"
)

type subscriberState int

const (
	notSubscribed subscriberState = iota
	subscribed
	upstreamFinished
	downstreamFinished
)

func (s subscriberState) String() string {
	switch s {
	case notSubscribed:
		return "not-subscribed"
	case subscribed:
		return "subscribed"
	case upstreamFinished:
		return "upstream-finished"
	case downstreamFinished:
		return "downstream-finished"
	default:
		return "unknown"
	}
}

// SourceOption configures a boundary subscriber inlet.
type SourceOption func(*sourceConfig)

type sourceConfig struct {
	high int
	low  int
}

// WithBufferWatermarks overrides the graph's watermarks for one source.
func WithBufferWatermarks(high, low int) SourceOption {
	return func(c *sourceConfig) {
		c.high = high
		c.low = low
	}
}

// subscriberInlet feeds a graph inlet from an external publisher. Every
// callback is marshaled through the signal queue; its fields are touched only
// there.
type subscriberInlet[T any] struct {
	g    *Graph
	in   *Inlet[T]
	high int64
	low  int64

	state        subscriberState
	subscription reactive.Subscription
	outstanding  int64
}

// Source binds in to an external publisher and returns the subscriber to hand
// to it. Demand is requested in batches: when outstanding plus buffered
// elements drop to the low watermark, enough is requested to reach the high
// watermark.
func Source[T any](in *Inlet[T], opts ...SourceOption) reactive.Subscriber[T] {
	g := in.g
	cfg := sourceConfig{high: g.high, low: g.low}
	for _, opt := range opts {
		opt(&cfg)
	}

	g.mustBeAssembling("Source")
	s := &subscriberInlet[T]{g: g, in: in, high: int64(cfg.high), low: int64(cfg.low)}
	if err := validWatermarks(cfg.high, cfg.low); err != nil {
		g.assemblyError(errors.WrapInvalid(err, "Graph", "Source", in.id()))
		return s
	}
	if in.source != nil {
		g.assemblyError(errors.IllegalState("Graph", "Source", in.id()+" already connected"))
		return s
	}

	in.source = s
	in.boundary = true
	in.elements = buffer.NewCircularBuffer[T](cfg.high)
	g.addTerminator(s)
	return s
}

func (s *subscriberInlet[T]) name() string {
	return fmt.Sprintf("Source(%s.%s)", s.in.stage, s.in.name)
}

// OnSubscribe implements reactive.Subscriber.
func (s *subscriberInlet[T]) OnSubscribe(sub reactive.Subscription) {
	s.g.queue.Execute(func() {
		if s.state != notSubscribed {
			sub.Cancel()
			return
		}
		s.subscription = sub
		s.state = subscribed
		s.maybeRequest()
	})
}

// OnNext implements reactive.Subscriber.
func (s *subscriberInlet[T]) OnNext(item T) {
	s.g.queue.Execute(func() {
		if s.state == upstreamFinished || s.state == downstreamFinished {
			return
		}
		// An element racing with a graph cancel is dropped.
		if s.g.queue.CancelRequested() {
			return
		}
		if reactive.IsNil(any(item)) {
			s.violation("OnNext", errors.ErrNilElement)
			return
		}
		if s.outstanding <= 0 {
			s.violation("OnNext", errors.ErrNoDemand)
			return
		}
		s.outstanding--
		s.in.push(item)
	})
}

// OnError implements reactive.Subscriber.
func (s *subscriberInlet[T]) OnError(err error) {
	s.g.queue.Execute(func() {
		if s.state == upstreamFinished || s.state == downstreamFinished {
			return
		}
		if err == nil {
			s.violation("OnError", errors.ErrNilError)
			return
		}
		s.state = upstreamFinished
		s.in.finish(err)
	})
}

// OnComplete implements reactive.Subscriber.
func (s *subscriberInlet[T]) OnComplete() {
	s.g.queue.Execute(func() {
		if s.state == upstreamFinished || s.state == downstreamFinished {
			return
		}
		s.state = upstreamFinished
		s.in.finish(nil)
	})
}

func (s *subscriberInlet[T]) violation(op string, cause error) {
	err := errors.ProtocolViolation(s.name(), op, cause)
	s.g.recordProtocolViolation(s.name())
	s.g.logger.Warn("Protocol violation", "stage", s.in.stage, "port", s.in.name, "error", err)

	if s.state == subscribed {
		s.subscription.Cancel()
	}
	s.state = upstreamFinished
	s.in.failNow(err)
}

func (s *subscriberInlet[T]) maybeRequest() {
	if s.state != subscribed {
		return
	}
	bufferSize := s.outstanding + int64(s.in.elements.Size())
	if bufferSize > s.low {
		return
	}
	n := s.high - bufferSize
	s.outstanding += n
	s.g.recordDemand(s.name(), n)
	s.subscription.Request(n)
}

func (s *subscriberInlet[T]) demand() {
	s.maybeRequest()
}

func (s *subscriberInlet[T]) grabbed() {
	s.maybeRequest()
}

func (s *subscriberInlet[T]) cancel() {
	if s.state == subscribed {
		s.subscription.Cancel()
	}
	if s.state == notSubscribed || s.state == subscribed {
		s.state = downstreamFinished
	}
}

func (s *subscriberInlet[T]) abort(error) {
	s.cancel()
}

// publisherOutlet exposes a graph outlet as a publisher with a single
// subscriber.
type publisherOutlet[T any] struct {
	g   *Graph
	out *Outlet[T]

	subscriber reactive.Subscriber[T]
	demand     int64
	finished   bool

	// A terminal that happens before subscription is delivered right after
	// OnSubscribe.
	terminated bool
	failure    error
}

// Sink binds out to external subscribers and returns the publisher they
// subscribe to. Only one subscriber is accepted.
func Sink[T any](out *Outlet[T]) reactive.Publisher[T] {
	g := out.g
	g.mustBeAssembling("Sink")
	p := &publisherOutlet[T]{g: g, out: out}
	if out.sink != nil {
		g.assemblyError(errors.IllegalState("Graph", "Sink", out.id()+" already connected"))
		return p
	}

	out.sink = p
	out.boundary = true
	g.addTerminator(p)
	g.addCanceler(p)
	return p
}

func (p *publisherOutlet[T]) name() string {
	return fmt.Sprintf("Sink(%s.%s)", p.out.stage, p.out.name)
}

// Subscribe implements reactive.Publisher.
func (p *publisherOutlet[T]) Subscribe(sub reactive.Subscriber[T]) {
	p.g.queue.Execute(func() {
		if p.subscriber != nil {
			sub.OnSubscribe(noSubscription{})
			sub.OnError(errors.WrapInvalid(errors.ErrAlreadySubscribed, p.name(), "Subscribe", "attach subscriber"))
			return
		}
		p.subscriber = sub
		sub.OnSubscribe(&outletSubscription[T]{p: p})
		if p.terminated && !p.finished {
			p.finished = true
			if p.failure != nil {
				sub.OnError(p.failure)
			} else {
				sub.OnComplete()
			}
		}
	})
}

func (p *publisherOutlet[T]) request(n int64) {
	if p.finished {
		return
	}
	if n <= 0 {
		err := errors.ProtocolViolation(p.name(), "Request", errors.ErrInvalidDemand)
		p.g.recordProtocolViolation(p.name())
		p.g.logger.Warn("Protocol violation", "stage", p.out.stage, "port", p.out.name, "error", err)
		p.finished = true
		p.subscriber.OnError(err)
		p.out.cancel()
		return
	}
	p.demand = reactive.AddDemand(p.demand, n)
	if !p.out.pulled && !p.out.closed {
		p.out.demand()
	}
}

func (p *publisherOutlet[T]) cancelSubscription() {
	if p.finished {
		return
	}
	p.finished = true
	p.out.cancel()
}

func (p *publisherOutlet[T]) push(e T) {
	if p.finished {
		return
	}
	if reactive.IsNil(any(e)) {
		err := errors.ProtocolViolation(p.name(), "push", errors.ErrNilElement)
		p.g.recordProtocolViolation(p.name())
		p.finished = true
		p.subscriber.OnError(err)
		p.out.cancel()
		return
	}
	if p.demand != maxDemand {
		p.demand--
	}
	p.subscriber.OnNext(e)
	if p.demand > 0 && !p.finished {
		p.out.demand()
	}
}

func (p *publisherOutlet[T]) complete() {
	p.terminate(nil)
}

func (p *publisherOutlet[T]) fail(err error) {
	p.terminate(err)
}

func (p *publisherOutlet[T]) terminate(err error) {
	if p.finished || p.terminated {
		return
	}
	p.terminated = true
	p.failure = err
	if p.subscriber == nil {
		return
	}
	p.finished = true
	if err != nil {
		p.subscriber.OnError(err)
		return
	}
	p.subscriber.OnComplete()
}

// cancel acts as if the subscriber had canceled.
func (p *publisherOutlet[T]) cancel() {
	p.cancelSubscription()
}

func (p *publisherOutlet[T]) abort(err error) {
	p.terminate(err)
}

type outletSubscription[T any] struct {
	p *publisherOutlet[T]
}

func (s *outletSubscription[T]) Request(n int64) {
	s.p.g.queue.Execute(func() { s.p.request(n) })
}

func (s *outletSubscription[T]) Cancel() {
	s.p.g.queue.Execute(s.p.cancelSubscription)
}

type noSubscription struct{}

func (noSubscription) Request(int64) {}
func (noSubscription) Cancel()       {}
