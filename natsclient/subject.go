package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/c360/stagegraph/errors"
	"github.com/c360/stagegraph/pkg/buffer"
)

// Headers carried by the end-of-stream marker message.
const (
	HeaderEndOfStream = "Stagegraph-End-Of-Stream"
	HeaderError       = "Stagegraph-Error"
)

// Defaults for the subject adapters.
const (
	DefaultMaxPending    = 1024
	DefaultHighWatermark = 16
	DefaultLowWatermark  = 8
)

var (
	// ErrSlowConsumer fails a SubjectPublisher whose pending buffer overflows
	// under the Reject policy.
	ErrSlowConsumer = stderrors.New("subscriber fell behind subject")

	// ErrRemoteStream wraps the error text carried by an end-of-stream marker.
	ErrRemoteStream = stderrors.New("remote stream failed")
)

// Transport is the part of Client the subject adapters need.
// testutil.MockNATSClient implements it in memory.
type Transport interface {
	PublishMsg(ctx context.Context, msg *nats.Msg) error
	SubscribeMsg(ctx context.Context, subject string, handler nats.MsgHandler) (Subscription, error)
}

// Subscription is an active subject subscription. It is an alias so that
// implementations outside this package need not import it.
type Subscription = interface {
	Unsubscribe() error
}

// EndOfStream builds the marker message that terminates a subject stream.
// A non-nil err travels in the HeaderError header.
func EndOfStream(subject string, err error) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Header.Set(HeaderEndOfStream, "true")
	if err != nil {
		msg.Header.Set(HeaderError, err.Error())
	}
	return msg
}

// IsEndOfStream reports whether msg is an end-of-stream marker and returns the
// remote failure it carries, if any.
func IsEndOfStream(msg *nats.Msg) (bool, error) {
	if msg == nil || msg.Header == nil || msg.Header.Get(HeaderEndOfStream) == "" {
		return false, nil
	}
	if text := msg.Header.Get(HeaderError); text != "" {
		return true, fmt.Errorf("%w: %s", ErrRemoteStream, text)
	}
	return true, nil
}

// SubjectOption configures a SubjectPublisher or SubjectSubscriber.
type SubjectOption func(*subjectOptions)

type subjectOptions struct {
	maxPending  int
	overflow    buffer.OverflowPolicy
	high, low   int
	endOfStream bool
	logger      *slog.Logger
}

// WithMaxPending bounds the messages a SubjectPublisher holds while its
// subscriber has no demand.
func WithMaxPending(n int) SubjectOption {
	return func(o *subjectOptions) {
		o.maxPending = n
	}
}

// WithOverflowPolicy chooses what a SubjectPublisher does when its pending
// buffer is full. Reject (the default) fails the stream with ErrSlowConsumer.
func WithOverflowPolicy(policy buffer.OverflowPolicy) SubjectOption {
	return func(o *subjectOptions) {
		o.overflow = policy
	}
}

// WithWatermarks sets the request batching of a SubjectSubscriber: it keeps
// up to high elements requested and tops up once outstanding demand falls to
// low.
func WithWatermarks(high, low int) SubjectOption {
	return func(o *subjectOptions) {
		o.high = high
		o.low = low
	}
}

// WithEndOfStream controls whether a SubjectSubscriber publishes the
// end-of-stream marker when its upstream terminates. On by default.
func WithEndOfStream(enabled bool) SubjectOption {
	return func(o *subjectOptions) {
		o.endOfStream = enabled
	}
}

// WithSubjectLogger sets the adapter logger.
func WithSubjectLogger(logger *slog.Logger) SubjectOption {
	return func(o *subjectOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newSubjectOptions(component, method, subject string, opts []SubjectOption) (subjectOptions, error) {
	o := subjectOptions{
		maxPending:  DefaultMaxPending,
		overflow:    buffer.Reject,
		high:        DefaultHighWatermark,
		low:         DefaultLowWatermark,
		endOfStream: true,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var problem string
	switch {
	case subject == "":
		problem = "subject is required"
	case o.maxPending < 1:
		problem = fmt.Sprintf("max pending must be positive, got %d", o.maxPending)
	case o.high < 1 || o.low < 0 || o.low >= o.high:
		problem = fmt.Sprintf("watermarks need 0 <= low < high, got high=%d low=%d", o.high, o.low)
	}
	if problem != "" {
		return o, errors.WrapInvalid(fmt.Errorf("%s: %w", problem, errors.ErrInvalidConfig),
			component, method, "validate options")
	}
	o.logger = o.logger.With("component", component, "subject", subject)
	return o, nil
}
