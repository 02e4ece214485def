package testutil

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

var (
	// ErrMockClosed is returned by every operation after Close.
	ErrMockClosed = stderrors.New("mock client is closed")
	// ErrMockBadSubscription is returned when unsubscribing twice.
	ErrMockBadSubscription = stderrors.New("invalid subscription")
)

// MockNATSClient is an in-memory NATS transport for testing core message
// passing. It matches the natsclient.Client methods used by the subject
// adapters. Handlers run synchronously inside PublishMsg, in subscription
// order. Thread-safe for concurrent use from multiple goroutines.
type MockNATSClient struct {
	mu            sync.RWMutex
	messages      map[string][]*nats.Msg
	subscriptions map[string][]*mockSubscription
	publishErr    error
	closed        bool
}

// NewMockNATSClient creates a new mock NATS client.
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		messages:      make(map[string][]*nats.Msg),
		subscriptions: make(map[string][]*mockSubscription),
	}
}

type mockSubscription struct {
	client  *MockNATSClient
	subject string
	handler nats.MsgHandler
	active  atomic.Bool
}

// Unsubscribe removes the handler. A second call returns ErrMockBadSubscription.
func (s *mockSubscription) Unsubscribe() error {
	if !s.active.CompareAndSwap(true, false) {
		return ErrMockBadSubscription
	}
	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.subscriptions[s.subject]
	for i, sub := range subs {
		if sub == s {
			c.subscriptions[s.subject] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// Publish publishes data to a subject (matches natsclient.Client signature).
func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	return c.PublishMsg(ctx, &nats.Msg{Subject: subject, Data: data})
}

// PublishMsg records msg and hands it to every active subscription of its
// subject.
func (c *MockNATSClient) PublishMsg(ctx context.Context, msg *nats.Msg) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrMockClosed
	}
	if c.publishErr != nil {
		err := c.publishErr
		c.mu.Unlock()
		return err
	}
	c.messages[msg.Subject] = append(c.messages[msg.Subject], msg)

	// Copy handlers to avoid holding the lock during callbacks
	subs := append([]*mockSubscription(nil), c.subscriptions[msg.Subject]...)
	c.mu.Unlock()

	for _, sub := range subs {
		if sub.active.Load() {
			sub.handler(msg)
		}
	}
	return nil
}

// SubscribeMsg registers handler for subject (matches natsclient.Client
// signature).
func (c *MockNATSClient) SubscribeMsg(ctx context.Context, subject string,
	handler nats.MsgHandler) (interface{ Unsubscribe() error }, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrMockClosed
	}
	sub := &mockSubscription{client: c, subject: subject, handler: handler}
	sub.active.Store(true)
	c.subscriptions[subject] = append(c.subscriptions[subject], sub)
	return sub, nil
}

// Subscribe registers a data-only handler (matches natsclient.Client
// signature). Each call gets a context derived from ctx with a 30s timeout.
func (c *MockNATSClient) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	_, err := c.SubscribeMsg(ctx, subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	return err
}

// SetPublishError makes every later publish fail with err. nil restores
// normal behavior.
func (c *MockNATSClient) SetPublishError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

// GetMessages returns the payloads published to a subject, markers included.
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.messages[subject]
	if msgs == nil {
		return nil
	}
	result := make([][]byte, len(msgs))
	for i, msg := range msgs {
		result[i] = msg.Data
	}
	return result
}

// GetMsgs returns the full messages published to a subject.
func (c *MockNATSClient) GetMsgs(subject string) []*nats.Msg {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*nats.Msg(nil), c.messages[subject]...)
}

// GetMessageCount returns the number of messages on a subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

// SubscriptionCount returns the number of active subscriptions on a subject.
func (c *MockNATSClient) SubscriptionCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions[subject])
}

// Clear clears all messages from a subject.
func (c *MockNATSClient) Clear(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.messages, subject)
}

// ClearAll clears all messages from all subjects.
func (c *MockNATSClient) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make(map[string][]*nats.Msg)
}

// Close closes the mock client.
func (c *MockNATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// IsClosed returns whether the client is closed.
func (c *MockNATSClient) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// WaitForMessageCount waits for at least count messages on a subject.
func WaitForMessageCount(t testing.TB, client *MockNATSClient, subject string, count int, timeout time.Duration) {
	t.Helper()

	deadline := time.After(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %d messages on subject %s (got %d)",
				count, subject, client.GetMessageCount(subject))
			return
		case <-ticker.C:
			if client.GetMessageCount(subject) >= count {
				return
			}
		}
	}
}

// AssertNoMessages checks that no messages were published on a subject.
func AssertNoMessages(t testing.TB, client *MockNATSClient, subject string) {
	t.Helper()
	if n := client.GetMessageCount(subject); n > 0 {
		t.Fatalf("expected no messages on subject %s, got %d", subject, n)
	}
}
