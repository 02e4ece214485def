//go:build integration

package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/stagegraph/reactive"
	"github.com/c360/stagegraph/testutil"
)

func TestIntegration_ConnectToRealNATS(t *testing.T) {
	tc := NewTestClient(t, WithFastStartup())

	assert.True(t, tc.IsReady())
	assert.Equal(t, StatusConnected, tc.Client.Status())
	assert.NotNil(t, tc.GetNativeConnection())

	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	tc := NewTestClient(t, WithFastStartup())

	received := make(chan string, 1)
	err := tc.Client.Subscribe(ctx, "test.subject", func(_ context.Context, data []byte) {
		received <- string(data)
	})
	require.NoError(t, err)

	require.NoError(t, tc.Client.Publish(ctx, "test.subject", []byte("hello")))

	select {
	case msg := <-received:
		assert.Equal(t, "hello", msg)
	case <-time.After(time.Second):
		t.Fatal("message not received")
	}
}

func TestIntegration_CircuitBreakerFailsFast(t *testing.T) {
	ctx := context.Background()
	client, err := NewClient("nats://127.0.0.1:1", WithTimeout(time.Second))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		assert.Error(t, client.Connect(ctx))
		assert.NotEqual(t, StatusCircuitOpen, client.Status())
	}
	assert.ErrorIs(t, client.Connect(ctx), ErrCircuitOpen)

	start := time.Now()
	assert.ErrorIs(t, client.Connect(ctx), ErrCircuitOpen)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestIntegration_SubjectRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tc := NewTestClient(t, WithIntegrationDefaults())

	pub, err := NewSubjectPublisher(ctx, tc.Client, "stagegraph.it.numbers", WithMaxPending(256))
	require.NoError(t, err)
	rec := testutil.NewRecordingSubscriber[[]byte](8)
	pub.Subscribe(rec)
	require.NoError(t, tc.Client.Flush(ctx))

	// Keep the recording subscriber pulling so the round trip is demand driven.
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rec.Request(8)
			}
		}
	}()
	defer close(stop)

	want := make([]string, 100)
	items := make([][]byte, 100)
	for i := range items {
		want[i] = fmt.Sprint(i)
		items[i] = []byte(want[i])
	}

	sub, err := NewSubjectSubscriber(ctx, tc.Client, "stagegraph.it.numbers", WithWatermarks(16, 8))
	require.NoError(t, err)
	reactive.FromSlice(items).Subscribe(sub)

	n, err := sub.Result().Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)

	select {
	case <-rec.Done():
	case <-ctx.Done():
		t.Fatal("subject stream did not complete")
	}
	require.True(t, rec.Completed(), "err: %v", rec.Err())

	got := make([]string, 0, 100)
	for _, item := range rec.Items() {
		got = append(got, string(item))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestIntegration_HealthMonitoring(t *testing.T) {
	ctx := context.Background()
	healthChanges := make(chan bool, 10)

	tc := NewTestClient(t, WithFastStartup())
	client, err := NewClient(tc.URL,
		WithHealthInterval(50*time.Millisecond),
		WithMaxReconnects(0),
		WithHealthChangeCallback(func(healthy bool) {
			healthChanges <- healthy
		}),
	)
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)

	select {
	case healthy := <-healthChanges:
		assert.True(t, healthy)
	case <-time.After(time.Second):
		t.Fatal("initial health not reported")
	}

	require.NoError(t, tc.container.Stop(ctx, nil))

	select {
	case healthy := <-healthChanges:
		assert.False(t, healthy)
	case <-time.After(5 * time.Second):
		t.Fatal("health change not detected")
	}
}
