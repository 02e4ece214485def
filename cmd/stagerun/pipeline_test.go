package main

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/stagegraph/config"
	"github.com/c360/stagegraph/errors"
	"github.com/c360/stagegraph/metric"
	"github.com/c360/stagegraph/natsclient"
	"github.com/c360/stagegraph/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rangeConfig(start, count int64, stages ...config.StageConfig) *config.Config {
	cfg := config.Default()
	cfg.Pipeline.Source = config.SourceConfig{Type: config.SourceRange, Start: start, Count: count}
	cfg.Pipeline.Stages = stages
	return cfg
}

func runBuilt(t *testing.T, cfg *config.Config, transport natsclient.Transport) (int64, error) {
	t.Helper()
	p, err := buildPipeline(context.Background(), cfg, transport, metric.NewMetricsRegistry(), quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.run(ctx, time.Second)
}

func TestPipeline_RangeSum(t *testing.T) {
	tests := []struct {
		name   string
		stages []config.StageConfig
		want   int64
	}{
		{"no stages", nil, 55},
		{"map add", []config.StageConfig{{Type: config.StageMap, Op: "add", Value: 1}}, 65},
		{"map then filter", []config.StageConfig{
			{Type: config.StageMap, Op: "mul", Value: 2},
			{Type: config.StageFilter, Op: "gt", Value: 5},
		}, 104},
		{"odd", []config.StageConfig{{Type: config.StageFilter, Op: "odd"}}, 25},
		{"take", []config.StageConfig{{Type: config.StageTake, Value: 3}}, 6},
		{"drop", []config.StageConfig{{Type: config.StageDrop, Value: 8}}, 19},
		{"take while", []config.StageConfig{{Type: config.StageTakeWhile, Op: "lt", Value: 4}}, 6},
		{"peek", []config.StageConfig{{Type: config.StagePeek, Name: "watch"}}, 55},
		{"throttle", []config.StageConfig{{Type: config.StageThrottle, Rate: 1000, Burst: 10}}, 55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runBuilt(t, rangeConfig(1, 10, tt.stages...), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPipeline_EmptyRange(t *testing.T) {
	got, err := runBuilt(t, rangeConfig(1, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestPipeline_Executors(t *testing.T) {
	for _, executor := range []string{config.ExecutorInline, config.ExecutorGoroutine, config.ExecutorPool} {
		t.Run(executor, func(t *testing.T) {
			cfg := rangeConfig(1, 100, config.StageConfig{Type: config.StageFilter, Op: "even"})
			cfg.Engine.Executor = executor

			got, err := runBuilt(t, cfg, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(2550), got)
		})
	}
}

func TestPipeline_LogSinkCounts(t *testing.T) {
	cfg := rangeConfig(1, 10, config.StageConfig{Type: config.StageDrop, Value: 3})
	cfg.Pipeline.Sink = config.SinkConfig{Type: config.SinkLog}

	got, err := runBuilt(t, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestPipeline_NATSSource(t *testing.T) {
	mock := testutil.NewMockNATSClient()
	cfg := rangeConfig(0, 0, config.StageConfig{Type: config.StageMap, Op: "mul", Value: 10})
	cfg.Pipeline.Source = config.SourceConfig{Type: config.SourceNATS, Subject: "numbers.in"}

	p, err := buildPipeline(context.Background(), cfg, mock, nil, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, mock.SubscriptionCount("numbers.in"))

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, mock.Publish(ctx, "numbers.in", []byte(strconv.Itoa(i))))
	}
	require.NoError(t, mock.PublishMsg(ctx, natsclient.EndOfStream("numbers.in", nil)))

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	got, err := p.run(runCtx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(150), got)
}

func TestPipeline_NATSSourceBadPayload(t *testing.T) {
	mock := testutil.NewMockNATSClient()
	cfg := rangeConfig(0, 0)
	cfg.Pipeline.Source = config.SourceConfig{Type: config.SourceNATS, Subject: "numbers.in"}

	p, err := buildPipeline(context.Background(), cfg, mock, nil, quietLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mock.Publish(ctx, "numbers.in", []byte("1")))
	require.NoError(t, mock.Publish(ctx, "numbers.in", []byte("not a number")))

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = p.run(runCtx, time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestPipeline_NATSSink(t *testing.T) {
	mock := testutil.NewMockNATSClient()
	cfg := rangeConfig(1, 5)
	cfg.Pipeline.Sink = config.SinkConfig{Type: config.SinkNATS, Subject: "numbers.out"}

	got, err := runBuilt(t, cfg, mock)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	msgs := mock.GetMsgs("numbers.out")
	require.Len(t, msgs, 6)
	for i, msg := range msgs[:5] {
		assert.Equal(t, strconv.Itoa(i+1), string(msg.Data))
	}
	end, remote := natsclient.IsEndOfStream(msgs[5])
	assert.True(t, end)
	assert.NoError(t, remote)
}

func TestPipeline_CanceledRun(t *testing.T) {
	mock := testutil.NewMockNATSClient()
	cfg := rangeConfig(0, 0)
	cfg.Pipeline.Source = config.SourceConfig{Type: config.SourceNATS, Subject: "numbers.in"}

	p, err := buildPipeline(context.Background(), cfg, mock, nil, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = mock.Publish(context.Background(), "numbers.in", []byte("1"))
		cancel()
	}()

	_, err = p.run(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_RequiresTransport(t *testing.T) {
	cfg := rangeConfig(1, 5)
	cfg.Pipeline.Sink = config.SinkConfig{Type: config.SinkNATS, Subject: "numbers.out"}

	_, err := buildPipeline(context.Background(), cfg, nil, nil, quietLogger())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestPipeline_UnknownStage(t *testing.T) {
	cfg := rangeConfig(1, 5, config.StageConfig{Type: "window"})

	_, err := buildPipeline(context.Background(), cfg, nil, nil, quietLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestElementCodec(t *testing.T) {
	data, err := encodeElement(-42)
	require.NoError(t, err)
	assert.Equal(t, "-42", string(data))

	v, err := decodeElement(data)
	require.NoError(t, err)
	assert.Equal(t, int64(-42), v)

	_, err = decodeElement([]byte("4.2"))
	assert.True(t, errors.IsInvalid(err))
}
