package reactive_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sgerrors "github.com/c360/stagegraph/errors"
	"github.com/c360/stagegraph/reactive"
	"github.com/c360/stagegraph/testutil"
)

func TestFromSlice(t *testing.T) {
	t.Run("honors demand", func(t *testing.T) {
		sub := testutil.NewRecordingSubscriber[int](2)
		reactive.FromSlice([]int{1, 2, 3}).Subscribe(sub)

		assert.Equal(t, []int{1, 2}, sub.Items())
		assert.False(t, sub.Completed())

		sub.Request(1)
		assert.Equal(t, []int{1, 2, 3}, sub.Items())
		assert.True(t, sub.Completed())
		assert.Equal(t, 1, sub.Terminals())
	})

	t.Run("empty completes without demand", func(t *testing.T) {
		sub := testutil.NewRecordingSubscriber[string](0)
		reactive.Empty[string]().Subscribe(sub)

		assert.Empty(t, sub.Items())
		assert.True(t, sub.Completed())
		assert.Equal(t, 1, sub.Terminals())
	})

	t.Run("cancel stops emission", func(t *testing.T) {
		sub := testutil.NewRecordingSubscriber[int](1)
		reactive.FromSlice([]int{1, 2, 3}).Subscribe(sub)
		sub.Cancel()
		sub.Request(5)

		assert.Equal(t, []int{1}, sub.Items())
		assert.Equal(t, 0, sub.Terminals())
	})

	t.Run("non-positive request fails", func(t *testing.T) {
		sub := testutil.NewRecordingSubscriber[int](0)
		reactive.FromSlice([]int{1}).Subscribe(sub)
		sub.Request(0)

		assert.ErrorIs(t, sub.Err(), sgerrors.ErrInvalidDemand)
		assert.ErrorIs(t, sub.Err(), sgerrors.ErrProtocolViolation)
	})

	t.Run("unbounded demand", func(t *testing.T) {
		sub := testutil.NewRecordingSubscriber[int](1 << 62)
		reactive.FromSlice([]int{1, 2, 3}).Subscribe(sub)
		sub.Request(1 << 62)

		assert.Equal(t, []int{1, 2, 3}, sub.Items())
		assert.True(t, sub.Completed())
	})
}

func TestFailed(t *testing.T) {
	boom := errors.New("boom")
	sub := testutil.NewRecordingSubscriber[int](1)
	reactive.Failed[int](boom).Subscribe(sub)

	assert.Equal(t, boom, sub.Err())
	assert.Equal(t, 1, sub.Terminals())
}

func TestAddDemand(t *testing.T) {
	assert.Equal(t, int64(5), reactive.AddDemand(2, 3))
	assert.Equal(t, int64(1<<63-1), reactive.AddDemand(1<<62, 1<<62))
}

func TestIsNil(t *testing.T) {
	var p *int
	var m map[string]int
	var e error
	assert.True(t, reactive.IsNil(nil))
	assert.True(t, reactive.IsNil(p))
	assert.True(t, reactive.IsNil(m))
	assert.True(t, reactive.IsNil(e))
	assert.False(t, reactive.IsNil(0))
	assert.False(t, reactive.IsNil(""))
	assert.False(t, reactive.IsNil(&struct{}{}))
}

func TestFuture(t *testing.T) {
	t.Run("first assignment wins", func(t *testing.T) {
		f := reactive.NewFuture[int]()
		_, ok, _ := f.Result()
		assert.False(t, ok)

		assert.True(t, f.Complete(6))
		assert.False(t, f.Complete(7))
		assert.False(t, f.Fail(errors.New("late")))

		v, ok, err := f.Result()
		require.True(t, ok)
		assert.NoError(t, err)
		assert.Equal(t, 6, v)
	})

	t.Run("await failure", func(t *testing.T) {
		f := reactive.NewFuture[string]()
		boom := errors.New("boom")
		go f.Fail(boom)

		_, err := f.Await(context.Background())
		assert.Equal(t, boom, err)
		assert.True(t, f.IsDone())
	})

	t.Run("await honors context", func(t *testing.T) {
		f := reactive.NewFuture[int]()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := f.Await(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, f.IsDone())
	})
}
