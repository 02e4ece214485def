package stage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sgerrors "github.com/c360/stagegraph/errors"
	"github.com/c360/stagegraph/metric"
	"github.com/c360/stagegraph/pkg/worker"
	"github.com/c360/stagegraph/testutil"
)

// misuseStage grabs twice per push, a port protocol fault.
type misuseStage struct {
	base
	in  *Inlet[int]
	out *Outlet[int]
}

func newMisuse(g *Graph) *misuseStage {
	s := &misuseStage{base: newBase(g, "misuse", "misuse")}
	s.in = newInlet[int](g, s.name, "in")
	s.out = newOutlet[int](g, s.name, "out")
	s.in.SetListener(InletHandler{
		Push: func() {
			s.in.Grab()
			s.in.Grab()
		},
		Finish:  func() {},
		Failure: func(error) {},
	})
	s.out.SetListener(passOutlet(s.in))
	g.addStage(s)
	return s
}

func TestGraph_StartValidation(t *testing.T) {
	tests := []struct {
		name     string
		assemble func(g *Graph)
		wantErr  error
	}{
		{
			name: "unconnected ports",
			assemble: func(g *Graph) {
				Map(g, "lonely", func(v int) (int, error) { return v, nil })
			},
			wantErr: sgerrors.ErrGraphInvalid,
		},
		{
			name: "outlet connected twice",
			assemble: func(g *Graph) {
				src := Of(g, "src", 1)
				a := Collect(g, "a", ToSlice[int]())
				b := Collect(g, "b", ToSlice[int]())
				Connect(src.Out(), a.In())
				Connect(src.Out(), b.In())
			},
			wantErr: sgerrors.ErrIllegalState,
		},
		{
			name: "boundary on a linked inlet",
			assemble: func(g *Graph) {
				src := Of(g, "src", 1)
				c := Collect(g, "c", ToSlice[int]())
				Connect(src.Out(), c.In())
				Source(c.In())
			},
			wantErr: sgerrors.ErrIllegalState,
		},
		{
			name: "missing collector function",
			assemble: func(g *Graph) {
				src := Of(g, "src", 1)
				c := Collect(g, "c", Collector[int, int, int]{Supplier: func() int { return 0 }})
				Connect(src.Out(), c.In())
			},
			wantErr: sgerrors.ErrIllegalState,
		},
		{
			name: "invalid source watermarks",
			assemble: func(g *Graph) {
				c := Collect(g, "c", ToSlice[int]())
				Source(c.In(), WithBufferWatermarks(4, 4))
			},
			wantErr: sgerrors.ErrInvalidConfig,
		},
		{
			name: "nil limiter",
			assemble: func(g *Graph) {
				src := Of(g, "src", 1)
				th := Throttle[int](g, "throttle", nil)
				c := Collect(g, "c", ToSlice[int]())
				Connect(src.Out(), th.In())
				Connect(th.Out(), c.In())
			},
			wantErr: sgerrors.ErrIllegalState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGraph()
			tt.assemble(g)
			err := g.Start()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assertNotDone(t, g)
		})
	}
}

func TestGraph_InvalidGraphWatermarks(t *testing.T) {
	g := newTestGraph(WithWatermarks(2, 5))
	Sink(Of(g, "src", 1).Out())
	err := g.Start()
	assert.ErrorIs(t, err, sgerrors.ErrInvalidConfig)
}

func TestGraph_StartTwice(t *testing.T) {
	g := newTestGraph(WithID("run-1"))
	assert.Equal(t, "run-1", g.ID())
	src := Of(g, "src", 1)
	c := Collect(g, "c", ToSlice[int]())
	Connect(src.Out(), c.In())

	require.NoError(t, g.Start())
	assert.ErrorIs(t, g.Start(), sgerrors.ErrGraphStarted)

	for name, modify := range map[string]func(){
		"connect": func() { Connect(src.Out(), c.In()) },
		"sink":    func() { Sink(src.Out()) },
		"source":  func() { Source(c.In()) },
		"stage":   func() { Of(g, "late", 2) },
	} {
		err := panicErr(modify)
		assert.ErrorIs(t, err, sgerrors.ErrGraphStarted, name)
		assert.ErrorIs(t, err, sgerrors.ErrIllegalState, name)
	}
	assert.Empty(t, g.assembly)
	assert.Len(t, g.ports, 2)
}

func TestGraph_StageNames(t *testing.T) {
	g := newTestGraph()
	src := Of(g, "", 1)
	m := Map(g, "", func(v int) (int, error) { return v, nil })
	c := Collect(g, "sum", ToSlice[int]())
	Connect(src.Out(), m.In())
	Connect(m.Out(), c.In())

	var names []string
	for _, st := range g.Stages() {
		names = append(names, st.Name()+"/"+st.Kind())
	}
	assert.Equal(t, []string{"of-1/of", "map-2/map", "sum/collect"}, names)
}

func TestGraph_EmptyGraphFinishes(t *testing.T) {
	m := metric.NewMetrics()
	g := newTestGraph(WithMetrics(m))
	require.NoError(t, g.Start())
	assertDone(t, g)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.GraphsFinished.WithLabelValues(metric.OutcomeCompleted)))
}

func TestGraph_CancelBeforeStart(t *testing.T) {
	m := metric.NewMetrics()
	g := newTestGraph(WithMetrics(m))
	src := Of(g, "src", 1, 2, 3)
	c := Collect(g, "c", ToSlice[int]())
	Connect(src.Out(), c.In())

	g.Cancel()
	assertNotDone(t, g)
	require.NoError(t, g.Start())

	assertDone(t, g)
	assert.False(t, c.Result().IsDone())
	assert.True(t, c.released)
	assert.NoError(t, g.Err())
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.GraphsFinished.WithLabelValues(metric.OutcomeCanceled)))
}

func TestGraph_CancelFromManyGoroutines(t *testing.T) {
	g := newTestGraph()
	c := Collect(g, "c", ToSlice[int]())
	sub := Source(c.In())
	require.NoError(t, g.Start())

	pub := testutil.NewManualPublisher[int]()
	pub.Subscribe(sub)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Cancel()
		}()
	}
	wg.Wait()

	select {
	case <-g.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("graph did not finish")
	}
	assert.Equal(t, 1, pub.Cancels())
}

func TestGraph_AbortOnPortMisuse(t *testing.T) {
	t.Run("sink future fails", func(t *testing.T) {
		m := metric.NewMetrics()
		g := newTestGraph(WithMetrics(m))
		bad := newMisuse(g)
		c := Collect(g, "c", ToSlice[int]())
		sub := Source(bad.in)
		Connect(bad.out, c.In())
		require.NoError(t, g.Start())

		pub := testutil.NewManualPublisher[int]()
		pub.Subscribe(sub)
		assert.NotPanics(t, func() { pub.Next(1) })

		assertDone(t, g)
		require.Error(t, g.Err())
		assert.ErrorIs(t, g.Err(), sgerrors.ErrIllegalState)
		assert.Contains(t, g.Err().Error(), "Inlet(misuse.in).Grab")

		_, err := result[[]int](t, c.Result())
		assert.Equal(t, g.Err(), err)
		assert.True(t, c.released)
		assert.Equal(t, 1, pub.Cancels())
		assert.Equal(t, 1.0, promtestutil.ToFloat64(m.GraphsFinished.WithLabelValues(metric.OutcomeAborted)))

		pub.Next(2)
		pub.Complete()
		assert.Equal(t, 1, pub.Cancels())
	})

	t.Run("boundary subscriber fails", func(t *testing.T) {
		g := newTestGraph()
		bad := newMisuse(g)
		sub := Source(bad.in)
		out := Sink(bad.out)
		require.NoError(t, g.Start())

		rec := testutil.NewRecordingSubscriber[int](4)
		out.Subscribe(rec)
		pub := testutil.NewManualPublisher[int]()
		pub.Subscribe(sub)
		pub.Next(1)

		assertDone(t, g)
		assert.ErrorIs(t, rec.Err(), sgerrors.ErrIllegalState)
		assert.Equal(t, 1, rec.Terminals())
		assert.Equal(t, 1, pub.Cancels())
	})
}

func TestGraph_Executors(t *testing.T) {
	run := func(t *testing.T, executor Executor) {
		t.Helper()
		g := newTestGraph(WithExecutor(executor))
		src := Of(g, "src", 1, 2, 3, 4, 5)
		double := Map(g, "double", func(v int) (int, error) { return v * 2, nil })
		total := Collect(g, "sum", sum())
		Connect(src.Out(), double.In())
		Connect(double.Out(), total.In())
		require.NoError(t, g.Start())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		v, err := total.Result().Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, 30, v)

		select {
		case <-g.Done():
		case <-ctx.Done():
			t.Fatal("graph did not finish")
		}
	}

	t.Run("goroutine", func(t *testing.T) {
		run(t, GoExecutor)
	})

	t.Run("worker pool", func(t *testing.T) {
		pool := worker.NewTaskPool(2, 4)
		require.NoError(t, pool.Start(context.Background()))
		defer func() { require.NoError(t, pool.Stop(time.Second)) }()

		run(t, NewPoolExecutor(pool, nil))
	})

	t.Run("stopped pool falls back to goroutines", func(t *testing.T) {
		pool := worker.NewTaskPool(1, 1)
		require.NoError(t, pool.Start(context.Background()))
		require.NoError(t, pool.Stop(time.Second))

		run(t, NewPoolExecutor(pool, nil))
	})
}

func TestGraph_ConcurrentPublisher(t *testing.T) {
	g := newTestGraph(WithExecutor(GoExecutor))
	total := Collect(g, "sum", sum())
	sub := Source(total.In())
	require.NoError(t, g.Start())

	pub := testutil.NewManualPublisher[int]()
	pub.Subscribe(sub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Emit only what was requested, from a goroutine other than the drain.
	sent := int64(0)
	expected := 0
	for i := 1; i <= 100; i++ {
		for sent >= pub.Requested() {
			select {
			case <-ctx.Done():
				t.Fatal("no demand")
			case <-time.After(time.Millisecond):
			}
		}
		pub.Next(i)
		sent++
		expected += i
	}
	pub.Complete()

	v, err := total.Result().Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, expected, v)
}

func TestSignalQueue(t *testing.T) {
	t.Run("holds signals until start", func(t *testing.T) {
		q := NewSignalQueue(nil, nil, nil, nil)
		var got []int
		q.Execute(func() { got = append(got, 1) })
		q.Execute(func() { got = append(got, 2) })
		assert.Equal(t, 2, q.Len())
		assert.Empty(t, got)

		q.Start()
		assert.Equal(t, []int{1, 2}, got)
		assert.Equal(t, 0, q.Len())
	})

	t.Run("nested signals run after the current one", func(t *testing.T) {
		q := NewSignalQueue(nil, nil, nil, nil)
		q.Start()
		var got []string
		q.Execute(func() {
			q.Execute(func() { got = append(got, "inner") })
			got = append(got, "outer")
		})
		assert.Equal(t, []string{"outer", "inner"}, got)
	})

	t.Run("panics go to the fault handler", func(t *testing.T) {
		var faults []error
		q := NewSignalQueue(nil, func(err error) { faults = append(faults, err) }, nil, nil)
		q.Start()

		ran := false
		q.Execute(func() {
			q.Execute(func() { ran = true })
			panic("kaboom")
		})

		require.Len(t, faults, 1)
		assert.EqualError(t, faults[0], "panic: kaboom")
		assert.True(t, ran, "queue keeps draining after a fault")
	})

	t.Run("never overlaps", func(t *testing.T) {
		m := metric.NewMetrics()
		q := NewSignalQueue(GoExecutor, nil, m, nil)
		q.Start()

		var (
			wg      sync.WaitGroup
			active  int
			overlap bool
			count   int
		)
		for i := 0; i < 200; i++ {
			wg.Add(1)
			go q.Execute(func() {
				defer wg.Done()
				active++
				if active > 1 {
					overlap = true
				}
				count++
				active--
			})
		}
		wg.Wait()

		assert.False(t, overlap)
		assert.Equal(t, 200, count)
		assert.Eventually(t, func() bool {
			return promtestutil.ToFloat64(m.SignalsExecuted) == 200
		}, time.Second, time.Millisecond)
	})

	t.Run("cancel request", func(t *testing.T) {
		q := NewSignalQueue(nil, nil, nil, nil)
		assert.False(t, q.CancelRequested())
		q.RequestCancel()
		assert.True(t, q.CancelRequested())
	})

	t.Run("custom executor", func(t *testing.T) {
		var drains int
		q := NewSignalQueue(ExecutorFunc(func(task func()) {
			drains++
			task()
		}), nil, nil, nil)
		q.Execute(func() {})
		q.Execute(func() {})
		q.Start()
		q.Execute(func() {})
		assert.Equal(t, 2, drains)
	})
}

func TestFuture_AwaitCanceledContext(t *testing.T) {
	g := newTestGraph()
	c := Collect(g, "c", ToSlice[int]())
	Source(c.In())
	require.NoError(t, g.Start())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Result().Await(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, c.Result().IsDone())
}
