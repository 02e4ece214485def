package stage

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/stagegraph/errors"
	"github.com/c360/stagegraph/flowgraph"
	"github.com/c360/stagegraph/metric"
)

const maxDemand = math.MaxInt64

// Default boundary watermarks.
const (
	DefaultHighWatermark = 8
	DefaultLowWatermark  = 4
)

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithExecutor sets the executor that drains the signal queue.
func WithExecutor(executor Executor) Option {
	return func(g *Graph) {
		if executor != nil {
			g.executor = executor
		}
	}
}

// WithMetrics records engine metrics.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(g *Graph) {
		g.metrics = metrics
	}
}

// WithWatermarks sets the default boundary watermarks.
func WithWatermarks(high, low int) Option {
	return func(g *Graph) {
		g.high = high
		g.low = low
	}
}

// WithID sets the run id. Defaults to a random UUID.
func WithID(id string) Option {
	return func(g *Graph) {
		if id != "" {
			g.id = id
		}
	}
}

// terminator is notified when the run aborts.
type terminator interface {
	abort(err error)
}

// canceler is canceled by Graph.Cancel.
type canceler interface {
	cancel()
}

// Graph is one run of a stage graph: its stages, their links and the signal
// queue that serializes them. A Graph is single use.
type Graph struct {
	id       string
	logger   *slog.Logger
	metrics  *metric.Metrics
	executor Executor
	queue    *SignalQueue
	high     int
	low      int

	// assembly, before Start
	stages      []Stage
	ports       []port
	terminators []terminator
	cancelers   []canceler
	links       int
	assembly    []error

	mu              sync.Mutex
	started         bool
	cancelRequested bool

	// run state, touched only inside the queue
	openPorts int
	failed    bool
	aborted   error

	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error
}

// NewGraph creates an empty graph.
func NewGraph(opts ...Option) *Graph {
	g := &Graph{
		id:       uuid.NewString(),
		logger:   slog.Default(),
		executor: InlineExecutor,
		high:     DefaultHighWatermark,
		low:      DefaultLowWatermark,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("graph_id", g.id)
	g.queue = NewSignalQueue(g.executor, g.abort, g.metrics, g.logger)

	if err := validWatermarks(g.high, g.low); err != nil {
		g.assemblyError(errors.WrapInvalid(err, "Graph", "NewGraph", "watermarks"))
	}
	return g
}

// ID returns the run id.
func (g *Graph) ID() string {
	return g.id
}

// Queue returns the graph's signal queue.
func (g *Graph) Queue() *SignalQueue {
	return g.queue
}

// Stages returns the stages in assembly order.
func (g *Graph) Stages() []Stage {
	return append([]Stage(nil), g.stages...)
}

// Start validates the graph and drives the first pulls. Signals enqueued by
// boundary publishers before Start are processed after it.
func (g *Graph) Start() error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return errors.WrapInvalid(errors.ErrGraphStarted, "Graph", "Start", "start graph")
	}
	if err := g.validate(); err != nil {
		g.mu.Unlock()
		return err
	}
	g.started = true
	canceled := g.cancelRequested
	g.openPorts = len(g.ports)

	for _, st := range g.stages {
		g.queue.Execute(st.postStart)
	}
	if canceled {
		g.queue.Execute(g.cancelAll)
	}
	if g.openPorts == 0 {
		g.queue.Execute(g.finish)
	}
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.RecordGraphStarted()
	}
	g.logger.Info("Graph started", "stages", len(g.stages), "ports", len(g.ports))

	g.queue.Start()
	return nil
}

// Cancel stops the run as if every sink and boundary subscriber had canceled.
// Cancellation is not a failure: sink futures stay unresolved. Safe to call
// from any goroutine, more than once, and before Start.
func (g *Graph) Cancel() {
	g.queue.RequestCancel()

	g.mu.Lock()
	if g.cancelRequested {
		g.mu.Unlock()
		return
	}
	g.cancelRequested = true
	started := g.started
	g.mu.Unlock()

	if started {
		g.queue.Execute(g.cancelAll)
	}
}

// Done is closed once every port of the graph has closed.
func (g *Graph) Done() <-chan struct{} {
	return g.done
}

// Err returns the error that aborted the run, if any.
func (g *Graph) Err() error {
	g.errMu.Lock()
	defer g.errMu.Unlock()
	return g.err
}

func (g *Graph) validate() error {
	if len(g.assembly) > 0 {
		return errors.WrapInvalid(stderrors.Join(g.assembly...), "Graph", "Start", "assemble graph")
	}

	fg := flowgraph.NewFlowGraph(g.logger)
	byStage := make(map[string][]flowgraph.PortInfo, len(g.stages))
	for _, p := range g.ports {
		byStage[p.stageName()] = append(byStage[p.stageName()], p.info())
	}
	for _, st := range g.stages {
		if err := fg.AddStageNode(st.Name(), st.Kind(), byStage[st.Name()]); err != nil {
			return err
		}
	}
	return fg.Validate()
}

func (g *Graph) cancelAll() {
	g.logger.Debug("Graph cancel requested")
	for i := len(g.cancelers) - 1; i >= 0; i-- {
		g.cancelers[i].cancel()
	}
}

// abort is the queue's fault handler: a signal panicked, so the run cannot
// continue. Boundary upstreams are canceled, boundary downstreams and sink
// futures fail and every port is closed.
func (g *Graph) abort(err error) {
	if g.aborted != nil {
		g.logger.Error("Fault during aborted run", "error", err, "abort_cause", g.aborted)
		return
	}
	g.aborted = err
	g.errMu.Lock()
	g.err = err
	g.errMu.Unlock()

	g.logger.Error("Graph aborted", "error", err)
	for _, t := range g.terminators {
		g.abortOne(t, err)
	}
	for _, p := range g.ports {
		if p.forceClose() {
			g.portClosed()
		}
	}
}

func (g *Graph) abortOne(t terminator, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Abort handler panicked", "error", errors.FromPanic(r))
		}
	}()
	t.abort(err)
}

func (g *Graph) portClosed() {
	g.openPorts--
	if g.openPorts == 0 {
		g.finish()
	}
}

func (g *Graph) markFailed() {
	g.failed = true
}

func (g *Graph) finish() {
	g.doneOnce.Do(func() {
		outcome := g.outcome()
		if g.metrics != nil {
			g.metrics.RecordGraphFinished(outcome)
		}
		g.logger.Info("Graph finished", "outcome", outcome)
		close(g.done)
	})
}

func (g *Graph) outcome() string {
	switch {
	case g.aborted != nil:
		return metric.OutcomeAborted
	case g.queue.CancelRequested():
		return metric.OutcomeCanceled
	case g.failed:
		return metric.OutcomeFailed
	default:
		return metric.OutcomeCompleted
	}
}

func (g *Graph) addStage(st Stage) {
	g.stages = append(g.stages, st)
	if t, ok := st.(terminator); ok {
		g.addTerminator(t)
	}
}

func (g *Graph) addPort(p port) {
	g.mustBeAssembling("addPort")
	g.ports = append(g.ports, p)
}

func (g *Graph) addTerminator(t terminator) {
	g.terminators = append(g.terminators, t)
}

func (g *Graph) addCanceler(c canceler) {
	g.cancelers = append(g.cancelers, c)
}

func (g *Graph) nextLink() string {
	g.links++
	return fmt.Sprintf("link-%d", g.links)
}

func (g *Graph) assemblyError(err error) {
	g.assembly = append(g.assembly, err)
}

// mustBeAssembling panics once the graph has started. Assembly state is not
// guarded after Start, so late changes are misuse like any other.
func (g *Graph) mustBeAssembling(op string) {
	g.mu.Lock()
	started := g.started
	g.mu.Unlock()
	if started {
		panic(errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrGraphStarted, errors.ErrIllegalState),
			"Graph", op, "modify running graph"))
	}
}

func (g *Graph) stageName(kind, name string) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("%s-%d", kind, len(g.stages)+1)
}

func (g *Graph) recordPush(stage string) {
	if g.metrics != nil {
		g.metrics.RecordPush(stage)
	}
}

func (g *Graph) recordDemand(inlet string, n int64) {
	if g.metrics != nil {
		g.metrics.RecordDemand(inlet, n)
	}
}

func (g *Graph) recordProtocolViolation(port string) {
	if g.metrics != nil {
		g.metrics.RecordProtocolViolation(port)
	}
}

// stageFailed logs and counts a user function failure.
func (g *Graph) stageFailed(stage string, err error) {
	g.failed = true
	if g.metrics != nil {
		g.metrics.RecordStageFailure(stage)
	}
	g.logger.Warn("Stage failed", "stage", stage, "error", err)
}

func validWatermarks(high, low int) error {
	if high < 1 || low < 0 || low >= high {
		return fmt.Errorf("high=%d low=%d: %w", high, low, errors.ErrInvalidConfig)
	}
	return nil
}
