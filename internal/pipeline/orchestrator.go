package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/paritytech/contract-dependency-manager-sub000/internal/artifact"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/builder"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/release"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/workflow"
)

// BuildDriver compiles one artifact. Every progress event must be delivered
// before Build returns.
type BuildDriver interface {
	Build(ctx context.Context, req builder.Request, onProgress builder.ProgressFunc) builder.Result
}

// OutputStore exposes what a build leaves behind for the release phase.
type OutputStore interface {
	PackageName(name string) (string, bool)
	BinaryPath(name string) string
	CheckBinary(name string) error
	Timestamp() string
	Metadata(ctx context.Context, info artifact.Info, publishedAt string) artifact.Metadata
}

// Orchestrator runs the layered build-and-release protocol.
type Orchestrator struct {
	catalog   *artifact.Catalog
	driver    BuildDriver
	outputs   OutputStore
	observers observers
	logger    *slog.Logger
	clock     func() time.Time
	newRunID  func() string
}

// Option customizes the orchestrator instance.
type Option func(*Orchestrator)

// WithObserver registers an observer. Observers are notified in registration
// order.
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		if observer != nil {
			o.observers = append(o.observers, observer)
		}
	}
}

// WithLogger routes orchestrator logs to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithRunIDs overrides run identifier generation.
func WithRunIDs(next func() string) Option {
	return func(o *Orchestrator) {
		if next != nil {
			o.newRunID = next
		}
	}
}

// New wires an orchestrator to its artifact catalog, build driver and build
// output store.
func New(catalog *artifact.Catalog, driver BuildDriver, outputs OutputStore, opts ...Option) (*Orchestrator, error) {
	if catalog == nil {
		return nil, fmt.Errorf("pipeline: artifact catalog is required")
	}
	if driver == nil {
		return nil, fmt.Errorf("pipeline: build driver is required")
	}
	if outputs == nil {
		return nil, fmt.Errorf("pipeline: output store is required")
	}
	o := &Orchestrator{
		catalog:  catalog,
		driver:   driver,
		outputs:  outputs,
		logger:   slog.New(slog.DiscardHandler),
		clock:    time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Request configures one run.
type Request struct {
	// RegistryAddress is forwarded to every build.
	RegistryAddress string
	// Services selects the release backend. Nil runs build-only: successful
	// builds finish as done without touching any remote system.
	Services *release.Services
	// Targets restricts the run to the named artifacts. Layers left empty by
	// the filter are dropped.
	Targets []string
	// Layers replaces the computed layering when set.
	Layers [][]string
}

// Result is the outcome of a run. Addresses only lists artifacts that reached
// done; partially released artifacts keep their address in Statuses.
type Result struct {
	RunID      string                    `json:"run_id"`
	Layers     [][]string                `json:"layers"`
	Addresses  map[string]string         `json:"addresses"`
	Statuses   map[string]ContractStatus `json:"statuses"`
	Errors     map[string]error          `json:"-"`
	Success    bool                      `json:"success"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
}

// Plan returns the layers a request would execute.
func (o *Orchestrator) Plan(req Request) ([][]string, error) {
	graph := o.catalog.Graph()
	var layers [][]string
	if req.Layers != nil {
		if err := checkLayers(graph, req.Layers); err != nil {
			return nil, err
		}
		layers = req.Layers
	} else {
		computed, err := workflow.Layers(graph)
		if err != nil {
			return nil, err
		}
		layers = computed
	}
	for _, name := range req.Targets {
		if _, ok := graph[name]; !ok {
			return nil, fmt.Errorf("pipeline: unknown target %s", name)
		}
	}
	return workflow.FilterLayers(layers, req.Targets), nil
}

func checkLayers(graph workflow.DependencyGraph, layers [][]string) error {
	position := map[string]int{}
	for i, layer := range layers {
		for _, name := range layer {
			if _, ok := graph[name]; !ok {
				return fmt.Errorf("pipeline: layer %d names unknown artifact %s", i, name)
			}
			if _, dup := position[name]; dup {
				return fmt.Errorf("pipeline: artifact %s appears in more than one layer", name)
			}
			position[name] = i
		}
	}
	for name, i := range position {
		for _, dep := range graph[name] {
			if j, ok := position[dep]; ok && j >= i {
				return fmt.Errorf("pipeline: %s in layer %d runs before its dependency %s", name, i, dep)
			}
		}
	}
	return nil
}

// Run executes every layer in order. It only returns an error when the
// request cannot be planned; once work starts, failures are reported per
// artifact in the result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	layers, err := o.Plan(req)
	if err != nil {
		return Result{}, err
	}
	if req.Services != nil {
		if err := req.Services.Validate(); err != nil {
			return Result{}, fmt.Errorf("pipeline: %w", err)
		}
	}
	r := o.newRun(req, layers)
	r.logger.Info("run started", "layers", len(layers), "artifacts", len(r.statuses), "build_only", req.Services == nil)
	for i, layer := range layers {
		r.runLayer(ctx, i, layer)
	}
	result := r.result()
	r.logger.Info("run finished", "success", result.Success, "deployed", len(result.Addresses), "elapsed", result.FinishedAt.Sub(result.StartedAt))
	return result, nil
}

// run holds the mutable state of one Run. Only the goroutine executing Run
// touches it.
type run struct {
	o        *Orchestrator
	req      Request
	id       string
	layers   [][]string
	graph    workflow.DependencyGraph
	statuses map[string]ContractStatus
	errs     map[string]error
	failed   map[string]struct{}
	started  time.Time
	logger   *slog.Logger
}

func (o *Orchestrator) newRun(req Request, layers [][]string) *run {
	id := o.newRunID()
	r := &run{
		o:        o,
		req:      req,
		id:       id,
		layers:   layers,
		graph:    o.catalog.Graph(),
		statuses: map[string]ContractStatus{},
		errs:     map[string]error{},
		failed:   map[string]struct{}{},
		started:  o.clock(),
		logger:   o.logger.With("run_id", id),
	}
	for _, name := range workflow.Flatten(layers) {
		r.statuses[name] = ContractStatus{Name: name, State: StateWaiting}
	}
	return r
}

// set moves name to next after applying mutate and notifies observers.
// Updates that would leave a terminal state or skip the state machine are
// dropped.
func (r *run) set(name string, next State, mutate func(*ContractStatus)) bool {
	current, ok := r.statuses[name]
	if !ok {
		return false
	}
	if !current.State.CanTransition(next) {
		r.logger.Warn("status update dropped", "artifact", name, "from", current.State, "to", next)
		return false
	}
	updated := current
	if mutate != nil {
		mutate(&updated)
	}
	updated.State = next
	r.statuses[name] = updated
	r.o.observers.OnStatusChange(name, updated)
	return true
}

// update changes fields without moving the state.
func (r *run) update(name string, mutate func(*ContractStatus)) bool {
	return r.set(name, r.statuses[name].State, mutate)
}

// annotate changes fields without moving the state. Unlike update it also
// applies to terminal artifacts, so it must never be used to change state.
func (r *run) annotate(name string, mutate func(*ContractStatus)) {
	current, ok := r.statuses[name]
	if !ok {
		return
	}
	state := current.State
	mutate(&current)
	current.State = state
	r.statuses[name] = current
	r.o.observers.OnStatusChange(name, current)
}

func (r *run) fail(name string, phase Phase, err error, extra ...func(*ContractStatus)) {
	applied := r.set(name, StateError, func(s *ContractStatus) {
		for _, fn := range extra {
			fn(s)
		}
		s.Error = err.Error()
		s.FailedPhase = phase
		s.clearInProgress()
	})
	if applied {
		r.failed[name] = struct{}{}
		r.errs[name] = err
	}
}

func (r *run) runLayer(ctx context.Context, index int, layer []string) {
	logger := r.logger.With("layer", index)
	logger.Info("layer started", "artifacts", layer)

	runnable := make([]string, 0, len(layer))
	for _, name := range layer {
		if r.graph.Transitive(name, r.failed) {
			logger.Info("artifact skipped", "artifact", name, "reason", ErrDependencyFailed)
			r.fail(name, PhaseDependency, ErrDependencyFailed)
			continue
		}
		runnable = append(runnable, name)
	}

	built := r.build(ctx, runnable)
	r.discover(built)

	if r.req.Services == nil {
		for _, name := range built {
			r.set(name, StateDone, nil)
		}
	} else {
		r.release(ctx, logger, built)
	}

	for _, name := range layer {
		if state := r.statuses[name].State; !state.Terminal() {
			logger.Error("artifact left layer unresolved", "artifact", name, "state", state)
		}
	}
	logger.Info("layer finished", "failed", len(r.failed))
}

type buildEvent struct {
	name     string
	progress *BuildProgress
	result   *builder.Result
}

// build runs every artifact of runnable concurrently and returns the ones
// that succeeded in layer order.
func (r *run) build(ctx context.Context, runnable []string) []string {
	if len(runnable) == 0 {
		return nil
	}
	for _, name := range runnable {
		r.set(name, StateBuilding, nil)
	}
	events := make(chan buildEvent)
	for _, name := range runnable {
		go func() {
			req := builder.Request{Artifact: name, RegistryAddress: r.req.RegistryAddress}
			res := r.o.driver.Build(ctx, req, func(compiled, total int, current string) {
				events <- buildEvent{name: name, progress: &BuildProgress{Compiled: compiled, Total: total, Current: current}}
			})
			events <- buildEvent{name: name, result: &res}
		}()
	}

	for pending := len(runnable); pending > 0; {
		event := <-events
		if event.progress != nil {
			progress := *event.progress
			r.update(event.name, func(s *ContractStatus) {
				s.BuildProgress = progress
			})
			continue
		}
		pending--
		res := event.result
		if res.Success {
			r.logger.Info("build succeeded", "artifact", event.name, "duration", res.Duration)
			r.set(event.name, StateBuilt, func(s *ContractStatus) {
				s.Duration = res.Duration
			})
			continue
		}
		r.logger.Warn("build failed", "artifact", event.name, "duration", res.Duration)
		r.fail(event.name, PhaseBuild, &BuildError{Artifact: event.name, Diagnostics: res.Diagnostics}, func(s *ContractStatus) {
			s.Duration = res.Duration
		})
	}

	built := make([]string, 0, len(runnable))
	for _, name := range runnable {
		if r.statuses[name].State == StateBuilt {
			built = append(built, name)
		}
	}
	return built
}

// discover records package names revealed by successful builds. Discovery is
// best-effort: an artifact without a readable package record simply stays
// anonymous.
func (r *run) discover(built []string) {
	for _, name := range built {
		if r.o.catalog.PackageName(name) != "" {
			continue
		}
		pkg, ok := r.o.outputs.PackageName(name)
		if !ok {
			continue
		}
		if err := r.o.catalog.SetPackageName(name, pkg); err != nil {
			r.logger.Warn("package name not recorded", "artifact", name, "error", err)
			continue
		}
		r.logger.Info("package name discovered", "artifact", name, "package", pkg)
		r.o.observers.OnPackageNameDiscovered(name, pkg)
	}
}

func (r *run) result() Result {
	res := Result{
		RunID:      r.id,
		Layers:     r.layers,
		Addresses:  map[string]string{},
		Statuses:   cloneStatuses(r.statuses),
		Errors:     map[string]error{},
		Success:    true,
		StartedAt:  r.started,
		FinishedAt: r.o.clock(),
	}
	if res.Layers == nil {
		res.Layers = [][]string{}
	}
	for name, status := range r.statuses {
		if status.State == StateDone && status.Address != "" {
			res.Addresses[name] = status.Address
		}
		if status.State == StateError {
			res.Success = false
		}
	}
	for name, err := range r.errs {
		res.Errors[name] = err
	}
	return res
}
