package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paritytech/contract-dependency-manager-sub000/internal/artifact"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/builder"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/cid"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/release"
)

type stubDriver struct {
	mu       sync.Mutex
	events   []string
	requests []builder.Request
	build    func(ctx context.Context, req builder.Request, onProgress builder.ProgressFunc) builder.Result
}

func (d *stubDriver) record(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

func (d *stubDriver) Build(ctx context.Context, req builder.Request, onProgress builder.ProgressFunc) builder.Result {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
	d.record("start:" + req.Artifact)
	defer d.record("end:" + req.Artifact)
	if d.build != nil {
		return d.build(ctx, req, onProgress)
	}
	return builder.Result{Artifact: req.Artifact, Success: true, Duration: 10 * time.Millisecond}
}

func (d *stubDriver) built(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, event := range d.events {
		if event == "start:"+name {
			return true
		}
	}
	return false
}

func (d *stubDriver) index(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.events {
		if e == event {
			return i
		}
	}
	return -1
}

func failing(names ...string) func(context.Context, builder.Request, builder.ProgressFunc) builder.Result {
	set := map[string]bool{}
	for _, name := range names {
		set[name] = true
	}
	return func(_ context.Context, req builder.Request, _ builder.ProgressFunc) builder.Result {
		if set[req.Artifact] {
			return builder.Result{Artifact: req.Artifact, Diagnostics: "error: could not compile " + req.Artifact}
		}
		return builder.Result{Artifact: req.Artifact, Success: true}
	}
}

type stubOutputs struct {
	mu       sync.Mutex
	packages map[string]string
	missing  map[string]bool
}

func (o *stubOutputs) PackageName(name string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	pkg, ok := o.packages[name]
	return pkg, ok
}

func (o *stubOutputs) BinaryPath(name string) string {
	return "/target/" + name + ".release.polkavm"
}

func (o *stubOutputs) CheckBinary(name string) error {
	if o.missing[name] {
		return fmt.Errorf("artifact: %s binary missing", name)
	}
	return nil
}

func (o *stubOutputs) Timestamp() string {
	return "2026-01-02T03:04:05.000Z"
}

func (o *stubOutputs) Metadata(_ context.Context, info artifact.Info, publishedAt string) artifact.Metadata {
	return artifact.Metadata{PublishedAt: publishedAt, Description: info.Name, Authors: info.Authors}
}

func addressFor(path string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(path, "/target/"), ".release.polkavm")
	return "0x" + name
}

// stubServices behaves like an honest backend unless a hook overrides a
// phase.
type stubServices struct {
	mu        sync.Mutex
	deploys   [][]string
	publishes [][]artifact.Metadata
	registers [][]release.RegistryEntry

	deploy   func(ctx context.Context, paths []string) (release.DeployResult, error)
	publish  func(ctx context.Context, metadata []artifact.Metadata) (release.PublishResult, error)
	register func(ctx context.Context, entries []release.RegistryEntry) (release.RegisterResult, error)
}

func (s *stubServices) services() *release.Services {
	return &release.Services{Deployer: s, Publisher: s, Registry: s}
}

func (s *stubServices) DeployBatch(ctx context.Context, paths []string) (release.DeployResult, error) {
	s.mu.Lock()
	s.deploys = append(s.deploys, append([]string(nil), paths...))
	s.mu.Unlock()
	if s.deploy != nil {
		return s.deploy(ctx, paths)
	}
	return honestDeploy(paths), nil
}

func honestDeploy(paths []string) release.DeployResult {
	addresses := make([]string, len(paths))
	for i, path := range paths {
		addresses[i] = addressFor(path)
	}
	return release.DeployResult{Addresses: addresses, TxHash: "0xdeploytx", BlockHash: "0xdeployblock"}
}

func (s *stubServices) PublishBatch(ctx context.Context, metadata []artifact.Metadata) (release.PublishResult, error) {
	s.mu.Lock()
	s.publishes = append(s.publishes, append([]artifact.Metadata(nil), metadata...))
	s.mu.Unlock()
	if s.publish != nil {
		return s.publish(ctx, metadata)
	}
	return honestPublish(metadata)
}

func honestPublish(metadata []artifact.Metadata) (release.PublishResult, error) {
	ids := make([]string, len(metadata))
	for i, meta := range metadata {
		data, err := meta.Bytes()
		if err != nil {
			return release.PublishResult{}, err
		}
		ids[i] = cid.Compute(data)
	}
	return release.PublishResult{ContentIDs: ids, BlockNumber: 7, TxHash: "0xpublishtx", BlockHash: "0xpublishblock"}, nil
}

func (s *stubServices) RegisterBatch(ctx context.Context, entries []release.RegistryEntry) (release.RegisterResult, error) {
	s.mu.Lock()
	s.registers = append(s.registers, append([]release.RegistryEntry(nil), entries...))
	s.mu.Unlock()
	if s.register != nil {
		return s.register(ctx, entries)
	}
	return release.RegisterResult{TxHash: "0xregistertx", BlockHash: "0xregisterblock"}, nil
}

func (s *stubServices) registerCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registers)
}

type pipelineHarness struct {
	t        *testing.T
	catalog  *artifact.Catalog
	driver   *stubDriver
	outputs  *stubOutputs
	services *stubServices
	recorder *recorder
	orch     *Orchestrator
}

func newPipelineHarness(t *testing.T, infos ...artifact.Info) *pipelineHarness {
	t.Helper()
	catalog, err := artifact.NewCatalog(infos)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	h := &pipelineHarness{
		t:        t,
		catalog:  catalog,
		driver:   &stubDriver{},
		outputs:  &stubOutputs{packages: map[string]string{}},
		services: &stubServices{},
		recorder: &recorder{},
	}
	orch, err := New(catalog, h.driver, h.outputs,
		WithObserver(h.recorder),
		WithRunIDs(func() string { return "run-1" }),
	)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	h.orch = orch
	return h
}

func (h *pipelineHarness) run(req Request) Result {
	h.t.Helper()
	result, err := h.orch.Run(context.Background(), req)
	if err != nil {
		h.t.Fatalf("run: %v", err)
	}
	return result
}

func (h *pipelineHarness) release() Request {
	return Request{Services: h.services.services()}
}

type recorder struct {
	mu       sync.Mutex
	changes  []ContractStatus
	packages [][2]string
	// onChange runs after each status change is recorded.
	onChange func(ContractStatus)
}

func (r *recorder) OnStatusChange(name string, status ContractStatus) {
	r.mu.Lock()
	r.changes = append(r.changes, status)
	hook := r.onChange
	r.mu.Unlock()
	if hook != nil {
		hook(status)
	}
}

// first returns the first status reported for name in state.
func (r *recorder) first(name string, state State) (ContractStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, status := range r.changes {
		if status.Name == name && status.State == state {
			return status, true
		}
	}
	return ContractStatus{}, false
}

func (r *recorder) OnPackageNameDiscovered(name, packageName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packages = append(r.packages, [2]string{name, packageName})
}

// states returns the distinct consecutive states reported for name.
func (r *recorder) states(name string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, status := range r.changes {
		if status.Name != name {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == status.State {
			continue
		}
		out = append(out, status.State)
	}
	return out
}

func info(name string, deps ...string) artifact.Info {
	return artifact.Info{Name: name, DependsOn: deps}
}

func pkg(name, packageName string, deps ...string) artifact.Info {
	return artifact.Info{Name: name, PackageName: packageName, DependsOn: deps}
}

func expectState(t *testing.T, result Result, name string, want State) ContractStatus {
	t.Helper()
	status, ok := result.Statuses[name]
	if !ok {
		t.Fatalf("no status for %s", name)
	}
	if status.State != want {
		t.Fatalf("%s state = %s (error %q), want %s", name, status.State, status.Error, want)
	}
	return status
}

func describe(statuses map[string]ContractStatus) string {
	var parts []string
	for name, status := range statuses {
		parts = append(parts, fmt.Sprintf("%s=%s", name, status.State))
	}
	return strings.Join(parts, " ")
}
