package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paritytech/contract-dependency-manager-sub000/internal/artifact"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/builder"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/cid"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/release"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/workflow"
)

func TestRunExampleScenario(t *testing.T) {
	h := newPipelineHarness(t, info("A"), info("B"), info("C", "A", "B"))
	result := h.run(h.release())

	if !reflect.DeepEqual(result.Layers, [][]string{{"A", "B"}, {"C"}}) {
		t.Fatalf("unexpected layers %v", result.Layers)
	}
	if !result.Success {
		t.Fatalf("expected success: %s", describe(result.Statuses))
	}
	want := map[string]string{"A": "0xA", "B": "0xB", "C": "0xC"}
	if !reflect.DeepEqual(result.Addresses, want) {
		t.Fatalf("addresses = %v, want %v", result.Addresses, want)
	}
	if h.driver.index("end:A") > h.driver.index("start:C") || h.driver.index("end:B") > h.driver.index("start:C") {
		t.Fatalf("C started before its dependencies finished: %v", h.driver.events)
	}
	if len(h.services.deploys) != 2 {
		t.Fatalf("expected one deploy batch per layer, got %v", h.services.deploys)
	}
	if !reflect.DeepEqual(h.services.deploys[0], []string{"/target/A.release.polkavm", "/target/B.release.polkavm"}) {
		t.Fatalf("first deploy batch = %v", h.services.deploys[0])
	}
	if len(h.services.publishes) != 0 || h.services.registerCalls() != 0 {
		t.Fatalf("anonymous artifacts must not be published or registered")
	}
	if result.RunID != "run-1" {
		t.Fatalf("run id = %s", result.RunID)
	}
}

func TestRunEmptyInput(t *testing.T) {
	h := newPipelineHarness(t)
	result := h.run(h.release())
	if !result.Success {
		t.Fatalf("empty run should succeed")
	}
	if len(result.Layers) != 0 || len(result.Addresses) != 0 || len(result.Statuses) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if result.Layers == nil || result.Addresses == nil {
		t.Fatalf("empty result should carry empty, non-nil collections")
	}
}

func TestRunBuildsLayerConcurrently(t *testing.T) {
	h := newPipelineHarness(t, info("a"), info("b"))
	var started sync.WaitGroup
	started.Add(2)
	h.driver.build = func(_ context.Context, req builder.Request, _ builder.ProgressFunc) builder.Result {
		started.Done()
		waited := make(chan struct{})
		go func() {
			started.Wait()
			close(waited)
		}()
		select {
		case <-waited:
			return builder.Result{Artifact: req.Artifact, Success: true}
		case <-time.After(5 * time.Second):
			return builder.Result{Artifact: req.Artifact, Diagnostics: "sibling never started"}
		}
	}
	result := h.run(h.release())
	if !result.Success {
		t.Fatalf("builds in one layer should overlap: %s", describe(result.Statuses))
	}
}

func TestRunSequencesLayers(t *testing.T) {
	h := newPipelineHarness(t, info("a"), info("b", "a"))
	h.driver.build = func(_ context.Context, req builder.Request, _ builder.ProgressFunc) builder.Result {
		time.Sleep(5 * time.Millisecond)
		return builder.Result{Artifact: req.Artifact, Success: true}
	}
	var deployedA bool
	h.services.deploy = func(_ context.Context, paths []string) (release.DeployResult, error) {
		if paths[0] == "/target/a.release.polkavm" {
			deployedA = true
		} else if !deployedA {
			t.Errorf("layer two deployed before layer one")
		}
		return honestDeploy(paths), nil
	}
	h.run(h.release())
	if h.driver.index("end:a") > h.driver.index("start:b") {
		t.Fatalf("b started before a finished: %v", h.driver.events)
	}
}

func TestRunCascadesFailureTransitively(t *testing.T) {
	h := newPipelineHarness(t, info("a"), info("b", "a"), info("c", "b"), info("d"))
	h.driver.build = failing("a")
	result := h.run(h.release())

	if result.Success {
		t.Fatalf("expected failure")
	}
	status := expectState(t, result, "a", StateError)
	if status.FailedPhase != PhaseBuild || status.Error != "error: could not compile a" {
		t.Fatalf("unexpected build failure status %+v", status)
	}
	for _, name := range []string{"b", "c"} {
		status := expectState(t, result, name, StateError)
		if status.Error != "skipped: dependency failed" || status.FailedPhase != PhaseDependency {
			t.Fatalf("%s should be skipped, got %+v", name, status)
		}
		if h.driver.built(name) {
			t.Fatalf("%s must never be built", name)
		}
		if !errors.Is(result.Errors[name], ErrDependencyFailed) {
			t.Fatalf("%s error = %v", name, result.Errors[name])
		}
	}
	if got := h.recorder.states("b"); !reflect.DeepEqual(got, []State{StateError}) {
		t.Fatalf("skipped artifact should jump straight to error, got %v", got)
	}
	expectState(t, result, "d", StateDone)
	var buildErr *BuildError
	if !errors.As(result.Errors["a"], &buildErr) || buildErr.Artifact != "a" {
		t.Fatalf("a error = %v", result.Errors["a"])
	}
}

func TestRunIndependentArtifactsSurvive(t *testing.T) {
	h := newPipelineHarness(t, info("a"), info("c"))
	h.driver.build = failing("a")
	result := h.run(h.release())
	expectState(t, result, "a", StateError)
	expectState(t, result, "c", StateDone)
	if result.Addresses["c"] != "0xc" {
		t.Fatalf("c should be deployed, addresses %v", result.Addresses)
	}
	if !reflect.DeepEqual(h.services.deploys, [][]string{{"/target/c.release.polkavm"}}) {
		t.Fatalf("failed builds must not be deployed: %v", h.services.deploys)
	}
}

func TestRunEmptyBuildDiagnosticsFallBack(t *testing.T) {
	h := newPipelineHarness(t, info("a"))
	h.driver.build = func(_ context.Context, req builder.Request, _ builder.ProgressFunc) builder.Result {
		return builder.Result{Artifact: req.Artifact}
	}
	result := h.run(h.release())
	status := expectState(t, result, "a", StateError)
	if status.Error != "build failed" {
		t.Fatalf("error = %q", status.Error)
	}
}

func TestRunStatusOrderForRegistrableArtifact(t *testing.T) {
	h := newPipelineHarness(t, pkg("a", "@test/pkg"))
	result := h.run(h.release())

	want := []State{StateBuilding, StateBuilt, StateDeploying, StateRegistering, StateDone}
	if got := h.recorder.states("a"); !reflect.DeepEqual(got, want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	status := expectState(t, result, "a", StateDone)
	if status.Address != "0xa" || status.CID == "" || status.RegisterTxHash != "0xregistertx" || status.PublishTxHash != "0xpublishtx" {
		t.Fatalf("unexpected final status %+v", status)
	}
	if status.DeployInProgress || status.PublishInProgress || status.RegisterInProgress {
		t.Fatalf("in-progress flags should be cleared: %+v", status)
	}
	entries := h.services.registers[0]
	want0 := release.RegistryEntry{PackageName: "@test/pkg", Address: "0xa", ContentID: status.CID}
	if len(entries) != 1 || entries[0] != want0 {
		t.Fatalf("register entries = %+v", entries)
	}
}

func TestRunDeployedButUnregistered(t *testing.T) {
	h := newPipelineHarness(t, pkg("a", "@test/a"), pkg("b", "@test/b"))
	h.services.register = func(context.Context, []release.RegistryEntry) (release.RegisterResult, error) {
		return release.RegisterResult{}, errors.New("registry reverted")
	}
	result := h.run(h.release())

	if result.Success {
		t.Fatalf("expected failure")
	}
	for _, name := range []string{"a", "b"} {
		status := expectState(t, result, name, StateError)
		if status.Address == "" || status.DeployTxHash == "" || status.DeployBlockHash == "" {
			t.Fatalf("%s should keep its deploy record, got %+v", name, status)
		}
		if status.RegisterTxHash != "" || status.RegisterBlockHash != "" {
			t.Fatalf("%s must not carry register ids, got %+v", name, status)
		}
		if status.FailedPhase != PhaseRegister || !status.Deployed() {
			t.Fatalf("%s should be marked as deployed but failed to register: %+v", name, status)
		}
		if status.RegisterInProgress {
			t.Fatalf("%s register flag should be cleared", name)
		}
		var batchErr *BatchError
		if !errors.As(result.Errors[name], &batchErr) || batchErr.Phase != PhaseRegister {
			t.Fatalf("%s error = %v", name, result.Errors[name])
		}
	}
	if len(result.Addresses) != 0 {
		t.Fatalf("addresses should only list done artifacts, got %v", result.Addresses)
	}
}

func TestRunContentIDMismatchSkipsRegister(t *testing.T) {
	h := newPipelineHarness(t, pkg("a", "@test/a"), pkg("b", "@test/b"))
	h.services.publish = func(_ context.Context, metadata []artifact.Metadata) (release.PublishResult, error) {
		res, err := honestPublish(metadata)
		res.ContentIDs[1] = cid.Compute([]byte("other document"))
		return res, err
	}
	result := h.run(h.release())

	if h.services.registerCalls() != 0 {
		t.Fatalf("register must not run after an integrity failure")
	}
	for _, name := range []string{"a", "b"} {
		status := expectState(t, result, name, StateError)
		if status.FailedPhase != PhasePublish {
			t.Fatalf("%s failed phase = %s", name, status.FailedPhase)
		}
	}
	var mismatch *ContentIDMismatchError
	if !errors.As(result.Errors["a"], &mismatch) || mismatch.Artifact != "b" || mismatch.Got != cid.Compute([]byte("other document")) {
		t.Fatalf("expected content id mismatch for b, got %v", result.Errors["a"])
	}
}

func TestRunAnonymousDoneSurvivesPublishFailure(t *testing.T) {
	h := newPipelineHarness(t, info("anon"), pkg("named", "@test/named"))
	applied := make(chan struct{})
	var once sync.Once
	h.recorder.onChange = func(status ContractStatus) {
		if status.Name == "anon" && status.State == StateDone {
			once.Do(func() { close(applied) })
		}
	}
	h.services.publish = func(context.Context, []artifact.Metadata) (release.PublishResult, error) {
		<-applied
		return release.PublishResult{}, errors.New("bulletin unavailable")
	}
	result := h.run(h.release())

	anon := expectState(t, result, "anon", StateDone)
	if anon.Address != "0xanon" {
		t.Fatalf("anon address = %s", anon.Address)
	}
	named := expectState(t, result, "named", StateError)
	if named.FailedPhase != PhasePublish || named.Address == "" {
		t.Fatalf("named should be deployed but failed to publish: %+v", named)
	}
	if result.Addresses["anon"] != "0xanon" || len(result.Addresses) != 1 {
		t.Fatalf("addresses = %v", result.Addresses)
	}
}

func TestRunKeepsDeployLandingAfterPublishFailure(t *testing.T) {
	h := newPipelineHarness(t, pkg("a", "@test/a"), info("b"))
	published := make(chan struct{})
	h.services.publish = func(context.Context, []artifact.Metadata) (release.PublishResult, error) {
		defer close(published)
		return release.PublishResult{}, errors.New("bulletin down")
	}
	failed := make(chan struct{})
	var once sync.Once
	h.recorder.onChange = func(status ContractStatus) {
		if status.State == StateError {
			once.Do(func() { close(failed) })
		}
	}
	h.services.deploy = func(_ context.Context, paths []string) (release.DeployResult, error) {
		<-published
		<-failed
		return honestDeploy(paths), nil
	}
	result := h.run(h.release())

	for _, name := range []string{"a", "b"} {
		status := expectState(t, result, name, StateError)
		if status.FailedPhase != PhasePublish || status.Error != "publish failed: bulletin down" {
			t.Fatalf("%s unexpected failure %+v", name, status)
		}
		if status.Address != "0x"+name || status.DeployTxHash != "0xdeploytx" || status.DeployBlockHash != "0xdeployblock" {
			t.Fatalf("%s should keep the landed deploy, got %+v", name, status)
		}
		if !status.Deployed() || status.DeployInProgress || status.PublishInProgress {
			t.Fatalf("%s flags = %+v", name, status)
		}
		if states := h.recorder.states(name); states[len(states)-1] != StateError {
			t.Fatalf("%s states = %v", name, states)
		}
	}
	if len(result.Addresses) != 0 || h.services.registerCalls() != 0 {
		t.Fatalf("nothing should be done or registered: %v", result.Addresses)
	}
}

func TestRunDeployWaitsForConcurrentPublish(t *testing.T) {
	h := newPipelineHarness(t, pkg("a", "@test/a"), info("b"))
	publishing := make(chan struct{})
	h.services.publish = func(_ context.Context, metadata []artifact.Metadata) (release.PublishResult, error) {
		close(publishing)
		return honestPublish(metadata)
	}
	h.services.deploy = func(_ context.Context, paths []string) (release.DeployResult, error) {
		select {
		case <-publishing:
			return honestDeploy(paths), nil
		case <-time.After(5 * time.Second):
			return release.DeployResult{}, errors.New("publish never started")
		}
	}
	result := h.run(h.release())

	expectState(t, result, "a", StateDone)
	expectState(t, result, "b", StateDone)

	deploying, ok := h.recorder.first("a", StateDeploying)
	if !ok || !deploying.DeployInProgress || !deploying.PublishInProgress {
		t.Fatalf("a should enter deploying with both phases in flight: %+v", deploying)
	}
	anon, ok := h.recorder.first("b", StateDeploying)
	if !ok || !anon.DeployInProgress || anon.PublishInProgress {
		t.Fatalf("b should only deploy: %+v", anon)
	}
}

func TestRunPublishWaitsForConcurrentDeploy(t *testing.T) {
	h := newPipelineHarness(t, pkg("a", "@test/a"))
	deploying := make(chan struct{})
	h.services.deploy = func(_ context.Context, paths []string) (release.DeployResult, error) {
		close(deploying)
		return honestDeploy(paths), nil
	}
	h.services.publish = func(_ context.Context, metadata []artifact.Metadata) (release.PublishResult, error) {
		select {
		case <-deploying:
			return honestPublish(metadata)
		case <-time.After(5 * time.Second):
			return release.PublishResult{}, errors.New("deploy never started")
		}
	}
	result := h.run(h.release())

	expectState(t, result, "a", StateDone)
	if h.services.registerCalls() != 1 {
		t.Fatalf("register calls = %d", h.services.registerCalls())
	}
}

func TestRunMissingBinaryFailsDeployBeforeSubmit(t *testing.T) {
	h := newPipelineHarness(t, info("a"), pkg("b", "@test/b"))
	h.outputs.missing = map[string]bool{"b": true}
	result := h.run(h.release())

	for _, name := range []string{"a", "b"} {
		status := expectState(t, result, name, StateError)
		if status.FailedPhase != PhaseDeploy {
			t.Fatalf("%s failed phase = %s", name, status.FailedPhase)
		}
	}
	h.services.mu.Lock()
	defer h.services.mu.Unlock()
	if len(h.services.deploys) != 0 || len(h.services.publishes) != 0 {
		t.Fatalf("no batch should be submitted when a binary is missing")
	}
}

func TestRunRejectsMalformedContentID(t *testing.T) {
	h := newPipelineHarness(t, pkg("a", "@test/a"))
	h.services.publish = func(_ context.Context, metadata []artifact.Metadata) (release.PublishResult, error) {
		res, err := honestPublish(metadata)
		res.ContentIDs[0] = "bafkwrong"
		return res, err
	}
	result := h.run(h.release())

	status := expectState(t, result, "a", StateError)
	if status.FailedPhase != PhasePublish || !strings.Contains(status.Error, "malformed content id") {
		t.Fatalf("unexpected status %+v", status)
	}
	var mismatch *ContentIDMismatchError
	if errors.As(result.Errors["a"], &mismatch) {
		t.Fatalf("malformed id should not be reported as a mismatch")
	}
	if h.services.registerCalls() != 0 {
		t.Fatalf("register must not run")
	}
}

func TestRunDeployFailureFailsWholeBatch(t *testing.T) {
	h := newPipelineHarness(t, info("a"), pkg("b", "@test/b"), info("c", "a"))
	h.services.deploy = func(context.Context, []string) (release.DeployResult, error) {
		return release.DeployResult{}, errors.New("insufficient balance")
	}
	result := h.run(h.release())

	for _, name := range []string{"a", "b"} {
		status := expectState(t, result, name, StateError)
		if status.FailedPhase != PhaseDeploy || status.Address != "" {
			t.Fatalf("%s unexpected status %+v", name, status)
		}
		if status.Error != "deploy failed: insufficient balance" {
			t.Fatalf("%s error = %q", name, status.Error)
		}
	}
	status := expectState(t, result, "c", StateError)
	if status.FailedPhase != PhaseDependency {
		t.Fatalf("c should cascade from a deploy failure, got %+v", status)
	}
	if h.services.registerCalls() != 0 {
		t.Fatalf("register must not run after a deploy failure")
	}
}

func TestRunDeployAddressCountMismatch(t *testing.T) {
	h := newPipelineHarness(t, info("a"), info("b"))
	h.services.deploy = func(context.Context, []string) (release.DeployResult, error) {
		return release.DeployResult{Addresses: []string{"0x1"}}, nil
	}
	result := h.run(h.release())
	expectState(t, result, "a", StateError)
	expectState(t, result, "b", StateError)
}

func TestRunBuildOnly(t *testing.T) {
	h := newPipelineHarness(t, info("a"), info("b", "a"))
	result := h.run(Request{})
	if !result.Success {
		t.Fatalf("expected success")
	}
	expectState(t, result, "a", StateDone)
	expectState(t, result, "b", StateDone)
	if len(result.Addresses) != 0 {
		t.Fatalf("build-only runs produce no addresses, got %v", result.Addresses)
	}
	want := []State{StateBuilding, StateBuilt, StateDone}
	if got := h.recorder.states("a"); !reflect.DeepEqual(got, want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
}

func TestRunDiscoversPackageNames(t *testing.T) {
	h := newPipelineHarness(t, info("a"), info("b"))
	h.outputs.packages["a"] = "@test/my-contract"
	result := h.run(h.release())

	if !reflect.DeepEqual(h.recorder.packages, [][2]string{{"a", "@test/my-contract"}}) {
		t.Fatalf("discovered = %v", h.recorder.packages)
	}
	if h.catalog.PackageName("a") != "@test/my-contract" {
		t.Fatalf("catalog should record the discovered package name")
	}
	expectState(t, result, "a", StateDone)
	expectState(t, result, "b", StateDone)
	if len(h.services.registers) != 1 || len(h.services.registers[0]) != 1 || h.services.registers[0][0].PackageName != "@test/my-contract" {
		t.Fatalf("only the discovered artifact should register: %+v", h.services.registers)
	}
}

func TestRunSkipsDiscoveryForKnownPackages(t *testing.T) {
	h := newPipelineHarness(t, pkg("a", "@test/declared"))
	h.outputs.packages["a"] = "@test/other"
	h.run(h.release())
	if len(h.recorder.packages) != 0 {
		t.Fatalf("known package names must not be rediscovered: %v", h.recorder.packages)
	}
}

func TestRunForwardsRegistryAddressAndProgress(t *testing.T) {
	h := newPipelineHarness(t, info("a"))
	h.driver.build = func(_ context.Context, req builder.Request, onProgress builder.ProgressFunc) builder.Result {
		onProgress(1, 2, "dep")
		onProgress(2, 2, "a")
		return builder.Result{Artifact: req.Artifact, Success: true, Duration: time.Second}
	}
	req := Request{RegistryAddress: "0xregistry"}
	result := h.run(req)

	if h.driver.requests[0].RegistryAddress != "0xregistry" {
		t.Fatalf("registry address not forwarded: %+v", h.driver.requests[0])
	}
	status := expectState(t, result, "a", StateDone)
	if status.BuildProgress != (BuildProgress{Compiled: 2, Total: 2, Current: "a"}) {
		t.Fatalf("build progress = %+v", status.BuildProgress)
	}
	if status.Duration != time.Second {
		t.Fatalf("duration = %s", status.Duration)
	}
	var progress []BuildProgress
	for _, change := range h.recorder.changes {
		if change.State == StateBuilding && change.BuildProgress.Total > 0 {
			progress = append(progress, change.BuildProgress)
		}
	}
	if len(progress) != 2 {
		t.Fatalf("expected two progress updates while building, got %v", progress)
	}
}

func TestRunTargetsFilterLayers(t *testing.T) {
	h := newPipelineHarness(t, info("a"), info("b", "a"), info("c"))
	result := h.run(Request{Targets: []string{"b", "c"}})
	if !reflect.DeepEqual(result.Layers, [][]string{{"c"}, {"b"}}) {
		t.Fatalf("layers = %v", result.Layers)
	}
	if _, ok := result.Statuses["a"]; ok {
		t.Fatalf("filtered artifacts must not get a status")
	}
	if h.driver.built("a") {
		t.Fatalf("a was filtered out and must not build")
	}
}

func TestRunRejectsUnknownTarget(t *testing.T) {
	h := newPipelineHarness(t, info("a"))
	if _, err := h.orch.Run(context.Background(), Request{Targets: []string{"ghost"}}); err == nil {
		t.Fatalf("expected unknown target error")
	}
}

func TestRunRejectsCycleBeforeWork(t *testing.T) {
	h := newPipelineHarness(t, info("a", "b"), info("b", "a"))
	_, err := h.orch.Run(context.Background(), h.release())
	var cycle *workflow.CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if len(h.driver.events) != 0 || len(h.recorder.changes) != 0 {
		t.Fatalf("no work may start for a cyclic graph")
	}
}

func TestRunRejectsInconsistentLayers(t *testing.T) {
	h := newPipelineHarness(t, info("a"), info("b", "a"))
	_, err := h.orch.Run(context.Background(), Request{Layers: [][]string{{"a", "b"}}})
	if err == nil {
		t.Fatalf("expected error for a layer that runs b alongside its dependency")
	}
	result := h.run(Request{Layers: [][]string{{"a"}, {"b"}}})
	if !result.Success {
		t.Fatalf("precomputed layers should run: %s", describe(result.Statuses))
	}
}

func TestRunRejectsIncompleteServices(t *testing.T) {
	h := newPipelineHarness(t, info("a"))
	_, err := h.orch.Run(context.Background(), Request{Services: &release.Services{Deployer: h.services}})
	if err == nil {
		t.Fatalf("expected missing publisher error")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	catalog, err := artifact.NewCatalog(nil)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if _, err := New(nil, &stubDriver{}, &stubOutputs{}); err == nil {
		t.Fatalf("expected catalog error")
	}
	if _, err := New(catalog, nil, &stubOutputs{}); err == nil {
		t.Fatalf("expected driver error")
	}
	if _, err := New(catalog, &stubDriver{}, nil); err == nil {
		t.Fatalf("expected output store error")
	}
}

func TestStateTransitions(t *testing.T) {
	allowed := [][2]State{
		{StateWaiting, StateBuilding},
		{StateWaiting, StateError},
		{StateBuilding, StateBuilt},
		{StateBuilt, StateDeploying},
		{StateBuilt, StateDone},
		{StateDeploying, StateRegistering},
		{StateDeploying, StateDone},
		{StateRegistering, StateDone},
		{StateRegistering, StateError},
	}
	for _, pair := range allowed {
		if !pair[0].CanTransition(pair[1]) {
			t.Fatalf("%s -> %s should be allowed", pair[0], pair[1])
		}
	}
	denied := [][2]State{
		{StateWaiting, StateDone},
		{StateBuilt, StateBuilding},
		{StateRegistering, StateDeploying},
		{StateDone, StateError},
		{StateError, StateError},
		{StateDone, StateDone},
	}
	for _, pair := range denied {
		if pair[0].CanTransition(pair[1]) {
			t.Fatalf("%s -> %s should be denied", pair[0], pair[1])
		}
	}
}
