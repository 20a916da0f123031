package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/paritytech/contract-dependency-manager-sub000/internal/artifact"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/builder"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/logging"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/pipeline"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/release"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/release/local"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/report"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/statusbridge"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/tui"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/workflow"
)

func interactive(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func runPipeline(ctx context.Context, opts options, deploy bool, stdout, stderr io.Writer) error {
	ws, err := openWorkspace(opts, true)
	if err != nil {
		return err
	}
	target, err := ws.cfg.Target(opts.target)
	if err != nil {
		return err
	}
	registry := opts.registry
	if registry == "" {
		registry = target.Registry
	}

	var services *release.Services
	if deploy {
		if !opts.local && !target.Local() {
			return fmt.Errorf("target %s has no release backend available; run with --local", target.Name)
		}
		services = local.New().Services()
	}

	logger, err := logging.New(ws.root, ws.cfg.Project.Log.Level, ws.cfg.Project.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Close()
	runID := uuid.NewString()
	logger = logger.WithRunID(runID)

	projection := pipeline.NewProjection(pipeline.ProjectionWithLogger(logger.WithComponent("projection").Logger))
	display := ws.displayNames()
	tty := !opts.plain && interactive(stdout)

	pipelineOpts := []pipeline.Option{
		pipeline.WithObserver(projection),
		pipeline.WithLogger(logger.WithComponent("pipeline").Logger),
		pipeline.WithRunIDs(func() string { return runID }),
	}
	if !tty {
		pipelineOpts = append(pipelineOpts, pipeline.WithObserver(tui.NewPlain(stdout, display)))
	}
	store := artifact.NewStore(ws.root, artifact.WithTargetDir(ws.cfg.TargetDir()))
	driver := builder.NewCargo(ws.root, builder.WithBinary(ws.cfg.CargoBinary()))
	orchestrator, err := pipeline.New(ws.catalog, driver, store, pipelineOpts...)
	if err != nil {
		return err
	}

	req := pipeline.Request{
		RegistryAddress: registry,
		Services:        services,
		Targets:         opts.contracts,
	}
	layers, err := orchestrator.Plan(req)
	if err != nil {
		return err
	}
	order := workflow.Flatten(layers)
	projection.Seed(order)

	settings := statusbridge.SettingsFromConfig(ws.cfg)
	if err := settings.ParseAddress(opts.statusAddr); err != nil {
		return fmt.Errorf("--status-addr: %w", err)
	}
	if settings.Enabled {
		bridge := statusbridge.NewServer(settings, projection,
			statusbridge.WithLogger(logger.WithComponent("statusbridge").Logger),
			statusbridge.WithRunID(runID))
		if err := bridge.Start(ctx); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := bridge.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("status bridge shutdown failed")
			}
		}()
		fmt.Fprintf(stderr, "status: %s/status\n", bridge.BaseURL())
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var result pipeline.Result
	if tty {
		result, err = runInteractive(runCtx, cancel, orchestrator, req, projection, order, display, services == nil, stdout)
	} else {
		result, err = orchestrator.Run(runCtx, req)
		projection.Close()
	}
	if err != nil {
		return err
	}

	for name, pkg := range projection.Snapshot().Packages {
		display[name] = pkg
	}
	tui.WriteSummary(stdout, result, display)

	rep := report.FromResult(result)
	rep.BuildOnly = services == nil
	rep.Registry = registry
	rep.Packages = map[string]string{}
	for _, name := range order {
		if pkg := ws.catalog.PackageName(name); pkg != "" {
			rep.Packages[name] = pkg
		}
	}
	hash := ""
	if !rep.BuildOnly {
		rep.Target = target.Name
		rep.TargetHash = target.Hash()
		hash = rep.TargetHash
	}
	repo := report.NewRepository(ws.root, hash)
	if err := repo.Save(rep); err != nil {
		logger.WithError(err).Error("save report failed")
		fmt.Fprintf(stderr, "warning: could not save report: %v\n", err)
	} else {
		fmt.Fprintf(stdout, "report: %s\n", repo.Dir())
	}

	if !result.Success {
		return exitCode(1)
	}
	return nil
}

// runInteractive renders the deploy table while the orchestrator runs in the
// background. The table quits once the projection closes.
func runInteractive(ctx context.Context, cancel context.CancelFunc, orchestrator *pipeline.Orchestrator, req pipeline.Request, projection *pipeline.Projection, order []string, display map[string]string, buildOnly bool, stdout io.Writer) (pipeline.Result, error) {
	sub := projection.Subscribe()
	defer sub.Close()
	table := tui.NewDeployTable(order, display, sub,
		tui.WithBuildOnly(buildOnly),
		tui.WithInterrupt(cancel),
		tui.WithSnapshot(projection.Snapshot()),
	)

	type outcome struct {
		result pipeline.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := orchestrator.Run(ctx, req)
		projection.Close()
		done <- outcome{result, err}
	}()

	program := tea.NewProgram(table, tea.WithOutput(stdout))
	if _, err := program.Run(); err != nil {
		cancel()
		out := <-done
		if out.err != nil {
			return out.result, out.err
		}
		return out.result, fmt.Errorf("render: %w", err)
	}
	out := <-done
	return out.result, out.err
}
