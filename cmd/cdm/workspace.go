package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/paritytech/contract-dependency-manager-sub000/internal/artifact"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/config"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/report"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/tui"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/workflow"
)

// workspace bundles what every command loads from the root directory.
type workspace struct {
	root    string
	cfg     *config.Config
	catalog *artifact.Catalog
}

func openWorkspace(opts options, withManifest bool) (*workspace, error) {
	root, err := filepath.Abs(opts.root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := config.InitProjectDir(root); err != nil {
		return nil, fmt.Errorf("init %s: %w", config.CDMDir, err)
	}
	cfg, err := config.NewConfig(root)
	if err != nil {
		return nil, err
	}
	ws := &workspace{root: root, cfg: cfg}
	if !withManifest {
		return ws, nil
	}
	manifest := cfg.ManifestPath()
	if opts.manifest != "" {
		manifest = opts.manifest
		if !filepath.IsAbs(manifest) {
			manifest = filepath.Join(root, manifest)
		}
	}
	ws.catalog, err = artifact.LoadManifest(manifest)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func (ws *workspace) displayNames() map[string]string {
	names := map[string]string{}
	for _, name := range ws.catalog.Names() {
		names[name] = ws.catalog.DisplayName(name)
	}
	return names
}

func runLayers(opts options, stdout io.Writer) error {
	ws, err := openWorkspace(opts, true)
	if err != nil {
		return err
	}
	graph := ws.catalog.Graph()
	if len(opts.contracts) > 0 {
		for _, name := range opts.contracts {
			if _, ok := graph[name]; !ok {
				return fmt.Errorf("unknown contract %q", name)
			}
		}
	}
	layers, err := workflow.Layers(graph)
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, tui.RenderLayers(workflow.FilterLayers(layers, opts.contracts), ws.displayNames()))
	return nil
}

func runReport(opts options, stdout io.Writer) error {
	ws, err := openWorkspace(opts, false)
	if err != nil {
		return err
	}
	repo, label, err := ws.reports(opts)
	if err != nil {
		return err
	}
	if opts.list {
		ids, err := repo.RunIDs()
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(stdout, id)
		}
		return nil
	}
	var rep report.Report
	if opts.runID != "" {
		rep, err = repo.Load(opts.runID)
	} else {
		rep, err = repo.Latest()
	}
	if errors.Is(err, report.ErrReportNotFound) {
		return fmt.Errorf("no %s in %s", label, repo.Dir())
	}
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rep)
}

// reports selects the build-only repository or the one of the release target.
func (ws *workspace) reports(opts options) (*report.Repository, string, error) {
	if opts.buildOnly {
		if opts.target != "" {
			return nil, "", fmt.Errorf("--build and --target are mutually exclusive")
		}
		return report.NewRepository(ws.root, ""), "build report", nil
	}
	target, err := ws.cfg.Target(opts.target)
	if err != nil {
		return nil, "", err
	}
	return report.NewRepository(ws.root, target.Hash()), "release report for target " + target.Name, nil
}

func runSetTarget(opts options, name string, stdout io.Writer) error {
	ws, err := openWorkspace(opts, false)
	if err != nil {
		return err
	}
	if err := ws.cfg.SetDefaultTarget(name); err != nil {
		return err
	}
	target, err := ws.cfg.Target(name)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "default target: %s (%s)\n", target.Name, target.AssetHub)
	return nil
}
