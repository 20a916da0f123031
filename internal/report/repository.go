// Package report persists the outcome of pipeline runs so later commands can
// look up what was deployed where.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/paritytech/contract-dependency-manager-sub000/internal/pipeline"
)

// ErrReportNotFound is returned when no report has been saved yet.
var ErrReportNotFound = errors.New("report: not found")

const latestFile = "latest.json"

// Report is the persisted record of one run.
type Report struct {
	RunID      string                             `json:"run_id"`
	Target     string                             `json:"target"`
	TargetHash string                             `json:"target_hash"`
	Registry   string                             `json:"registry,omitempty"`
	BuildOnly  bool                               `json:"build_only"`
	Layers     [][]string                         `json:"layers"`
	Addresses  map[string]string                  `json:"addresses"`
	Packages   map[string]string                  `json:"packages,omitempty"`
	Statuses   map[string]pipeline.ContractStatus `json:"statuses"`
	Success    bool                               `json:"success"`
	StartedAt  time.Time                          `json:"started_at"`
	FinishedAt time.Time                          `json:"finished_at"`
}

// FromResult captures a pipeline result for persistence.
func FromResult(result pipeline.Result) Report {
	return Report{
		RunID:      result.RunID,
		Layers:     result.Layers,
		Addresses:  result.Addresses,
		Statuses:   result.Statuses,
		Success:    result.Success,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}
}

// Repository stores reports for one release target under
// .cdm/releases/<target-hash>.
type Repository struct {
	dir string
}

// NewRepository creates a repository for the target identified by hash.
func NewRepository(root, targetHash string) *Repository {
	if targetHash == "" {
		targetHash = "build"
	}
	return &Repository{dir: filepath.Join(root, ".cdm", "releases", targetHash)}
}

// Dir returns the directory reports are written to.
func (r *Repository) Dir() string {
	return r.dir
}

// Save writes the report under its run id and as the latest report.
func (r *Repository) Save(report Report) error {
	if err := checkRunID(report.RunID); err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	encoded = append(encoded, '\n')
	if err := writeFile(filepath.Join(r.dir, report.RunID+".json"), encoded); err != nil {
		return err
	}
	return writeFile(filepath.Join(r.dir, latestFile), encoded)
}

// Latest returns the most recently saved report.
func (r *Repository) Latest() (Report, error) {
	return r.read(filepath.Join(r.dir, latestFile))
}

// Load returns the report saved for runID.
func (r *Repository) Load(runID string) (Report, error) {
	if err := checkRunID(runID); err != nil {
		return Report{}, err
	}
	return r.read(filepath.Join(r.dir, runID+".json"))
}

// RunIDs lists saved run ids sorted by name.
func (r *Repository) RunIDs() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == latestFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// checkRunID rejects ids that would resolve outside the repository
// directory.
func checkRunID(runID string) error {
	if runID == "" {
		return fmt.Errorf("report: run id is required")
	}
	if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return fmt.Errorf("report: invalid run id %q", runID)
	}
	return nil
}

func (r *Repository) read(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Report{}, ErrReportNotFound
		}
		return Report{}, err
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return Report{}, fmt.Errorf("report: decode %s: %w", path, err)
	}
	return report, nil
}

// writeFile replaces path through a temporary sibling so readers never see a
// partial report.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
