package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paritytech/contract-dependency-manager-sub000/internal/artifact"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/cid"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/release"
)

type batchOutcome struct {
	phase   Phase
	deploy  release.DeployResult
	publish release.PublishResult
	err     error
}

// release runs the remote-write phase for one layer: deploy and publish side
// by side, then register once both succeeded. Each phase is one atomic batch;
// the first failing phase fails every artifact still active in the layer.
func (r *run) release(ctx context.Context, logger *slog.Logger, deployable []string) {
	if len(deployable) == 0 {
		return
	}
	services := r.req.Services

	binaries := make([]string, len(deployable))
	for i, name := range deployable {
		if err := r.o.outputs.CheckBinary(name); err != nil {
			r.failBatch(logger, deployable, &BatchError{Phase: PhaseDeploy, Err: err})
			return
		}
		binaries[i] = r.o.outputs.BinaryPath(name)
	}

	registrable := make([]string, 0, len(deployable))
	named := map[string]bool{}
	for _, name := range deployable {
		if info, ok := r.o.catalog.Info(name); ok && info.Registrable() {
			registrable = append(registrable, name)
			named[name] = true
		}
	}

	metadata, expected, err := r.prepareMetadata(ctx, registrable)
	if err != nil {
		r.failBatch(logger, deployable, &BatchError{Phase: PhasePublish, Err: err})
		return
	}

	for _, name := range deployable {
		publishing := named[name]
		r.set(name, StateDeploying, func(s *ContractStatus) {
			s.DeployInProgress = true
			s.PublishInProgress = publishing
		})
	}

	outcomes := make(chan batchOutcome, 2)
	logger.Info("deploy batch submitted", "artifacts", deployable)
	go func() {
		res, err := services.Deployer.DeployBatch(ctx, binaries)
		outcomes <- batchOutcome{phase: PhaseDeploy, deploy: res, err: err}
	}()
	pending := 1
	if len(registrable) > 0 {
		pending++
		logger.Info("publish batch submitted", "artifacts", registrable)
		go func() {
			res, err := services.Publisher.PublishBatch(ctx, metadata)
			outcomes <- batchOutcome{phase: PhasePublish, publish: res, err: err}
		}()
	}

	failed := false
	for ; pending > 0; pending-- {
		outcome := <-outcomes
		if failed {
			if outcome.phase == PhaseDeploy {
				r.recordLateDeploy(logger, deployable, outcome)
				continue
			}
			logger.Debug("batch outcome ignored after failure", "phase", outcome.phase, "error", outcome.err)
			continue
		}
		var phaseErr *BatchError
		switch outcome.phase {
		case PhaseDeploy:
			phaseErr = r.applyDeploy(logger, deployable, named, outcome)
		case PhasePublish:
			phaseErr = r.applyPublish(logger, registrable, expected, outcome)
		}
		if phaseErr != nil {
			r.failBatch(logger, deployable, phaseErr)
			failed = true
		}
	}
	if failed || len(registrable) == 0 {
		return
	}

	entries := make([]release.RegistryEntry, len(registrable))
	for i, name := range registrable {
		status := r.statuses[name]
		entries[i] = release.RegistryEntry{
			PackageName: r.o.catalog.PackageName(name),
			Address:     status.Address,
			ContentID:   status.CID,
		}
	}
	logger.Info("register batch submitted", "artifacts", registrable)
	res, err := services.Registry.RegisterBatch(ctx, entries)
	if err != nil {
		r.failBatch(logger, deployable, &BatchError{Phase: PhaseRegister, Err: err})
		return
	}
	logger.Info("register batch landed", "tx_hash", res.TxHash, "block_hash", res.BlockHash)
	for _, name := range registrable {
		r.set(name, StateDone, func(s *ContractStatus) {
			s.RegisterInProgress = false
			s.RegisterTxHash = res.TxHash
			s.RegisterBlockHash = res.BlockHash
		})
	}
}

// prepareMetadata assembles the metadata documents for registrable and the
// content id each one must be stored under.
func (r *run) prepareMetadata(ctx context.Context, registrable []string) ([]artifact.Metadata, []string, error) {
	if len(registrable) == 0 {
		return nil, nil, nil
	}
	publishedAt := r.o.outputs.Timestamp()
	metadata := make([]artifact.Metadata, len(registrable))
	expected := make([]string, len(registrable))
	for i, name := range registrable {
		info, ok := r.o.catalog.Info(name)
		if !ok {
			return nil, nil, fmt.Errorf("unknown artifact %s", name)
		}
		meta := r.o.outputs.Metadata(ctx, info, publishedAt)
		encoded, err := meta.Bytes()
		if err != nil {
			return nil, nil, fmt.Errorf("metadata for %s: %w", name, err)
		}
		metadata[i] = meta
		expected[i] = cid.Compute(encoded)
	}
	return metadata, expected, nil
}

func (r *run) applyDeploy(logger *slog.Logger, deployable []string, named map[string]bool, outcome batchOutcome) *BatchError {
	if outcome.err != nil {
		return &BatchError{Phase: PhaseDeploy, Err: outcome.err}
	}
	res := outcome.deploy
	if len(res.Addresses) != len(deployable) {
		return &BatchError{Phase: PhaseDeploy, Err: fmt.Errorf("deployer returned %d addresses for %d binaries", len(res.Addresses), len(deployable))}
	}
	logger.Info("deploy batch landed", "tx_hash", res.TxHash, "block_hash", res.BlockHash)
	for i, name := range deployable {
		address := res.Addresses[i]
		record := func(s *ContractStatus) {
			s.DeployInProgress = false
			s.Address = address
			s.DeployTxHash = res.TxHash
			s.DeployBlockHash = res.BlockHash
		}
		if named[name] {
			r.update(name, record)
			continue
		}
		r.set(name, StateDone, record)
	}
	return nil
}

// recordLateDeploy keeps the ledger record of a deploy batch that landed after
// publish had already failed the layer. The artifacts stay in error.
func (r *run) recordLateDeploy(logger *slog.Logger, deployable []string, outcome batchOutcome) {
	res := outcome.deploy
	if outcome.err != nil || len(res.Addresses) != len(deployable) {
		logger.Debug("batch outcome ignored after failure", "phase", outcome.phase, "error", outcome.err)
		return
	}
	logger.Info("deploy batch landed after failure", "tx_hash", res.TxHash, "block_hash", res.BlockHash)
	for i, name := range deployable {
		address := res.Addresses[i]
		r.annotate(name, func(s *ContractStatus) {
			s.Address = address
			s.DeployTxHash = res.TxHash
			s.DeployBlockHash = res.BlockHash
		})
	}
}

func (r *run) applyPublish(logger *slog.Logger, registrable, expected []string, outcome batchOutcome) *BatchError {
	if outcome.err != nil {
		return &BatchError{Phase: PhasePublish, Err: outcome.err}
	}
	res := outcome.publish
	if len(res.ContentIDs) != len(registrable) {
		return &BatchError{Phase: PhasePublish, Err: fmt.Errorf("publisher returned %d content ids for %d documents", len(res.ContentIDs), len(registrable))}
	}
	for i, name := range registrable {
		got := res.ContentIDs[i]
		if !cid.Valid(got) {
			return &BatchError{Phase: PhasePublish, Err: fmt.Errorf("publisher returned malformed content id %q for %s", got, name)}
		}
		if got != expected[i] {
			return &BatchError{Phase: PhasePublish, Err: &ContentIDMismatchError{Artifact: name, Expected: expected[i], Got: got}}
		}
	}
	logger.Info("publish batch landed", "tx_hash", res.TxHash, "block_hash", res.BlockHash, "block", res.BlockNumber)
	for i, name := range registrable {
		id := res.ContentIDs[i]
		r.set(name, StateRegistering, func(s *ContractStatus) {
			s.PublishInProgress = false
			s.CID = id
			s.PublishTxHash = res.TxHash
			s.PublishBlockHash = res.BlockHash
			s.RegisterInProgress = true
		})
	}
	return nil
}

// failBatch marks every non-terminal artifact of the batch as failed. Done
// artifacts keep their state.
func (r *run) failBatch(logger *slog.Logger, names []string, err *BatchError) {
	logger.Warn("batch failed", "phase", err.Phase, "error", err.Err)
	for _, name := range names {
		if r.statuses[name].State.Terminal() {
			continue
		}
		r.fail(name, err.Phase, err)
	}
}
