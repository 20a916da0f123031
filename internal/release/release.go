// Package release declares the three remote-write services a pipeline run
// talks to. Each call submits one atomic batch: either every item in the
// batch lands or none does, and results are positional.
package release

import (
	"context"
	"fmt"

	"github.com/paritytech/contract-dependency-manager-sub000/internal/artifact"
)

// DeployResult reports one deploy batch. Addresses[i] belongs to the i-th
// binary submitted.
type DeployResult struct {
	Addresses []string `json:"addresses"`
	TxHash    string   `json:"tx_hash"`
	BlockHash string   `json:"block_hash"`
}

// PublishResult reports one metadata batch. ContentIDs[i] belongs to the i-th
// metadata document submitted.
type PublishResult struct {
	ContentIDs  []string `json:"cids"`
	BlockNumber uint64   `json:"block_number"`
	TxHash      string   `json:"tx_hash"`
	BlockHash   string   `json:"block_hash"`
}

// RegistryEntry binds a package name to its deployed address and metadata.
type RegistryEntry struct {
	PackageName string `json:"package"`
	Address     string `json:"address"`
	ContentID   string `json:"cid"`
}

// RegisterResult reports one registry batch.
type RegisterResult struct {
	TxHash    string `json:"tx_hash"`
	BlockHash string `json:"block_hash"`
}

// Deployer submits contract binaries to the ledger.
type Deployer interface {
	DeployBatch(ctx context.Context, binaryPaths []string) (DeployResult, error)
}

// Publisher stores metadata documents in the content-addressed store.
type Publisher interface {
	PublishBatch(ctx context.Context, metadata []artifact.Metadata) (PublishResult, error)
}

// RegistryManager writes entries into the on-chain directory contract.
type RegistryManager interface {
	RegisterBatch(ctx context.Context, entries []RegistryEntry) (RegisterResult, error)
}

// Services bundles the remote-write collaborators. A nil *Services selects
// build-only runs.
type Services struct {
	Deployer  Deployer
	Publisher Publisher
	Registry  RegistryManager
}

// Validate reports a missing collaborator.
func (s *Services) Validate() error {
	switch {
	case s.Deployer == nil:
		return fmt.Errorf("release: deployer is required")
	case s.Publisher == nil:
		return fmt.Errorf("release: publisher is required")
	case s.Registry == nil:
		return fmt.Errorf("release: registry manager is required")
	}
	return nil
}
