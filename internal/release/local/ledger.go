// Package local is an in-process release backend. One Ledger plays the
// contract chain, the bulletin content store and the registry contract, with
// the same batch semantics as the networked services: batches are atomic,
// results are positional, and an empty batch is a no-op.
package local

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/paritytech/contract-dependency-manager-sub000/internal/artifact"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/cid"
	"github.com/paritytech/contract-dependency-manager-sub000/internal/release"
)

// Op names a batch operation for fault injection.
type Op string

const (
	OpDeploy   Op = "deploy"
	OpPublish  Op = "publish"
	OpRegister Op = "register"
)

// Entry is one version of a registered package.
type Entry struct {
	PackageName string `json:"package"`
	Address     string `json:"address"`
	ContentID   string `json:"cid"`
	Version     int    `json:"version"`
	Block       uint64 `json:"block"`
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	head     uint64
	parent   string
	nonce    uint64
	code     map[string][]byte
	content  map[string][]byte
	registry map[string][]Entry
	faults   map[Op]error
	newID    func() uuid.UUID
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithIDSource overrides the source of transaction entropy.
func WithIDSource(fn func() uuid.UUID) Option {
	return func(l *Ledger) {
		l.newID = fn
	}
}

// New returns an empty ledger at block zero.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		parent:   "0x" + hex.EncodeToString(make([]byte, 32)),
		code:     map[string][]byte{},
		content:  map[string][]byte{},
		registry: map[string][]Entry{},
		faults:   map[Op]error{},
		newID:    uuid.New,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Services exposes the ledger through the release interfaces.
func (l *Ledger) Services() *release.Services {
	return &release.Services{Deployer: l, Publisher: l, Registry: l}
}

// Fail makes the next batch of op fail with err without applying it.
func (l *Ledger) Fail(op Op, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[op] = err
}

func (l *Ledger) takeFault(op Op) error {
	err := l.faults[op]
	delete(l.faults, op)
	return err
}

// seal appends a block and returns its number, tx hash and block hash. The
// caller holds l.mu.
func (l *Ledger) seal() (uint64, string, string) {
	id := l.newID()
	tx := blake2b.Sum256(append(id[:], []byte(l.parent)...))
	l.head++
	block := blake2b.Sum256(append(tx[:], []byte(l.parent+strconv.FormatUint(l.head, 10))...))
	l.parent = "0x" + hex.EncodeToString(block[:])
	return l.head, "0x" + hex.EncodeToString(tx[:]), l.parent
}

// DeployBatch stores every binary and assigns each an address.
func (l *Ledger) DeployBatch(ctx context.Context, binaryPaths []string) (release.DeployResult, error) {
	if len(binaryPaths) == 0 {
		return release.DeployResult{Addresses: []string{}}, nil
	}
	codes := make([][]byte, len(binaryPaths))
	group, _ := errgroup.WithContext(ctx)
	for i, path := range binaryPaths {
		group.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("local: read binary %s: %w", path, err)
			}
			if len(data) == 0 {
				return fmt.Errorf("local: binary %s is empty", path)
			}
			codes[i] = data
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return release.DeployResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFault(OpDeploy); err != nil {
		return release.DeployResult{}, err
	}
	addresses := make([]string, len(codes))
	for i, code := range codes {
		l.nonce++
		sum := blake2b.Sum256(append(append([]byte{}, code...), []byte(strconv.FormatUint(l.nonce, 10))...))
		address := "0x" + hex.EncodeToString(sum[:20])
		l.code[address] = code
		addresses[i] = address
	}
	_, tx, block := l.seal()
	return release.DeployResult{Addresses: addresses, TxHash: tx, BlockHash: block}, nil
}

// PublishBatch stores every metadata document under its content id.
func (l *Ledger) PublishBatch(ctx context.Context, metadata []artifact.Metadata) (release.PublishResult, error) {
	if len(metadata) == 0 {
		return release.PublishResult{ContentIDs: []string{}}, nil
	}
	docs := make([][]byte, len(metadata))
	for i, meta := range metadata {
		data, err := meta.Bytes()
		if err != nil {
			return release.PublishResult{}, fmt.Errorf("local: publish item %d: %w", i, err)
		}
		docs[i] = data
	}
	if err := ctx.Err(); err != nil {
		return release.PublishResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFault(OpPublish); err != nil {
		return release.PublishResult{}, err
	}
	ids := make([]string, len(docs))
	for i, doc := range docs {
		id := cid.Compute(doc)
		l.content[id] = doc
		ids[i] = id
	}
	number, tx, block := l.seal()
	return release.PublishResult{ContentIDs: ids, BlockNumber: number, TxHash: tx, BlockHash: block}, nil
}

// RegisterBatch records a new version for every entry. The whole batch is
// rejected if any entry names an unknown address or content id.
func (l *Ledger) RegisterBatch(ctx context.Context, entries []release.RegistryEntry) (release.RegisterResult, error) {
	if len(entries) == 0 {
		return release.RegisterResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return release.RegisterResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFault(OpRegister); err != nil {
		return release.RegisterResult{}, err
	}
	for i, entry := range entries {
		switch {
		case entry.PackageName == "":
			return release.RegisterResult{}, fmt.Errorf("local: register item %d: package name is required", i)
		case l.code[entry.Address] == nil:
			return release.RegisterResult{}, fmt.Errorf("local: register %s: no contract at %s", entry.PackageName, entry.Address)
		case l.content[entry.ContentID] == nil:
			return release.RegisterResult{}, fmt.Errorf("local: register %s: unknown content id %s", entry.PackageName, entry.ContentID)
		}
	}
	number, tx, block := l.seal()
	for _, entry := range entries {
		versions := l.registry[entry.PackageName]
		l.registry[entry.PackageName] = append(versions, Entry{
			PackageName: entry.PackageName,
			Address:     entry.Address,
			ContentID:   entry.ContentID,
			Version:     len(versions),
			Block:       number,
		})
	}
	return release.RegisterResult{TxHash: tx, BlockHash: block}, nil
}

// Lookup returns the latest registered version of a package.
func (l *Ledger) Lookup(packageName string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	versions := l.registry[packageName]
	if len(versions) == 0 {
		return Entry{}, false
	}
	return versions[len(versions)-1], true
}

// Versions returns every registered version of a package, oldest first.
func (l *Ledger) Versions(packageName string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.registry[packageName]...)
}

// Packages returns the registered package names sorted.
func (l *Ledger) Packages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.registry))
	for name := range l.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Content returns the document stored under id.
func (l *Ledger) Content(id string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, ok := l.content[id]
	return append([]byte(nil), data...), ok
}

// Deployed reports whether a contract lives at address.
func (l *Ledger) Deployed(address string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.code[address] != nil
}

// Head returns the latest block number.
func (l *Ledger) Head() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}
