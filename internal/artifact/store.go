package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	binarySuffix  = ".release.polkavm"
	abiSuffix     = ".release.abi.json"
	packageSuffix = ".release.cdm.json"
)

// RemoteLookup resolves the repository URL used when an artifact does not
// declare one.
type RemoteLookup func(ctx context.Context, root string) (string, error)

// Store reads the outputs the build toolchain writes for each artifact under
// the workspace target directory.
type Store struct {
	root      string
	targetDir string
	now       func() time.Time
	remote    RemoteLookup

	remoteOnce sync.Once
	remoteURL  string
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for metadata timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = clock
	}
}

// WithTargetDir overrides the build output directory (relative to the root).
func WithTargetDir(dir string) StoreOption {
	return func(s *Store) {
		if dir != "" {
			s.targetDir = dir
		}
	}
}

// WithRemoteLookup overrides how the fallback repository URL is resolved.
func WithRemoteLookup(lookup RemoteLookup) StoreOption {
	return func(s *Store) {
		s.remote = lookup
	}
}

// NewStore builds a store rooted at the workspace directory.
func NewStore(root string, opts ...StoreOption) *Store {
	store := &Store{
		root:      root,
		targetDir: "target",
		now:       time.Now,
		remote:    GitRemote,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Root returns the workspace directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) output(name, suffix string) string {
	dir := s.targetDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(s.root, dir)
	}
	return filepath.Join(dir, name+suffix)
}

// BinaryPath returns where the build leaves the deployable binary for name.
func (s *Store) BinaryPath(name string) string {
	return s.output(name, binarySuffix)
}

// ABIPath returns where the build leaves the ABI for name.
func (s *Store) ABIPath(name string) string {
	return s.output(name, abiSuffix)
}

// PackageName reads the package name the build recorded for name. A missing
// or unreadable record reports false; discovery is best-effort.
func (s *Store) PackageName(name string) (string, bool) {
	data, err := os.ReadFile(s.output(name, packageSuffix))
	if err != nil {
		return "", false
	}
	var record struct {
		Package string `json:"package"`
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return "", false
	}
	pkg := strings.TrimSpace(record.Package)
	return pkg, pkg != ""
}

// Timestamp returns the publish timestamp shared by one metadata batch.
func (s *Store) Timestamp() string {
	return s.now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// Metadata assembles the published document for info. Missing readmes and
// unparsable ABIs degrade to empty values instead of failing the release.
func (s *Store) Metadata(ctx context.Context, info Info, publishedAt string) Metadata {
	repository := info.Repository
	if repository == "" {
		repository = s.fallbackRepository(ctx)
	}
	return Metadata{
		PublishBlock: 0,
		PublishedAt:  publishedAt,
		Description:  info.Description,
		Readme:       s.readme(info.ReadmePath),
		Authors:      cloneStrings(info.Authors),
		Homepage:     info.Homepage,
		Repository:   repository,
		ABI:          s.abi(info.Name),
	}
}

// fallbackRepository resolves the workspace remote once per store. A failed
// lookup is not retried.
func (s *Store) fallbackRepository(ctx context.Context) string {
	s.remoteOnce.Do(func() {
		if s.remote == nil {
			return
		}
		if url, err := s.remote(ctx, s.root); err == nil {
			s.remoteURL = url
		}
	})
	return s.remoteURL
}

func (s *Store) readme(path string) string {
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func (s *Store) abi(name string) json.RawMessage {
	data, err := os.ReadFile(s.ABIPath(name))
	if err != nil {
		return json.RawMessage("[]")
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return json.RawMessage("[]")
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return json.RawMessage("[]")
	}
	return json.RawMessage(compact.Bytes())
}

// CheckBinary ensures the deployable binary for name exists.
func (s *Store) CheckBinary(name string) error {
	path := s.BinaryPath(name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("artifact: %s binary missing at %s", name, path)
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("artifact: expected binary file got directory at %s", path)
	}
	return nil
}

// GitRemote returns the origin URL of the git repository containing root.
func GitRemote(ctx context.Context, root string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "remote", "get-url", "origin")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("artifact: git remote: %w", err)
	}
	url := strings.TrimSpace(string(out))
	if url == "" {
		return "", fmt.Errorf("artifact: git remote: origin has no url")
	}
	return url, nil
}
