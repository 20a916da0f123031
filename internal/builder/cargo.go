// Package builder drives the contract toolchain. Each build runs
// `cargo pvm-contract build` for one crate and turns the JSON message stream
// into progress events and a final result.
package builder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// RegistryEnv carries the registry address into contract builds.
const RegistryEnv = "CONTRACTS_REGISTRY_ADDR"

const maxLine = 16 << 20

// Request identifies one build.
type Request struct {
	Artifact        string
	RegistryAddress string
}

// Result is the outcome of one build. Diagnostics holds the rendered compiler
// messages followed by the tool's stderr.
type Result struct {
	Artifact    string
	Success     bool
	Stdout      string
	Diagnostics string
	Duration    time.Duration
}

// ProgressFunc receives (compiled, total, current) while a build runs.
type ProgressFunc func(compiled, total int, current string)

// Cargo builds contracts with the cargo pvm-contract plugin.
type Cargo struct {
	Binary  string
	RootDir string
	Env     []string
	now     func() time.Time
}

// Option customizes a Cargo driver.
type Option func(*Cargo)

// WithBinary overrides the cargo executable.
func WithBinary(path string) Option {
	return func(c *Cargo) {
		if path != "" {
			c.Binary = path
		}
	}
}

// WithEnv appends environment entries to every build.
func WithEnv(env ...string) Option {
	return func(c *Cargo) {
		c.Env = append(c.Env, env...)
	}
}

// WithClock overrides the clock used for build durations.
func WithClock(clock func() time.Time) Option {
	return func(c *Cargo) {
		c.now = clock
	}
}

// NewCargo returns a driver building crates of the workspace at root.
func NewCargo(root string, opts ...Option) *Cargo {
	c := &Cargo{
		Binary:  "cargo",
		RootDir: root,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Args returns the cargo arguments used to build artifact.
func (c *Cargo) Args(artifact string) []string {
	return []string{
		"pvm-contract", "build",
		"--manifest-path", filepath.Join(c.RootDir, "Cargo.toml"),
		"-p", artifact,
		"--message-format", "json,json-diagnostic-rendered-ansi",
	}
}

// Build runs one crate build. Every progress event is delivered before Build
// returns. Failures, including a missing toolchain, are reported through the
// result rather than an error.
func (c *Cargo) Build(ctx context.Context, req Request, onProgress ProgressFunc) Result {
	start := c.now()
	cmd := exec.CommandContext(ctx, c.Binary, c.Args(req.Artifact)...)
	cmd.Dir = c.RootDir
	cmd.Env = append(os.Environ(), c.Env...)
	if req.RegistryAddress != "" {
		cmd.Env = append(cmd.Env, RegistryEnv+"="+req.RegistryAddress)
	}

	result := Result{Artifact: req.Artifact}
	finish := func(stream *messageStream, stderr string, runErr error) Result {
		diagnostics := stream.diagnostics() + stderr
		if runErr != nil && !result.Success {
			if diagnostics != "" && !strings.HasSuffix(diagnostics, "\n") {
				diagnostics += "\n"
			}
			diagnostics += runErr.Error()
		}
		result.Stdout = stream.raw()
		result.Diagnostics = diagnostics
		result.Duration = c.now().Sub(start)
		return result
	}

	stream := newMessageStream(onProgress)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return finish(stream, "", fmt.Errorf("builder: stdout pipe: %w", err))
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return finish(stream, "", fmt.Errorf("builder: stderr pipe: %w", err))
	}
	if err := cmd.Start(); err != nil {
		return finish(stream, "", fmt.Errorf("builder: start %s: %w", c.Binary, err))
	}

	var stderr bytes.Buffer
	var group errgroup.Group
	group.Go(func() error {
		return stream.consume(stdout)
	})
	group.Go(func() error {
		_, err := io.Copy(&stderr, stderrPipe)
		return err
	})
	readErr := group.Wait()
	waitErr := cmd.Wait()

	result.Success = waitErr == nil && readErr == nil
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		waitErr = nil
	}
	if waitErr == nil {
		waitErr = readErr
	}
	return finish(stream, stderr.String(), waitErr)
}

type cargoMessage struct {
	Reason string `json:"reason"`
	Total  int    `json:"total"`
	Target struct {
		Name string `json:"name"`
	} `json:"target"`
	Message struct {
		Rendered string `json:"rendered"`
	} `json:"message"`
}

// messageStream tracks the cargo JSON message protocol for one build.
type messageStream struct {
	mu         sync.Mutex
	onProgress ProgressFunc
	stdout     strings.Builder
	rendered   strings.Builder
	compiled   int
	total      int
}

func newMessageStream(onProgress ProgressFunc) *messageStream {
	return &messageStream{onProgress: onProgress}
}

func (s *messageStream) consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		s.handle(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("builder: read output: %w", err)
	}
	return nil
}

func (s *messageStream) handle(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stdout.WriteString(line)
	s.stdout.WriteByte('\n')
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	var msg cargoMessage
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		return
	}
	switch msg.Reason {
	case "build-plan":
		s.total = msg.Total
	case "compiler-artifact":
		s.compiled++
		name := msg.Target.Name
		if name == "" {
			name = "unknown"
		}
		if s.onProgress != nil {
			s.onProgress(s.compiled, s.total, name)
		}
	case "compiler-message":
		s.rendered.WriteString(msg.Message.Rendered)
	}
}

func (s *messageStream) diagnostics() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered.String()
}

func (s *messageStream) raw() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdout.String()
}
