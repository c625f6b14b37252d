// Package sandbox runs post-action WASM modules under wazero with
// deny-by-default WASI: no filesystem, network, environment, real clock or
// entropy. The module reads the change on stdin and writes the update on stdout.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/artifacts"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/canonicalize"
)

const (
	// OutputMaxBytes caps stdout plus stderr of one execution.
	OutputMaxBytes = 1024 * 1024

	wasmPageSize = 64 * 1024
)

// ModuleRef identifies a module in the store.
type ModuleRef struct {
	Name    string
	Hash    string
	Version string
}

// Limits bounds one execution. Zero fields fall back to the sandbox defaults.
type Limits struct {
	MemoryLimitBytes int64
	Timeout          time.Duration
}

// Config holds the sandbox defaults.
type Config struct {
	MemoryLimitBytes int64
	Timeout          time.Duration
	OutputMaxBytes   int
}

// Runner executes a module against an input document.
type Runner interface {
	Run(ctx context.Context, ref ModuleRef, input []byte, limits Limits) ([]byte, error)
}

// WASISandbox is the wazero-backed Runner. Compiled modules are cached per
// hash and memory ceiling; the zero value is not usable.
type WASISandbox struct {
	store  artifacts.Store
	config Config
	logger *slog.Logger
	cache  wazero.CompilationCache

	mu       sync.Mutex
	runtimes map[uint32]*engine
}

type engine struct {
	runtime wazero.Runtime

	mu       sync.Mutex
	compiled map[string]wazero.CompiledModule
}

// NewWASISandbox creates a sandbox that loads modules from store.
func NewWASISandbox(store artifacts.Store, cfg Config, logger *slog.Logger) *WASISandbox {
	if cfg.OutputMaxBytes <= 0 {
		cfg.OutputMaxBytes = OutputMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WASISandbox{
		store:    store,
		config:   cfg,
		logger:   logger.With("component", "sandbox"),
		cache:    wazero.NewCompilationCache(),
		runtimes: make(map[uint32]*engine),
	}
}

// Run fetches the module by hash, verifies it and executes it once.
func (s *WASISandbox) Run(ctx context.Context, ref ModuleRef, input []byte, limits Limits) ([]byte, error) {
	timeout := s.config.Timeout
	if limits.Timeout > 0 && (timeout == 0 || limits.Timeout < timeout) {
		timeout = limits.Timeout
	}
	memLimit := s.config.MemoryLimitBytes
	if limits.MemoryLimitBytes > 0 && (memLimit == 0 || limits.MemoryLimitBytes < memLimit) {
		memLimit = limits.MemoryLimitBytes
	}

	eng, err := s.engine(ctx, pagesFor(memLimit))
	if err != nil {
		return nil, err
	}
	compiled, err := s.compile(ctx, eng, ref, memLimit)
	if err != nil {
		return nil, err
	}

	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out := &cappedBuffer{limit: s.config.OutputMaxBytes}
	errOut := &cappedBuffer{limit: s.config.OutputMaxBytes, shared: out}
	out.shared = errOut

	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs("postaction", ref.Name).
		WithStdin(bytes.NewReader(input)).
		WithStdout(out).
		WithStderr(errOut)

	start := time.Now()
	mod, err := eng.runtime.InstantiateModule(execCtx, compiled, modCfg)
	if mod != nil {
		defer func() { _ = mod.Close(context.Background()) }()
	}
	elapsed := time.Since(start)

	if out.overflow || errOut.overflow {
		return nil, &SandboxError{
			Code:    ErrComputeOutputExhausted,
			Message: fmt.Sprintf("output exceeds limit %d", s.config.OutputMaxBytes),
		}
	}
	if err != nil {
		return nil, s.classify(ctx, execCtx, err, errOut.String(), timeout, memLimit)
	}

	s.logger.Debug("module executed", "module", ref.Name, "hash", ref.Hash, "duration", elapsed)
	return out.Bytes(), nil
}

func (s *WASISandbox) classify(ctx, execCtx context.Context, err error, stderr string, timeout time.Duration, memLimit int64) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case sys.ExitCodeDeadlineExceeded:
			return &SandboxError{
				Code:    ErrComputeTimeExhausted,
				Message: fmt.Sprintf("execution exceeded time limit (%s)", timeout),
			}
		case sys.ExitCodeContextCanceled:
			return context.Canceled
		}
		if isMemoryError(stderr) {
			return &SandboxError{
				Code:     ErrComputeMemoryExhausted,
				Message:  fmt.Sprintf("execution exceeded memory limit (%d bytes)", memLimit),
				ExitCode: exitErr.ExitCode(),
			}
		}
		msg := stderr
		if msg == "" {
			msg = fmt.Sprintf("module exited with code %d", exitErr.ExitCode())
		}
		return &SandboxError{Code: ErrModuleExit, Message: trimMessage(msg), ExitCode: exitErr.ExitCode()}
	}

	if execCtx.Err() != nil {
		return &SandboxError{
			Code:    ErrComputeTimeExhausted,
			Message: fmt.Sprintf("execution exceeded time limit (%s)", timeout),
		}
	}
	if isMemoryError(err.Error()) {
		return &SandboxError{
			Code:    ErrComputeMemoryExhausted,
			Message: fmt.Sprintf("execution exceeded memory limit (%d bytes)", memLimit),
		}
	}
	return fmt.Errorf("wasi: execution failed: %w", err)
}

func (s *WASISandbox) engine(ctx context.Context, pages uint32) (*engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.runtimes[pages]; ok {
		return e, nil
	}

	rc := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCompilationCache(s.cache)
	if pages > 0 {
		rc = rc.WithMemoryLimitPages(pages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, rc)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("wasi: failed to instantiate WASI: %w", err)
	}

	e := &engine{runtime: r, compiled: make(map[string]wazero.CompiledModule)}
	s.runtimes[pages] = e
	return e, nil
}

func (s *WASISandbox) compile(ctx context.Context, e *engine, ref ModuleRef, memLimit int64) (wazero.CompiledModule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.compiled[ref.Hash]; ok {
		return c, nil
	}

	wasm, err := s.store.Get(ctx, ref.Hash)
	if err != nil {
		return nil, fmt.Errorf("wasi: failed to load module %s (%s): %w", ref.Name, ref.Hash, err)
	}
	if got := canonicalize.HashBytes(wasm); got != ref.Hash {
		return nil, &SandboxError{
			Code:    ErrModuleIntegrity,
			Message: fmt.Sprintf("module %s hash mismatch: got %s", ref.Name, got),
		}
	}

	c, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		if isMemoryError(err.Error()) {
			return nil, &SandboxError{
				Code:    ErrComputeMemoryExhausted,
				Message: fmt.Sprintf("module %s requires more than %d bytes: %v", ref.Name, memLimit, err),
			}
		}
		return nil, fmt.Errorf("wasi: compilation failed for %s: %w", ref.Name, err)
	}
	e.compiled[ref.Hash] = c
	s.logger.Info("module compiled", "module", ref.Name, "hash", ref.Hash, "version", ref.Version)
	return c, nil
}

// Close releases every runtime and cached compilation.
func (s *WASISandbox) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for pages, e := range s.runtimes {
		if err := e.runtime.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		delete(s.runtimes, pages)
	}
	if err := s.cache.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func pagesFor(limit int64) uint32 {
	if limit <= 0 {
		return 0
	}
	pages := uint32(limit / wasmPageSize)
	if pages == 0 {
		pages = 1
	}
	return pages
}

func trimMessage(s string) string {
	const max = 4096
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max]
	}
	return s
}

// cappedBuffer accepts writes until it and its sibling together hold limit
// bytes, then discards and flags overflow. Guests never see a write error.
type cappedBuffer struct {
	bytes.Buffer
	limit    int
	shared   *cappedBuffer
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	used := b.Len()
	if b.shared != nil {
		used += b.shared.Len()
	}
	if used+len(p) > b.limit {
		b.overflow = true
		return len(p), nil
	}
	return b.Buffer.Write(p)
}
