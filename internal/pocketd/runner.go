package pocketd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pokt-foundation/shannon-orch/internal/domain"
)

// DefaultTimeout bounds ordinary keyring operations; broadcasts get longer.
const DefaultTimeout = 60 * time.Second

// Invocation is an ephemeral value describing one child-process run
type Invocation struct {
	Args    []string
	Stdin   string
	WorkDir string
	Timeout time.Duration
}

// Result captures everything a child process produced. Stderr is always
// preserved, even on failure, so callers can classify it.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ExitError is returned when pocketd exits non-zero. It carries the full
// Result for upstream stderr classification.
type ExitError struct {
	Result *Result
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Result.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Result.Stdout)
	}
	return fmt.Sprintf("pocketd exited with code %d: %s", e.Result.ExitCode, msg)
}

// Runner executes built commands. The interface exists so orchestration code
// can be tested against a double without spawning processes.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// RunnerConfig carries process-level settings explicitly instead of relying
// on ambient environment mutation.
type RunnerConfig struct {
	BinPath   string // path or bare name resolved against PATH
	ExtraPath string // prepended to PATH for the child process only
	WorkDir   string // default working directory for invocations
	Debug     bool
}

// ExecRunner runs pocketd as a child process
type ExecRunner struct {
	config RunnerConfig
}

// NewExecRunner creates a runner for the configured binary
func NewExecRunner(config RunnerConfig) *ExecRunner {
	if config.BinPath == "" {
		config.BinPath = "pocketd"
	}
	return &ExecRunner{config: config}
}

// Probe verifies the binary exists and is executable before any batch starts
func (r *ExecRunner) Probe(ctx context.Context) error {
	if _, err := r.lookPath(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBinaryUnavailable, err)
	}
	if _, err := r.Run(ctx, Invocation{Args: []string{"version"}, Timeout: 10 * time.Second}); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBinaryUnavailable, err)
	}
	return nil
}

func (r *ExecRunner) lookPath() (string, error) {
	if strings.Contains(r.config.BinPath, "/") {
		info, err := os.Stat(r.config.BinPath)
		if err != nil {
			return "", err
		}
		if info.Mode()&0111 == 0 {
			return "", fmt.Errorf("%s is not executable", r.config.BinPath)
		}
		return r.config.BinPath, nil
	}
	return exec.LookPath(r.config.BinPath)
}

// Run executes one invocation with a timeout and returns captured output.
// Failure classes: ErrTimeout, ErrBinaryUnavailable (spawn failure), or
// *ExitError for a non-zero exit.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.config.BinPath, inv.Args...)

	workDir := inv.WorkDir
	if workDir == "" {
		workDir = r.config.WorkDir
	}
	cmd.Dir = workDir

	cmd.Env = os.Environ()
	if r.config.ExtraPath != "" {
		cmd.Env = append(cmd.Env, "PATH="+r.config.ExtraPath+string(os.PathListSeparator)+os.Getenv("PATH"))
	}

	if inv.Stdin != "" {
		cmd.Stdin = strings.NewReader(inv.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if r.config.Debug {
		log.Printf("[pocketd] running: %s %s", r.config.BinPath, strings.Join(inv.Args, " "))
	}

	err := cmd.Run()
	result := &Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err == nil {
		return result, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("%w after %s", domain.ErrTimeout, timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &ExitError{Result: result}
	}

	// Anything else is a spawn failure: missing binary, not executable,
	// bad working directory.
	var pathErr *fs.PathError
	if errors.Is(err, exec.ErrNotFound) || errors.As(err, &pathErr) {
		return result, fmt.Errorf("%w: %v", domain.ErrBinaryUnavailable, err)
	}
	return result, fmt.Errorf("%w: %v", domain.ErrBinaryUnavailable, err)
}
