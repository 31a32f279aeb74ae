// Package runner executes a job command inside a staged working directory,
// bounded by an optional timeout, and persists the captured output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// TimeoutExitCode is the conventional exit status reported when a run is
// killed for exceeding its deadline (matches the coreutils timeout command).
const TimeoutExitCode = 124

// TimeoutMarker is appended to the captured output after a timeout kill.
const TimeoutMarker = "\n***** TIMEOUT ERROR *****\n"

// LaunchErrorText is the entire recorded output when the command cannot even
// be started (binary missing, permission denied).
const LaunchErrorText = "Error trying to run command."

// ErrEmptyCommand indicates the job definition carries no command to run.
var ErrEmptyCommand = errors.New("job has no command")

// Request describes one execution attempt.
type Request struct {
	// Dir is the instance working directory; the child process is launched
	// with it as its working directory explicitly, so no ambient chdir is
	// ever performed.
	Dir string

	// ResultsDir receives the persisted log and preserved output files.
	// Created lazily on first run.
	ResultsDir string

	// Command is the argument vector to execute, interpreted literally.
	Command []string

	// OutputFiles are Dir-relative filenames copied into ResultsDir after the
	// run when they exist; absent ones are skipped, not errors.
	OutputFiles []string

	// Timeout bounds the child's wall-clock time. Zero means unlimited.
	Timeout time.Duration
}

// Result reports one completed execution attempt.
type Result struct {
	// Output is the combined stdout+stderr, decoded as UTF-8 text, including
	// any timeout marker or launch diagnostic.
	Output string

	// ExitCode is the child's exit status; TimeoutExitCode on a timeout kill,
	// -1 when the command never started.
	ExitCode int

	// TimedOut is true when the deadline killed the child.
	TimedOut bool
}

// Runner runs job commands and persists their combined logs.
//
// A Runner holds no per-run state and is safe for concurrent use: every run
// owns a distinct working and results directory.
type Runner struct {
	logFilename string
	logger      *zap.Logger
}

// New builds a Runner persisting logs under the given filename.
func New(logFilename string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logFilename: logFilename, logger: logger}
}

// LogFilename returns the fixed name of the persisted combined log.
func (r *Runner) LogFilename() string {
	return r.logFilename
}

// Run executes the request end to end: launch, capture, persist, preserve.
//
// A failing or missing command is not an error of this component; it is
// recorded as log content so the caller always has a result to show. The
// returned error covers only infrastructure failures (results directory or
// log file cannot be written).
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	res := r.execute(ctx, req)

	res.Output = strings.ToValidUTF8(res.Output, "�")

	if err := os.MkdirAll(req.ResultsDir, 0755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	logPath := filepath.Join(req.ResultsDir, r.logFilename)
	if err := os.WriteFile(logPath, []byte(res.Output), 0644); err != nil {
		return nil, fmt.Errorf("persist log: %w", err)
	}

	r.preserveOutputs(req)

	r.logger.Info("run completed",
		zap.String("dir", req.Dir),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("timed_out", res.TimedOut))

	return res, nil
}

func (r *Runner) execute(ctx context.Context, req Request) *Result {
	if len(req.Command) == 0 {
		r.logger.Warn("run with empty command", zap.String("dir", req.Dir))
		return &Result{Output: LaunchErrorText, ExitCode: -1}
	}

	cancel := func() {}
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, req.Command[0], req.Command[1:]...)
	cmd.Dir = req.Dir
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	// Run the child in its own process group so a timeout kill reaps any
	// descendants as well, not just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Start(); err != nil {
		r.logger.Warn("command failed to start",
			zap.Strings("command", req.Command), zap.Error(err))
		return &Result{Output: LaunchErrorText, ExitCode: -1}
	}

	err := cmd.Wait()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		buf.WriteString(TimeoutMarker)
		return &Result{Output: buf.String(), ExitCode: TimeoutExitCode, TimedOut: true}
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// Wait failed for a non-exit reason; the process ran, so keep
			// whatever output it produced.
			r.logger.Warn("wait failed", zap.Error(err))
			exitCode = -1
		}
	}

	// A command wrapped in its own timeout helper reports the same sentinel.
	if exitCode == TimeoutExitCode {
		buf.WriteString(TimeoutMarker)
		return &Result{Output: buf.String(), ExitCode: exitCode, TimedOut: true}
	}

	return &Result{Output: buf.String(), ExitCode: exitCode}
}

// preserveOutputs copies each declared output file that exists in the working
// directory into the results directory. Best effort: absent files are skipped
// and copy failures are logged, never fatal.
func (r *Runner) preserveOutputs(req Request) {
	for _, name := range req.OutputFiles {
		src := filepath.Join(req.Dir, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(req.ResultsDir, name)
		if err := copyFile(src, dst); err != nil {
			r.logger.Warn("preserve output file",
				zap.String("file", name), zap.Error(err))
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
