package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/auto-analyzer/internal/metrics"
)

// TimeoutExitCode is reported when a block exceeds the execution timeout.
const TimeoutExitCode = 124

// maxOutputBytes bounds the output echoed back into the conversation.
const maxOutputBytes = 16 * 1024

// Executor runs code blocks as local processes with the working directory as cwd.
type Executor struct {
	WorkDir string
	Python  string
	Shell   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Result is the combined outcome of running a reply's code blocks.
type Result struct {
	ExitCode int
	Output   string
	Ran      int // Blocks executed, including the failing one
}

// Succeeded reports whether every executed block exited with status 0.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Reply formats the result the way it is sent back to the assistant.
func (r Result) Reply() string {
	status := "execution succeeded"
	if !r.Succeeded() {
		status = "execution failed"
	}
	return fmt.Sprintf("exitcode: %d (%s)\nCode output: %s", r.ExitCode, status, r.Output)
}

// Run executes blocks in order and stops at the first failure.
func (e *Executor) Run(ctx context.Context, blocks []CodeBlock) Result {
	var out strings.Builder
	result := Result{}

	for _, block := range blocks {
		result.Ran++
		code, output := e.runBlock(ctx, block)
		out.WriteString(output)
		result.ExitCode = code

		outcome := "ok"
		if code != 0 {
			outcome = "error"
		}
		metrics.CodeExecutions.WithLabelValues(string(block.Language), outcome).Inc()

		if code != 0 {
			break
		}
	}

	result.Output = truncate(out.String(), maxOutputBytes)
	return result
}

func (e *Executor) runBlock(ctx context.Context, block CodeBlock) (int, string) {
	interpreter, err := e.interpreter(block.Language)
	if err != nil {
		return 1, err.Error() + "\n"
	}

	name, err := block.Filename()
	if err != nil {
		return 1, err.Error() + "\n"
	}

	path := filepath.Join(e.WorkDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 1, fmt.Sprintf("failed to create directory for %s: %v\n", name, err)
	}
	if err := os.WriteFile(path, []byte(block.Code), 0o644); err != nil {
		return 1, fmt.Sprintf("failed to write %s: %v\n", name, err)
	}

	runCtx := ctx
	cancel := func() {}
	if e.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, interpreter, name)
	cmd.Dir = e.WorkDir
	cmd.Env = append(os.Environ(), "MPLBACKEND=Agg", "PYTHONUNBUFFERED=1")
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err = cmd.Run()
	e.logger().Debug("executed code block", "file", name, "language", block.Language, "duration", time.Since(start), "error", err)

	if runCtx.Err() == context.DeadlineExceeded {
		return TimeoutExitCode, buf.String() + "Timeout\n"
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), buf.String()
		}
		return 1, buf.String() + err.Error() + "\n"
	}
	return 0, buf.String()
}

func (e *Executor) interpreter(lang Language) (string, error) {
	switch lang {
	case LanguagePython:
		if e.Python != "" {
			return e.Python, nil
		}
		return "python3", nil
	case LanguageShell:
		if e.Shell != "" {
			return e.Shell, nil
		}
		return "sh", nil
	default:
		return "", fmt.Errorf("unknown language %s", lang)
	}
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + fmt.Sprintf("\n... (%d bytes truncated)\n", len(s)-limit)
}
