package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	DefaultKillTimeout      = 115 * time.Second
	DefaultSuperviseTimeout = 120 * time.Second
	DefaultTerminationGrace = 3 * time.Second
	DefaultCredentialEnv    = "REDEEM_PASSWORD"
	CheckFlag               = "--check"
)

// Action runs one invocation and always returns an outcome.
type Action interface {
	Invoke(ctx context.Context, cfg RunConfig) RunOutcome
}

// InvokerConfig describes how the external action is launched.
type InvokerConfig struct {
	// Dir is the working directory of the child and the base for a relative Entry.
	Dir         string
	Runtime     string
	RuntimeArgs []string
	Entry       string
	// CredentialEnv names the variable that carries RunConfig.Credential.
	CredentialEnv string

	// KillTimeout bounds the child itself; SuperviseTimeout bounds Invoke.
	KillTimeout      time.Duration
	SuperviseTimeout time.Duration
	// TerminationGrace is how long the child gets between SIGTERM and SIGKILL.
	TerminationGrace time.Duration
}

func (c InvokerConfig) withDefaults() InvokerConfig {
	if c.KillTimeout <= 0 {
		c.KillTimeout = DefaultKillTimeout
	}
	if c.SuperviseTimeout <= 0 {
		c.SuperviseTimeout = DefaultSuperviseTimeout
	}
	if c.TerminationGrace <= 0 {
		c.TerminationGrace = DefaultTerminationGrace
	}
	if c.CredentialEnv == "" {
		c.CredentialEnv = DefaultCredentialEnv
	}
	return c
}

// EntryPath returns the absolute location of the action entry point.
func (c InvokerConfig) EntryPath() string {
	if filepath.IsAbs(c.Entry) || c.Dir == "" {
		return c.Entry
	}
	return filepath.Join(c.Dir, c.Entry)
}

// Invoker launches the external action as a child process and supervises it.
type Invoker struct {
	cfg    InvokerConfig
	out    io.Writer
	logger *slog.Logger
}

// NewInvoker creates an invoker. Output of every invocation is echoed to out.
func NewInvoker(cfg InvokerConfig, out io.Writer, logger *slog.Logger) *Invoker {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		cfg:    cfg.withDefaults(),
		out:    out,
		logger: logger,
	}
}

// Invoke runs the action once. Failures of any kind are reported in the outcome.
func (i *Invoker) Invoke(ctx context.Context, cfg RunConfig) RunOutcome {
	outcome := i.invoke(ctx, cfg)
	if text := strings.TrimSpace(outcome.Output); text != "" {
		fmt.Fprintln(i.out, text)
	}
	return outcome
}

func (i *Invoker) invoke(ctx context.Context, cfg RunConfig) RunOutcome {
	entry := i.cfg.EntryPath()
	if _, err := os.Stat(entry); err != nil {
		i.logger.Error("action entry not found", "entry", entry, "err", err)
		return failure(fmt.Sprintf("[ERROR] Action entry not found at %s", entry))
	}

	superviseCtx, cancelSupervise := context.WithTimeout(ctx, i.cfg.SuperviseTimeout)
	defer cancelSupervise()
	killCtx, cancelKill := context.WithTimeout(ctx, i.cfg.KillTimeout)
	defer cancelKill()

	done := make(chan RunOutcome, 1)
	go func() {
		done <- i.execute(killCtx, cfg)
	}()

	select {
	case outcome := <-done:
		return outcome
	case <-superviseCtx.Done():
		if ctx.Err() != nil {
			i.logger.Warn("action invocation abandoned", "err", ctx.Err())
			return failure("[ERROR] Action invocation abandoned")
		}
		i.logger.Error("action exceeded supervision timeout", "timeout", i.cfg.SuperviseTimeout)
		outcome := failure("[ERROR] Action timed out")
		outcome.TimedOut = true
		return outcome
	}
}

func (i *Invoker) execute(ctx context.Context, cfg RunConfig) RunOutcome {
	args := append([]string{}, i.cfg.RuntimeArgs...)
	args = append(args, i.cfg.Entry)
	if cfg.CheckOnly {
		args = append(args, CheckFlag)
	}

	var output bytes.Buffer
	writer := &syncWriter{w: &output}

	cmd := exec.CommandContext(ctx, i.cfg.Runtime, args...) // #nosec G204
	cmd.Dir = i.cfg.Dir
	cmd.Env = i.environ(cfg.Credential)
	cmd.Stdout = writer
	cmd.Stderr = writer
	cmd.WaitDelay = i.cfg.TerminationGrace
	configureTermination(cmd)

	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		i.logger.Error("start action", "runtime", i.cfg.Runtime, "err", err)
		return failure(err.Error())
	}
	waitErr := cmd.Wait()
	text := writer.String()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		i.logger.Warn("action exceeded kill timeout", "timeout", i.cfg.KillTimeout, "elapsed", time.Since(startedAt))
		outcome := failure(joinOutput(text, "[ERROR] Action timed out"))
		outcome.TimedOut = true
		return outcome
	}
	if waitErr == nil {
		return RunOutcome{Output: text, StatusCode: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) && exitErr.ExitCode() >= 0 {
		return RunOutcome{Output: text, StatusCode: exitErr.ExitCode()}
	}
	return failure(joinOutput(text, waitErr.Error()))
}

// environ inherits the process environment and overlays the credential.
func (i *Invoker) environ(credential string) []string {
	env := os.Environ()
	if credential != "" {
		env = append(env, i.cfg.CredentialEnv+"="+credential)
	}
	return env
}

func failure(text string) RunOutcome {
	return RunOutcome{Output: text, StatusCode: StatusInternalFailure}
}

func joinOutput(output, msg string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return msg
	}
	return output + "\n" + msg
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *syncWriter) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.String()
}
