// Package preflight verifies the environment before the runner starts.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

var (
	ErrKeysNotConfigured = errors.New("encrypted keys not configured")
	ErrRuntimeMissing    = errors.New("node.js is not installed or not in PATH")
	ErrEntryMissing      = errors.New("redemption script not found")
)

const runtimeCheckTimeout = 5 * time.Second

// Checks lists what must be present before the runner starts.
type Checks struct {
	// KeyMarker is the file created by the key setup step.
	KeyMarker string
	// RuntimeBinary is run with --version.
	RuntimeBinary string
	// Entry is the action entry point.
	Entry string
}

// Run performs all checks in order and returns the first failure.
func Run(ctx context.Context, c Checks) error {
	if err := CheckKeyStore(c.KeyMarker); err != nil {
		return err
	}
	if err := CheckRuntime(ctx, c.RuntimeBinary); err != nil {
		return err
	}
	return CheckEntry(c.Entry)
}

// CheckKeyStore verifies the key store marker file exists.
func CheckKeyStore(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrKeysNotConfigured, path)
	}
	return nil
}

// CheckRuntime runs "<binary> --version" and expects a zero exit status.
func CheckRuntime(ctx context.Context, binary string) error {
	ctx, cancel := context.WithTimeout(ctx, runtimeCheckTimeout)
	defer cancel()

	if err := exec.CommandContext(ctx, binary, "--version").Run(); err != nil { // #nosec G204
		return fmt.Errorf("%w: %s --version: %v", ErrRuntimeMissing, binary, err)
	}
	return nil
}

// CheckEntry verifies the action entry point exists.
func CheckEntry(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w at %s", ErrEntryMissing, path)
	}
	if info.IsDir() {
		return fmt.Errorf("%w at %s: is a directory", ErrEntryMissing, path)
	}
	return nil
}

// Hint returns operator guidance for a preflight error, or "".
func Hint(err error) string {
	switch {
	case errors.Is(err, ErrKeysNotConfigured):
		return "Please run key setup first:\n  npx tsx src/redeem.ts --setup\n\nThis will securely store your wallet credentials."
	case errors.Is(err, ErrRuntimeMissing):
		return "Please install Node.js from https://nodejs.org/"
	default:
		return ""
	}
}
