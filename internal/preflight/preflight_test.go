package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// fakeRuntime writes a shell script that prints a version string.
func fakeRuntime(t *testing.T, exitCode string) string {
	t.Helper()
	return fakeRuntimeScript(t, "echo v20.11.0\nexit "+exitCode+"\n")
}

func fakeRuntimeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script runtime not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "node")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write runtime: %v", err)
	}
	return path
}

func TestCheckKeyStore(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, ".encrypted_keys")

	if err := CheckKeyStore(marker); !errors.Is(err, ErrKeysNotConfigured) {
		t.Errorf("CheckKeyStore() missing = %v, want ErrKeysNotConfigured", err)
	}
	touch(t, marker)
	if err := CheckKeyStore(marker); err != nil {
		t.Errorf("CheckKeyStore() present = %v, want nil", err)
	}
}

func TestCheckRuntime(t *testing.T) {
	ctx := context.Background()
	if err := CheckRuntime(ctx, fakeRuntime(t, "0")); err != nil {
		t.Errorf("CheckRuntime() = %v, want nil", err)
	}
	if err := CheckRuntime(ctx, fakeRuntime(t, "1")); !errors.Is(err, ErrRuntimeMissing) {
		t.Errorf("CheckRuntime() failing = %v, want ErrRuntimeMissing", err)
	}
	if err := CheckRuntime(ctx, filepath.Join(t.TempDir(), "missing-node")); !errors.Is(err, ErrRuntimeMissing) {
		t.Errorf("CheckRuntime() missing = %v, want ErrRuntimeMissing", err)
	}
}

func TestCheckRuntimeOnlyNeedsZeroExit(t *testing.T) {
	if err := CheckRuntime(context.Background(), fakeRuntimeScript(t, "exit 0\n")); err != nil {
		t.Errorf("CheckRuntime() silent runtime = %v, want nil", err)
	}
}

func TestCheckEntry(t *testing.T) {
	dir := t.TempDir()
	entry := filepath.Join(dir, "src", "redeem.ts")

	if err := CheckEntry(entry); !errors.Is(err, ErrEntryMissing) {
		t.Errorf("CheckEntry() missing = %v, want ErrEntryMissing", err)
	}
	if err := CheckEntry(filepath.Join(dir)); !errors.Is(err, ErrEntryMissing) {
		t.Errorf("CheckEntry() dir = %v, want ErrEntryMissing", err)
	}
	touch(t, entry)
	if err := CheckEntry(entry); err != nil {
		t.Errorf("CheckEntry() present = %v, want nil", err)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	dir := t.TempDir()
	checks := Checks{
		KeyMarker:     filepath.Join(dir, ".encrypted_keys"),
		RuntimeBinary: filepath.Join(dir, "missing-node"),
		Entry:         filepath.Join(dir, "src", "redeem.ts"),
	}

	err := Run(context.Background(), checks)
	if !errors.Is(err, ErrKeysNotConfigured) {
		t.Fatalf("Run() = %v, want ErrKeysNotConfigured", err)
	}
	if !strings.Contains(Hint(err), "--setup") {
		t.Errorf("Hint() = %q, want setup guidance", Hint(err))
	}

	touch(t, checks.KeyMarker)
	if err := Run(context.Background(), checks); !errors.Is(err, ErrRuntimeMissing) {
		t.Errorf("Run() = %v, want ErrRuntimeMissing", err)
	}
}

func TestRunAllPresent(t *testing.T) {
	dir := t.TempDir()
	checks := Checks{
		KeyMarker:     filepath.Join(dir, ".encrypted_keys"),
		RuntimeBinary: fakeRuntime(t, "0"),
		Entry:         filepath.Join(dir, "src", "redeem.ts"),
	}
	touch(t, checks.KeyMarker)
	touch(t, checks.Entry)

	if err := Run(context.Background(), checks); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}
