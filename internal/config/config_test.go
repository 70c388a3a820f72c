package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"autoredeem/internal/core"
)

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, EnvFileName), []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
}

// unsetEnv clears key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}

func parse(t *testing.T, dir string, args ...string) (*Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var flags Flags
	flags.Register(fs)
	if err := fs.Parse(append([]string{"--dir", dir}, args...)); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return Load(fs, &flags)
}

func TestLoadEnvFileStripsQuotes(t *testing.T) {
	dir := t.TempDir()
	unsetEnv(t, "REDEEM_PASSWORD")
	unsetEnv(t, "SINGLE_QUOTED")
	writeEnvFile(t, dir, "# credentials\nREDEEM_PASSWORD=\"abc123\"\nSINGLE_QUOTED='xyz'\n\n")

	if err := LoadEnvFile(filepath.Join(dir, EnvFileName)); err != nil {
		t.Fatalf("LoadEnvFile() error: %v", err)
	}
	if got := os.Getenv("REDEEM_PASSWORD"); got != "abc123" {
		t.Errorf("REDEEM_PASSWORD = %q, want %q", got, "abc123")
	}
	if got := os.Getenv("SINGLE_QUOTED"); got != "xyz" {
		t.Errorf("SINGLE_QUOTED = %q, want %q", got, "xyz")
	}
}

func TestLoadEnvFileExistingEnvWins(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REDEEM_PASSWORD", "from-env")
	writeEnvFile(t, dir, "REDEEM_PASSWORD=from-file\n")

	if err := LoadEnvFile(filepath.Join(dir, EnvFileName)); err != nil {
		t.Fatalf("LoadEnvFile() error: %v", err)
	}
	if got := os.Getenv("REDEEM_PASSWORD"); got != "from-env" {
		t.Errorf("REDEEM_PASSWORD = %q, want %q", got, "from-env")
	}
}

func TestLoadEnvFileSkipsEmptyValues(t *testing.T) {
	dir := t.TempDir()
	unsetEnv(t, "EMPTY_VALUE")
	writeEnvFile(t, dir, "EMPTY_VALUE=\n")

	if err := LoadEnvFile(filepath.Join(dir, EnvFileName)); err != nil {
		t.Fatalf("LoadEnvFile() error: %v", err)
	}
	if _, ok := os.LookupEnv("EMPTY_VALUE"); ok {
		t.Error("EMPTY_VALUE was set, want unset")
	}
}

func TestLoadEnvFileKeepsDollarLiteral(t *testing.T) {
	dir := t.TempDir()
	unsetEnv(t, "REDEEM_PASSWORD")
	unsetEnv(t, "UNQUOTED_SECRET")
	t.Setenv("X9Z", "expanded")
	writeEnvFile(t, dir, "REDEEM_PASSWORD=\"Pw$X9Z\"\nUNQUOTED_SECRET=pa$$w0rd${HOME}1\n")

	if err := LoadEnvFile(filepath.Join(dir, EnvFileName)); err != nil {
		t.Fatalf("LoadEnvFile() error: %v", err)
	}
	if got := os.Getenv("REDEEM_PASSWORD"); got != "Pw$X9Z" {
		t.Errorf("REDEEM_PASSWORD = %q, want %q", got, "Pw$X9Z")
	}
	if got := os.Getenv("UNQUOTED_SECRET"); got != "pa$$w0rd${HOME}1" {
		t.Errorf("UNQUOTED_SECRET = %q, want %q", got, "pa$$w0rd${HOME}1")
	}
}

func TestLoadEnvFileSkipsLinesWithoutEquals(t *testing.T) {
	dir := t.TempDir()
	unsetEnv(t, "REDEEM_PASSWORD")
	unsetEnv(t, "X")
	writeEnvFile(t, dir, "REDEEM_PASSWORD=abc123\nNOTE\n[wallet]\nX=1\n")

	if err := LoadEnvFile(filepath.Join(dir, EnvFileName)); err != nil {
		t.Fatalf("LoadEnvFile() error: %v", err)
	}
	if got := os.Getenv("REDEEM_PASSWORD"); got != "abc123" {
		t.Errorf("REDEEM_PASSWORD = %q, want %q", got, "abc123")
	}
	if got := os.Getenv("X"); got != "1" {
		t.Errorf("X = %q, want %q", got, "1")
	}
}

func TestLoadEnvFileFirstDefinitionWins(t *testing.T) {
	dir := t.TempDir()
	unsetEnv(t, "REDEEM_PASSWORD")
	writeEnvFile(t, dir, "REDEEM_PASSWORD=first\nREDEEM_PASSWORD=second\n")

	if err := LoadEnvFile(filepath.Join(dir, EnvFileName)); err != nil {
		t.Fatalf("LoadEnvFile() error: %v", err)
	}
	if got := os.Getenv("REDEEM_PASSWORD"); got != "first" {
		t.Errorf("REDEEM_PASSWORD = %q, want %q", got, "first")
	}
}

func TestParseEnvLine(t *testing.T) {
	cases := []struct {
		line       string
		key, value string
		ok         bool
	}{
		{"KEY=value", "KEY", "value", true},
		{"  KEY = spaced  ", "KEY", "spaced", true},
		{"KEY=a=b", "KEY", "a=b", true},
		{`KEY="quoted"`, "KEY", "quoted", true},
		{`KEY='single'`, "KEY", "single", true},
		{`KEY="mismatched'`, "KEY", `"mismatched'`, true},
		{`KEY="`, "KEY", `"`, true},
		{"KEY=value # kept", "KEY", "value # kept", true},
		{"# KEY=value", "", "", false},
		{"NOTE", "", "", false},
		{"=value", "", "", false},
		{`KEY=""`, "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		key, value, ok := parseEnvLine(tc.line)
		if key != tc.key || value != tc.value || ok != tc.ok {
			t.Errorf("parseEnvLine(%q) = %q, %q, %v; want %q, %q, %v", tc.line, key, value, ok, tc.key, tc.value, tc.ok)
		}
	}
}

func TestLoadEnvFileMissing(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), EnvFileName)); err != nil {
		t.Errorf("LoadEnvFile() error = %v, want nil", err)
	}
}

func TestLoadDefaultsToOneShot(t *testing.T) {
	unsetEnv(t, "AUTOREDEEM_INTERVAL")
	unsetEnv(t, "AUTOREDEEM_CRON")
	cfg, err := parse(t, t.TempDir())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Run.Periodic() {
		t.Errorf("Run = %+v, want one-shot", cfg.Run)
	}
	if cfg.Invoker.Runtime != defaultRuntime || cfg.Invoker.Entry != defaultEntry {
		t.Errorf("Invoker = %+v, want defaults", cfg.Invoker)
	}
	if cfg.Invoker.KillTimeout != 115*time.Second || cfg.Invoker.SuperviseTimeout != 120*time.Second {
		t.Errorf("timeouts = %s/%s, want 115s/120s", cfg.Invoker.KillTimeout, cfg.Invoker.SuperviseTimeout)
	}
	if cfg.History.Enabled {
		t.Error("History.Enabled = true, want false by default")
	}
}

func TestLoadInterval(t *testing.T) {
	cfg, err := parse(t, t.TempDir(), "--interval", "15", "--check")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := core.RunConfig{IntervalMinutes: 15, CheckOnly: true}
	if cfg.Run != want {
		t.Errorf("Run = %+v, want %+v", cfg.Run, want)
	}
}

func TestLoadIntervalFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	unsetEnv(t, "AUTOREDEEM_INTERVAL")
	writeEnvFile(t, dir, "AUTOREDEEM_INTERVAL=30\n")

	cfg, err := parse(t, dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Run.IntervalMinutes != 30 {
		t.Errorf("IntervalMinutes = %d, want 30", cfg.Run.IntervalMinutes)
	}
}

func TestLoadRejectsInvalidInterval(t *testing.T) {
	for _, val := range []string{"0", "-5"} {
		_, err := parse(t, t.TempDir(), "--interval", val)
		if !errors.Is(err, ErrInvalidInterval) {
			t.Errorf("--interval %s: error = %v, want ErrInvalidInterval", val, err)
		}
	}
}

func TestLoadOnceRejectsPeriodicFlags(t *testing.T) {
	for _, args := range [][]string{
		{"--interval", "15", "--once"},
		{"--once", "--cron", "0 * * * *"},
	} {
		if _, err := parse(t, t.TempDir(), args...); !errors.Is(err, ErrConflictingModes) {
			t.Errorf("%v: error = %v, want ErrConflictingModes", args, err)
		}
	}
}

func TestLoadOnceOverridesEnvInterval(t *testing.T) {
	t.Setenv("AUTOREDEEM_INTERVAL", "15")
	cfg, err := parse(t, t.TempDir(), "--once")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Run.Periodic() {
		t.Errorf("Run = %+v, want one-shot", cfg.Run)
	}
}

func TestLoadIntervalAndCronConflict(t *testing.T) {
	if _, err := parse(t, t.TempDir(), "--interval", "15", "--cron", "*/5 * * * *"); err == nil {
		t.Error("Load() error = nil, want conflict error")
	}
}

func TestLoadInvalidCron(t *testing.T) {
	unsetEnv(t, "AUTOREDEEM_INTERVAL")
	if _, err := parse(t, t.TempDir(), "--cron", "every day"); err == nil {
		t.Error("Load() error = nil, want cron error")
	}
}

func TestLoadTimeoutValidation(t *testing.T) {
	_, err := parse(t, t.TempDir(), "--kill-timeout", "2m", "--supervise-timeout", "1m")
	if err == nil {
		t.Error("Load() error = nil, want supervise < kill error")
	}
}

func TestLoadFlagOverridesEnv(t *testing.T) {
	t.Setenv("AUTOREDEEM_LOG_LEVEL", "warn")
	t.Setenv("AUTOREDEEM_STATUS_ADDR", "127.0.0.1:9000")
	cfg, err := parse(t, t.TempDir(), "--log-level", "debug")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Status.Addr != "127.0.0.1:9000" {
		t.Errorf("Status.Addr = %q, want env value", cfg.Status.Addr)
	}
}

func TestLoadHistoryStateDir(t *testing.T) {
	stateDir := t.TempDir()
	cfg, err := parse(t, t.TempDir(), "--history", "--state-dir", stateDir, "--history-keep", "5")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.History.Enabled || cfg.History.StateDir != stateDir || cfg.History.Keep != 5 {
		t.Errorf("History = %+v", cfg.History)
	}
}

func TestResolveCredential(t *testing.T) {
	t.Run("from env", func(t *testing.T) {
		t.Setenv("REDEEM_PASSWORD", "abc123")
		got, err := ResolveCredential("REDEEM_PASSWORD", func() (string, error) {
			t.Fatal("prompt called with credential in env")
			return "", nil
		})
		if err != nil || got != "abc123" {
			t.Errorf("ResolveCredential() = %q, %v", got, err)
		}
	})
	t.Run("prompted", func(t *testing.T) {
		unsetEnv(t, "REDEEM_PASSWORD")
		got, err := ResolveCredential("REDEEM_PASSWORD", func() (string, error) {
			return "typed", nil
		})
		if err != nil || got != "typed" {
			t.Errorf("ResolveCredential() = %q, %v", got, err)
		}
	})
	t.Run("prompt cancelled", func(t *testing.T) {
		unsetEnv(t, "REDEEM_PASSWORD")
		cancelled := errors.New("cancelled")
		_, err := ResolveCredential("REDEEM_PASSWORD", func() (string, error) {
			return "", cancelled
		})
		if !errors.Is(err, cancelled) {
			t.Errorf("ResolveCredential() error = %v, want %v", err, cancelled)
		}
	})
}
