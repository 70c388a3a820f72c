package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"autoredeem/internal/core"
)

// StatusConfig holds status server settings.
type StatusConfig struct {
	Addr      string
	AuthToken string
}

// HistoryConfig holds run journal settings.
type HistoryConfig struct {
	Enabled  bool
	StateDir string
	Keep     int
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// Config holds all runtime configuration options for the runner.
type Config struct {
	Run     core.RunConfig
	Invoker core.InvokerConfig

	Status       StatusConfig
	History      HistoryConfig
	Notification NotificationConfig

	// Dir holds the .env file, the key store marker and the action sources.
	Dir string
	// KeyMarker is the file whose presence shows keys have been set up.
	KeyMarker string
	// NodeBinary is checked on PATH before the runner starts.
	NodeBinary string

	LogLevel      string
	UseUTC        bool
	ShutdownGrace time.Duration
}

const (
	EnvFileName          = ".env"
	defaultRuntime       = "npx"
	defaultEntry         = "src/redeem.ts"
	defaultKeyMarker     = ".encrypted_keys"
	defaultNodeBinary    = "node"
	defaultLogLevel      = "info"
	defaultHistoryKeep   = 50
	defaultShutdownGrace = 5 * time.Second
)

var defaultRuntimeArgs = []string{"tsx"}

var (
	// ErrInvalidInterval is returned for an interval below one minute.
	ErrInvalidInterval = errors.New("interval must be at least 1 minute")
	// ErrConflictingModes is returned when --once is combined with a periodic flag.
	ErrConflictingModes = errors.New("--once cannot be combined with --interval or --cron")
)

// Flags are the command-line options. Register binds them to a flag set.
type Flags struct {
	Interval         int
	Cron             string
	Once             bool
	Check            bool
	Dir              string
	Runtime          string
	Entry            string
	KillTimeout      time.Duration
	SuperviseTimeout time.Duration
	LogLevel         string
	StatusAddr       string
	AuthToken        string
	History          bool
	StateDir         string
	HistoryKeep      int
	UseUTC           bool
}

// Register defines every option on fs.
func (f *Flags) Register(fs *pflag.FlagSet) {
	fs.IntVar(&f.Interval, "interval", 0, "Run redemption automatically every N minutes (e.g. --interval 15)")
	fs.StringVar(&f.Cron, "cron", "", "Run redemption on a 5-field cron schedule instead of a fixed interval")
	fs.BoolVar(&f.Once, "once", false, "Run redemption once and exit (default if --interval is not given)")
	fs.BoolVar(&f.Check, "check", false, "Only check for redeemable positions, don't actually redeem")
	fs.StringVar(&f.Dir, "dir", "", "Directory containing .env, the key store and the redemption script")
	fs.StringVar(&f.Runtime, "runtime", "", "Launcher used to run the redemption script")
	fs.StringVar(&f.Entry, "entry", "", "Redemption script path, relative to --dir")
	fs.DurationVar(&f.KillTimeout, "kill-timeout", 0, "Hard timeout after which the script is terminated")
	fs.DurationVar(&f.SuperviseTimeout, "supervise-timeout", 0, "Upper bound on a single invocation, including termination")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.StatusAddr, "status-addr", "", "Serve the status API on this address")
	fs.StringVar(&f.AuthToken, "auth-token", "", "Bearer token required by the status API")
	fs.BoolVar(&f.History, "history", false, "Record every run in a local SQLite journal")
	fs.StringVar(&f.StateDir, "state-dir", "", "Directory for the run journal")
	fs.IntVar(&f.HistoryKeep, "history-keep", 0, "Number of runs kept in the journal")
	fs.BoolVar(&f.UseUTC, "use-utc", false, "Use UTC for cron evaluation and notices")
}

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Load builds the Config from flags, environment variables and the .env file.
// Priority: CLI flags > Environment variables > .env file > defaults
func Load(fs *pflag.FlagSet, f *Flags) (*Config, error) {
	dir, err := resolveDir(f.Dir)
	if err != nil {
		return nil, err
	}
	if err := LoadEnvFile(filepath.Join(dir, EnvFileName)); err != nil {
		return nil, err
	}

	cfg := &Config{
		Invoker: core.InvokerConfig{
			Dir:              dir,
			Runtime:          getEnvString("AUTOREDEEM_RUNTIME", defaultRuntime),
			RuntimeArgs:      runtimeArgs(),
			Entry:            getEnvString("AUTOREDEEM_ENTRY", defaultEntry),
			CredentialEnv:    core.DefaultCredentialEnv,
			KillTimeout:      getEnvDuration("AUTOREDEEM_KILL_TIMEOUT", core.DefaultKillTimeout),
			SuperviseTimeout: getEnvDuration("AUTOREDEEM_SUPERVISE_TIMEOUT", core.DefaultSuperviseTimeout),
		},
		Status: StatusConfig{
			Addr:      getEnvString("AUTOREDEEM_STATUS_ADDR", ""),
			AuthToken: getEnvString("AUTOREDEEM_AUTH_TOKEN", ""),
		},
		History: HistoryConfig{
			Enabled:  getEnvBool("AUTOREDEEM_HISTORY", false),
			StateDir: getEnvString("AUTOREDEEM_STATE_DIR", ""),
			Keep:     getEnvInt("AUTOREDEEM_HISTORY_KEEP", defaultHistoryKeep),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL: getEnvString("AUTOREDEEM_BARK_URL", ""),
			},
		},
		Dir:           dir,
		KeyMarker:     defaultKeyMarker,
		NodeBinary:    defaultNodeBinary,
		LogLevel:      getEnvString("AUTOREDEEM_LOG_LEVEL", defaultLogLevel),
		UseUTC:        getEnvBool("AUTOREDEEM_USE_UTC", false),
		ShutdownGrace: getEnvDuration("AUTOREDEEM_SHUTDOWN_GRACE", defaultShutdownGrace),
	}
	cfg.Notification.Bark.Enabled = cfg.Notification.Bark.URL != ""

	run, err := resolveRun(fs, f)
	if err != nil {
		return nil, err
	}
	cfg.Run = run

	// Apply CLI flags if set (they take precedence)
	fs.Visit(func(fl *pflag.Flag) {
		switch fl.Name {
		case "runtime":
			cfg.Invoker.Runtime = f.Runtime
		case "entry":
			cfg.Invoker.Entry = f.Entry
		case "kill-timeout":
			cfg.Invoker.KillTimeout = f.KillTimeout
		case "supervise-timeout":
			cfg.Invoker.SuperviseTimeout = f.SuperviseTimeout
		case "log-level":
			cfg.LogLevel = f.LogLevel
		case "status-addr":
			cfg.Status.Addr = f.StatusAddr
		case "auth-token":
			cfg.Status.AuthToken = f.AuthToken
		case "history":
			cfg.History.Enabled = f.History
		case "state-dir":
			cfg.History.StateDir = f.StateDir
		case "history-keep":
			cfg.History.Keep = f.HistoryKeep
		case "use-utc":
			cfg.UseUTC = f.UseUTC
		}
	})

	if cfg.History.Keep < 1 {
		cfg.History.Keep = defaultHistoryKeep
	}
	if cfg.History.Enabled && cfg.History.StateDir == "" {
		stateDir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.History.StateDir = stateDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Invoker.KillTimeout <= 0 {
		return fmt.Errorf("kill timeout must be positive, got %s", c.Invoker.KillTimeout)
	}
	if c.Invoker.SuperviseTimeout < c.Invoker.KillTimeout {
		return fmt.Errorf("supervise timeout %s must not be shorter than kill timeout %s",
			c.Invoker.SuperviseTimeout, c.Invoker.KillTimeout)
	}
	if c.Invoker.Runtime == "" {
		return errors.New("runtime must not be empty")
	}
	if c.Run.CronExpr != "" {
		if _, err := core.ParseCron(c.Run.CronExpr); err != nil {
			return err
		}
	}
	return nil
}

// Location returns the zone used for schedules and notices.
func (c *Config) Location() *time.Location {
	if c.UseUTC {
		return time.UTC
	}
	return time.Local
}

// ResolveCredential returns the credential from the environment, or asks prompt for it.
func ResolveCredential(envKey string, prompt func() (string, error)) (string, error) {
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}
	if prompt == nil {
		return "", fmt.Errorf("%s is not set", envKey)
	}
	val, err := prompt()
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	return val, nil
}

func resolveRun(fs *pflag.FlagSet, f *Flags) (core.RunConfig, error) {
	run := core.RunConfig{CheckOnly: f.Check}
	if f.Once {
		if fs.Changed("interval") || fs.Changed("cron") {
			return run, ErrConflictingModes
		}
		return run, nil
	}

	if fs.Changed("interval") {
		run.IntervalMinutes = f.Interval
		if run.IntervalMinutes < 1 {
			return run, ErrInvalidInterval
		}
	} else if val, ok := os.LookupEnv("AUTOREDEEM_INTERVAL"); ok && val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return run, fmt.Errorf("parse AUTOREDEEM_INTERVAL: %w", err)
		}
		if n < 1 {
			return run, ErrInvalidInterval
		}
		run.IntervalMinutes = n
	}

	if fs.Changed("cron") {
		run.CronExpr = f.Cron
	} else {
		run.CronExpr = getEnvString("AUTOREDEEM_CRON", "")
	}
	if run.CronExpr != "" && run.IntervalMinutes > 0 {
		return run, errors.New("--interval and --cron are mutually exclusive")
	}
	return run, nil
}

func runtimeArgs() []string {
	if val, ok := os.LookupEnv("AUTOREDEEM_RUNTIME_ARGS"); ok {
		return strings.Fields(val)
	}
	return append([]string(nil), defaultRuntimeArgs...)
}

func resolveDir(flagDir string) (string, error) {
	dir := flagDir
	if dir == "" {
		dir = os.Getenv("AUTOREDEEM_DIR")
	}
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working dir: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve dir %s: %w", dir, err)
	}
	return abs, nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "autoredeem")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
