package config

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

const sampleYAML = `
data_dir: /tmp/timebox-test
sandbox:
  default_timeout_seconds: 2.5
  verbose: false
  hold_signals: [SIGINT, term]
storage:
  driver: sqlite
suites:
  - name: smoke
    schedule: "*/5 * * * *"
    cases:
      - work: nice
      - work: exit-7
        expect: nonzero_exit
        exit_code: 7
      - work: sleep-forever
        timeout_seconds: 0
        expect: timeout
`

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "timebox.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.Sandbox.DefaultTimeout(); got != 2500*time.Millisecond {
		t.Errorf("DefaultTimeout() = %v, want 2.5s", got)
	}
	if cfg.Sandbox.IsVerbose() {
		t.Error("IsVerbose() = true, want false")
	}
	sigs := cfg.Sandbox.HeldSignals()
	if len(sigs) != 2 || sigs[0] != syscall.SIGINT || sigs[1] != syscall.SIGTERM {
		t.Errorf("HeldSignals() = %v, want [SIGINT SIGTERM]", sigs)
	}

	s, ok := cfg.Suite("smoke")
	if !ok {
		t.Fatal("suite smoke not found")
	}
	if len(s.Cases) != 3 {
		t.Fatalf("cases = %d, want 3", len(s.Cases))
	}
	if s.Cases[2].TimeoutSeconds == nil || *s.Cases[2].TimeoutSeconds != 0 {
		t.Errorf("explicit zero timeout lost: %v", s.Cases[2].TimeoutSeconds)
	}
	if s.Cases[0].TimeoutSeconds != nil {
		t.Errorf("unset timeout = %v, want nil", *s.Cases[0].TimeoutSeconds)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "timebox.json", `{"http": {"listen_addr": ":9090"}, "sandbox": {"default_timeout_seconds": 1}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.HTTP.Addr(); got != ":9090" {
		t.Errorf("Addr() = %q, want :9090", got)
	}
	if !cfg.Sandbox.IsVerbose() {
		t.Error("IsVerbose() default should be true")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TIMEBOX_DATA_DIR", "/var/lib/timebox")
	t.Setenv("TIMEBOX_DB_DRIVER", "postgres")
	t.Setenv("TIMEBOX_DB_DSN", "postgres://localhost/timebox")
	t.Setenv("TIMEBOX_LISTEN_ADDR", ":7070")

	cfg, err := Load(writeFile(t, "timebox.yaml", "sandbox: {}\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DataDir != "/var/lib/timebox" {
		t.Errorf("DataDir = %q, want /var/lib/timebox", cfg.DataDir)
	}
	if got := cfg.Storage.StorageDriver(); got != "postgres" {
		t.Errorf("StorageDriver() = %q, want postgres", got)
	}
	if cfg.Storage.Postgres.DSN != "postgres://localhost/timebox" {
		t.Errorf("DSN = %q", cfg.Storage.Postgres.DSN)
	}
	if cfg.HTTP.Addr() != ":7070" {
		t.Errorf("Addr() = %q, want :7070", cfg.HTTP.Addr())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"negative timeout", "sandbox: {default_timeout_seconds: -1}\n", "must not be negative"},
		{"bad signal", "sandbox: {hold_signals: [SIGNOPE]}\n", "unknown signal"},
		{"bad driver", "storage: {driver: mysql}\n", "not supported"},
		{"postgres without dsn", "storage: {driver: postgres}\n", "dsn is required"},
		{"bad cron", "suites: [{name: s, schedule: 'every day', cases: [{work: nice}]}]\n", "schedule"},
		{"empty suite", "suites: [{name: s}]\n", "no cases"},
		{"bad expect", "suites: [{name: s, cases: [{work: nice, expect: exploded}]}]\n", "expect"},
		{"exit code without expect", "suites: [{name: s, cases: [{work: nice, exit_code: 3}]}]\n", "exit_code"},
		{"duplicate suite", "suites: [{name: s, cases: [{work: a}]}, {name: s, cases: [{work: b}]}]\n", "twice"},
		{"negative rate limit", "http: {rate_limit: {runs_per_minute: -5}}\n", "rate_limit"},
		{"negative case timeout", "suites: [{name: s, cases: [{work: a, timeout_seconds: -2}]}]\n", "must not be negative"},
		{"huge timeout", "sandbox: {default_timeout_seconds: 1e12}\n", "must be below"},
		{"huge case timeout", "suites: [{name: s, cases: [{work: a, timeout_seconds: 1e12}]}]\n", "must be below"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "timebox.yaml", tt.yaml))
			if err == nil {
				t.Fatal("Load() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() of missing file should fail")
	}
}

func TestDefaults(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	if got := cfg.Sandbox.DefaultTimeout(); got != 10*time.Second {
		t.Errorf("DefaultTimeout() = %v, want 10s", got)
	}
	if got := cfg.SQLitePath(); got != "/data/timebox.db" {
		t.Errorf("SQLitePath() = %q, want /data/timebox.db", got)
	}
	if got := cfg.Storage.StorageDriver(); got != "sqlite" {
		t.Errorf("StorageDriver() = %q, want sqlite", got)
	}
	if got := cfg.HTTP.Addr(); got != ":8080" {
		t.Errorf("Addr() = %q, want :8080", got)
	}
	var sc *SchedulerConfig
	if got := sc.PollInterval(); got != 30*time.Second {
		t.Errorf("PollInterval() = %v, want 30s", got)
	}
	if got := sc.MissedJobWindow(); got != time.Hour {
		t.Errorf("MissedJobWindow() = %v, want 1h", got)
	}
}
