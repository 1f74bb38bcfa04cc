package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pkt.systems/eclkernel/schema"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if diff := cmp.Diff(def, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	if cfg.Workunit.BaseURL != "https://play.hpccsystems.com:18010/" || !cfg.Workunit.InsecureSkipVerify {
		t.Fatalf("unexpected workunit defaults: %+v", cfg.Workunit)
	}
}

func TestDefaultConfigHidesUndefined(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if !cfg.Kernel.HideUndefined || !cfg.KernelSession("s1").HideUndefined {
		t.Fatalf("expected hide_undefined to default to true")
	}
	if cfg.Kernel.HideExecutionResult {
		t.Fatalf("expected execute results to be shown by default")
	}
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 3
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRequiresConfigVersion(t *testing.T) {
	path := writeConfig(t, `
kernel:
  debug: true
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "config_version is required") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRejectsInvalidBaseURL(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
workunit:
  base_url: play.hpccsystems.com
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "workunit.base_url") {
		t.Fatalf("expected base_url error, got %v", err)
	}
}

func TestLoadRejectsInvalidProtocolVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
kernel:
  protocol_version: five
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "kernel.protocol_version") {
		t.Fatalf("expected protocol_version error, got %v", err)
	}
}

func TestLoadOverridesAndExpands(t *testing.T) {
	t.Setenv("ECL_PASSWORD", "s3cret")
	path := writeConfig(t, `
config_version: 1
state_dir: /tmp/ecl-state
kernel:
  hide_undefined: false
  protocol_version: "4.1"
  target: thor
  reply_ttl: 90s
  queue_depth: 4
workunit:
  base_url: http://localhost:8010/
  insecure_skip_verify: false
  poll_interval: 250ms
  username: alice
  password: $ECL_PASSWORD
transport:
  listen: 127.0.0.1:9555
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StateDir != "/tmp/ecl-state" {
		t.Fatalf("unexpected state dir %q", cfg.StateDir)
	}
	want := WorkunitConfig{
		BaseURL:        "http://localhost:8010/",
		PollInterval:   250 * time.Millisecond,
		RequestTimeout: 30 * time.Second,
		Username:       "alice",
		Password:       "s3cret",
	}
	if diff := cmp.Diff(want, cfg.Workunit); diff != "" {
		t.Fatalf("workunit mismatch (-want +got):\n%s", diff)
	}
	session := cfg.KernelSession("s1")
	if session.HideUndefined || session.ProtocolVersion != "4.1" || session.Target != "thor" {
		t.Fatalf("unexpected kernel config: %+v", session)
	}
	if session.ReplyTTL != 90*time.Second || session.QueueDepth != 4 {
		t.Fatalf("unexpected limits: ttl=%v depth=%d", session.ReplyTTL, session.QueueDepth)
	}
	if session.StateDir != "/tmp/ecl-state" || session.SessionID != schema.SessionID("s1") {
		t.Fatalf("unexpected session wiring: %+v", session)
	}
	if cfg.Transport.Listen != "127.0.0.1:9555" {
		t.Fatalf("unexpected listen %q", cfg.Transport.Listen)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$GID/$MISSING")
	if !strings.HasPrefix(value, "bar/") {
		t.Fatalf("expected env expansion, got %q", value)
	}
	if strings.Contains(value, "$UID") || strings.Contains(value, "$GID") {
		t.Fatalf("expected UID/GID expansion, got %q", value)
	}
	if !strings.HasSuffix(value, "/$MISSING") {
		t.Fatalf("expected missing vars to remain, got %q", value)
	}
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %q, got %q", path, written)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config to exist: %v", err)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("expected overwrite to succeed: %v", err)
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := WriteDefault(path, false); err != nil {
		t.Fatalf("write default: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load written default: %v", err)
	}
	if cfg.Kernel.ReplyTTL != schema.DefaultReplyTTL {
		t.Fatalf("expected reply ttl %v, got %v", schema.DefaultReplyTTL, cfg.Kernel.ReplyTTL)
	}
	if cfg.Workunit.PollInterval != 500*time.Millisecond {
		t.Fatalf("expected poll interval 500ms, got %v", cfg.Workunit.PollInterval)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestSessionIDStablePerDirectory(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Kernel: KernelConfig{Cwd: dir}}
	first, err := cfg.SessionID()
	if err != nil {
		t.Fatalf("session id: %v", err)
	}
	second, err := cfg.SessionID()
	if err != nil {
		t.Fatalf("session id: %v", err)
	}
	if first == "" || first != second {
		t.Fatalf("expected stable session id, got %q and %q", first, second)
	}
	other, err := Config{Kernel: KernelConfig{Cwd: t.TempDir()}}.SessionID()
	if err != nil {
		t.Fatalf("session id: %v", err)
	}
	if other == first {
		t.Fatalf("expected distinct ids for distinct directories")
	}
	explicit, err := Config{Kernel: KernelConfig{SessionID: "notebook-1"}}.SessionID()
	if err != nil || explicit != "notebook-1" {
		t.Fatalf("expected explicit id, got %q err=%v", explicit, err)
	}
}
