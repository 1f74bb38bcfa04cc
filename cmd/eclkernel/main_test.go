package main

import (
	"bytes"
	"strings"
	"testing"

	"pkt.systems/eclkernel/internal/appconfig"
)

func TestRootHasSubcommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"kernel": false, "console": false, "config": false, "transcript": false, "version": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("expected root command to include %s", name)
		}
	}
}

func TestVersionCommandPrintsModule(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "eclkernel") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestApplyKernelFlagsOverridesOnlyChanged(t *testing.T) {
	cmd := newKernelCmd()
	if err := cmd.Flags().Parse([]string{"--show-undefined", "--protocol", "4.1", "--listen", "127.0.0.1:9000", "--session-working-dir", "/work"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.Kernel.HideUndefined = true
	cfg.Kernel.StartupScript = "init.ecl"
	flags := kernelFlags{showUndefined: true, protocol: "4.1", listen: "127.0.0.1:9000", workingDir: "/work"}
	applyKernelFlags(cmd, &cfg, flags)
	if cfg.Kernel.HideUndefined {
		t.Fatalf("expected --show-undefined to clear hide_undefined")
	}
	if cfg.Kernel.ProtocolVersion != "4.1" || cfg.Transport.Listen != "127.0.0.1:9000" || cfg.Kernel.Cwd != "/work" {
		t.Fatalf("unexpected overrides: %+v %+v", cfg.Kernel, cfg.Transport)
	}
	if cfg.Kernel.StartupScript != "init.ecl" {
		t.Fatalf("expected unset flag to keep config value, got %q", cfg.Kernel.StartupScript)
	}
}

func TestUndefinedFlagsAreExclusive(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"kernel", "--hide-undefined", "--show-undefined", "--config", t.TempDir() + "/missing.yaml"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "hide-undefined") {
		t.Fatalf("expected mutually exclusive flag error, got %v", err)
	}
}
