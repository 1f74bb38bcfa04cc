package schema

import "testing"

func TestParseProtocolVersion(t *testing.T) {
	cases := []struct {
		name  string
		value string
		major int
		minor int
		valid bool
	}{
		{"full", "5.1", 5, 1, true},
		{"legacy", "4.1", 4, 1, true},
		{"major-only", "5", 5, 0, true},
		{"padded", " 5.3 ", 5, 3, true},
		{"empty", "", 0, 0, false},
		{"zero", "0.1", 0, 0, false},
		{"letters", "v5", 0, 0, false},
		{"bad-minor", "5.x", 0, 0, false},
	}

	for _, tc := range cases {
		major, minor, err := ParseProtocolVersion(tc.value)
		if tc.valid && err != nil {
			t.Fatalf("case %q expected valid, got error: %v", tc.name, err)
		}
		if !tc.valid {
			if err == nil {
				t.Fatalf("case %q expected error, got nil", tc.name)
			}
			continue
		}
		if major != tc.major || minor != tc.minor {
			t.Fatalf("case %q expected %d.%d, got %d.%d", tc.name, tc.major, tc.minor, major, minor)
		}
	}
}

func TestValidateSessionID(t *testing.T) {
	cases := []struct {
		name  string
		id    SessionID
		valid bool
	}{
		{"uuid", "0b6f8c1e-3b6c-4f0e-9a59-7c0f6a1e2d4b", true},
		{"simple", "kernel", true},
		{"empty", "", false},
		{"space", "a b", false},
		{"slash", "a/b", false},
		{"padded", " a", false},
	}
	for _, tc := range cases {
		err := ValidateSessionID(tc.id)
		if tc.valid && err != nil {
			t.Fatalf("case %q expected valid, got error: %v", tc.name, err)
		}
		if !tc.valid && err == nil {
			t.Fatalf("case %q expected error, got nil", tc.name)
		}
	}
}

func TestWorkunitStateTerminal(t *testing.T) {
	for _, state := range []WorkunitState{WorkunitCompleted, WorkunitFailed, WorkunitAborted, WorkunitArchived} {
		if !state.Terminal() {
			t.Fatalf("expected %s to be terminal", state)
		}
	}
	for _, state := range []WorkunitState{WorkunitSubmitted, WorkunitCompiling, WorkunitRunning, WorkunitUnknown} {
		if state.Terminal() {
			t.Fatalf("expected %s to be non-terminal", state)
		}
	}
	if NormalizeWorkunitState(" Completed ") != WorkunitCompleted {
		t.Fatalf("expected normalized completed state")
	}
	if NormalizeWorkunitState("") != WorkunitUnknown {
		t.Fatalf("expected unknown for empty state")
	}
}

func TestNormalizeKernelConfigDefaults(t *testing.T) {
	cfg, err := NormalizeKernelConfig(KernelConfig{SessionID: "s1", Cwd: "/tmp"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.ProtocolVersion != DefaultProtocolVersion {
		t.Fatalf("expected default protocol, got %q", cfg.ProtocolVersion)
	}
	if cfg.Target != DefaultTarget {
		t.Fatalf("expected default target, got %q", cfg.Target)
	}
	if cfg.ReplyTTL != DefaultReplyTTL || cfg.HistoryMax != DefaultHistoryMax {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := NormalizeKernelConfig(KernelConfig{SessionID: "s1", Cwd: "/tmp", ProtocolVersion: "x"}); err == nil {
		t.Fatalf("expected protocol version error")
	}
	if _, err := NormalizeKernelConfig(KernelConfig{Cwd: "/tmp"}); err == nil {
		t.Fatalf("expected session id error")
	}
}
