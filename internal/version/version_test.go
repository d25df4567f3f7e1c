package version

import (
	"runtime"
	"testing"
)

func TestSetDefaults(t *testing.T) {
	prev := Current()
	t.Cleanup(func() { Set(prev) })

	Set(Info{Commit: "abc123"})
	got := Current()
	if got.Version != "dev" {
		t.Fatalf("expected dev version, got %q", got.Version)
	}
	if got.GoVersion != runtime.Version() {
		t.Fatalf("expected go version %q, got %q", runtime.Version(), got.GoVersion)
	}
}

func TestInfoString(t *testing.T) {
	info := Info{Version: "1.2.0", Commit: "abc123", BuildTime: "2024-05-01T10:00:00Z", GoVersion: "go1.25.1"}
	if got, want := info.String(), "1.2.0 (commit abc123, built 2024-05-01T10:00:00Z, go1.25.1)"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}

	info.Commit = ""
	info.BuildTime = ""
	if got, want := info.String(), "1.2.0 (commit unknown, go1.25.1)"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
