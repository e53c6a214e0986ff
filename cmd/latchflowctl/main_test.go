package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestRun_NoArgsPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	code := Run([]string{"latchflowctl"}, &out, &out)
	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "latchflowctl") {
		t.Fatalf("usage output missing program name: %q", out.String())
	}
}

func TestRun_UnknownSubcommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"latchflowctl", "bogus"}, &out, &errOut)
	if code != 2 {
		t.Fatalf("code = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "bogus") {
		t.Fatalf("stderr should name the unknown subcommand: %q", errOut.String())
	}
}

func TestRunDoctor_MissingDatabaseURL(t *testing.T) {
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("STORAGE_DRIVER")
	t.Setenv("STORAGE_PREFIX", t.TempDir())

	var out, errOut bytes.Buffer
	code := runDoctor(&out, &errOut)
	if code != 1 {
		t.Fatalf("code = %d, want 1 (DATABASE_URL unset should fail)", code)
	}
	if !strings.Contains(out.String(), "database_url") {
		t.Fatalf("doctor output missing database_url check: %q", out.String())
	}
}

func TestRunDoctor_SqliteReachable(t *testing.T) {
	dbPath := t.TempDir() + "/doctor.db"
	t.Setenv("DATABASE_URL", "sqlite:"+dbPath)
	t.Setenv("STORAGE_DRIVER", "local")
	t.Setenv("STORAGE_PREFIX", t.TempDir())
	t.Setenv("PLUGINS_PATH", "")

	var out, errOut bytes.Buffer
	code := runDoctor(&out, &errOut)
	if code != 0 {
		t.Fatalf("code = %d, want 0: %s / %s", code, out.String(), errOut.String())
	}
}

func TestRunDoctor_UnknownStorageDriver(t *testing.T) {
	dbPath := t.TempDir() + "/doctor.db"
	t.Setenv("DATABASE_URL", "sqlite:"+dbPath)
	t.Setenv("STORAGE_DRIVER", "nope")

	var out, errOut bytes.Buffer
	code := runDoctor(&out, &errOut)
	if code != 1 {
		t.Fatalf("code = %d, want 1 for unknown storage driver", code)
	}
}

func TestRunMigrate_IsNoOp(t *testing.T) {
	var out bytes.Buffer
	code := runMigrate(nil, &out, &out)
	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "out of scope") {
		t.Fatalf("migrate should explain it's a no-op: %q", out.String())
	}
}

func TestRunSimulate_RequestFailureReturnsNonZero(t *testing.T) {
	t.Setenv("LATCHFLOW_URL", "http://127.0.0.1:1")
	f := t.TempDir() + "/req.json"
	if err := os.WriteFile(f, []byte(`{"resource":"bundle","action":"read"}`), 0644); err != nil {
		t.Fatal(err)
	}

	var out, errOut bytes.Buffer
	code := runSimulate([]string{f}, &out, &errOut)
	if code != 1 {
		t.Fatalf("code = %d, want 1 when the server is unreachable", code)
	}
}
