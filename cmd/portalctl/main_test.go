package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func devEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PORTAL_ENV", "dev")
	t.Setenv("PORTAL_PG_DSN", "")
	t.Setenv("PORTAL_NATS_URL", "")
}

func TestAdminBootstrapPrintsGeneratedSecret(t *testing.T) {
	devEnv(t)
	out, err := run(t, "admin", "bootstrap",
		"--employee-code", "ADM-1",
		"--name", "Almaz Admin",
		"--email", "admin@erca.gov.et",
	)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !strings.Contains(out, "created super-admin ADM-1") {
		t.Fatalf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "one-time secret: ") {
		t.Fatalf("expected the generated secret to be printed: %q", out)
	}
}

func TestAdminBootstrapRequiresFlags(t *testing.T) {
	devEnv(t)
	if _, err := run(t, "admin", "bootstrap", "--name", "No Code"); err == nil {
		t.Fatal("expected missing required flags to fail")
	}
}

func TestSessionsSweepOnEmptyStore(t *testing.T) {
	devEnv(t)
	out, err := run(t, "sessions", "sweep")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if strings.TrimSpace(out) != "removed 0 expired sessions" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestMigrateRequiresDSN(t *testing.T) {
	devEnv(t)
	_, err := run(t, "migrate", "status")
	if err == nil || !strings.Contains(err.Error(), "missing DSN") {
		t.Fatalf("expected missing DSN error, got %v", err)
	}
}

func TestRanksSeedRejectsBadCatalog(t *testing.T) {
	devEnv(t)
	if _, err := run(t, "ranks", "seed", "--file", "/nonexistent/ranks.yaml"); err == nil {
		t.Fatal("expected an unreadable catalog to fail")
	}
}
