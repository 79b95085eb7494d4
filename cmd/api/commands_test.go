package main

import (
	"bytes"
	"strings"
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckConfigReportsProvidersWithoutSecrets(t *testing.T) {
	t.Setenv("IDENTITY_SESSION_SECRET", testSecret)
	t.Setenv("IDENTITY_OAUTH_GITHUB_CLIENT_ID", "gh-id")
	t.Setenv("IDENTITY_OAUTH_GITHUB_CLIENT_SECRET", "gh-very-secret")

	out, err := runCLI(t, "check-config")
	if err != nil {
		t.Fatalf("check-config: %v\n%s", err, out)
	}
	if !strings.Contains(out, "oauth providers: github") {
		t.Fatalf("expected github to be reported, got:\n%s", out)
	}
	if strings.Contains(out, "gh-very-secret") || strings.Contains(out, testSecret) {
		t.Fatalf("secrets leaked into output:\n%s", out)
	}
}

func TestCheckConfigRejectsWeakSecret(t *testing.T) {
	t.Setenv("IDENTITY_SESSION_SECRET", "short")

	out, err := runCLI(t, "check-config")
	if err == nil {
		t.Fatalf("expected validation failure, got:\n%s", out)
	}
	if !strings.Contains(out, "session.secret") {
		t.Fatalf("expected the failing key in output, got:\n%s", out)
	}
}

func TestMigrateRejectsUnknownCommand(t *testing.T) {
	if _, err := runCLI(t, "migrate", "sideways"); err == nil {
		t.Fatal("expected unknown migrate argument to be rejected")
	}
}
