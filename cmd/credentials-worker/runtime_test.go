package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-credentials/core"
)

const testConfig = `
service_name = "credentials-worker-test"

[provider]
app_id = "app-1"
app_secret = "app-secret"
redirect_uri = "https://app.example.com/oauth/callback"

[cipher]
key = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="
key_id = "test"

[scheduler]
refresh_interval = "1h"
sweep_concurrency = 2
`

func testCLI(t *testing.T, stateStore string) *cli {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "credentials.toml")
	if err := os.WriteFile(configPath, []byte(testConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cli{
		Config:     []string{configPath},
		Driver:     "sqlite3",
		DSN:        "file:" + filepath.Join(dir, "credentials.db") + "?_foreign_keys=on",
		StateStore: stateStore,
		LogLevel:   "error",
	}
}

func migrated(t *testing.T, root *cli) {
	t.Helper()
	client, err := openPersistence(root)
	if err != nil {
		t.Fatalf("open persistence: %v", err)
	}
	defer func() { _ = client.Close() }()
	if err := migrate(context.Background(), client, root.Driver); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestRuntimeWiresServiceAndSweeps(t *testing.T) {
	root := testCLI(t, "memory")
	migrated(t, root)

	ctx := context.Background()
	rt, err := newRuntime(ctx, root)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	if rt.service.Config().ServiceName != "credentials-worker-test" {
		t.Fatalf("expected config file to be applied, got %q", rt.service.Config().ServiceName)
	}
	deps := rt.service.Dependencies()
	if deps.CredentialStore == nil || deps.Cipher == nil || deps.Provider == nil {
		t.Fatalf("expected stores, cipher and provider to be wired: %#v", deps)
	}

	tenant, err := rt.service.CreateTenant(ctx, core.CreateTenantInput{Slug: "acme"})
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	summary, err := rt.service.TenantHealth(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("tenant health: %v", err)
	}
	if summary.TotalAccounts != 0 {
		t.Fatalf("expected empty tenant, got %#v", summary)
	}

	sweep, err := rt.scheduler.RunRefreshSweep(ctx)
	if err != nil {
		t.Fatalf("refresh sweep: %v", err)
	}
	if sweep.Total != 0 {
		t.Fatalf("expected nothing to refresh, got %#v", sweep)
	}
	if _, err := rt.scheduler.RunCleanupSweep(ctx); err != nil {
		t.Fatalf("cleanup sweep: %v", err)
	}
}

func TestRuntimeRejectsUnknownDriver(t *testing.T) {
	root := testCLI(t, "sql")
	root.Driver = "oracle"
	if _, err := openPersistence(root); err == nil {
		t.Fatalf("expected unsupported driver to fail")
	}
}
