// Command credentials-worker runs the credential refresh and cleanup sweeps.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
)

type cli struct {
	Config     []string `help:"TOML config files, later files win." default:"credentials.toml" sep:","`
	Driver     string   `help:"Database driver." default:"sqlite3" enum:"sqlite3,postgres" env:"CREDENTIALS_DB_DRIVER"`
	DSN        string   `help:"Database connection string." required:"" env:"CREDENTIALS_DB_DSN"`
	StateStore string   `help:"Authorization state backend." default:"sql" enum:"sql,redis,memory" env:"CREDENTIALS_STATE_STORE"`
	RedisAddr  string   `help:"Redis address for the redis state backend." default:"localhost:6379" env:"CREDENTIALS_REDIS_ADDR"`
	LogLevel   string   `help:"Log level." default:"info" env:"CREDENTIALS_LOG_LEVEL"`
	LogPretty  bool     `help:"Human readable logs." env:"CREDENTIALS_LOG_PRETTY"`

	Run     runCmd     `cmd:"" default:"1" help:"Run refresh and cleanup sweeps on their schedules."`
	Sweep   sweepCmd   `cmd:"" help:"Run one refresh sweep and exit."`
	Cleanup cleanupCmd `cmd:"" help:"Delete expired authorization states and exit."`
	Migrate migrateCmd `cmd:"" help:"Apply database migrations."`
	Health  healthCmd  `cmd:"" help:"Print the credential health summary of a tenant."`
}

type runCmd struct {
	StopTimeout time.Duration `help:"How long to wait for in-flight sweeps on shutdown." default:"30s"`
}

func (c *runCmd) Run(root *cli) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, root)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.scheduler.Start(ctx); err != nil {
		return err
	}
	rt.logger.Info("credentials worker running", "state_store", root.StateStore, "driver", root.Driver)
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), c.StopTimeout)
	defer cancel()
	if err := rt.scheduler.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	rt.logger.Info("credentials worker stopped")
	return nil
}

type sweepCmd struct{}

func (c *sweepCmd) Run(root *cli) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx, root)
	if err != nil {
		return err
	}
	defer rt.Close()

	summary, err := rt.scheduler.RunRefreshSweep(ctx)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

type cleanupCmd struct{}

func (c *cleanupCmd) Run(root *cli) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx, root)
	if err != nil {
		return err
	}
	defer rt.Close()

	deleted, err := rt.scheduler.RunCleanupSweep(ctx)
	if err != nil {
		return err
	}
	return printJSON(map[string]int64{"deleted": deleted})
}

type migrateCmd struct{}

func (c *migrateCmd) Run(root *cli) error {
	ctx := context.Background()
	client, err := openPersistence(root)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	return migrate(ctx, client, root.Driver)
}

type healthCmd struct {
	Tenant string `arg:"" help:"Tenant id."`
}

func (c *healthCmd) Run(root *cli) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx, root)
	if err != nil {
		return err
	}
	defer rt.Close()

	summary, err := rt.service.TenantHealth(ctx, c.Tenant)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func main() {
	var root cli
	kctx := kong.Parse(&root,
		kong.Name("credentials-worker"),
		kong.Description("Keeps tenant OAuth credentials fresh."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(kctx.Run(&root))
}
