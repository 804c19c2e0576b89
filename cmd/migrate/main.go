package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/payroll-backend/pkg/config"
	"github.com/angelmondragon/payroll-backend/pkg/db"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
	"github.com/angelmondragon/payroll-backend/pkg/migrate"
)

// errPending makes `-cmd=check` exit non-zero without logging a failure.
var errPending = errors.New("pending migrations")

type options struct {
	cmd      string
	dir      string
	name     string
	version  string
	embedded bool
}

// dbCommand runs against a live database.
type dbCommand func(ctx context.Context, runner *migrate.Runner, opts options) error

var dbCommands = map[string]dbCommand{
	"up": func(ctx context.Context, r *migrate.Runner, _ options) error {
		return r.Up(ctx)
	},
	"down": func(ctx context.Context, r *migrate.Runner, _ options) error {
		return r.Down(ctx)
	},
	"version": func(ctx context.Context, r *migrate.Runner, opts options) error {
		target, err := migrate.ParseVersion(opts.version)
		if err != nil {
			return err
		}
		return r.To(ctx, target)
	},
	"status": func(ctx context.Context, r *migrate.Runner, _ options) error {
		rows, err := r.Status(ctx)
		if err != nil {
			return err
		}
		return printStatus(rows)
	},
	"check": func(ctx context.Context, r *migrate.Runner, _ options) error {
		pending, err := r.Pending(ctx)
		if err != nil {
			return err
		}
		if pending {
			return errPending
		}
		return nil
	},
}

func main() {
	opts := options{}
	flag.StringVar(&opts.cmd, "cmd", "up", "migration command: up|down|status|version|check|create|validate")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.BoolVar(&opts.embedded, "embedded", false, "use the migrations compiled into the binary instead of -dir")
	flag.Parse()

	_ = godotenv.Load()

	if err := run(opts); err != nil {
		if errors.Is(err, errPending) {
			fmt.Fprintln(os.Stderr, "schema has pending migrations")
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", opts.cmd, err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": opts.cmd,
		"dir": opts.dir,
	})

	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return errors.New("missing -name")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	case "validate":
		if err := migrate.ValidateFS(migrationsFS(opts)); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	}

	command, ok := dbCommands[opts.cmd]
	if !ok {
		return fmt.Errorf("unknown command %q", opts.cmd)
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql database: %w", err)
	}
	runner, err := migrate.NewRunner(sqlDB, migrationsFS(opts), logg)
	if err != nil {
		return err
	}

	logg.Info(ctx, "migrate ready")
	return command(ctx, runner, opts)
}

func migrationsFS(opts options) fs.FS {
	if opts.embedded {
		return migrate.Migrations()
	}
	return os.DirFS(opts.dir)
}

func printStatus(rows []migrate.Status) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tMIGRATION")
	for _, row := range rows {
		state, at := "pending", "-"
		if row.Applied {
			state, at = "applied", row.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", row.Version, state, at, row.Name)
	}
	return w.Flush()
}
