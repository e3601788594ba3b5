package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/db"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/migrate"
)

const usage = `usage: migrate [-dir path] <command> [arg]

commands:
  up                 apply every pending migration
  down               roll back the newest migration
  status             list migrations and when they were applied
  to <version>       move the schema to YYYYMMDDHHMMSS
  create <name>      write an empty migration into -dir
  validate           check names and goose sections

Without -dir the migrations compiled into the binary are used.
`

func main() {
	dir := flag.String("dir", "", "migrations directory (default: embedded)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, arg := flag.Arg(0), flag.Arg(1)

	// create and validate work on files only
	switch cmd {
	case "create":
		if *dir == "" || arg == "" {
			fail("create needs -dir and a name")
		}
		path, err := migrate.CreateSQLMigration(*dir, arg)
		if err != nil {
			fail(err.Error())
		}
		fmt.Println("created", path)
		return
	case "validate":
		if err := migrate.ValidateFS(source(*dir)); err != nil {
			fail(err.Error())
		}
		fmt.Println("migrations valid")
		return
	}

	_ = godotenv.Load()
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": cmd})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to connect database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "failed to open sql handle", err)
		os.Exit(1)
	}
	migrator, err := migrate.NewMigrator(sqlDB, source(*dir), logg)
	if err != nil {
		logg.Error(ctx, "failed to load migrations", err)
		os.Exit(1)
	}

	switch cmd {
	case "up":
		err = migrator.Up(ctx)
	case "down":
		err = migrator.Down(ctx)
	case "to":
		var target int64
		if target, err = migrate.ParseVersion(arg); err == nil {
			err = migrator.To(ctx, target)
		}
	case "status":
		err = printStatus(ctx, migrator)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logg.Error(ctx, "migration command failed", err)
		os.Exit(1)
	}
}

func source(dir string) fs.FS {
	if dir == "" {
		return migrate.Migrations()
	}
	return os.DirFS(dir)
}

func printStatus(ctx context.Context, migrator *migrate.Migrator) error {
	statuses, err := migrator.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, s := range statuses {
		applied := "-"
		if !s.AppliedAt.IsZero() {
			applied = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Source.Version, s.State, applied, s.Source.Path)
	}
	return w.Flush()
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
