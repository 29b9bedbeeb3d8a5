package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/jem-cart/pkg/config"
	"github.com/angelmondragon/jem-cart/pkg/db"
	"github.com/angelmondragon/jem-cart/pkg/logger"
	"github.com/angelmondragon/jem-cart/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "jem-migrate"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), "no .env file found, relying on environment")
	}

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", "", "read migrations from this directory instead of the embedded set")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	var source fs.FS
	if *dir != "" {
		source = os.DirFS(*dir)
	}

	// create and validate never touch the database.
	switch *cmd {
	case "create":
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(target, *name)
		if err != nil {
			fail("failed to create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return

	case "validate":
		if source == nil {
			source = migrate.Migrations()
		}
		if err := migrate.ValidateFS(source); err != nil {
			fail("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.LoadDatabase()
	if err != nil {
		fail("failed to load config: %v", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: "jem-migrate",
		Level:       cfg.App.LogLevel,
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": *cmd})

	if err := run(ctx, logg, cfg.DB, source, *cmd, *version); err != nil {
		logg.Error(ctx, "migration failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logg *logger.Logger, dbCfg config.DBConfig, source fs.FS, cmd, version string) error {
	dbClient, err := db.New(ctx, dbCfg, logg)
	if err != nil {
		return err
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	runner, err := migrate.NewRunner(sqlDB, source)
	if err != nil {
		return err
	}

	switch cmd {
	case "up":
		results, err := runner.Up(ctx)
		printResults(results...)
		return err
	case "down":
		result, err := runner.Down(ctx)
		if result != nil {
			printResults(result)
		}
		return err
	case "version":
		if version == "" {
			return fmt.Errorf("missing -version for version command")
		}
		results, err := runner.To(ctx, version)
		printResults(results...)
		return err
	case "status":
		statuses, err := runner.Status(ctx)
		if err != nil {
			return err
		}
		for _, st := range statuses {
			applied := "-"
			if !st.AppliedAt.IsZero() {
				applied = st.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-8s %-20s %s\n", st.State, applied, st.Source.Path)
		}
		return nil
	default:
		return fmt.Errorf("unknown -cmd value: %s", cmd)
	}
}

func printResults[T fmt.Stringer](results ...T) {
	for _, result := range results {
		fmt.Println(result.String())
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
