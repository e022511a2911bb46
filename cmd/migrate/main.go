package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/Generatorcc/emr-ehr-core/internal/migrate"
)

func main() {
	_ = godotenv.Load()

	var (
		dsn           = flag.String("dsn", os.Getenv("EMR_POSTGRES_DSN"), "postgres connection string")
		migrationsDir = flag.String("migrations", "ops/migrations/sql", "directory with .up.sql/.down.sql files")
		seedsDir      = flag.String("seeds", "ops/migrations/seeds", "directory with seed .sql files")
		timeout       = flag.Duration("timeout", 2*time.Minute, "overall timeout")
	)
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}
	if *dsn == "" {
		fail("missing -dsn or EMR_POSTGRES_DSN")
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		fail("open database: " + err.Error())
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		fail("ping database: " + err.Error())
	}

	mgr := migrate.NewManager(db, *migrationsDir, *seedsDir)

	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var applied []string
		applied, err = mgr.Status(ctx)
		if err == nil {
			if len(applied) == 0 {
				fmt.Println("no migrations applied")
			}
			for _, name := range applied {
				fmt.Println(name)
			}
		}
	default:
		fail("unknown command " + cmd + " (want up, down, seed or status)")
	}
	if err != nil {
		fail(cmd + ": " + err.Error())
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
