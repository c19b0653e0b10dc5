// Package main applies the error-log schema to the configured Postgres
// database.
//
//	migrate up
//	migrate down -steps 1
//	migrate version
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/Centace/centace/internal/config"
	"github.com/Centace/centace/internal/platform/migrations"
	"github.com/Centace/centace/pkg/logger"
)

func main() {
	dsn := flag.String("dsn", "", "Postgres DSN (defaults to DATABASE_URL)")
	steps := flag.Int("steps", 1, "number of migrations to roll back with down")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] up|down|version\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logger.NewDefault("migrate")
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if *dsn == "" {
		cfg, err := config.Load()
		if err != nil {
			log.WithError(err).Fatal("load config")
		}
		*dsn = cfg.Storage.DatabaseURL
	}
	if *dsn == "" {
		log.Fatal("DATABASE_URL or -dsn is required")
	}

	db, err := sqlx.Open("postgres", *dsn)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer db.Close()

	switch cmd := flag.Arg(0); cmd {
	case "up":
		err = migrations.Up(db.DB)
	case "down":
		err = migrations.Down(db.DB, *steps)
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = migrations.Version(db.DB)
		if err == nil {
			fmt.Printf("version=%d dirty=%t\n", version, dirty)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Fatalf("migrate %s", flag.Arg(0))
	}
	log.WithField("command", flag.Arg(0)).Info("done")
}
