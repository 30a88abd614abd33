// migrate applies the embedded audit-database migrations. The DSN comes
// from the same config file controld runs with (audit.postgres_dsn), or
// directly via -dsn.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"appwritectl/internal/config"
	"appwritectl/migrations"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

var loadConfig = config.LoadConfig

func run(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "controld config JSON (uses audit.postgres_dsn)")
	dsn := fs.String("dsn", "", "postgres DSN (overrides the config file)")
	action := fs.String("action", "up", "up/down/status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	target, err := resolveDSN(*configPath, *dsn)
	if err != nil {
		return err
	}
	apply, err := actionFunc(*action)
	if err != nil {
		return err
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	goose.SetBaseFS(migrations.EmbeddedFS)

	db, err := sql.Open("postgres", target)
	if err != nil {
		return err
	}
	defer db.Close()
	return apply(db)
}

// resolveDSN prefers an explicit -dsn, then the config file's audit
// section.
func resolveDSN(configPath, dsn string) (string, error) {
	if strings.TrimSpace(dsn) != "" {
		return dsn, nil
	}
	if strings.TrimSpace(configPath) == "" {
		return "", errors.New("either -config or -dsn required")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(cfg.Audit.PostgresDSN) == "" {
		return "", errors.New("audit.postgres_dsn not set in config")
	}
	return cfg.Audit.PostgresDSN, nil
}

func actionFunc(action string) (func(*sql.DB) error, error) {
	switch action {
	case "up":
		return func(db *sql.DB) error { return goose.Up(db, ".") }, nil
	case "down":
		return func(db *sql.DB) error { return goose.Down(db, ".") }, nil
	case "status":
		return func(db *sql.DB) error { return goose.Status(db, ".") }, nil
	default:
		return nil, fmt.Errorf("unknown action %q (want up, down, or status)", action)
	}
}
