package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"imprintr/guard/internal/audit"
	"imprintr/guard/internal/auth"
)

// waitforpostgres blocks until Postgres answers a ping. With
// WAIT_FOR_POSTGRES_ENSURE_SCHEMA=1 it also creates the user_roles and
// security_events tables so the service starts against a prepared database.
func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("TEST_POSTGRES_DSN")
	}
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL or TEST_POSTGRES_DSN is required")
		os.Exit(2)
	}

	timeout := 60 * time.Second
	if raw := os.Getenv("WAIT_FOR_POSTGRES_TIMEOUT_SEC"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			fmt.Fprintf(os.Stderr, "invalid WAIT_FOR_POSTGRES_TIMEOUT_SEC: %q\n", raw)
			os.Exit(2)
		}
		timeout = time.Duration(secs) * time.Second
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open postgres: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := waitForPing(db, timeout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("postgres ready")

	if os.Getenv("WAIT_FOR_POSTGRES_ENSURE_SCHEMA") == "1" {
		if _, err := auth.NewPostgresRoleStore(db); err != nil {
			fmt.Fprintf(os.Stderr, "ensure schema: %v\n", err)
			os.Exit(1)
		}
		if _, err := audit.NewPostgresSink(db); err != nil {
			fmt.Fprintf(os.Stderr, "ensure schema: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("schema ready")
	}
}

func waitForPing(db *sql.DB, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := db.PingContext(ctx)
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("postgres not ready within %s: %w", timeout, err)
		}
		time.Sleep(2 * time.Second)
	}
}
