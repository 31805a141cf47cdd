package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/showdown/go/internal/config"
	"github.com/mcdev12/showdown/go/internal/docstore"
	"github.com/mcdev12/showdown/go/internal/docstore/postgres"
	"github.com/mcdev12/showdown/go/internal/models"
)

// Creates the documents table and optionally seeds tournaments from a JSON file given
// as the first argument.
func main() {
	ctx := context.Background()

	cfg, err := config.Load(getEnv("SHOWDOWN_CONFIG", "config.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// 1) Connect
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 2) Schema
	if _, err := pool.Exec(ctx, postgres.Schema); err != nil {
		fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Schema applied")

	if len(os.Args) < 2 {
		return
	}

	// 3) Seed
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var tournaments []models.Tournament
	if err := json.Unmarshal(data, &tournaments); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	var (
		total    = len(tournaments)
		inserted int
		skipped  int
		errs     int
	)

	now := time.Now().UTC()
	for _, t := range tournaments {
		prepareSeed(&t, cfg.Defaults.Settings, now)
		body, err := json.Marshal(t)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error encoding tournament %s: %v\n", t.ID, err)
			errs++
			continue
		}

		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO documents (collection, id, body)
            VALUES ($1, $2, $3)
            ON CONFLICT (collection, id) DO NOTHING
        `, docstore.Tournaments, t.ID.String(), body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting tournament %s: %v\n", t.ID, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Tournament seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}

// prepareSeed fills what a hand-written seed file usually leaves out.
func prepareSeed(t *models.Tournament, defaults models.TournamentSettings, now time.Time) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = models.TournamentStatusRegistration
	}
	if t.Settings == (models.TournamentSettings{}) {
		t.Settings = defaults
	}
	if t.Participants == nil {
		t.Participants = []string{}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
