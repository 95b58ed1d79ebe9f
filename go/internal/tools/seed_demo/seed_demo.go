package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/cylink/go/internal/dbconfig"
	"github.com/mcdev12/cylink/go/internal/models"
)

// DemoSession mirrors the JSON snapshot
type DemoSession struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Program *models.Program `json:"program"`
}

func main() {
	// 1) Load the JSON snapshot
	path := "go/internal/assets/demo_sessions.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var demos []DemoSession
	if err := json.Unmarshal(data, &demos); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig; the server creates the tables on start
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	now := time.Now().UTC()
	var (
		total    = len(demos)
		inserted int
		skipped  int
		programs int
		errs     int
	)

	// 3) Upsert sessions and their programs
	for _, d := range demos {
		s := models.NewSession(d.ID, d.Name, now)
		tag, err := pool.Exec(ctx, `
            INSERT INTO sessions (
              id, name, created_at, color, effect, mode,
              is_program_running, connected_users, run_generation, updated_at
            ) VALUES ($1,$2,$3,$4,$5,$6,false,0,0,$3)
            ON CONFLICT (id) DO NOTHING
        `, s.ID, s.Name, s.CreatedAt, s.Color, string(s.Effect), string(s.Mode))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting session %s: %v\n", d.ID, err)
			errs++
			continue
		}
		if tag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}

		if d.Program == nil {
			continue
		}
		p := d.Program.Clone()
		p.Normalize()
		if err := p.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid program for session %s: %v\n", d.ID, err)
			errs++
			continue
		}
		segments, err := json.Marshal(p.Segments)
		if err != nil {
			errs++
			continue
		}
		if _, err := pool.Exec(ctx, `
            INSERT INTO programs (
              session_id, id, name, segments, total_duration, created_at, updated_at
            ) VALUES ($1,$2,$3,$4,$5,$6,$6)
            ON CONFLICT (session_id) DO UPDATE SET
              name = EXCLUDED.name,
              segments = EXCLUDED.segments,
              total_duration = EXCLUDED.total_duration,
              updated_at = EXCLUDED.updated_at
        `, d.ID, p.ID, p.Name, segments, p.TotalDuration, now); err != nil {
			fmt.Fprintf(os.Stderr, "error upserting program for %s: %v\n", d.ID, err)
			errs++
			continue
		}
		programs++
	}

	fmt.Printf(
		"Demo seed: total=%d inserted=%d skipped=%d programs=%d errors=%d\n",
		total, inserted, skipped, programs, errs,
	)
}
