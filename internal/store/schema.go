package store

import (
	"context"
	"fmt"
	"sort"
)

// Schema creates the tables SyncReport writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS run_reports (
    run_id             TEXT PRIMARY KEY,
    skill_id           TEXT NOT NULL,
    skill_version      INTEGER NOT NULL,
    status             TEXT NOT NULL,
    failure_class      TEXT,
    steps_completed    INTEGER NOT NULL,
    steps_total        INTEGER NOT NULL,
    created_invoice_id TEXT,
    final_url          TEXT,
    error              TEXT,
    started_at         TIMESTAMPTZ NOT NULL,
    finished_at        TIMESTAMPTZ,
    report             JSONB NOT NULL,
    synced_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS run_artifacts (
    run_id TEXT NOT NULL REFERENCES run_reports (run_id) ON DELETE CASCADE,
    name   TEXT NOT NULL,
    path   TEXT NOT NULL,
    PRIMARY KEY (run_id, name)
);
`

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
