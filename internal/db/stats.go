package db

import (
	"fmt"

	"github.com/marcus/vistoria/internal/models"
)

// DatabaseStats returns row counts for every local table
func (db *DB) DatabaseStats() (models.DatabaseStats, error) {
	var stats models.DatabaseStats
	targets := []struct {
		table Table
		dest  *int
	}{
		{TableChecklists, &stats.Checklists},
		{TableFormDefinitions, &stats.FormDefinitions},
		{TableFormResponses, &stats.FormResponses},
		{TableFieldResponses, &stats.FieldResponses},
		{TableSyncQueue, &stats.SyncQueue},
		{TableFileQueue, &stats.FileQueue},
	}
	for _, t := range targets {
		if err := db.conn.QueryRow(`SELECT COUNT(*) FROM ` + string(t.table)).Scan(t.dest); err != nil {
			return stats, fmt.Errorf("count %s: %w", t.table, err)
		}
	}
	return stats, nil
}
