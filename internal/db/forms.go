package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marcus/vistoria/internal/models"
)

const formDefinitionColumns = `id, server_id, name, fields, last_modified, created_at`

// SaveFormDefinition upserts a form template keyed by its server id
func (db *DB) SaveFormDefinition(f *models.FormDefinition) (int64, error) {
	if f.ServerID == 0 {
		return 0, fmt.Errorf("save form definition: server id required")
	}
	fields, err := json.Marshal(fieldsOrEmpty(f.Fields))
	if err != nil {
		return 0, fmt.Errorf("marshal fields: %w", err)
	}
	now := toMillis(db.now())

	var id int64
	err = db.conn.QueryRow(`INSERT INTO form_definitions (server_id, name, fields, last_modified, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			name = excluded.name,
			fields = CASE WHEN excluded.fields = '[]' THEN form_definitions.fields ELSE excluded.fields END,
			last_modified = excluded.last_modified
		RETURNING id`,
		f.ServerID, f.Name, string(fields), now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert form definition %d: %w", f.ServerID, err)
	}

	saved, err := db.FormDefinitionByServerID(f.ServerID)
	if err != nil {
		return 0, err
	}
	*f = *saved
	return id, nil
}

// FormDefinitionByServerID returns the cached form template for a server id
func (db *DB) FormDefinitionByServerID(serverID int64) (*models.FormDefinition, error) {
	row := db.conn.QueryRow(`SELECT `+formDefinitionColumns+` FROM form_definitions WHERE server_id = ?`, serverID)
	f, err := scanFormDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("form definition %d: %w", serverID, ErrNotFound)
	}
	return f, err
}

// AllFormDefinitions returns every cached form template ordered by name
func (db *DB) AllFormDefinitions() ([]models.FormDefinition, error) {
	rows, err := db.conn.Query(`SELECT ` + formDefinitionColumns + ` FROM form_definitions ORDER BY name, server_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FormDefinition
	for rows.Next() {
		f, err := scanFormDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func scanFormDefinition(s rowScanner) (*models.FormDefinition, error) {
	var (
		f        models.FormDefinition
		fields   string
		modified int64
		created  int64
	)
	if err := s.Scan(&f.ID, &f.ServerID, &f.Name, &fields, &modified, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &f.Fields); err != nil {
		return nil, fmt.Errorf("form definition %d fields: %w", f.ServerID, err)
	}
	f.LastModified = fromMillis(modified)
	f.CreatedAt = fromMillis(created)
	return &f, nil
}
