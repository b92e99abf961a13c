package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marcus/vistoria/internal/models"
)

const checklistColumns = `id, server_id, title, fields, sync_status, last_modified, created_at`

// SaveChecklist inserts a checklist, stamping its timestamps and local id
func (db *DB) SaveChecklist(c *models.Checklist) (int64, error) {
	fields, err := json.Marshal(fieldsOrEmpty(c.Fields))
	if err != nil {
		return 0, fmt.Errorf("marshal fields: %w", err)
	}
	if c.SyncStatus == "" {
		c.SyncStatus = models.SyncLocalOnly
	}
	now := db.now()
	c.CreatedAt = now
	c.LastModified = now

	res, err := db.conn.Exec(`INSERT INTO checklists (server_id, title, fields, sync_status, last_modified, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		nullID(c.ServerID), c.Title, string(fields), c.SyncStatus, toMillis(now), toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("insert checklist: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

// ChecklistUpdate holds the fields to change; nil fields are left alone
type ChecklistUpdate struct {
	ServerID   *int64
	Title      *string
	Fields     []models.FieldDef
	SyncStatus *models.SyncStatus
}

// UpdateChecklist applies a partial update and re-stamps last_modified
func (db *DB) UpdateChecklist(id int64, u ChecklistUpdate) error {
	sets := []string{"last_modified = ?"}
	args := []any{toMillis(db.now())}
	if u.ServerID != nil {
		sets = append(sets, "server_id = ?")
		args = append(args, nullID(*u.ServerID))
	}
	if u.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *u.Title)
	}
	if u.Fields != nil {
		fields, err := json.Marshal(u.Fields)
		if err != nil {
			return fmt.Errorf("marshal fields: %w", err)
		}
		sets = append(sets, "fields = ?")
		args = append(args, string(fields))
	}
	if u.SyncStatus != nil {
		sets = append(sets, "sync_status = ?")
		args = append(args, *u.SyncStatus)
	}
	return db.update("checklists", "checklist", id, sets, args)
}

// GetChecklist returns a checklist by local id
func (db *DB) GetChecklist(id int64) (*models.Checklist, error) {
	row := db.conn.QueryRow(`SELECT `+checklistColumns+` FROM checklists WHERE id = ?`, id)
	c, err := scanChecklist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checklist %d: %w", id, ErrNotFound)
	}
	return c, err
}

// ChecklistByServerID returns the cached checklist with the given server id
func (db *DB) ChecklistByServerID(serverID int64) (*models.Checklist, error) {
	row := db.conn.QueryRow(`SELECT `+checklistColumns+` FROM checklists
		WHERE server_id = ? ORDER BY id DESC LIMIT 1`, serverID)
	c, err := scanChecklist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checklist with server id %d: %w", serverID, ErrNotFound)
	}
	return c, err
}

// AllChecklists returns every cached checklist, most recently modified first
func (db *DB) AllChecklists() ([]models.Checklist, error) {
	rows, err := db.conn.Query(`SELECT ` + checklistColumns + ` FROM checklists ORDER BY last_modified DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Checklist
	for rows.Next() {
		c, err := scanChecklist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// EvictChecklist removes a checklist together with its responses, field
// answers and file jobs. Queue items are left alone; the sync manager skips
// jobs whose rows are gone.
func (db *DB) EvictChecklist(id int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM file_queue WHERE response_id IN (SELECT id FROM form_responses WHERE checklist_id = ?)`,
		`DELETE FROM field_responses WHERE response_id IN (SELECT id FROM form_responses WHERE checklist_id = ?)`,
		`DELETE FROM form_responses WHERE checklist_id = ?`,
		`DELETE FROM checklists WHERE id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, id); err != nil {
			return fmt.Errorf("evict checklist %d: %w", id, err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChecklist(s rowScanner) (*models.Checklist, error) {
	var (
		c        models.Checklist
		serverID sql.NullInt64
		fields   string
		modified int64
		created  int64
	)
	if err := s.Scan(&c.ID, &serverID, &c.Title, &fields, &c.SyncStatus, &modified, &created); err != nil {
		return nil, err
	}
	c.ServerID = serverID.Int64
	if err := json.Unmarshal([]byte(fields), &c.Fields); err != nil {
		return nil, fmt.Errorf("checklist %d fields: %w", c.ID, err)
	}
	c.LastModified = fromMillis(modified)
	c.CreatedAt = fromMillis(created)
	return &c, nil
}

func fieldsOrEmpty(f []models.FieldDef) []models.FieldDef {
	if f == nil {
		return []models.FieldDef{}
	}
	return f
}

// update runs an UPDATE built from sets/args and maps zero rows to ErrNotFound
func (db *DB) update(table, what string, id int64, sets []string, args []any) error {
	query := `UPDATE ` + table + ` SET `
	for i, s := range sets {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := db.conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update %s %d: %w", what, id, err)
	}
	return expectOne(res, what, id)
}
