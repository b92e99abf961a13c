package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marcus/vistoria/internal/models"
)

const formResponseColumns = `id, checklist_id, server_checklist_id, server_response_id, form_server_id,
	form_values, is_complete, sync_status, last_modified, created_at`

// CreateFormResponse inserts a new answer-set for a checklist
func (db *DB) CreateFormResponse(r *models.FormResponse) (int64, error) {
	values, err := marshalFormValues(r.FormValues)
	if err != nil {
		return 0, err
	}
	if r.SyncStatus == "" {
		r.SyncStatus = models.SyncLocalOnly
	}
	now := db.now()
	r.CreatedAt = now
	r.LastModified = now

	res, err := db.conn.Exec(`INSERT INTO form_responses
		(checklist_id, server_checklist_id, server_response_id, form_server_id, form_values, is_complete, sync_status, last_modified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ChecklistID, nullID(r.ServerChecklistID), nullID(r.ServerResponseID), nullID(r.FormServerID),
		values, boolToInt(r.IsComplete), r.SyncStatus, toMillis(now), toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("insert form response: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// FormResponseUpdate holds the fields to change; nil fields are left alone
type FormResponseUpdate struct {
	ServerChecklistID *int64
	ServerResponseID  *int64
	FormValues        map[string]any
	IsComplete        *bool
	SyncStatus        *models.SyncStatus
}

// UpdateFormResponse applies a partial update and re-stamps last_modified
func (db *DB) UpdateFormResponse(id int64, u FormResponseUpdate) error {
	sets := []string{"last_modified = ?"}
	args := []any{toMillis(db.now())}
	if u.ServerChecklistID != nil {
		sets = append(sets, "server_checklist_id = ?")
		args = append(args, nullID(*u.ServerChecklistID))
	}
	if u.ServerResponseID != nil {
		sets = append(sets, "server_response_id = ?")
		args = append(args, nullID(*u.ServerResponseID))
	}
	if u.FormValues != nil {
		values, err := marshalFormValues(u.FormValues)
		if err != nil {
			return err
		}
		sets = append(sets, "form_values = ?")
		args = append(args, values)
	}
	if u.IsComplete != nil {
		sets = append(sets, "is_complete = ?")
		args = append(args, boolToInt(*u.IsComplete))
	}
	if u.SyncStatus != nil {
		sets = append(sets, "sync_status = ?")
		args = append(args, *u.SyncStatus)
	}
	return db.update("form_responses", "form response", id, sets, args)
}

// SetResponseServerIDs stamps the server ids on a response and copies the
// response id onto its pending field rows in one transaction
func (db *DB) SetResponseServerIDs(id, serverChecklistID, serverResponseID int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := toMillis(db.now())
	res, err := tx.Exec(`UPDATE form_responses SET server_checklist_id = ?, server_response_id = ?, last_modified = ?
		WHERE id = ?`, nullID(serverChecklistID), nullID(serverResponseID), now, id)
	if err != nil {
		return fmt.Errorf("update form response %d: %w", id, err)
	}
	if err := expectOne(res, "form response", id); err != nil {
		return err
	}
	// last_modified on field rows is left alone so in-flight jobs still recognise them
	if _, err := tx.Exec(`UPDATE field_responses SET server_response_id = ? WHERE response_id = ?`,
		nullID(serverResponseID), id); err != nil {
		return fmt.Errorf("update field responses of %d: %w", id, err)
	}
	return tx.Commit()
}

// GetFormResponse returns a response by local id
func (db *DB) GetFormResponse(id int64) (*models.FormResponse, error) {
	row := db.conn.QueryRow(`SELECT `+formResponseColumns+` FROM form_responses WHERE id = ?`, id)
	r, err := scanFormResponse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("form response %d: %w", id, ErrNotFound)
	}
	return r, err
}

// FormResponsesByChecklist returns every response of a checklist, newest first
func (db *DB) FormResponsesByChecklist(checklistID int64) ([]models.FormResponse, error) {
	return db.queryFormResponses(`SELECT `+formResponseColumns+` FROM form_responses
		WHERE checklist_id = ? ORDER BY created_at DESC, id DESC`, checklistID)
}

// FormResponseByServerResponseID finds the local response mirroring a server response
func (db *DB) FormResponseByServerResponseID(serverResponseID int64) (*models.FormResponse, error) {
	row := db.conn.QueryRow(`SELECT `+formResponseColumns+` FROM form_responses
		WHERE server_response_id = ? ORDER BY id DESC LIMIT 1`, serverResponseID)
	r, err := scanFormResponse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("form response with server id %d: %w", serverResponseID, ErrNotFound)
	}
	return r, err
}

// ActiveFormResponse returns the most recently created response of a checklist
func (db *DB) ActiveFormResponse(checklistID int64) (*models.FormResponse, error) {
	row := db.conn.QueryRow(`SELECT `+formResponseColumns+` FROM form_responses
		WHERE checklist_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, checklistID)
	r, err := scanFormResponse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active response for checklist %d: %w", checklistID, ErrNotFound)
	}
	return r, err
}

// DeleteFormResponseAndFields removes a response and everything hanging off it
func (db *DB) DeleteFormResponseAndFields(id int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM file_queue WHERE response_id = ?`,
		`DELETE FROM field_responses WHERE response_id = ?`,
		`DELETE FROM form_responses WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, id); err != nil {
			return fmt.Errorf("delete form response %d: %w", id, err)
		}
	}
	return tx.Commit()
}

func (db *DB) queryFormResponses(query string, args ...any) ([]models.FormResponse, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FormResponse
	for rows.Next() {
		r, err := scanFormResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanFormResponse(s rowScanner) (*models.FormResponse, error) {
	var (
		r                                 models.FormResponse
		serverChecklist, serverResp, form sql.NullInt64
		values                            string
		complete                          int
		modified, created                 int64
	)
	if err := s.Scan(&r.ID, &r.ChecklistID, &serverChecklist, &serverResp, &form,
		&values, &complete, &r.SyncStatus, &modified, &created); err != nil {
		return nil, err
	}
	r.ServerChecklistID = serverChecklist.Int64
	r.ServerResponseID = serverResp.Int64
	r.FormServerID = form.Int64
	if values != "" && values != "{}" {
		if err := json.Unmarshal([]byte(values), &r.FormValues); err != nil {
			return nil, fmt.Errorf("form response %d values: %w", r.ID, err)
		}
	}
	r.IsComplete = complete != 0
	r.LastModified = fromMillis(modified)
	r.CreatedAt = fromMillis(created)
	return &r, nil
}

func marshalFormValues(v map[string]any) (string, error) {
	if len(v) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal form values: %w", err)
	}
	return string(data), nil
}
