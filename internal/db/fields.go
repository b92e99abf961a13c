package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/vistoria/internal/models"
)

const fieldResponseColumns = `id, response_id, field_id, server_field_id, server_response_id,
	value, sync_status, last_modified, created_at`

// SaveFieldResponse upserts the answer for (ResponseID, FieldID). A second
// write for the same pair updates the existing row in place. Server ids
// already recorded on the row are kept when the new write leaves them unset.
func (db *DB) SaveFieldResponse(f *models.FieldResponse) (int64, error) {
	value, err := models.EncodeValue(f.Value)
	if err != nil {
		return 0, err
	}
	if f.SyncStatus == "" {
		f.SyncStatus = models.SyncLocalOnly
	}
	now := toMillis(db.now())

	var id int64
	err = db.conn.QueryRow(`INSERT INTO field_responses
		(response_id, field_id, server_field_id, server_response_id, value, sync_status, last_modified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(response_id, field_id) DO UPDATE SET
			server_field_id = COALESCE(excluded.server_field_id, field_responses.server_field_id),
			server_response_id = COALESCE(excluded.server_response_id, field_responses.server_response_id),
			value = excluded.value,
			sync_status = excluded.sync_status,
			last_modified = excluded.last_modified
		RETURNING id`,
		f.ResponseID, f.FieldID, nullID(f.ServerFieldID), nullID(f.ServerResponseID),
		string(value), f.SyncStatus, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert field response %d/%d: %w", f.ResponseID, f.FieldID, err)
	}

	saved, err := db.GetFieldResponse(id)
	if err != nil {
		return 0, err
	}
	*f = *saved
	return id, nil
}

// UpdateFieldStatus sets the sync status of a field answer
func (db *DB) UpdateFieldStatus(id int64, status models.SyncStatus) error {
	res, err := db.conn.Exec(`UPDATE field_responses SET sync_status = ?, last_modified = ? WHERE id = ?`,
		status, toMillis(db.now()), id)
	if err != nil {
		return fmt.Errorf("update field response %d: %w", id, err)
	}
	return expectOne(res, "field response", id)
}

// MarkFieldsError flags every listed field answer as failed without touching
// last_modified, so a later delete-if-unchanged still matches
func (db *DB) MarkFieldsError(ids []int64) error {
	for _, id := range ids {
		if _, err := db.conn.Exec(`UPDATE field_responses SET sync_status = ? WHERE id = ?`,
			models.SyncError, id); err != nil {
			return fmt.Errorf("mark field response %d: %w", id, err)
		}
	}
	return nil
}

// DeleteFieldResponseIfUnchanged removes a field answer only if nobody wrote
// to it after since. Reports whether a row was deleted.
func (db *DB) DeleteFieldResponseIfUnchanged(id int64, since time.Time) (bool, error) {
	res, err := db.conn.Exec(`DELETE FROM field_responses WHERE id = ? AND last_modified <= ?`,
		id, toMillis(since))
	if err != nil {
		return false, fmt.Errorf("delete field response %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetFieldResponse returns a field answer by local id
func (db *DB) GetFieldResponse(id int64) (*models.FieldResponse, error) {
	row := db.conn.QueryRow(`SELECT `+fieldResponseColumns+` FROM field_responses WHERE id = ?`, id)
	f, err := scanFieldResponse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("field response %d: %w", id, ErrNotFound)
	}
	return f, err
}

// FieldResponseFor returns the answer for one field of a response
func (db *DB) FieldResponseFor(responseID, fieldID int64) (*models.FieldResponse, error) {
	row := db.conn.QueryRow(`SELECT `+fieldResponseColumns+` FROM field_responses
		WHERE response_id = ? AND field_id = ?`, responseID, fieldID)
	f, err := scanFieldResponse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("field response %d/%d: %w", responseID, fieldID, ErrNotFound)
	}
	return f, err
}

// FieldResponsesByResponse returns the pending answers of one response
func (db *DB) FieldResponsesByResponse(responseID int64) ([]models.FieldResponse, error) {
	return db.queryFieldResponses(`SELECT `+fieldResponseColumns+` FROM field_responses
		WHERE response_id = ? ORDER BY id`, responseID)
}

// UnsyncedFieldResponses returns every answer still to be pushed
// (local_only or error), ordered by response then id
func (db *DB) UnsyncedFieldResponses() ([]models.FieldResponse, error) {
	return db.queryFieldResponses(`SELECT `+fieldResponseColumns+` FROM field_responses
		WHERE sync_status IN (?, ?) ORDER BY response_id, id`,
		models.SyncLocalOnly, models.SyncError)
}

func (db *DB) queryFieldResponses(query string, args ...any) ([]models.FieldResponse, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FieldResponse
	for rows.Next() {
		f, err := scanFieldResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func scanFieldResponse(s rowScanner) (*models.FieldResponse, error) {
	var (
		f                   models.FieldResponse
		serverField, server sql.NullInt64
		value               string
		modified, created   int64
	)
	if err := s.Scan(&f.ID, &f.ResponseID, &f.FieldID, &serverField, &server,
		&value, &f.SyncStatus, &modified, &created); err != nil {
		return nil, err
	}
	f.ServerFieldID = serverField.Int64
	f.ServerResponseID = server.Int64
	v, err := models.DecodeValue([]byte(value))
	if err != nil {
		return nil, fmt.Errorf("field response %d: %w", f.ID, err)
	}
	f.Value = v
	f.LastModified = fromMillis(modified)
	f.CreatedAt = fromMillis(created)
	return &f, nil
}
