package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/vistoria/internal/models"
)

const fileItemColumns = `id, field_response_id, response_id, field_id, file_name, mime_type, data,
	status, retry_count, max_retries, last_error, created_at, last_attempt`

// EnqueueFile persists a binary upload job
func (db *DB) EnqueueFile(item *models.FileQueueItem) (int64, error) {
	if item.FieldResponseID == 0 {
		return 0, fmt.Errorf("enqueue file: field response id required")
	}
	if item.MaxRetries == 0 {
		item.MaxRetries = models.DefaultMaxRetries
	}
	if item.Status == "" {
		item.Status = models.FilePending
	}
	item.CreatedAt = db.now()

	res, err := db.conn.Exec(`INSERT INTO file_queue
		(field_response_id, response_id, field_id, file_name, mime_type, data, status, retry_count, max_retries, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.FieldResponseID, item.ResponseID, item.FieldID, item.FileName, item.MimeType, item.Data,
		item.Status, item.RetryCount, item.MaxRetries, item.LastError, toMillis(item.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert file item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	item.ID = id
	return id, nil
}

// FileItemUpdate holds the fields to change; nil fields are left alone
type FileItemUpdate struct {
	Status      *models.FileStatus
	RetryCount  *int
	LastError   *string
	LastAttempt *time.Time
}

// UpdateFileItem applies a partial update to an upload job
func (db *DB) UpdateFileItem(id int64, u FileItemUpdate) error {
	var sets []string
	var args []any
	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if u.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *u.RetryCount)
	}
	if u.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *u.LastError)
	}
	if u.LastAttempt != nil {
		sets = append(sets, "last_attempt = ?")
		args = append(args, toMillis(*u.LastAttempt))
	}
	if len(sets) == 0 {
		_, err := db.GetFileItem(id)
		return err
	}
	return db.update("file_queue", "file item", id, sets, args)
}

// IncrementFileRetry records a failed upload. The job goes back to pending,
// or to error once retry_count reaches max_retries. Returns the new status.
func (db *DB) IncrementFileRetry(id int64, lastErr string) (models.FileStatus, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var retries, maxRetries int
	err = tx.QueryRow(`SELECT retry_count, max_retries FROM file_queue WHERE id = ?`, id).Scan(&retries, &maxRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("file item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", err
	}

	retries++
	status := models.FilePending
	if retries >= maxRetries {
		status = models.FileError
	}
	if _, err := tx.Exec(`UPDATE file_queue SET retry_count = ?, status = ?, last_error = ?, last_attempt = ? WHERE id = ?`,
		retries, status, lastErr, toMillis(db.now()), id); err != nil {
		return "", fmt.Errorf("update file item %d: %w", id, err)
	}
	return status, tx.Commit()
}

// GetFileItem returns an upload job by id
func (db *DB) GetFileItem(id int64) (*models.FileQueueItem, error) {
	row := db.conn.QueryRow(`SELECT `+fileItemColumns+` FROM file_queue WHERE id = ?`, id)
	item, err := scanFileItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file item %d: %w", id, ErrNotFound)
	}
	return item, err
}

// PendingFiles returns upload jobs still waiting, oldest first
func (db *DB) PendingFiles() ([]models.FileQueueItem, error) {
	return db.queryFileItems(`SELECT `+fileItemColumns+` FROM file_queue
		WHERE status = ? ORDER BY id ASC`, models.FilePending)
}

// AllFiles returns every upload job, oldest first
func (db *DB) AllFiles() ([]models.FileQueueItem, error) {
	return db.queryFileItems(`SELECT ` + fileItemColumns + ` FROM file_queue ORDER BY id ASC`)
}

// FilesByResponse returns every upload job of a response
func (db *DB) FilesByResponse(responseID int64) ([]models.FileQueueItem, error) {
	return db.queryFileItems(`SELECT `+fileItemColumns+` FROM file_queue
		WHERE response_id = ? ORDER BY id ASC`, responseID)
}

// RetryFailedFiles puts every errored upload back to pending with a fresh budget
func (db *DB) RetryFailedFiles() (int, error) {
	res, err := db.conn.Exec(`UPDATE file_queue SET status = ?, retry_count = 0, last_error = '' WHERE status = ?`,
		models.FilePending, models.FileError)
	if err != nil {
		return 0, fmt.Errorf("retry failed files: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ResetUploadingFiles returns jobs left uploading by an interrupted run to pending
func (db *DB) ResetUploadingFiles() (int, error) {
	res, err := db.conn.Exec(`UPDATE file_queue SET status = ? WHERE status = ?`,
		models.FilePending, models.FileUploading)
	if err != nil {
		return 0, fmt.Errorf("reset uploading files: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PurgeUploadedFiles deletes uploaded jobs (and their bytes) older than before
func (db *DB) PurgeUploadedFiles(before time.Time) (int, error) {
	res, err := db.conn.Exec(`DELETE FROM file_queue
		WHERE status = ? AND COALESCE(last_attempt, created_at) < ?`,
		models.FileUploaded, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("purge uploaded files: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// FileQueueStats counts upload jobs per status
func (db *DB) FileQueueStats() (models.FileQueueStats, error) {
	var stats models.FileQueueStats
	rows, err := db.conn.Query(`SELECT status, COUNT(*) FROM file_queue GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var status models.FileStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return stats, err
		}
		switch status {
		case models.FilePending:
			stats.Pending = n
		case models.FileUploading:
			stats.Uploading = n
		case models.FileUploaded:
			stats.Uploaded = n
		case models.FileError:
			stats.Error = n
		}
		stats.Total += n
	}
	return stats, rows.Err()
}

func (db *DB) queryFileItems(query string, args ...any) ([]models.FileQueueItem, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FileQueueItem
	for rows.Next() {
		item, err := scanFileItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func scanFileItem(s rowScanner) (*models.FileQueueItem, error) {
	var (
		item        models.FileQueueItem
		created     int64
		lastAttempt sql.NullInt64
	)
	if err := s.Scan(&item.ID, &item.FieldResponseID, &item.ResponseID, &item.FieldID, &item.FileName,
		&item.MimeType, &item.Data, &item.Status, &item.RetryCount, &item.MaxRetries, &item.LastError,
		&created, &lastAttempt); err != nil {
		return nil, err
	}
	item.CreatedAt = fromMillis(created)
	item.LastAttempt = fromNullMillis(lastAttempt)
	return &item, nil
}
