package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/vistoria/internal/models"
)

const syncItemColumns = `id, type, payload, request_key, retry_count, max_retries, priority,
	status, last_error, created_at, last_attempt`

// EnqueueSync persists a deferred remote operation. Zero values get the
// defaults: priority 10, three attempts, pending, a fresh request key.
func (db *DB) EnqueueSync(item *models.SyncQueueItem) (int64, error) {
	if item.Type == "" {
		return 0, fmt.Errorf("enqueue sync: type required")
	}
	if item.Priority == 0 {
		item.Priority = models.PriorityDefault
	}
	if item.MaxRetries == 0 {
		item.MaxRetries = models.DefaultMaxRetries
	}
	if item.Status == "" {
		item.Status = models.QueuePending
	}
	if item.RequestKey == "" {
		key, err := uuid.NewV7()
		if err != nil {
			return 0, fmt.Errorf("request key: %w", err)
		}
		item.RequestKey = key.String()
	}
	if len(item.Payload) == 0 {
		item.Payload = []byte("{}")
	}
	item.CreatedAt = db.now()

	res, err := db.conn.Exec(`INSERT INTO sync_queue
		(type, payload, request_key, retry_count, max_retries, priority, status, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Type, string(item.Payload), item.RequestKey, item.RetryCount, item.MaxRetries,
		item.Priority, item.Status, item.LastError, toMillis(item.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert sync item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	item.ID = id
	return id, nil
}

// SyncItemUpdate holds the fields to change; nil fields are left alone
type SyncItemUpdate struct {
	Status      *models.QueueStatus
	RetryCount  *int
	LastError   *string
	LastAttempt *time.Time
}

// UpdateSyncItem applies a partial update to a queue item
func (db *DB) UpdateSyncItem(id int64, u SyncItemUpdate) error {
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
		_, err := db.GetSyncItem(id)
		return err
	}
	return db.update("sync_queue", "sync item", id, sets, args)
}

// ClaimSyncItem marks an item processing and stamps the attempt time
func (db *DB) ClaimSyncItem(id int64) error {
	status := models.QueueProcessing
	now := db.now()
	return db.UpdateSyncItem(id, SyncItemUpdate{Status: &status, LastAttempt: &now})
}

// CompleteSyncItem marks an item completed
func (db *DB) CompleteSyncItem(id int64) error {
	status := models.QueueCompleted
	empty := ""
	now := db.now()
	return db.UpdateSyncItem(id, SyncItemUpdate{Status: &status, LastError: &empty, LastAttempt: &now})
}

// IncrementSyncRetry records a failed attempt. The item goes back to pending,
// or to failed once retry_count reaches max_retries. Returns the new status.
func (db *DB) IncrementSyncRetry(id int64, lastErr string) (models.QueueStatus, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var retries, maxRetries int
	err = tx.QueryRow(`SELECT retry_count, max_retries FROM sync_queue WHERE id = ?`, id).Scan(&retries, &maxRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sync item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", err
	}

	retries++
	status := models.QueuePending
	if retries >= maxRetries {
		status = models.QueueFailed
	}
	if _, err := tx.Exec(`UPDATE sync_queue SET retry_count = ?, status = ?, last_error = ?, last_attempt = ? WHERE id = ?`,
		retries, status, lastErr, toMillis(db.now()), id); err != nil {
		return "", fmt.Errorf("update sync item %d: %w", id, err)
	}
	return status, tx.Commit()
}

// GetSyncItem returns a queue item by id
func (db *DB) GetSyncItem(id int64) (*models.SyncQueueItem, error) {
	row := db.conn.QueryRow(`SELECT `+syncItemColumns+` FROM sync_queue WHERE id = ?`, id)
	item, err := scanSyncItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync item %d: %w", id, ErrNotFound)
	}
	return item, err
}

// PendingSyncItems returns pending items, lowest priority value first, then oldest
func (db *DB) PendingSyncItems() ([]models.SyncQueueItem, error) {
	return db.querySyncItems(`SELECT `+syncItemColumns+` FROM sync_queue
		WHERE status = ? ORDER BY priority ASC, id ASC`, models.QueuePending)
}

// FailedSyncItems returns items that exhausted their retries
func (db *DB) FailedSyncItems() ([]models.SyncQueueItem, error) {
	return db.querySyncItems(`SELECT `+syncItemColumns+` FROM sync_queue
		WHERE status = ? ORDER BY id ASC`, models.QueueFailed)
}

// AllSyncItems returns the whole queue in drain order
func (db *DB) AllSyncItems() ([]models.SyncQueueItem, error) {
	return db.querySyncItems(`SELECT ` + syncItemColumns + ` FROM sync_queue ORDER BY priority ASC, id ASC`)
}

// RetryFailedSyncItems puts every failed item back to pending with a fresh
// retry budget. Returns the number of items reset.
func (db *DB) RetryFailedSyncItems() (int, error) {
	res, err := db.conn.Exec(`UPDATE sync_queue SET status = ?, retry_count = 0, last_error = '' WHERE status = ?`,
		models.QueuePending, models.QueueFailed)
	if err != nil {
		return 0, fmt.Errorf("retry failed items: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ResetProcessingSyncItems returns items left processing by an interrupted
// run to pending. Returns the number of items reset.
func (db *DB) ResetProcessingSyncItems() (int, error) {
	res, err := db.conn.Exec(`UPDATE sync_queue SET status = ? WHERE status = ?`,
		models.QueuePending, models.QueueProcessing)
	if err != nil {
		return 0, fmt.Errorf("reset processing items: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PurgeCompletedSyncItems deletes completed items whose last attempt is older
// than before. Returns the number deleted.
func (db *DB) PurgeCompletedSyncItems(before time.Time) (int, error) {
	res, err := db.conn.Exec(`DELETE FROM sync_queue
		WHERE status = ? AND COALESCE(last_attempt, created_at) < ?`,
		models.QueueCompleted, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("purge completed items: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SyncQueueStats counts queue items per status
func (db *DB) SyncQueueStats() (models.QueueStats, error) {
	var stats models.QueueStats
	rows, err := db.conn.Query(`SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var status models.QueueStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return stats, err
		}
		switch status {
		case models.QueuePending:
			stats.Pending = n
		case models.QueueProcessing:
			stats.Processing = n
		case models.QueueFailed:
			stats.Failed = n
		case models.QueueCompleted:
			stats.Completed = n
		}
		stats.Total += n
	}
	return stats, rows.Err()
}

func (db *DB) querySyncItems(query string, args ...any) ([]models.SyncQueueItem, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SyncQueueItem
	for rows.Next() {
		item, err := scanSyncItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func scanSyncItem(s rowScanner) (*models.SyncQueueItem, error) {
	var (
		item        models.SyncQueueItem
		payload     string
		created     int64
		lastAttempt sql.NullInt64
	)
	if err := s.Scan(&item.ID, &item.Type, &payload, &item.RequestKey, &item.RetryCount, &item.MaxRetries,
		&item.Priority, &item.Status, &item.LastError, &created, &lastAttempt); err != nil {
		return nil, err
	}
	item.Payload = []byte(payload)
	item.CreatedAt = fromMillis(created)
	item.LastAttempt = fromNullMillis(lastAttempt)
	return &item, nil
}
