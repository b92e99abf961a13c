// Package sync replays queued mutations and unsynced field answers against
// the checklist API once the device is back online.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/vistoria/internal/checklistapi"
	"github.com/marcus/vistoria/internal/db"
	"github.com/marcus/vistoria/internal/models"
)

// DefaultGraceDelay is how long completed items stay visible before deletion
const DefaultGraceDelay = 5 * time.Second

// Options configures a Manager
type Options struct {
	// GraceDelay keeps completed items around so observers can show them
	GraceDelay time.Duration

	// RequestTimeout bounds each remote call
	RequestTimeout time.Duration

	// UserID returns the user that server-side checklists are created for
	UserID func() int64

	// RunLock takes the database's cross-process lock for each run
	RunLock bool
}

// Manager drains the sync queue. Construct one per database and share it.
type Manager struct {
	db   *db.DB
	api  *checklistapi.Client
	opts Options

	running atomic.Bool

	mu          sync.Mutex
	subs        map[int]func(Event)
	nextSub     int
	timers      map[*time.Timer]struct{}
	closed      bool
	lastOutcome Outcome
}

// NewManager creates a manager
func NewManager(database *db.DB, api *checklistapi.Client, opts Options) *Manager {
	if opts.GraceDelay < 0 {
		opts.GraceDelay = 0
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = checklistapi.DefaultTimeout
	}
	if opts.UserID == nil {
		opts.UserID = func() int64 { return 0 }
	}
	return &Manager{
		db:     database,
		api:    api,
		opts:   opts,
		subs:   make(map[int]func(Event)),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Running reports whether a SyncAll is in progress in this process
func (m *Manager) Running() bool {
	return m.running.Load()
}

// LastOutcome returns the outcome of the most recent run, empty before the first
func (m *Manager) LastOutcome() Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOutcome
}

// Subscribe registers fn for run start and end events
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify(ev Event) {
	m.mu.Lock()
	subs := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	if !ev.Running {
		m.lastOutcome = ev.Outcome
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// Stats returns the current queue aggregate
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	q, err := m.db.SyncQueueStats()
	if err != nil {
		return Stats{}, err
	}
	f, err := m.db.FileQueueStats()
	if err != nil {
		return Stats{}, err
	}
	fields, err := m.db.UnsyncedFieldResponses()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending:        q.Pending,
		Processing:     q.Processing,
		Failed:         q.Failed,
		Completed:      q.Completed,
		Total:          q.Total,
		FilesPending:   f.Pending + f.Uploading,
		FilesFailed:    f.Error,
		UnsyncedFields: len(fields),
	}, nil
}

// SyncAll runs one full synchronization: queue, then unsynced fields, then
// files. An overlapping call returns ErrAlreadyRunning without side effects.
func (m *Manager) SyncAll(ctx context.Context) (Result, error) {
	if !m.running.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRunning
	}
	defer m.running.Store(false)

	if !m.api.HasToken() {
		return Result{}, ErrUnauthenticated
	}

	if m.opts.RunLock {
		lock, err := m.db.TryRunLock()
		if err != nil {
			if errors.Is(err, db.ErrLocked) {
				return Result{}, fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
			}
			return Result{}, err
		}
		defer lock.Release()
	}

	start := time.Now()
	var res Result
	m.emit(ctx, true, nil)

	err := m.run(ctx, &res)
	res.Duration = time.Since(start)
	m.emit(ctx, false, &res)

	if err != nil {
		return res, err
	}
	slog.Info("sync finished",
		"items_ok", res.ItemsSucceeded, "items_failed", res.ItemsFailed,
		"fields", res.FieldsPushed, "files", res.FilesUploaded, "took", res.Duration)
	return res, nil
}

func (m *Manager) emit(ctx context.Context, running bool, res *Result) {
	stats, err := m.Stats(ctx)
	if err != nil {
		slog.Warn("sync stats", "err", err)
	}
	m.notify(Event{Running: running, Stats: stats, Outcome: stats.Outcome(), Result: res})
}

func (m *Manager) run(ctx context.Context, res *Result) error {
	if err := m.prepare(res); err != nil {
		return err
	}

	attempted := make(map[int64]bool)
	if err := m.drainQueue(ctx, res, attempted); err != nil {
		return err
	}
	if err := m.reconcileFields(ctx, res); err != nil {
		return err
	}
	return m.drainFiles(ctx, res, attempted)
}

// prepare purges completed rows past their grace delay and requeues work
// left in flight by a crashed run.
func (m *Manager) prepare(res *Result) error {
	before := time.Now().Add(-m.opts.GraceDelay)
	n, err := m.db.PurgeCompletedSyncItems(before)
	if err != nil {
		return err
	}
	f, err := m.db.PurgeUploadedFiles(before)
	if err != nil {
		return err
	}
	res.Purged = n + f

	n, err = m.db.ResetProcessingSyncItems()
	if err != nil {
		return err
	}
	f, err = m.db.ResetUploadingFiles()
	if err != nil {
		return err
	}
	res.Recovered = n + f
	if res.Recovered > 0 {
		slog.Warn("requeued interrupted items", "count", res.Recovered)
	}
	return nil
}

func (m *Manager) drainQueue(ctx context.Context, res *Result, attempted map[int64]bool) error {
	items, err := m.db.PendingSyncItems()
	if err != nil {
		return err
	}

	for i := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := &items[i]
		if err := m.db.ClaimSyncItem(item.ID); err != nil {
			return err
		}

		err := m.dispatch(ctx, item, attempted)
		if err == nil {
			if err := m.db.CompleteSyncItem(item.ID); err != nil {
				return err
			}
			m.scheduleDelete(db.TableSyncQueue, item.ID)
			res.ItemsSucceeded++
			slog.Debug("queue item done", "id", item.ID, "type", item.Type)
			continue
		}

		if errors.Is(err, ErrUnauthenticated) {
			// Not the item's fault; give it back untouched
			pending := models.QueuePending
			if uerr := m.db.UpdateSyncItem(item.ID, db.SyncItemUpdate{Status: &pending}); uerr != nil {
				return uerr
			}
			return err
		}

		status, ierr := m.db.IncrementSyncRetry(item.ID, err.Error())
		if ierr != nil {
			return ierr
		}
		res.ItemsFailed++
		if status == models.QueueFailed {
			res.ItemsExhausted++
		}
		slog.Warn("queue item failed", "id", item.ID, "type", item.Type, "status", status, "err", err)
	}
	return nil
}

func (m *Manager) dispatch(ctx context.Context, item *models.SyncQueueItem, attempted map[int64]bool) error {
	switch item.Type {
	case models.QueueUpdateField:
		var p models.UpdateFieldPayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return m.updateField(ctx, item, p)

	case models.QueueSubmitForm:
		var p models.SubmitFormPayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return m.submitForm(ctx, item, p)

	case models.QueueCreateResponse:
		var p models.CreateResponsePayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		if p.LocalResponseID == 0 {
			return fmt.Errorf("create response: no local response")
		}
		_, _, err := m.resolveServerResponse(ctx, p.LocalResponseID, p.IDFormulario, p.IDUsuario)
		return err

	case models.QueueUploadFile:
		var p models.UploadFilePayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		attempted[p.FileID] = true
		file, err := m.db.GetFileItem(p.FileID)
		if errors.Is(err, db.ErrNotFound) {
			slog.Debug("upload job without file", "file", p.FileID)
			return nil
		}
		if err != nil {
			return err
		}
		if file.Status == models.FileUploaded {
			return nil
		}
		return m.deliverFile(ctx, file, item.RequestKey)

	default:
		return fmt.Errorf("unknown queue item type %q", item.Type)
	}
}

func (m *Manager) updateField(ctx context.Context, item *models.SyncQueueItem, p models.UpdateFieldPayload) error {
	responseID := p.IDResposta
	if responseID == 0 {
		if p.LocalResponseID == 0 {
			return fmt.Errorf("update field %d: no response to save into", p.IDCampo)
		}
		var err error
		_, responseID, err = m.resolveServerResponse(ctx, p.LocalResponseID, p.IDFormulario, 0)
		if err != nil {
			return err
		}
	}

	v := checklistapi.FieldValue{
		Value:      p.Valor,
		FieldID:    p.IDCampo,
		ResponseID: responseID,
		FormID:     p.IDFormulario,
	}
	if err := m.call(ctx, func(ctx context.Context) error {
		return m.api.SaveField(ctx, v, item.RequestKey)
	}); err != nil {
		return err
	}

	if p.LocalFieldID != 0 {
		// A newer local edit keeps its row for the field pass
		if _, err := m.db.DeleteFieldResponseIfUnchanged(p.LocalFieldID, item.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) submitForm(ctx context.Context, item *models.SyncQueueItem, p models.SubmitFormPayload) error {
	checklistID, responseID := p.ChecklistID, p.IDResposta
	if (checklistID == 0 || responseID == 0) && p.LocalResponseID != 0 {
		var err error
		checklistID, responseID, err = m.resolveServerResponse(ctx, p.LocalResponseID, 0, 0)
		if err != nil {
			return err
		}
	}
	if checklistID == 0 || responseID == 0 {
		return fmt.Errorf("submit: no server response to submit")
	}

	if err := m.call(ctx, func(ctx context.Context) error {
		return m.api.SubmitForm(ctx, checklistID, responseID, item.RequestKey)
	}); err != nil {
		return err
	}

	if p.LocalResponseID != 0 {
		synced := models.SyncSynced
		err := m.db.UpdateFormResponse(p.LocalResponseID, db.FormResponseUpdate{SyncStatus: &synced})
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return err
		}
	}
	return nil
}

// reconcileFields pushes every FieldResponse still local_only or error,
// grouped by response so each server response is resolved once.
func (m *Manager) reconcileFields(ctx context.Context, res *Result) error {
	rows, err := m.db.UnsyncedFieldResponses()
	if err != nil {
		return err
	}
	groups := make(map[int64][]models.FieldResponse)
	for _, r := range rows {
		groups[r.ResponseID] = append(groups[r.ResponseID], r)
	}

	for responseID, fields := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := m.db.GetFormResponse(responseID)
		if errors.Is(err, db.ErrNotFound) {
			slog.Warn("orphan field answers", "response", responseID, "count", len(fields))
			continue
		}
		if err != nil {
			return err
		}

		_, serverResponseID, err := m.resolveServerResponse(ctx, resp.ID, resp.FormServerID, 0)
		if err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				return err
			}
			slog.Warn("resolve response failed", "response", resp.ID, "err", err)
			if err := m.db.MarkFieldsError(fieldIDs(fields)); err != nil {
				return err
			}
			res.FieldsFailed += len(fields)
			continue
		}

		for _, f := range fields {
			v := checklistapi.FieldValue{
				Value:      f.Value.Wire(),
				FieldID:    f.RemoteFieldID(),
				ResponseID: serverResponseID,
				FormID:     resp.FormServerID,
			}
			err := m.call(ctx, func(ctx context.Context) error {
				return m.api.SaveField(ctx, v, "")
			})
			if err != nil {
				if errors.Is(err, ErrUnauthenticated) {
					return err
				}
				slog.Warn("push field failed", "field", f.ID, "response", serverResponseID, "err", err)
				if err := m.db.MarkFieldsError([]int64{f.ID}); err != nil {
					return err
				}
				res.FieldsFailed++
				continue
			}
			if _, err := m.db.DeleteFieldResponseIfUnchanged(f.ID, f.LastModified); err != nil {
				return err
			}
			res.FieldsPushed++
		}
	}
	return nil
}

func fieldIDs(fields []models.FieldResponse) []int64 {
	ids := make([]int64, len(fields))
	for i, f := range fields {
		ids[i] = f.ID
	}
	return ids
}

// RetryFailed moves exhausted queue and file items back to pending with a
// fresh retry budget.
func (m *Manager) RetryFailed(ctx context.Context) (int, error) {
	n, err := m.db.RetryFailedSyncItems()
	if err != nil {
		return 0, err
	}
	f, err := m.db.RetryFailedFiles()
	if err != nil {
		return n, err
	}
	if n+f > 0 {
		slog.Info("failed items requeued", "queue", n, "files", f)
	}
	m.emit(ctx, m.Running(), nil)
	return n + f, nil
}

func (m *Manager) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.RequestTimeout)
	defer cancel()
	return fn(ctx)
}

// scheduleDelete removes a finished row once the grace delay passes
func (m *Manager) scheduleDelete(table db.Table, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(m.opts.GraceDelay, func() {
		m.mu.Lock()
		_, live := m.timers[t]
		delete(m.timers, t)
		m.mu.Unlock()
		if !live {
			return
		}
		if err := m.db.Delete(table, id); err != nil {
			slog.Warn("delete finished row", "table", table, "id", id, "err", err)
		}
	})
	m.timers[t] = struct{}{}
}

// Close stops pending deletions and purges every finished row now.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	for t := range m.timers {
		t.Stop()
	}
	m.timers = make(map[*time.Timer]struct{})
	m.mu.Unlock()

	before := time.Now().Add(time.Second)
	if _, err := m.db.PurgeCompletedSyncItems(before); err != nil {
		return err
	}
	_, err := m.db.PurgeUploadedFiles(before)
	return err
}

// requestKey derives a stable idempotency key for server-side creations that
// are not tied to one queue item.
func requestKey(kind string, id int64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "vistoria:%s:%d", kind, id)).String()
}
