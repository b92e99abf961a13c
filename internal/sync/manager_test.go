package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/vistoria/internal/checklistapi/apitest"
	"github.com/marcus/vistoria/internal/db"
	"github.com/marcus/vistoria/internal/gateway"
	"github.com/marcus/vistoria/internal/models"
)

type switchable struct{ on atomic.Bool }

func (s *switchable) CurrentStatus(context.Context) bool { return s.on.Load() }

var testFields = []models.FieldDef{
	{ID: 7, Label: "Placa", Type: "texto"},
	{ID: 8, Label: "Pneus", Type: "checkbox"},
}

type fixture struct {
	db  *db.DB
	srv *apitest.Server
	net *switchable
	gw  *gateway.Gateway
	mgr *Manager
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	conn, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	database, err := db.New(conn, path)
	require.NoError(t, err)

	f := &fixture{db: database, srv: apitest.New(t), net: &switchable{}}
	f.net.on.Store(true)
	api := f.srv.Client("tok")
	f.gw = gateway.New(database, api, f.net, gateway.Options{RequestTimeout: 2 * time.Second})
	if opts.GraceDelay == 0 {
		opts.GraceDelay = time.Hour
	}
	f.mgr = NewManager(database, api, opts)
	t.Cleanup(func() {
		f.mgr.Close()
		database.Close()
	})
	return f
}

// fetched caches server checklist 42 whose response is also 42
func (f *fixture) fetched(t *testing.T) *gateway.ChecklistView {
	t.Helper()
	f.srv.AddChecklist(42, apitest.Checklist{Title: "Entrada", Fields: testFields, ResponseID: 42})
	view, err := f.gw.FetchChecklist(context.Background(), 42)
	require.NoError(t, err)
	return view
}

func (f *fixture) enqueue(t *testing.T, typ models.QueueItemType, payload any) *models.SyncQueueItem {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	item := &models.SyncQueueItem{Type: typ, Payload: data}
	_, err = f.db.EnqueueSync(item)
	require.NoError(t, err)
	return item
}

func TestSyncAllRequiresToken(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.enqueue(t, models.QueueUpdateField, models.UpdateFieldPayload{Valor: "x", IDCampo: 7, IDResposta: 42})

	mgr := NewManager(f.db, f.srv.Client(""), Options{})
	_, err := mgr.SyncAll(context.Background())
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.False(t, mgr.Running())

	got, err := f.db.GetSyncItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueuePending, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Zero(t, f.srv.Calls(apitest.RouteSaveField))
}

func TestQueueItemExhaustsAfterMaxRetries(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	item := f.enqueue(t, models.QueueUpdateField, models.UpdateFieldPayload{Valor: "x", IDCampo: 7, IDResposta: 42})
	f.srv.FailWith(apitest.RouteSaveField, http.StatusInternalServerError)

	for run := 1; run <= models.DefaultMaxRetries; run++ {
		res, err := f.mgr.SyncAll(ctx)
		require.NoError(t, err, "run %d", run)
		assert.Equal(t, 1, res.ItemsFailed)

		got, err := f.db.GetSyncItem(item.ID)
		require.NoError(t, err)
		assert.Equal(t, run, got.RetryCount)
		if run < models.DefaultMaxRetries {
			assert.Equal(t, models.QueuePending, got.Status)
		} else {
			assert.Equal(t, models.QueueFailed, got.Status)
			assert.Contains(t, got.LastError, "500")
		}
	}
	assert.Equal(t, OutcomePartialFailure, f.mgr.LastOutcome())

	// Failed items are left alone until explicitly retried
	_, err := f.mgr.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultMaxRetries, f.srv.Calls(apitest.RouteSaveField))

	n, err := f.mgr.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := f.db.GetSyncItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueuePending, got.Status)
	assert.Zero(t, got.RetryCount)

	f.srv.FailWith(apitest.RouteSaveField, 0)
	res, err := f.mgr.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ItemsSucceeded)
	got, err = f.db.GetSyncItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueCompleted, got.Status)
	assert.Equal(t, OutcomeComplete, f.mgr.LastOutcome())
}

func TestOfflineGenerateResolvesOnSync(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.srv.AddForm(7, "Vistoria de entrada", testFields)
	_, err := f.gw.ListForms(ctx)
	require.NoError(t, err)

	f.net.on.Store(false)
	gen, err := f.gw.GenerateChecklist(ctx, 7, 9)
	require.NoError(t, err)
	require.True(t, gen.Offline)

	resp, err := f.db.GetFormResponse(gen.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), resp.FormServerID)
	assert.Zero(t, resp.ServerResponseID)

	_, err = f.gw.SaveField(ctx, models.Text("ABC1234"), 7, gen.ResponseID, gen.ResponseID, 7)
	require.NoError(t, err)

	f.net.on.Store(true)
	f.srv.SetNextID(42)
	res, err := f.mgr.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ItemsSucceeded)

	resp, err = f.db.GetFormResponse(gen.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.ServerChecklistID)
	assert.Equal(t, int64(42), resp.ServerResponseID)

	c, err := f.db.GetChecklist(gen.ChecklistID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.ServerID)
	assert.Equal(t, models.SyncSynced, c.SyncStatus)

	assert.Equal(t, 1, f.srv.Calls(apitest.RouteGenerate), "creation is idempotent")
	saved := f.srv.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, int64(42), saved[0].ResponseID)
	assert.Equal(t, "ABC1234", saved[0].Value)

	rows, err := f.db.FieldResponsesByResponse(gen.ResponseID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestConcurrentSyncAllIsNoOp(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.enqueue(t, models.QueueUpdateField, models.UpdateFieldPayload{Valor: "x", IDCampo: 7, IDResposta: 42})
	f.srv.Delay(apitest.RouteSaveField, 300*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := f.mgr.SyncAll(ctx)
		done <- err
	}()
	require.Eventually(t, f.mgr.Running, time.Second, time.Millisecond)

	_, err := f.mgr.SyncAll(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, <-done)
	assert.False(t, f.mgr.Running())
	assert.Equal(t, 1, f.srv.Calls(apitest.RouteSaveField))
}

func TestRunLockHeldElsewhere(t *testing.T) {
	f := newFixture(t, Options{})
	mgr := NewManager(f.db, f.srv.Client("tok"), Options{RunLock: true})

	lock, err := f.db.TryRunLock()
	require.NoError(t, err)
	_, err = mgr.SyncAll(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, lock.Release())
	_, err = mgr.SyncAll(context.Background())
	assert.NoError(t, err)
}

func TestFieldReconcileSuccessAndFailure(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	view := f.fetched(t)

	row := &models.FieldResponse{ResponseID: view.LocalResponseID, FieldID: 8, Value: models.MultiSelect{"ok", "gasto"}}
	_, err := f.db.SaveFieldResponse(row)
	require.NoError(t, err)

	f.srv.FailWith(apitest.RouteSaveField, http.StatusBadGateway)
	res, err := f.mgr.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FieldsFailed)

	got, err := f.db.GetFieldResponse(row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncError, got.SyncStatus)

	f.srv.FailWith(apitest.RouteSaveField, 0)
	res, err = f.mgr.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FieldsPushed)

	_, err = f.db.GetFieldResponse(row.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
	saved := f.srv.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, int64(8), saved[0].FieldID)
	assert.Equal(t, []any{"ok", "gasto"}, saved[0].Value)
}

func TestReconcileCreatesResponseForKnownChecklist(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.srv.AddChecklist(43, apitest.Checklist{Title: "Saída", Fields: testFields})
	view, err := f.gw.FetchChecklist(ctx, 43)
	require.NoError(t, err)
	require.Zero(t, view.ResponseID)
	require.NotZero(t, view.LocalResponseID)

	resp, err := f.db.GetFormResponse(view.LocalResponseID)
	require.NoError(t, err)
	_, err = f.db.SaveFieldResponse(&models.FieldResponse{ResponseID: resp.ID, FieldID: 7, Value: models.Text("XYZ9A87")})
	require.NoError(t, err)

	f.srv.SetNextID(77)
	res, err := f.mgr.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FieldsPushed)

	got, err := f.db.GetFormResponse(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(43), got.ServerChecklistID)
	assert.Equal(t, int64(77), got.ServerResponseID)

	saved := f.srv.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, int64(77), saved[0].ResponseID)
}

func TestAnswerWithoutServerResponseReachesServer(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.srv.AddChecklist(42, apitest.Checklist{Title: "Entrada", Fields: testFields})
	view, err := f.gw.FetchChecklist(ctx, 42)
	require.NoError(t, err)

	res, err := f.gw.SaveField(ctx, models.Text("ABC1234"), 7, view.ResponseID, view.LocalResponseID, 0)
	require.NoError(t, err)
	require.True(t, res.Offline)

	f.srv.SetNextID(90)
	out, err := f.mgr.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, out.ItemsSucceeded)
	assert.Zero(t, out.ItemsFailed)

	got, err := f.db.GetFormResponse(view.LocalResponseID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ServerChecklistID)
	assert.Equal(t, int64(90), got.ServerResponseID)

	saved := f.srv.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, int64(90), saved[0].ResponseID)
	assert.Equal(t, int64(7), saved[0].FieldID)
	assert.Equal(t, "ABC1234", saved[0].Value)

	rows, err := f.db.FieldResponsesByResponse(view.LocalResponseID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// The refetch now carries the server response
	again, err := f.gw.FetchChecklist(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(90), again.ResponseID)
	assert.Equal(t, view.LocalResponseID, again.LocalResponseID)
}

func TestUnresolvableGroupMarkedError(t *testing.T) {
	f := newFixture(t, Options{})
	c := &models.Checklist{Title: "local", Fields: testFields}
	_, err := f.db.SaveChecklist(c)
	require.NoError(t, err)
	resp := &models.FormResponse{ChecklistID: c.ID}
	_, err = f.db.CreateFormResponse(resp)
	require.NoError(t, err)
	row := &models.FieldResponse{ResponseID: resp.ID, FieldID: 7, Value: models.Text("x")}
	_, err = f.db.SaveFieldResponse(row)
	require.NoError(t, err)

	res, err := f.mgr.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.FieldsFailed)

	got, err := f.db.GetFieldResponse(row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncError, got.SyncStatus)
	assert.Zero(t, f.srv.Calls(apitest.RouteGenerate))
}

func TestQueuedSubmitReplays(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	view := f.fetched(t)

	f.net.on.Store(false)
	_, err := f.gw.SubmitForm(ctx, 42, view.ResponseID, view.LocalResponseID)
	require.NoError(t, err)

	f.net.on.Store(true)
	_, err = f.mgr.SyncAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, []apitest.Submission{{ChecklistID: 42, ResponseID: 42}}, f.srv.Submitted())
	resp, err := f.db.GetFormResponse(view.LocalResponseID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncSynced, resp.SyncStatus)
	assert.True(t, resp.IsComplete)
}

func TestQueueDrainsByPriority(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	view := f.fetched(t)

	f.net.on.Store(false)
	_, err := f.gw.SaveField(ctx, models.Text("first"), 7, view.ResponseID, view.LocalResponseID, 0)
	require.NoError(t, err)
	_, err = f.gw.SubmitForm(ctx, 42, view.ResponseID, view.LocalResponseID)
	require.NoError(t, err)

	f.net.on.Store(true)
	_, err = f.mgr.SyncAll(ctx)
	require.NoError(t, err)

	keys := f.srv.RequestKeys()
	items, err := f.db.AllSyncItems()
	require.NoError(t, err)
	require.Len(t, items, 2)

	var submitKey, fieldKey string
	for _, it := range items {
		assert.Equal(t, models.QueueCompleted, it.Status)
		switch it.Type {
		case models.QueueSubmitForm:
			submitKey = it.RequestKey
		case models.QueueUpdateField:
			fieldKey = it.RequestKey
		}
	}
	require.GreaterOrEqual(t, len(keys), 2)
	assert.Equal(t, submitKey, keys[0], "submit drains first")
	assert.Equal(t, fieldKey, keys[1])
}

func TestFileUploadSendsDataURL(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	view := f.fetched(t)

	item, err := f.gw.AttachFile(ctx, view.LocalResponseID, 9, models.KindPhoto, "frente.jpg", "image/jpeg", []byte("jpegdata"))
	require.NoError(t, err)

	res, err := f.mgr.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ItemsSucceeded)
	assert.Zero(t, res.FilesUploaded, "already delivered by its queue item")

	saved := f.srv.Saved()
	require.Len(t, saved, 1)
	value, _ := saved[0].Value.(string)
	assert.True(t, strings.HasPrefix(value, "data:image/jpeg;base64,"), value)
	assert.Equal(t, int64(9), saved[0].FieldID)

	got, err := f.db.GetFileItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileUploaded, got.Status)
	_, err = f.db.GetFieldResponse(item.FieldResponseID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestFileQueueRetriesInFileStep(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	view := f.fetched(t)

	row := &models.FieldResponse{ResponseID: view.LocalResponseID, FieldID: 9,
		Value: models.Signature{URI: "pending-upload:sig.png"}, SyncStatus: models.SyncSyncing}
	_, err := f.db.SaveFieldResponse(row)
	require.NoError(t, err)
	file := &models.FileQueueItem{FieldResponseID: row.ID, ResponseID: view.LocalResponseID, FieldID: 9,
		FileName: "sig.png", MimeType: "image/png", Data: []byte("png")}
	_, err = f.db.EnqueueFile(file)
	require.NoError(t, err)

	f.srv.FailWith(apitest.RouteSaveField, http.StatusServiceUnavailable)
	for i := 0; i < models.DefaultMaxRetries; i++ {
		res, err := f.mgr.SyncAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.FilesFailed)
	}
	got, err := f.db.GetFileItem(file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileError, got.Status)

	stats, err := f.mgr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesFailed)
	assert.Equal(t, OutcomePartialFailure, stats.Outcome())

	f.srv.FailWith(apitest.RouteSaveField, 0)
	_, err = f.mgr.RetryFailed(ctx)
	require.NoError(t, err)
	res, err := f.mgr.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesUploaded)
}

func TestSubscribeSeesStartAndEnd(t *testing.T) {
	f := newFixture(t, Options{})
	f.enqueue(t, models.QueueUpdateField, models.UpdateFieldPayload{Valor: "x", IDCampo: 7, IDResposta: 42})

	var mu gosync.Mutex
	var events []Event
	unsub := f.mgr.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	_, err := f.mgr.SyncAll(context.Background())
	require.NoError(t, err)
	unsub()
	_, err = f.mgr.SyncAll(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.True(t, events[0].Running)
	assert.Equal(t, 1, events[0].Stats.Pending)
	assert.Equal(t, OutcomePending, events[0].Outcome)

	assert.False(t, events[1].Running)
	assert.Equal(t, 1, events[1].Stats.Completed)
	assert.Equal(t, OutcomeComplete, events[1].Outcome)
	require.NotNil(t, events[1].Result)
	assert.Equal(t, 1, events[1].Result.ItemsSucceeded)
}

func TestCompletedItemsDeletedAfterGrace(t *testing.T) {
	f := newFixture(t, Options{GraceDelay: 20 * time.Millisecond})
	item := f.enqueue(t, models.QueueUpdateField, models.UpdateFieldPayload{Valor: "x", IDCampo: 7, IDResposta: 42})

	_, err := f.mgr.SyncAll(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := f.db.GetSyncItem(item.ID)
		return errors.Is(err, db.ErrNotFound)
	}, time.Second, 5*time.Millisecond)
}

func TestCloseStopsTimersAndPurges(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.enqueue(t, models.QueueUpdateField, models.UpdateFieldPayload{Valor: "x", IDCampo: 7, IDResposta: 42})

	_, err := f.mgr.SyncAll(context.Background())
	require.NoError(t, err)
	got, err := f.db.GetSyncItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueCompleted, got.Status)

	require.NoError(t, f.mgr.Close())
	_, err = f.db.GetSyncItem(item.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestInterruptedItemsRecovered(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.enqueue(t, models.QueueUpdateField, models.UpdateFieldPayload{Valor: "x", IDCampo: 7, IDResposta: 42})
	require.NoError(t, f.db.ClaimSyncItem(item.ID))

	res, err := f.mgr.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Recovered)
	assert.Equal(t, 1, res.ItemsSucceeded)
}

func TestRequestKeyStable(t *testing.T) {
	assert.Equal(t, requestKey("generate", 5), requestKey("generate", 5))
	assert.NotEqual(t, requestKey("generate", 5), requestKey("response", 5))
}
