package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/vistoria/internal/checklistapi"
	"github.com/marcus/vistoria/internal/checklistapi/apitest"
	"github.com/marcus/vistoria/internal/db"
	"github.com/marcus/vistoria/internal/models"
)

type switchable struct{ on atomic.Bool }

func (s *switchable) CurrentStatus(context.Context) bool { return s.on.Load() }

func online(v bool) *switchable {
	s := &switchable{}
	s.on.Store(v)
	return s
}

var testFields = []models.FieldDef{
	{ID: 7, Label: "Placa", Type: "texto"},
	{ID: 8, Label: "Pneus", Type: "checkbox"},
}

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	conn, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	database, err := db.New(conn, path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

type fixture struct {
	db  *db.DB
	srv *apitest.Server
	net *switchable
	gw  *Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{db: newTestDB(t), srv: apitest.New(t), net: online(true)}
	f.gw = New(f.db, f.srv.Client("tok"), f.net, Options{RequestTimeout: time.Second})
	return f
}

func queued(t *testing.T, database *db.DB) []models.SyncQueueItem {
	t.Helper()
	items, err := database.PendingSyncItems()
	require.NoError(t, err)
	return items
}

func TestFetchChecklistCachesForOffline(t *testing.T) {
	f := newFixture(t)
	f.srv.AddChecklist(42, apitest.Checklist{Title: "Entrada", Fields: testFields, ResponseID: 42,
		Saved: map[string]any{"7": "ABC1234"}})
	ctx := context.Background()

	view, err := f.gw.FetchChecklist(ctx, 42)
	require.NoError(t, err)
	assert.False(t, view.FromCache)
	assert.Equal(t, "Entrada", view.Title)
	assert.Equal(t, int64(42), view.ResponseID)
	assert.Equal(t, "ABC1234", view.SavedAnswers["7"])
	require.NotZero(t, view.LocalResponseID)

	resp, err := f.db.GetFormResponse(view.LocalResponseID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.ServerChecklistID)
	assert.Equal(t, models.SyncSynced, resp.SyncStatus)

	// A second fetch reuses the same local response
	again, err := f.gw.FetchChecklist(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, view.LocalResponseID, again.LocalResponseID)

	f.net.on.Store(false)
	cached, err := f.gw.FetchChecklist(ctx, 42)
	require.NoError(t, err)
	assert.True(t, cached.FromCache)
	assert.Equal(t, "Entrada", cached.Title)
	assert.Len(t, cached.Fields, 2)
	assert.Equal(t, int64(42), cached.ResponseID)
	assert.Equal(t, 2, f.srv.Calls(apitest.RouteGetChecklist))
}

func TestFetchChecklistWithoutServerResponseKeepsAnswers(t *testing.T) {
	f := newFixture(t)
	f.srv.AddChecklist(42, apitest.Checklist{Title: "Entrada", Fields: testFields})
	ctx := context.Background()

	view, err := f.gw.FetchChecklist(ctx, 42)
	require.NoError(t, err)
	assert.Zero(t, view.ResponseID)
	require.NotZero(t, view.LocalResponseID)

	resp, err := f.db.GetFormResponse(view.LocalResponseID)
	require.NoError(t, err)
	assert.Equal(t, view.ChecklistID, resp.ChecklistID)
	assert.Equal(t, int64(42), resp.ServerChecklistID)
	assert.Zero(t, resp.ServerResponseID)
	assert.Equal(t, models.SyncLocalOnly, resp.SyncStatus)

	again, err := f.gw.FetchChecklist(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, view.LocalResponseID, again.LocalResponseID)

	res, err := f.gw.SaveField(ctx, models.Text("ABC1234"), 7, view.ResponseID, view.LocalResponseID, 0)
	require.NoError(t, err)
	assert.True(t, res.Offline)

	rows, err := f.db.FieldResponsesByResponse(view.LocalResponseID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.Text("ABC1234"), rows[0].Value)

	items := queued(t, f.db)
	require.Len(t, items, 1)
	var p models.UpdateFieldPayload
	require.NoError(t, json.Unmarshal(items[0].Payload, &p))
	assert.Equal(t, view.LocalResponseID, p.LocalResponseID)
	assert.Equal(t, rows[0].ID, p.LocalFieldID)
	assert.Empty(t, f.srv.Saved())
}

func TestFetchChecklistUsesServerIDSpace(t *testing.T) {
	f := newFixture(t)
	f.srv.AddForm(3, "Offline form", testFields)
	ctx := context.Background()
	_, err := f.gw.ListForms(ctx)
	require.NoError(t, err)

	f.net.on.Store(false)
	gen, err := f.gw.GenerateChecklist(ctx, 3, 9)
	require.NoError(t, err)
	require.Equal(t, int64(1), gen.ChecklistID)
	f.net.on.Store(true)

	f.srv.AddChecklist(1, apitest.Checklist{Title: "Server checklist", Fields: testFields, ResponseID: 1})
	view, err := f.gw.FetchChecklist(ctx, 1)
	require.NoError(t, err)
	assert.False(t, view.FromCache)
	assert.Equal(t, "Server checklist", view.Title)
	assert.NotEqual(t, gen.ChecklistID, view.ChecklistID)
	assert.Equal(t, 1, f.srv.Calls(apitest.RouteGetChecklist))

	local, err := f.gw.FetchLocalChecklist(ctx, gen.ChecklistID)
	require.NoError(t, err)
	assert.True(t, local.FromCache)
	assert.Equal(t, "Offline form", local.Title)
	assert.Equal(t, gen.ResponseID, local.LocalResponseID)
	assert.Equal(t, 1, f.srv.Calls(apitest.RouteGetChecklist))
}

func TestFetchLocalChecklistRefreshesServerRows(t *testing.T) {
	f := newFixture(t)
	f.srv.AddChecklist(42, apitest.Checklist{Title: "Entrada", Fields: testFields, ResponseID: 42})
	ctx := context.Background()

	view, err := f.gw.FetchChecklist(ctx, 42)
	require.NoError(t, err)

	byLocal, err := f.gw.FetchLocalChecklist(ctx, view.ChecklistID)
	require.NoError(t, err)
	assert.False(t, byLocal.FromCache)
	assert.Equal(t, int64(42), byLocal.ServerID)
	assert.Equal(t, 2, f.srv.Calls(apitest.RouteGetChecklist))

	_, err = f.gw.FetchLocalChecklist(ctx, 999)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestFetchChecklistOfflineWithoutCache(t *testing.T) {
	f := newFixture(t)
	f.net.on.Store(false)

	_, err := f.gw.FetchChecklist(context.Background(), 42)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Zero(t, f.srv.Calls(apitest.RouteGetChecklist))
}

func TestFetchChecklistFallsBackOnTransientOnly(t *testing.T) {
	f := newFixture(t)
	f.srv.AddChecklist(42, apitest.Checklist{Title: "Entrada", Fields: testFields, ResponseID: 42})
	ctx := context.Background()
	_, err := f.gw.FetchChecklist(ctx, 42)
	require.NoError(t, err)

	f.srv.FailWith(apitest.RouteGetChecklist, http.StatusServiceUnavailable)
	view, err := f.gw.FetchChecklist(ctx, 42)
	require.NoError(t, err)
	assert.True(t, view.FromCache)

	// A definitive refusal is not hidden behind the cache
	f.srv.FailWith(apitest.RouteGetChecklist, http.StatusForbidden)
	_, err = f.gw.FetchChecklist(ctx, 42)
	var rejected *checklistapi.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusForbidden, rejected.StatusCode)
}

func TestFetchChecklistTimeoutUsesCache(t *testing.T) {
	f := newFixture(t)
	f.srv.AddChecklist(42, apitest.Checklist{Title: "Entrada", Fields: testFields, ResponseID: 42})
	_, err := f.gw.FetchChecklist(context.Background(), 42)
	require.NoError(t, err)

	f.srv.Delay(apitest.RouteGetChecklist, 500*time.Millisecond)
	f.gw.timeout = 50 * time.Millisecond

	start := time.Now()
	view, err := f.gw.FetchChecklist(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, view.FromCache)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestRequiresToken(t *testing.T) {
	f := newFixture(t)
	gw := New(f.db, f.srv.Client(""), f.net, Options{})
	ctx := context.Background()

	_, err := gw.FetchChecklist(ctx, 1)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = gw.SaveField(ctx, models.Text("x"), 7, 42, 0, 0)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = gw.ListForms(ctx)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = gw.GenerateChecklist(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.Zero(t, f.srv.Calls(apitest.RouteGetChecklist))
	assert.Empty(t, queued(t, f.db))
}

func fetched(t *testing.T, f *fixture) *ChecklistView {
	t.Helper()
	f.srv.AddChecklist(42, apitest.Checklist{Title: "Entrada", Fields: testFields, ResponseID: 42})
	view, err := f.gw.FetchChecklist(context.Background(), 42)
	require.NoError(t, err)
	return view
}

func TestSaveFieldOnlineDeletesLocalRow(t *testing.T) {
	f := newFixture(t)
	view := fetched(t, f)

	res, err := f.gw.SaveField(context.Background(), models.MultiSelect{"ok"}, 8, view.ResponseID, view.LocalResponseID, 0)
	require.NoError(t, err)
	assert.False(t, res.Offline)

	saved := f.srv.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, int64(8), saved[0].FieldID)
	assert.Equal(t, int64(42), saved[0].ResponseID)
	assert.Equal(t, []any{"ok"}, saved[0].Value)

	rows, err := f.db.FieldResponsesByResponse(view.LocalResponseID)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, queued(t, f.db))
}

func TestSaveFieldWithoutLocalResponseFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gw.SaveField(ctx, models.Text("ABC1234"), 7, 0, 0, 0)
	assert.ErrorIs(t, err, db.ErrNotFound)

	// A server response id nothing local knows about
	_, err = f.gw.SaveField(ctx, models.Text("ABC1234"), 7, 555, 0, 0)
	assert.ErrorIs(t, err, db.ErrNotFound)

	assert.Empty(t, queued(t, f.db))
	assert.Zero(t, f.srv.Calls(apitest.RouteSaveField))
}

func TestSaveFieldOfflineQueues(t *testing.T) {
	f := newFixture(t)
	view := fetched(t, f)
	f.net.on.Store(false)

	res, err := f.gw.SaveField(context.Background(), models.Text("ABC1234"), 7, view.ResponseID, view.LocalResponseID, 0)
	require.NoError(t, err)
	assert.True(t, res.Offline)
	assert.NoError(t, res.RemoteErr)
	assert.Empty(t, f.srv.Saved())

	row, err := f.db.FieldResponseFor(view.LocalResponseID, 7)
	require.NoError(t, err)
	assert.Equal(t, models.SyncLocalOnly, row.SyncStatus)
	assert.Equal(t, models.Text("ABC1234"), row.Value)

	items := queued(t, f.db)
	require.Len(t, items, 1)
	assert.Equal(t, models.QueueUpdateField, items[0].Type)
	assert.Equal(t, models.PriorityUpdateField, items[0].Priority)

	var p models.UpdateFieldPayload
	require.NoError(t, json.Unmarshal(items[0].Payload, &p))
	assert.Equal(t, "ABC1234", p.Valor)
	assert.Equal(t, int64(7), p.IDCampo)
	assert.Equal(t, int64(42), p.IDResposta)
	assert.Equal(t, view.LocalResponseID, p.LocalResponseID)
	assert.Equal(t, row.ID, p.LocalFieldID)
}

func TestSaveFieldRejectedIsQueuedAndReported(t *testing.T) {
	f := newFixture(t)
	view := fetched(t, f)
	f.srv.FailWith(apitest.RouteSaveField, http.StatusUnprocessableEntity)

	res, err := f.gw.SaveField(context.Background(), models.Text("x"), 7, view.ResponseID, view.LocalResponseID, 0)
	require.NoError(t, err)
	assert.True(t, res.Offline)
	var rejected *checklistapi.RejectedError
	require.ErrorAs(t, res.RemoteErr, &rejected)
	assert.Len(t, queued(t, f.db), 1)
}

func TestSaveFieldServerErrorIsSilent(t *testing.T) {
	f := newFixture(t)
	view := fetched(t, f)
	f.srv.FailWith(apitest.RouteSaveField, http.StatusInternalServerError)

	res, err := f.gw.SaveField(context.Background(), models.Text("x"), 7, view.ResponseID, view.LocalResponseID, 0)
	require.NoError(t, err)
	assert.True(t, res.Offline)
	assert.NoError(t, res.RemoteErr)
}

func TestSubmitFormOfflineQueuesAtTopPriority(t *testing.T) {
	f := newFixture(t)
	view := fetched(t, f)
	f.net.on.Store(false)

	res, err := f.gw.SubmitForm(context.Background(), 42, view.ResponseID, view.LocalResponseID)
	require.NoError(t, err)
	assert.True(t, res.Offline)

	resp, err := f.db.GetFormResponse(view.LocalResponseID)
	require.NoError(t, err)
	assert.True(t, resp.IsComplete)

	items := queued(t, f.db)
	require.Len(t, items, 1)
	assert.Equal(t, models.QueueSubmitForm, items[0].Type)
	assert.Equal(t, models.PrioritySubmitForm, items[0].Priority)
}

func TestSubmitFormOnline(t *testing.T) {
	f := newFixture(t)
	view := fetched(t, f)

	res, err := f.gw.SubmitForm(context.Background(), 42, view.ResponseID, view.LocalResponseID)
	require.NoError(t, err)
	assert.False(t, res.Offline)
	assert.Equal(t, []apitest.Submission{{ChecklistID: 42, ResponseID: 42}}, f.srv.Submitted())

	resp, err := f.db.GetFormResponse(view.LocalResponseID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncSynced, resp.SyncStatus)
}

func TestGenerateChecklistOnline(t *testing.T) {
	f := newFixture(t)
	f.srv.AddForm(3, "Vistoria de entrada", testFields)
	f.srv.SetNextID(42)
	ctx := context.Background()

	_, err := f.gw.ListForms(ctx)
	require.NoError(t, err)

	gen, err := f.gw.GenerateChecklist(ctx, 3, 9)
	require.NoError(t, err)
	assert.False(t, gen.Offline)
	assert.Equal(t, int64(42), gen.ServerID)
	assert.Equal(t, int64(42), gen.ServerResponseID)

	c, err := f.db.GetChecklist(gen.ChecklistID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.ServerID)
	assert.Len(t, c.Fields, 2)

	resp, err := f.db.GetFormResponse(gen.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.ServerChecklistID)
	assert.Equal(t, int64(42), resp.ServerResponseID)
	assert.Equal(t, int64(3), resp.FormServerID)
	assert.Empty(t, queued(t, f.db))
}

func TestGenerateChecklistOffline(t *testing.T) {
	f := newFixture(t)
	f.srv.AddForm(3, "Vistoria de entrada", testFields)
	ctx := context.Background()
	_, err := f.gw.ListForms(ctx)
	require.NoError(t, err)

	f.net.on.Store(false)
	gen, err := f.gw.GenerateChecklist(ctx, 3, 9)
	require.NoError(t, err)
	assert.True(t, gen.Offline)
	assert.Zero(t, gen.ServerID)
	assert.Equal(t, "Vistoria de entrada", gen.Title)

	c, err := f.db.GetChecklist(gen.ChecklistID)
	require.NoError(t, err)
	assert.Zero(t, c.ServerID)
	assert.Len(t, c.Fields, 2)

	items := queued(t, f.db)
	require.Len(t, items, 1)
	assert.Equal(t, models.QueueCreateResponse, items[0].Type)
	var p models.CreateResponsePayload
	require.NoError(t, json.Unmarshal(items[0].Payload, &p))
	assert.Equal(t, gen.ChecklistID, p.LocalChecklistID)
	assert.Equal(t, gen.ResponseID, p.LocalResponseID)
	assert.Equal(t, int64(3), p.IDFormulario)
	assert.Equal(t, int64(9), p.IDUsuario)

	// The offline checklist opens from cache by its local id
	view, err := f.gw.FetchLocalChecklist(ctx, gen.ChecklistID)
	require.NoError(t, err)
	assert.True(t, view.FromCache)
	assert.Equal(t, gen.ResponseID, view.ResponseID)

	_, err = f.gw.GenerateChecklist(ctx, 99, 9)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestListFormsUsesCacheOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.net.on.Store(false)
	_, err := f.gw.ListForms(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)

	f.net.on.Store(true)
	f.srv.AddForm(3, "Entrada", testFields)
	f.srv.AddForm(4, "Saída", nil)
	forms, err := f.gw.ListForms(ctx)
	require.NoError(t, err)
	require.Len(t, forms, 2)

	f.srv.FailWith(apitest.RouteListForms, http.StatusBadGateway)
	cached, err := f.gw.ListForms(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, 2)
}

func TestPrefetchForOffline(t *testing.T) {
	f := newFixture(t)
	f.srv.AddChecklist(42, apitest.Checklist{Title: "A", Fields: testFields, ResponseID: 42})
	f.srv.AddChecklist(43, apitest.Checklist{Title: "B", Fields: testFields})
	ctx := context.Background()

	_, err := f.gw.FetchChecklist(ctx, 42)
	require.NoError(t, err)

	res, err := f.gw.PrefetchForOffline(ctx, []int64{42, 43, 44})
	require.NoError(t, err)
	assert.Equal(t, PrefetchResult{Downloaded: 1, Skipped: 1, Failed: 1}, res)

	_, err = f.db.ChecklistByServerID(43)
	assert.NoError(t, err)

	f.net.on.Store(false)
	_, err = f.gw.PrefetchForOffline(ctx, []int64{45})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAttachFileQueuesUpload(t *testing.T) {
	f := newFixture(t)
	view := fetched(t, f)

	item, err := f.gw.AttachFile(context.Background(), view.LocalResponseID, 9, models.KindPhoto, "frente.jpg", "image/jpeg", []byte{0xff, 0xd8})
	require.NoError(t, err)
	assert.Equal(t, models.FilePending, item.Status)

	row, err := f.db.GetFieldResponse(item.FieldResponseID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncSyncing, row.SyncStatus)

	unsynced, err := f.db.UnsyncedFieldResponses()
	require.NoError(t, err)
	assert.Empty(t, unsynced, "file rows belong to the file queue")

	items := queued(t, f.db)
	require.Len(t, items, 1)
	assert.Equal(t, models.QueueUploadFile, items[0].Type)

	_, err = f.gw.AttachFile(context.Background(), view.LocalResponseID, 9, models.KindText, "x", "text/plain", []byte("x"))
	assert.Error(t, err)
	_, err = f.gw.AttachFile(context.Background(), view.LocalResponseID, 9, models.KindPhoto, "x.jpg", "image/jpeg", nil)
	assert.Error(t, err)
}

func TestUnauthorizedServerSurfaces(t *testing.T) {
	f := newFixture(t)
	view := fetched(t, f)
	f.srv.FailWith(apitest.RouteSaveField, http.StatusUnauthorized)

	_, err := f.gw.SaveField(context.Background(), models.Text("x"), 7, view.ResponseID, view.LocalResponseID, 0)
	assert.True(t, errors.Is(err, ErrUnauthenticated))
}
