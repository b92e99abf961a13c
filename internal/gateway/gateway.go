// Package gateway performs every checklist mutation the UI asks for: it
// commits to the local database first and then tries the remote API with a
// bounded timeout, queueing the call when that fails.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/vistoria/internal/checklistapi"
	"github.com/marcus/vistoria/internal/db"
	"github.com/marcus/vistoria/internal/models"
)

// Connectivity reports whether the remote API is worth trying
type Connectivity interface {
	CurrentStatus(ctx context.Context) bool
}

// Options configures a Gateway
type Options struct {
	// RequestTimeout bounds each remote call; expiry counts as a transient failure
	RequestTimeout time.Duration
}

// Gateway is the only component that talks to the checklist API on behalf of the UI
type Gateway struct {
	db      *db.DB
	api     *checklistapi.Client
	online  Connectivity
	timeout time.Duration
}

// New creates a gateway
func New(database *db.DB, api *checklistapi.Client, online Connectivity, opts Options) *Gateway {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = checklistapi.DefaultTimeout
	}
	return &Gateway{db: database, api: api, online: online, timeout: opts.RequestTimeout}
}

func (g *Gateway) requireToken() error {
	if !g.api.HasToken() {
		return ErrUnauthenticated
	}
	return nil
}

func (g *Gateway) isOnline(ctx context.Context) bool {
	if g.online == nil {
		return true
	}
	return g.online.CurrentStatus(ctx)
}

// call runs fn with the per-request timeout
func (g *Gateway) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return fn(ctx)
}

// --- Fetch ---

// ChecklistView is what the UI renders for one checklist
type ChecklistView struct {
	// ID is the server id, or the local id for checklists created offline
	ID          int64
	ChecklistID int64
	ServerID    int64
	Title       string
	Fields      []models.FieldDef
	// ResponseID is the server response id, or the local response id when
	// the server has not assigned one yet
	ResponseID      int64
	LocalResponseID int64
	FormServerID    int64
	SavedAnswers    map[string]any
	// Pending holds answers not yet accepted by the server
	Pending   []models.FieldResponse
	FromCache bool
}

// FetchChecklist returns a checklist by its server id, preferring the server
// and falling back to the local cache when the server cannot be reached.
func (g *Gateway) FetchChecklist(ctx context.Context, serverID int64) (*ChecklistView, error) {
	if err := g.requireToken(); err != nil {
		return nil, err
	}

	cached, err := g.db.ChecklistByServerID(serverID)
	if errors.Is(err, db.ErrNotFound) {
		cached = nil
	} else if err != nil {
		return nil, err
	}

	if g.isOnline(ctx) {
		var remote *checklistapi.Checklist
		err := g.call(ctx, func(ctx context.Context) error {
			var err error
			remote, err = g.api.GetChecklist(ctx, serverID)
			return err
		})
		if err == nil {
			return g.storeFetched(serverID, remote)
		}
		if !checklistapi.IsTransient(err) {
			return nil, err
		}
		slog.Warn("fetch checklist failed, using cache", "id", serverID, "err", err)
	}

	if cached == nil {
		return nil, fmt.Errorf("checklist %d: %w", serverID, ErrUnavailable)
	}
	return g.cacheView(cached)
}

// FetchLocalChecklist opens a checklist by its local row id. Rows the server
// already knows are refreshed through FetchChecklist; rows created offline
// come from the cache.
func (g *Gateway) FetchLocalChecklist(ctx context.Context, localID int64) (*ChecklistView, error) {
	if err := g.requireToken(); err != nil {
		return nil, err
	}
	c, err := g.db.GetChecklist(localID)
	if err != nil {
		return nil, err
	}
	if c.ServerID != 0 {
		return g.FetchChecklist(ctx, c.ServerID)
	}
	return g.cacheView(c)
}

func (g *Gateway) storeFetched(id int64, remote *checklistapi.Checklist) (*ChecklistView, error) {
	title := remote.Title
	synced := models.SyncSynced

	local, err := g.db.ChecklistByServerID(id)
	switch {
	case err == nil:
		if err := g.db.UpdateChecklist(local.ID, db.ChecklistUpdate{
			ServerID: &id, Title: &title, Fields: nonNilFields(remote.Fields), SyncStatus: &synced,
		}); err != nil {
			return nil, err
		}
		local.Title = title
		local.Fields = remote.Fields
		local.SyncStatus = synced
	case errors.Is(err, db.ErrNotFound):
		local = &models.Checklist{ServerID: id, Title: title, Fields: remote.Fields, SyncStatus: synced}
		if _, err := g.db.SaveChecklist(local); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	view := &ChecklistView{
		ID:           id,
		ChecklistID:  local.ID,
		ServerID:     id,
		Title:        title,
		Fields:       local.Fields,
		SavedAnswers: remote.SavedAnswers,
	}

	var resp *models.FormResponse
	if remote.Response.ID != 0 {
		resp, err = g.db.FormResponseByServerResponseID(remote.Response.ID)
		if errors.Is(err, db.ErrNotFound) {
			resp = &models.FormResponse{
				ChecklistID:       local.ID,
				ServerChecklistID: id,
				ServerResponseID:  remote.Response.ID,
				SyncStatus:        models.SyncSynced,
			}
			if _, err := g.db.CreateFormResponse(resp); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		}
	} else {
		resp, err = g.db.ActiveFormResponse(local.ID)
		if errors.Is(err, db.ErrNotFound) {
			// The server has no response yet; sync creates it from this row
			resp = &models.FormResponse{
				ChecklistID:       local.ID,
				ServerChecklistID: id,
				SyncStatus:        models.SyncLocalOnly,
			}
			if _, err := g.db.CreateFormResponse(resp); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		}
	}

	if resp != nil {
		view.ResponseID = resp.ServerResponseID
		view.LocalResponseID = resp.ID
		view.FormServerID = resp.FormServerID
		if view.Pending, err = g.db.FieldResponsesByResponse(resp.ID); err != nil {
			return nil, err
		}
	}
	return view, nil
}

func (g *Gateway) cacheView(c *models.Checklist) (*ChecklistView, error) {
	view := &ChecklistView{
		ID:          c.ServerID,
		ChecklistID: c.ID,
		ServerID:    c.ServerID,
		Title:       c.Title,
		Fields:      c.Fields,
		FromCache:   true,
	}
	if view.ID == 0 {
		view.ID = c.ID
	}

	resp, err := g.db.ActiveFormResponse(c.ID)
	if errors.Is(err, db.ErrNotFound) {
		return view, nil
	}
	if err != nil {
		return nil, err
	}
	view.LocalResponseID = resp.ID
	view.ResponseID = resp.ServerResponseID
	if view.ResponseID == 0 && c.ServerID == 0 {
		view.ResponseID = resp.ID
	}
	view.FormServerID = resp.FormServerID
	if view.Pending, err = g.db.FieldResponsesByResponse(resp.ID); err != nil {
		return nil, err
	}
	return view, nil
}

// --- Field saves ---

// SaveResult reports how a mutation was delivered
type SaveResult struct {
	// Offline is true when the change was queued instead of delivered
	Offline bool
	// RemoteErr is the server's answer when it refused the write; the write is still queued
	RemoteErr error
}

// SaveField stores one answer locally and tries to deliver it. Network-side
// failures never surface: the write is queued as UPDATE_FIELD instead.
// The local response row is authoritative when localResponseID is known;
// otherwise it is found by responseServerID, and a save with neither fails
// with db.ErrNotFound.
func (g *Gateway) SaveField(ctx context.Context, value models.Value, fieldID, responseServerID, localResponseID, formServerID int64) (SaveResult, error) {
	if err := g.requireToken(); err != nil {
		return SaveResult{}, err
	}
	if value == nil {
		return SaveResult{}, fmt.Errorf("save field %d: no value", fieldID)
	}

	if localResponseID == 0 && responseServerID != 0 {
		resp, err := g.db.FormResponseByServerResponseID(responseServerID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return SaveResult{}, err
		}
		if resp != nil {
			localResponseID = resp.ID
		}
	}
	// Without a local response the answer has nowhere to live and nothing to replay into
	if localResponseID == 0 {
		return SaveResult{}, fmt.Errorf("save field %d: no local response for response %d: %w", fieldID, responseServerID, db.ErrNotFound)
	}

	resp, err := g.db.GetFormResponse(localResponseID)
	if err != nil {
		return SaveResult{}, err
	}
	serverResponseID := resp.ServerResponseID
	if formServerID == 0 {
		formServerID = resp.FormServerID
	}
	row := &models.FieldResponse{
		ResponseID:       localResponseID,
		FieldID:          fieldID,
		ServerFieldID:    fieldID,
		ServerResponseID: serverResponseID,
		Value:            value,
		SyncStatus:       models.SyncLocalOnly,
	}
	if _, err := g.db.SaveFieldResponse(row); err != nil {
		return SaveResult{}, err
	}

	payload := checklistapi.FieldValue{
		Value:      value.Wire(),
		FieldID:    fieldID,
		ResponseID: serverResponseID,
		FormID:     formServerID,
	}

	var remoteErr error
	if serverResponseID != 0 && g.isOnline(ctx) {
		remoteErr = g.call(ctx, func(ctx context.Context) error {
			return g.api.SaveField(ctx, payload, "")
		})
		if remoteErr == nil {
			if _, err := g.db.DeleteFieldResponseIfUnchanged(row.ID, row.LastModified); err != nil {
				return SaveResult{}, err
			}
			return SaveResult{}, nil
		}
		if errors.Is(remoteErr, ErrUnauthenticated) {
			return SaveResult{}, remoteErr
		}
		slog.Warn("save field failed, queued", "field", fieldID, "response", serverResponseID, "err", remoteErr)
	}

	job := models.UpdateFieldPayload{
		Valor:           payload.Value,
		IDCampo:         fieldID,
		IDResposta:      serverResponseID,
		IDFormulario:    formServerID,
		LocalResponseID: localResponseID,
		LocalFieldID:    row.ID,
	}
	if err := g.enqueue(models.QueueUpdateField, models.PriorityUpdateField, job); err != nil {
		return SaveResult{}, err
	}

	result := SaveResult{Offline: true}
	if checklistapi.IsRejected(remoteErr) {
		result.RemoteErr = remoteErr
	}
	return result, nil
}

// AttachFile records a captured image for a field and queues its upload.
// The field row is marked syncing so the generic field pass leaves it to the
// file queue.
func (g *Gateway) AttachFile(ctx context.Context, localResponseID, fieldID int64, kind models.FieldKind, fileName, mimeType string, data []byte) (*models.FileQueueItem, error) {
	if err := g.requireToken(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("attach %s: empty file", fileName)
	}
	resp, err := g.db.GetFormResponse(localResponseID)
	if err != nil {
		return nil, err
	}

	uri := "pending-upload:" + fileName
	var value models.Value
	switch kind {
	case models.KindSignature:
		value = models.Signature{URI: uri}
	case models.KindPhoto, "":
		value = models.Photo{URI: uri}
	default:
		return nil, fmt.Errorf("attach: field kind %s does not take files", kind)
	}

	row := &models.FieldResponse{
		ResponseID:       resp.ID,
		FieldID:          fieldID,
		ServerFieldID:    fieldID,
		ServerResponseID: resp.ServerResponseID,
		Value:            value,
		SyncStatus:       models.SyncSyncing,
	}
	if _, err := g.db.SaveFieldResponse(row); err != nil {
		return nil, err
	}

	item := &models.FileQueueItem{
		FieldResponseID: row.ID,
		ResponseID:      resp.ID,
		FieldID:         fieldID,
		FileName:        fileName,
		MimeType:        mimeType,
		Data:            data,
	}
	if _, err := g.db.EnqueueFile(item); err != nil {
		return nil, err
	}
	if err := g.enqueue(models.QueueUploadFile, models.PriorityUploadFile, models.UploadFilePayload{FileID: item.ID}); err != nil {
		return nil, err
	}
	slog.Debug("file queued", "file", item.ID, "field", fieldID, "bytes", len(data))
	return item, nil
}

// --- Submit ---

// SubmitForm marks a response complete and tries to finalize it on the server.
// Any failure is queued as SUBMIT_FORM and reported as an offline success.
func (g *Gateway) SubmitForm(ctx context.Context, checklistID, responseServerID, localResponseID int64) (SaveResult, error) {
	if err := g.requireToken(); err != nil {
		return SaveResult{}, err
	}

	serverChecklistID, serverResponseID := checklistID, responseServerID
	if localResponseID != 0 {
		done := true
		status := models.SyncLocalOnly
		if err := g.db.UpdateFormResponse(localResponseID, db.FormResponseUpdate{IsComplete: &done, SyncStatus: &status}); err != nil {
			return SaveResult{}, err
		}
		resp, err := g.db.GetFormResponse(localResponseID)
		if err != nil {
			return SaveResult{}, err
		}
		serverChecklistID, serverResponseID = resp.ServerChecklistID, resp.ServerResponseID
	}

	var remoteErr error
	if serverChecklistID != 0 && serverResponseID != 0 && g.isOnline(ctx) {
		remoteErr = g.call(ctx, func(ctx context.Context) error {
			return g.api.SubmitForm(ctx, serverChecklistID, serverResponseID, "")
		})
		if remoteErr == nil {
			if localResponseID != 0 {
				synced := models.SyncSynced
				if err := g.db.UpdateFormResponse(localResponseID, db.FormResponseUpdate{SyncStatus: &synced}); err != nil {
					return SaveResult{}, err
				}
			}
			return SaveResult{}, nil
		}
		if errors.Is(remoteErr, ErrUnauthenticated) {
			return SaveResult{}, remoteErr
		}
		slog.Warn("submit failed, queued", "checklist", serverChecklistID, "err", remoteErr)
	}

	job := models.SubmitFormPayload{
		ChecklistID:     serverChecklistID,
		IDResposta:      serverResponseID,
		LocalResponseID: localResponseID,
	}
	if err := g.enqueue(models.QueueSubmitForm, models.PrioritySubmitForm, job); err != nil {
		return SaveResult{}, err
	}
	result := SaveResult{Offline: true}
	if checklistapi.IsRejected(remoteErr) {
		result.RemoteErr = remoteErr
	}
	return result, nil
}

// --- Generate ---

// Generated describes a newly created checklist
type Generated struct {
	ChecklistID      int64
	ResponseID       int64
	ServerID         int64
	ServerResponseID int64
	Title            string
	Offline          bool
}

// GenerateChecklist creates a checklist from a form. When the server cannot
// be reached the checklist is built from the cached form definition and a
// CREATE_RESPONSE job is queued.
func (g *Gateway) GenerateChecklist(ctx context.Context, formID, userID int64) (*Generated, error) {
	if err := g.requireToken(); err != nil {
		return nil, err
	}

	form, err := g.db.FormDefinitionByServerID(formID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	if g.isOnline(ctx) {
		var gen *checklistapi.Generated
		err := g.call(ctx, func(ctx context.Context) error {
			var err error
			gen, err = g.api.GenerateChecklist(ctx, formID, userID, "")
			return err
		})
		if err == nil {
			return g.storeGenerated(formID, form, gen)
		}
		if !checklistapi.IsTransient(err) {
			return nil, err
		}
		slog.Warn("generate failed, creating offline", "form", formID, "err", err)
	}

	if form == nil {
		return nil, fmt.Errorf("form %d: %w", formID, ErrUnavailable)
	}

	c := &models.Checklist{Title: form.Name, Fields: form.Fields, SyncStatus: models.SyncLocalOnly}
	if _, err := g.db.SaveChecklist(c); err != nil {
		return nil, err
	}
	resp := &models.FormResponse{ChecklistID: c.ID, FormServerID: formID, SyncStatus: models.SyncLocalOnly}
	if _, err := g.db.CreateFormResponse(resp); err != nil {
		return nil, err
	}
	job := models.CreateResponsePayload{
		LocalChecklistID: c.ID,
		LocalResponseID:  resp.ID,
		IDFormulario:     formID,
		IDUsuario:        userID,
	}
	if err := g.enqueue(models.QueueCreateResponse, models.PriorityCreateResponse, job); err != nil {
		return nil, err
	}
	return &Generated{ChecklistID: c.ID, ResponseID: resp.ID, Title: c.Title, Offline: true}, nil
}

func (g *Gateway) storeGenerated(formID int64, form *models.FormDefinition, gen *checklistapi.Generated) (*Generated, error) {
	c := &models.Checklist{ServerID: gen.ID, Title: gen.Title, SyncStatus: models.SyncSynced}
	if form != nil {
		c.Fields = form.Fields
		if c.Title == "" {
			c.Title = form.Name
		}
	}
	if _, err := g.db.SaveChecklist(c); err != nil {
		return nil, err
	}
	// The server answers with one id that names both the checklist and its response
	resp := &models.FormResponse{
		ChecklistID:       c.ID,
		ServerChecklistID: gen.ID,
		ServerResponseID:  gen.ID,
		FormServerID:      formID,
		SyncStatus:        models.SyncSynced,
	}
	if _, err := g.db.CreateFormResponse(resp); err != nil {
		return nil, err
	}
	return &Generated{
		ChecklistID:      c.ID,
		ResponseID:       resp.ID,
		ServerID:         gen.ID,
		ServerResponseID: gen.ID,
		Title:            c.Title,
	}, nil
}

// --- Forms ---

// ListForms returns the forms a checklist can be generated from, refreshing
// the local cache when online.
func (g *Gateway) ListForms(ctx context.Context) ([]models.FormDefinition, error) {
	if err := g.requireToken(); err != nil {
		return nil, err
	}

	if g.isOnline(ctx) {
		forms, err := g.refreshForms(ctx)
		if err == nil {
			return forms, nil
		}
		if errors.Is(err, ErrUnauthenticated) {
			return nil, err
		}
		slog.Warn("list forms failed, using cache", "err", err)
	}

	cached, err := g.db.AllFormDefinitions()
	if err != nil {
		return nil, err
	}
	if len(cached) == 0 {
		return nil, fmt.Errorf("forms: %w", ErrUnavailable)
	}
	return cached, nil
}

func (g *Gateway) refreshForms(ctx context.Context) ([]models.FormDefinition, error) {
	var forms []checklistapi.Form
	if err := g.call(ctx, func(ctx context.Context) error {
		var err error
		forms, err = g.api.ListForms(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	out := make([]models.FormDefinition, 0, len(forms))
	for _, f := range forms {
		var fields []models.FieldDef
		err := g.call(ctx, func(ctx context.Context) error {
			var err error
			fields, err = g.api.GetFormFields(ctx, f.ID)
			return err
		})
		if err != nil {
			// Keep whatever field list is already cached
			slog.Warn("form fields unavailable", "form", f.ID, "err", err)
			fields = nil
		}
		def := &models.FormDefinition{ServerID: f.ID, Name: f.Name, Fields: fields}
		if _, err := g.db.SaveFormDefinition(def); err != nil {
			return nil, err
		}
		out = append(out, *def)
	}
	return out, nil
}

// PrefetchResult counts what PrefetchForOffline did
type PrefetchResult struct {
	Downloaded int
	Skipped    int
	Failed     int
}

// PrefetchForOffline downloads every listed checklist that is not cached yet
// so it can be opened without a connection. Per-checklist failures are logged
// and skipped.
func (g *Gateway) PrefetchForOffline(ctx context.Context, serverIDs []int64) (PrefetchResult, error) {
	var res PrefetchResult
	if err := g.requireToken(); err != nil {
		return res, err
	}
	if !g.isOnline(ctx) {
		return res, fmt.Errorf("prefetch: %w", ErrUnavailable)
	}

	for _, id := range serverIDs {
		if _, err := g.db.ChecklistByServerID(id); err == nil {
			res.Skipped++
			continue
		}
		var remote *checklistapi.Checklist
		err := g.call(ctx, func(ctx context.Context) error {
			var err error
			remote, err = g.api.GetChecklist(ctx, id)
			return err
		})
		if err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				return res, err
			}
			slog.Warn("prefetch checklist failed", "id", id, "err", err)
			res.Failed++
			continue
		}
		if _, err := g.storeFetched(id, remote); err != nil {
			return res, err
		}
		res.Downloaded++
	}
	return res, nil
}

func (g *Gateway) enqueue(typ models.QueueItemType, priority int, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	item := &models.SyncQueueItem{Type: typ, Priority: priority, Payload: data}
	if _, err := g.db.EnqueueSync(item); err != nil {
		return err
	}
	slog.Debug("queued", "type", typ, "id", item.ID, "priority", priority)
	return nil
}

func nonNilFields(f []models.FieldDef) []models.FieldDef {
	if f == nil {
		return []models.FieldDef{}
	}
	return f
}
