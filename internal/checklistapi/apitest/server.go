// Package apitest provides an in-memory checklist API server for tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/marcus/vistoria/internal/checklistapi"
	"github.com/marcus/vistoria/internal/models"
)

// Route names accepted by FailWith
const (
	RouteGetChecklist = "GET /checklist"
	RouteSubmit       = "POST /checklist"
	RouteSaveField    = "POST /salvar_campo"
	RouteGenerate     = "POST /gerar_checklist"
	RouteListForms    = "GET /gerar_checklist"
	RouteFormFields   = "GET /formulario"
)

// Checklist is a checklist held by the fake server
type Checklist struct {
	Title      string
	Fields     []models.FieldDef
	ResponseID int64
	Saved      map[string]any
}

// Submission records one POST /checklist/{id}
type Submission struct {
	ChecklistID int64
	ResponseID  int64
}

// Server is a fake checklist API. All fields are guarded by the embedded
// lock; use the accessor methods from tests.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	checklists map[int64]*Checklist
	forms      []checklistapi.Form
	formFields map[int64][]models.FieldDef
	saved      []checklistapi.FieldValue
	submitted  []Submission
	keys       []string
	fail       map[string]int
	delay      map[string]time.Duration
	calls      map[string]int
	nextID     int64
}

// New starts a server that is closed when the test ends
func New(t testing.TB) *Server {
	s := &Server{
		checklists: make(map[int64]*Checklist),
		formFields: make(map[int64][]models.FieldDef),
		fail:       make(map[string]int),
		delay:      make(map[string]time.Duration),
		calls:      make(map[string]int),
		nextID:     100,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /checklist/{id}", s.route(RouteGetChecklist, s.getChecklist))
	mux.HandleFunc("POST /checklist/{id}", s.route(RouteSubmit, s.submit))
	mux.HandleFunc("POST /salvar_campo", s.route(RouteSaveField, s.saveField))
	mux.HandleFunc("POST /gerar_checklist", s.route(RouteGenerate, s.generate))
	mux.HandleFunc("GET /gerar_checklist", s.route(RouteListForms, s.listForms))
	mux.HandleFunc("GET /formulario/{id}", s.route(RouteFormFields, s.formFieldsHandler))
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Client returns an API client pointed at the server
func (s *Server) Client(token string) *checklistapi.Client {
	return checklistapi.New(s.URL, func() string { return token }, 2*time.Second)
}

// AddChecklist registers a checklist under id
func (s *Server) AddChecklist(id int64, c Checklist) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checklists[id] = &c
}

// AddForm registers a form and its fields
func (s *Server) AddForm(id int64, name string, fields []models.FieldDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forms = append(s.forms, checklistapi.Form{ID: id, Name: name})
	s.formFields[id] = fields
}

// SetNextID sets the id handed out by the next generate call
func (s *Server) SetNextID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = id
}

// FailWith makes route answer with status until cleared with status 0
func (s *Server) FailWith(route string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.fail, route)
		return
	}
	s.fail[route] = status
}

// Delay makes route sleep before answering
func (s *Server) Delay(route string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay[route] = d
}

// Saved returns the accepted field writes in arrival order
func (s *Server) Saved() []checklistapi.FieldValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]checklistapi.FieldValue(nil), s.saved...)
}

// Submitted returns the accepted submissions
func (s *Server) Submitted() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Submission(nil), s.submitted...)
}

// RequestKeys returns every X-Request-ID received
func (s *Server) RequestKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

// Calls returns how many requests route received, failed ones included
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

func (s *Server) route(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[name]++
		if k := r.Header.Get("X-Request-ID"); k != "" {
			s.keys = append(s.keys, k)
		}
		status := s.fail[name]
		d := s.delay[name]
		s.mu.Unlock()

		if d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}
		if r.Header.Get("Authorization") == "" {
			writeError(w, http.StatusUnauthorized, "token ausente")
			return
		}
		if status != 0 {
			writeError(w, status, http.StatusText(status))
			return
		}
		h(w, r)
	}
}

func (s *Server) getChecklist(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	c, found := s.checklists[id]
	var body map[string]any
	if found {
		resposta := any([]any{})
		if c.ResponseID != 0 {
			resposta = map[string]int64{"id": c.ResponseID}
		}
		saved := any([]any{})
		if len(c.Saved) > 0 {
			saved = c.Saved
		}
		fields := c.Fields
		if fields == nil {
			fields = []models.FieldDef{}
		}
		body = map[string]any{"data": map[string]any{
			"id":              id,
			"titulo":          c.Title,
			"campos":          fields,
			"resposta":        resposta,
			"respostasSalvas": saved,
		}}
	}
	s.mu.Unlock()

	if !found {
		writeError(w, http.StatusNotFound, "checklist não encontrado")
		return
	}
	writeJSON(w, body)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		ResponseID int64 `json:"id_resposta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ResponseID == 0 {
		writeError(w, http.StatusUnprocessableEntity, "id_resposta obrigatório")
		return
	}
	s.mu.Lock()
	s.submitted = append(s.submitted, Submission{ChecklistID: id, ResponseID: body.ResponseID})
	s.mu.Unlock()
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) saveField(w http.ResponseWriter, r *http.Request) {
	var v checklistapi.FieldValue
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if v.ResponseID == 0 || v.FieldID == 0 {
		writeError(w, http.StatusUnprocessableEntity, "id_resposta e id_campo obrigatórios")
		return
	}
	s.mu.Lock()
	s.saved = append(s.saved, v)
	if c, ok := s.checklists[v.ResponseID]; ok {
		if c.Saved == nil {
			c.Saved = make(map[string]any)
		}
		c.Saved[strconv.FormatInt(v.FieldID, 10)] = v.Value
	}
	s.mu.Unlock()
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FormID      int64 `json:"id_formulario"`
		UserID      int64 `json:"id_usuario"`
		ChecklistID int64 `json:"id_checklist"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++

	if body.ChecklistID != 0 {
		c, ok := s.checklists[body.ChecklistID]
		if !ok {
			writeError(w, http.StatusNotFound, "checklist não encontrado")
			return
		}
		c.ResponseID = id
		writeJSON(w, map[string]any{"data": map[string]int64{"id": id}})
		return
	}

	fields, ok := s.formFields[body.FormID]
	if !ok {
		writeError(w, http.StatusNotFound, "formulário não encontrado")
		return
	}
	title := fmt.Sprintf("Checklist %d", id)
	for _, f := range s.forms {
		if f.ID == body.FormID {
			title = f.Name
		}
	}
	s.checklists[id] = &Checklist{Title: title, Fields: fields, ResponseID: id}
	writeJSON(w, map[string]any{"data": map[string]any{"id": id, "titulo": title}})
}

func (s *Server) listForms(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	forms := append([]checklistapi.Form{}, s.forms...)
	s.mu.Unlock()
	writeJSON(w, map[string]any{"data": map[string]any{"formularios": forms}})
}

func (s *Server) formFieldsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	fields, found := s.formFields[id]
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "formulário não encontrado")
		return
	}
	writeJSON(w, map[string]any{"data": map[string]any{"campos": fields}})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id inválido")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
