// Package checklistapi is the HTTP client for the remote checklist API.
package checklistapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marcus/vistoria/internal/models"
)

// DefaultTimeout bounds a single request when the caller sets none
const DefaultTimeout = 10 * time.Second

// Client is an HTTP client for the checklist API.
type Client struct {
	BaseURL string
	// Token returns the current bearer token; empty means not logged in
	Token func() string
	HTTP  *http.Client
}

// New creates a client with a fixed token source.
func New(baseURL string, token func() string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// HasToken reports whether a bearer token is available
func (c *Client) HasToken() bool {
	return c.Token != nil && c.Token() != ""
}

// --- Response types ---

// ResponseRef identifies a server-side response. The server sends {} when
// the checklist has none yet.
type ResponseRef struct {
	ID int64 `json:"id,omitempty"`
}

// Checklist is the body of GET /checklist/{id}
type Checklist struct {
	ID           int64             `json:"id"`
	Title        string            `json:"titulo"`
	Fields       []models.FieldDef `json:"campos"`
	Response     ResponseRef       `json:"resposta"`
	SavedAnswers map[string]any    `json:"-"`
}

// UnmarshalJSON tolerates respostasSalvas arriving as [] when empty
func (c *Checklist) UnmarshalJSON(data []byte) error {
	type plain Checklist
	var aux struct {
		plain
		Response     json.RawMessage `json:"resposta"`
		SavedAnswers json.RawMessage `json:"respostasSalvas"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = Checklist(aux.plain)
	if isObject(aux.Response) {
		if err := json.Unmarshal(aux.Response, &c.Response); err != nil {
			return fmt.Errorf("resposta: %w", err)
		}
	}
	if isObject(aux.SavedAnswers) {
		if err := json.Unmarshal(aux.SavedAnswers, &c.SavedAnswers); err != nil {
			return fmt.Errorf("respostasSalvas: %w", err)
		}
	}
	return nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// Generated is the body returned by POST /gerar_checklist
type Generated struct {
	ID    int64  `json:"id"`
	Title string `json:"titulo,omitempty"`
}

// Form is one entry of GET /gerar_checklist
type Form struct {
	ID   int64  `json:"id"`
	Name string `json:"nome"`
}

// FieldValue is the body of POST /salvar_campo
type FieldValue struct {
	Value      any   `json:"valor"`
	FieldID    int64 `json:"id_campo"`
	ResponseID int64 `json:"id_resposta"`
	FormID     int64 `json:"id_formulario,omitempty"`
	Web        int   `json:"web"`
}

// envelope wraps every successful response
type envelope[T any] struct {
	Data T `json:"data"`
}

// --- API methods ---

// GetChecklist fetches a checklist definition and its current response
func (c *Client) GetChecklist(ctx context.Context, id int64) (*Checklist, error) {
	var resp envelope[Checklist]
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/checklist/%d", id), "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// SaveField writes one field value. requestKey is sent as X-Request-ID so the
// server can recognise a replay.
func (c *Client) SaveField(ctx context.Context, v FieldValue, requestKey string) error {
	return c.do(ctx, http.MethodPost, "/salvar_campo", requestKey, v, nil)
}

// SubmitForm marks a response as finished
func (c *Client) SubmitForm(ctx context.Context, checklistID, responseID int64, requestKey string) error {
	body := map[string]int64{"id_resposta": responseID}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/checklist/%d", checklistID), requestKey, body, nil)
}

// GenerateChecklist creates a checklist (and its response) from a form
func (c *Client) GenerateChecklist(ctx context.Context, formID, userID int64, requestKey string) (*Generated, error) {
	body := map[string]int64{"id_formulario": formID, "id_usuario": userID}
	var resp envelope[Generated]
	if err := c.do(ctx, http.MethodPost, "/gerar_checklist", requestKey, body, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == 0 {
		return nil, &RejectedError{StatusCode: http.StatusOK, Message: "generate returned no id"}
	}
	return &resp.Data, nil
}

// CreateResponse opens a new response on an existing server checklist
func (c *Client) CreateResponse(ctx context.Context, checklistID int64, requestKey string) (int64, error) {
	body := map[string]int64{"id_checklist": checklistID}
	var resp envelope[Generated]
	if err := c.do(ctx, http.MethodPost, "/gerar_checklist", requestKey, body, &resp); err != nil {
		return 0, err
	}
	if resp.Data.ID == 0 {
		return 0, &RejectedError{StatusCode: http.StatusOK, Message: "create response returned no id"}
	}
	return resp.Data.ID, nil
}

// ListForms lists the forms a checklist can be generated from
func (c *Client) ListForms(ctx context.Context) ([]Form, error) {
	var resp envelope[struct {
		Forms []Form `json:"formularios"`
	}]
	if err := c.do(ctx, http.MethodGet, "/gerar_checklist", "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Forms, nil
}

// GetFormFields fetches the field list of one form
func (c *Client) GetFormFields(ctx context.Context, formID int64) ([]models.FieldDef, error) {
	var resp struct {
		Data struct {
			Fields []models.FieldDef `json:"campos"`
		} `json:"data"`
		Fields []models.FieldDef `json:"campos"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/formulario/%d", formID), "", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data.Fields != nil {
		return resp.Data.Fields, nil
	}
	return resp.Fields, nil
}

// --- HTTP helpers ---

// apiError is the error body sent by the server
type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path, requestKey string, body, result any) error {
	token := ""
	if c.Token != nil {
		token = c.Token()
	}
	if token == "" {
		return ErrUnauthenticated
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Authorization", "Bearer "+token)
	if requestKey != "" {
		req.Header.Set("X-Request-ID", requestKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: "read " + path, Err: err}
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &apiErr) == nil {
			if apiErr.Message != "" {
				msg = apiErr.Message
			} else if apiErr.Error != "" {
				msg = apiErr.Error
			}
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", ErrUnauthenticated, msg)
		}
		return &RejectedError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
