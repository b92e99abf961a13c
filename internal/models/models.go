package models

import (
	"encoding/json"
	"time"
)

// SyncStatus tracks whether a local row has reached the server
type SyncStatus string

const (
	SyncLocalOnly SyncStatus = "local_only"
	SyncSyncing   SyncStatus = "syncing"
	SyncSynced    SyncStatus = "synced"
	SyncConflict  SyncStatus = "conflict"
	SyncError     SyncStatus = "error"
)

// QueueItemType identifies the deferred remote operation a queue item carries
type QueueItemType string

const (
	QueueCreateResponse QueueItemType = "CREATE_RESPONSE"
	QueueUpdateField    QueueItemType = "UPDATE_FIELD"
	QueueSubmitForm     QueueItemType = "SUBMIT_FORM"
	QueueUploadFile     QueueItemType = "UPLOAD_FILE"
)

// QueueStatus represents the lifecycle state of a sync queue item
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueFailed     QueueStatus = "failed"
	QueueCompleted  QueueStatus = "completed"
)

// FileStatus represents the lifecycle state of a file upload
type FileStatus string

const (
	FilePending   FileStatus = "pending"
	FileUploading FileStatus = "uploading"
	FileUploaded  FileStatus = "uploaded"
	FileError     FileStatus = "error"
)

// Queue priorities. Lower drains first.
const (
	PrioritySubmitForm     = 1
	PriorityCreateResponse = 2
	PriorityUpdateField    = 5
	PriorityUploadFile     = 5
	PriorityDefault        = 10
)

// DefaultMaxRetries is the attempt budget given to new queue items
const DefaultMaxRetries = 3

// FieldDef is one field of a checklist definition as served by the API
type FieldDef struct {
	ID      int64           `json:"id"`
	Label   string          `json:"label"`
	Type    string          `json:"tipo"`
	Options json.RawMessage `json:"opcoes,omitempty"`
}

// Kind maps the server type tag to the value variant the field stores
func (f FieldDef) Kind() FieldKind {
	return KindForType(f.Type)
}

// Checklist is the cached definition of one checklist
type Checklist struct {
	ID           int64      `json:"id"`
	ServerID     int64      `json:"server_id,omitempty"` // 0 when created offline
	Title        string     `json:"title"`
	Fields       []FieldDef `json:"fields"`
	SyncStatus   SyncStatus `json:"sync_status"`
	LastModified time.Time  `json:"last_modified"`
	CreatedAt    time.Time  `json:"created_at"`
}

// FormDefinition is a cached form template that checklists are generated from
type FormDefinition struct {
	ID           int64      `json:"id"`
	ServerID     int64      `json:"server_id"`
	Name         string     `json:"name"`
	Fields       []FieldDef `json:"fields"`
	LastModified time.Time  `json:"last_modified"`
	CreatedAt    time.Time  `json:"created_at"`
}

// FormResponse is one answer-set for a checklist
type FormResponse struct {
	ID                int64          `json:"id"`
	ChecklistID       int64          `json:"checklist_id"`
	ServerChecklistID int64          `json:"server_checklist_id,omitempty"`
	ServerResponseID  int64          `json:"server_response_id,omitempty"`
	FormServerID      int64          `json:"form_server_id,omitempty"`
	FormValues        map[string]any `json:"form_values,omitempty"`
	IsComplete        bool           `json:"is_complete"`
	SyncStatus        SyncStatus     `json:"sync_status"`
	LastModified      time.Time      `json:"last_modified"`
	CreatedAt         time.Time      `json:"created_at"`
}

// FieldResponse is the answer to a single field. A row only exists while it
// still has to reach the server; successful sync deletes it.
type FieldResponse struct {
	ID               int64      `json:"id"`
	ResponseID       int64      `json:"response_id"`
	FieldID          int64      `json:"field_id"`
	ServerFieldID    int64      `json:"server_field_id,omitempty"`
	ServerResponseID int64      `json:"server_response_id,omitempty"`
	Value            Value      `json:"-"`
	SyncStatus       SyncStatus `json:"sync_status"`
	LastModified     time.Time  `json:"last_modified"`
	CreatedAt        time.Time  `json:"created_at"`
}

// RemoteFieldID returns the id the server knows this field by
func (f FieldResponse) RemoteFieldID() int64 {
	if f.ServerFieldID != 0 {
		return f.ServerFieldID
	}
	return f.FieldID
}

// SyncQueueItem is a durable job describing one deferred remote operation
type SyncQueueItem struct {
	ID          int64           `json:"id"`
	Type        QueueItemType   `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	RequestKey  string          `json:"request_key"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	Priority    int             `json:"priority"`
	Status      QueueStatus     `json:"status"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	LastAttempt *time.Time      `json:"last_attempt,omitempty"`
}

// FileQueueItem is a durable binary upload job for a camera capture or signature
type FileQueueItem struct {
	ID              int64      `json:"id"`
	FieldResponseID int64      `json:"field_response_id"`
	ResponseID      int64      `json:"response_id"`
	FieldID         int64      `json:"field_id"`
	FileName        string     `json:"file_name"`
	MimeType        string     `json:"mime_type"`
	Data            []byte     `json:"-"`
	Status          FileStatus `json:"status"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	LastError       string     `json:"last_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastAttempt     *time.Time `json:"last_attempt,omitempty"`
}

// QueueStats aggregates sync queue items by status
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Completed  int `json:"completed"`
	Total      int `json:"total"`
}

// FileQueueStats aggregates file queue items by status
type FileQueueStats struct {
	Pending   int `json:"pending"`
	Uploading int `json:"uploading"`
	Uploaded  int `json:"uploaded"`
	Error     int `json:"error"`
	Total     int `json:"total"`
}

// DatabaseStats holds row counts per local table
type DatabaseStats struct {
	Checklists      int `json:"checklists"`
	FormDefinitions int `json:"form_definitions"`
	FormResponses   int `json:"form_responses"`
	FieldResponses  int `json:"field_responses"`
	SyncQueue       int `json:"sync_queue"`
	FileQueue       int `json:"file_queue"`
}
