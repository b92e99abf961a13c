package models

// Queue payloads. The wire fields mirror the remote API body so an
// UPDATE_FIELD payload can be replayed as-is; the local_* fields let the sync
// manager find the rows the job belongs to.

// UpdateFieldPayload is the body of an UPDATE_FIELD job
type UpdateFieldPayload struct {
	Valor        any   `json:"valor"`
	IDCampo      int64 `json:"id_campo"`
	IDResposta   int64 `json:"id_resposta"`
	IDFormulario int64 `json:"id_formulario,omitempty"`
	Web          int   `json:"web"`

	LocalResponseID int64 `json:"local_response_id,omitempty"`
	LocalFieldID    int64 `json:"local_field_id,omitempty"`
}

// SubmitFormPayload is the body of a SUBMIT_FORM job
type SubmitFormPayload struct {
	ChecklistID     int64 `json:"checklistId"`
	IDResposta      int64 `json:"id_resposta"`
	LocalResponseID int64 `json:"localResponseId,omitempty"`
}

// CreateResponsePayload is the body of a CREATE_RESPONSE job
type CreateResponsePayload struct {
	LocalChecklistID int64 `json:"localChecklistId"`
	LocalResponseID  int64 `json:"localResponseId"`
	IDFormulario     int64 `json:"idFormulario"`
	IDUsuario        int64 `json:"idUsuario"`
}

// UploadFilePayload is the body of an UPLOAD_FILE job
type UploadFilePayload struct {
	FileID int64 `json:"fileId"`
}
