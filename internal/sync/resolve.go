package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/marcus/vistoria/internal/checklistapi"
	"github.com/marcus/vistoria/internal/db"
	"github.com/marcus/vistoria/internal/models"
)

// errNoServerID means a response cannot be created server-side because
// neither its checklist nor its form is known to the server.
var errNoServerID = errors.New("no server checklist or form to create the response from")

// resolveServerResponse returns the server checklist and response ids for a
// local response, creating them on the server when missing. It is
// idempotent: a response that already has both ids makes no call.
//
// The server answers checklist generation with a single id that names both
// the checklist and its response; that conflation lives only here.
func (m *Manager) resolveServerResponse(ctx context.Context, localResponseID, formID, userID int64) (checklistID, responseID int64, err error) {
	resp, err := m.db.GetFormResponse(localResponseID)
	if err != nil {
		return 0, 0, err
	}
	if resp.ServerChecklistID != 0 && resp.ServerResponseID != 0 {
		return resp.ServerChecklistID, resp.ServerResponseID, nil
	}

	c, err := m.db.GetChecklist(resp.ChecklistID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return 0, 0, err
	}

	checklistID = resp.ServerChecklistID
	if checklistID == 0 && c != nil {
		checklistID = c.ServerID
	}

	switch {
	case checklistID == 0:
		// Checklist created offline: generating it server-side yields one id for both
		if formID == 0 {
			formID = resp.FormServerID
		}
		if formID == 0 {
			return 0, 0, errNoServerID
		}
		if userID == 0 {
			userID = m.opts.UserID()
		}
		var gen *checklistapi.Generated
		err = m.call(ctx, func(ctx context.Context) error {
			var err error
			gen, err = m.api.GenerateChecklist(ctx, formID, userID, requestKey("generate", resp.ID))
			return err
		})
		if err != nil {
			return 0, 0, fmt.Errorf("generate checklist for response %d: %w", resp.ID, err)
		}
		checklistID, responseID = gen.ID, gen.ID

	case resp.ServerResponseID != 0:
		responseID = resp.ServerResponseID

	default:
		err = m.call(ctx, func(ctx context.Context) error {
			var err error
			responseID, err = m.api.CreateResponse(ctx, checklistID, requestKey("response", resp.ID))
			return err
		})
		if err != nil {
			return 0, 0, fmt.Errorf("create response on checklist %d: %w", checklistID, err)
		}
	}

	if err := m.db.SetResponseServerIDs(resp.ID, checklistID, responseID); err != nil {
		return 0, 0, err
	}
	if c != nil && c.ServerID == 0 {
		synced := models.SyncSynced
		if err := m.db.UpdateChecklist(c.ID, db.ChecklistUpdate{ServerID: &checklistID, SyncStatus: &synced}); err != nil {
			return 0, 0, err
		}
	}
	slog.Info("server response resolved", "local", resp.ID, "checklist", checklistID, "response", responseID)
	return checklistID, responseID, nil
}
