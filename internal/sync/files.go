package sync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/vistoria/internal/checklistapi"
	"github.com/marcus/vistoria/internal/db"
	"github.com/marcus/vistoria/internal/models"
)

// drainFiles uploads pending files not already tried by an UPLOAD_FILE job
// in this run.
func (m *Manager) drainFiles(ctx context.Context, res *Result, attempted map[int64]bool) error {
	files, err := m.db.PendingFiles()
	if err != nil {
		return err
	}
	for i := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := &files[i]
		if attempted[f.ID] {
			continue
		}
		if err := m.deliverFile(ctx, f, ""); err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				return err
			}
			res.FilesFailed++
			continue
		}
		res.FilesUploaded++
	}
	return nil
}

// deliverFile uploads one file as a data URL field value. Failure counts
// against the file's own retry budget; on success the owning field row goes.
func (m *Manager) deliverFile(ctx context.Context, f *models.FileQueueItem, key string) error {
	uploading := models.FileUploading
	now := time.Now()
	if err := m.db.UpdateFileItem(f.ID, db.FileItemUpdate{Status: &uploading, LastAttempt: &now}); err != nil {
		return err
	}

	err := m.uploadFile(ctx, f, key)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			pending := models.FilePending
			if uerr := m.db.UpdateFileItem(f.ID, db.FileItemUpdate{Status: &pending}); uerr != nil {
				return uerr
			}
			return err
		}
		status, ierr := m.db.IncrementFileRetry(f.ID, err.Error())
		if ierr != nil {
			return ierr
		}
		slog.Warn("file upload failed", "file", f.ID, "name", f.FileName, "status", status, "err", err)
		return err
	}

	uploaded := models.FileUploaded
	if err := m.db.UpdateFileItem(f.ID, db.FileItemUpdate{Status: &uploaded}); err != nil {
		return err
	}
	if err := m.db.Delete(db.TableFieldResponses, f.FieldResponseID); err != nil {
		return err
	}
	m.scheduleDelete(db.TableFileQueue, f.ID)
	slog.Debug("file uploaded", "file", f.ID, "bytes", len(f.Data))
	return nil
}

func (m *Manager) uploadFile(ctx context.Context, f *models.FileQueueItem, key string) error {
	resp, err := m.db.GetFormResponse(f.ResponseID)
	if err != nil {
		return fmt.Errorf("file %d: %w", f.ID, err)
	}
	_, responseID, err := m.resolveServerResponse(ctx, resp.ID, resp.FormServerID, 0)
	if err != nil {
		return err
	}
	if key == "" {
		key = requestKey("file", f.ID)
	}

	v := checklistapi.FieldValue{
		Value:      dataURL(f.MimeType, f.Data),
		FieldID:    f.FieldID,
		ResponseID: responseID,
		FormID:     resp.FormServerID,
	}
	return m.call(ctx, func(ctx context.Context) error {
		return m.api.SaveField(ctx, v, key)
	})
}

func dataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
