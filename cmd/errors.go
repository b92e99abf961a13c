package cmd

import (
	"errors"

	"github.com/marcus/vistoria/internal/checklistapi"
	"github.com/marcus/vistoria/internal/db"
	"github.com/marcus/vistoria/internal/gateway"
	"github.com/marcus/vistoria/internal/output"
	vsync "github.com/marcus/vistoria/internal/sync"
)

// errInvalidInput marks argument errors
var errInvalidInput = errors.New("invalid input")

// errorCode maps an error to its JSON error code
func errorCode(err error) string {
	switch {
	case errors.Is(err, gateway.ErrUnauthenticated):
		return output.ErrCodeUnauthenticated
	case errors.Is(err, gateway.ErrUnavailable):
		return output.ErrCodeUnavailable
	case errors.Is(err, vsync.ErrAlreadyRunning):
		return output.ErrCodeAlreadyRunning
	case errors.Is(err, db.ErrNotFound):
		return output.ErrCodeNotFound
	case errors.Is(err, errInvalidInput):
		return output.ErrCodeInvalidInput
	case checklistapi.IsRejected(err):
		return output.ErrCodeRejected
	default:
		return output.ErrCodeDatabaseError
	}
}

// reportError prints a failed command's error in the selected output mode
func reportError(err error) {
	if jsonOut {
		output.JSONError(errorCode(err), err.Error())
		return
	}
	if errors.Is(err, gateway.ErrUnauthenticated) {
		output.Error("%v (run 'vistoria auth token <token>' or set VISTORIA_TOKEN)", err)
		return
	}
	output.Error("%v", err)
}
