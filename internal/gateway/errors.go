package gateway

import (
	"errors"

	"github.com/marcus/vistoria/internal/checklistapi"
)

var (
	// ErrUnauthenticated means no bearer token is configured or the server refused it
	ErrUnauthenticated = checklistapi.ErrUnauthenticated

	// ErrUnavailable means the data is neither reachable online nor cached
	ErrUnavailable = errors.New("not available offline")
)
