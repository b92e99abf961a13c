package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marcus/vistoria/internal/checklistapi"
	"github.com/marcus/vistoria/internal/connectivity"
	"github.com/marcus/vistoria/internal/db"
	"github.com/marcus/vistoria/internal/gateway"
	vsync "github.com/marcus/vistoria/internal/sync"
	"github.com/marcus/vistoria/internal/syncconfig"
)

// app holds the services a command works with. One per process.
type app struct {
	db     *db.DB
	tokens *syncconfig.TokenSource
	api    *checklistapi.Client
	net    *connectivity.Monitor
	gw     *gateway.Gateway
	mgr    *vsync.Manager
}

// openApp opens the database and wires the gateway and sync manager
func openApp() (*app, error) {
	database, err := db.Open(dbPath())
	if err != nil {
		return nil, err
	}

	tokens, err := syncconfig.NewTokenSource()
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("load token: %w", err)
	}

	timeout := syncconfig.GetRequestTimeout()
	api := checklistapi.New(syncconfig.GetAPIURL(), tokens.Get, timeout)

	netCfg := connectivity.DefaultConfig(syncconfig.GetProbeURL())
	if offlineFlag {
		netCfg.Primary = connectivity.Static(false)
		netCfg.Fallback = nil
	}
	net := connectivity.NewMonitor(netCfg)

	a := &app{
		db:     database,
		tokens: tokens,
		api:    api,
		net:    net,
		gw:     gateway.New(database, api, net, gateway.Options{RequestTimeout: timeout}),
		mgr: vsync.NewManager(database, api, vsync.Options{
			GraceDelay:     syncconfig.GetGraceDelay(),
			RequestTimeout: timeout,
			UserID:         syncconfig.GetUserID,
			RunLock:        true,
		}),
	}
	slog.Debug("app opened", "db", database.Path(), "api", syncconfig.GetAPIURL(), "offline_flag", offlineFlag)
	return a, nil
}

// Close stops background work and closes the database
func (a *app) Close() {
	if err := a.mgr.Close(); err != nil {
		slog.Warn("close sync manager", "err", err)
	}
	a.net.Stop()
	if err := a.db.Close(); err != nil {
		slog.Warn("close database", "err", err)
	}
}

// checklist opens the checklist ref names
func (a *app) checklist(ctx context.Context, ref checklistRef) (*gateway.ChecklistView, error) {
	if ref.local {
		return a.gw.FetchLocalChecklist(ctx, ref.id)
	}
	return a.gw.FetchChecklist(ctx, ref.id)
}
