package cmd

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/vistoria/internal/checklistapi/apitest"
	"github.com/marcus/vistoria/internal/connectivity"
	"github.com/marcus/vistoria/internal/db"
	"github.com/marcus/vistoria/internal/gateway"
	vsync "github.com/marcus/vistoria/internal/sync"
	"github.com/marcus/vistoria/internal/syncconfig"
)

func newTestApp(t *testing.T, settle time.Duration) *app {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "vistoria.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	api := apitest.New(t).Client("tok")
	net := connectivity.NewMonitor(connectivity.Config{
		Primary:      connectivity.Static(true),
		PollInterval: time.Hour,
		SettleDelay:  settle,
	})
	return &app{
		db:     database,
		tokens: syncconfig.StaticToken("tok"),
		api:    api,
		net:    net,
		gw:     gateway.New(database, api, net, gateway.Options{RequestTimeout: time.Second}),
		mgr:    vsync.NewManager(database, api, vsync.Options{GraceDelay: time.Hour, RequestTimeout: time.Second}),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatcherSyncsOncePerReconnect(t *testing.T) {
	const settle = 30 * time.Millisecond
	a := newTestApp(t, settle)

	var runs atomic.Int32
	unsubscribe := a.mgr.Subscribe(func(ev vsync.Event) {
		if !ev.Running {
			runs.Add(1)
		}
	})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	w := newWatcher(a, true, time.Hour)
	go func() { done <- w.run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("run: %v", err)
		}
		a.Close()
	}()

	waitFor(t, "startup sync", func() bool { return runs.Load() == 1 && !a.mgr.Running() })

	// A flap inside the settle window still announces a single reconnect
	a.net.Observe(false)
	a.net.Observe(true)
	a.net.Observe(false)
	a.net.Observe(true)

	waitFor(t, "reconnect sync", func() bool { return runs.Load() == 2 })
	time.Sleep(5 * settle)
	if got := runs.Load(); got != 2 {
		t.Errorf("syncs after one reconnect = %d, want 2 (startup + reconnect)", got)
	}
}

func TestWatcherKickIgnoredWithoutAutoSync(t *testing.T) {
	w := newWatcher(nil, false, time.Hour)
	w.kick("reconnect")
	select {
	case reason := <-w.trigger:
		t.Errorf("unexpected trigger %q with auto sync off", reason)
	default:
	}

	w.auto = true
	w.kick("reconnect")
	w.kick("token")
	if reason := <-w.trigger; reason != "reconnect" {
		t.Errorf("trigger = %q, want reconnect", reason)
	}
	select {
	case reason := <-w.trigger:
		t.Errorf("second kick should be dropped, got %q", reason)
	default:
	}
}
