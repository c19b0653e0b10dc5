package httpapi

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	apperrors "github.com/Centace/centace/internal/errors"
	"github.com/Centace/centace/internal/httputil"
	"github.com/Centace/centace/internal/mailer"
	"github.com/Centace/centace/internal/middleware"
)

// diagnosticsTable is the hosted-backend table pinged by test-db.
const diagnosticsTable = "profiles"

type dbCheck struct {
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms"`
	Table     string `json:"table"`
	Rows      *int   `json:"rows,omitempty"`
	Error     string `json:"error,omitempty"`
	LocalDB   *check `json:"local_db,omitempty"`
	Cache     *check `json:"cache,omitempty"`
}

type check struct {
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

func timed(ctx context.Context, fn func(context.Context) error) *check {
	start := time.Now()
	err := fn(ctx)
	c := &check{OK: err == nil, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}

func (h *handler) testDB(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var rows *int
	remote := timed(ctx, func(ctx context.Context) error {
		resp, err := h.app.Supabase.From(diagnosticsTable).Select("id").Limit(1).Count("exact").Execute(ctx)
		if err != nil {
			return err
		}
		if err := resp.Error(); err != nil {
			return err
		}
		if n := resp.Count(); n >= 0 {
			rows = &n
		}
		return nil
	})
	out := dbCheck{OK: remote.OK, LatencyMs: remote.LatencyMs, Table: diagnosticsTable, Rows: rows, Error: remote.Error}

	if db := h.app.DB(); db != nil {
		out.LocalDB = timed(ctx, db.PingContext)
	}
	if rdb := h.app.Redis(); rdb != nil {
		out.Cache = timed(ctx, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	status := http.StatusOK
	if !out.OK {
		status = http.StatusBadGateway
	}
	httputil.WriteJSON(w, status, out)
}

type testEmailRequest struct {
	To string `json:"to"`
}

func (h *handler) testEmail(w http.ResponseWriter, r *http.Request) {
	if h.app.Mailer == nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: "email is not configured"})
		return
	}

	var req testEmailRequest
	if err := httputil.DecodeJSON(r.Body, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	to := strings.TrimSpace(req.To)
	if to == "" {
		to = middleware.GetEmail(r.Context())
	}
	if to == "" {
		httputil.BadRequest(w, "to is required")
		return
	}

	cfg := h.app.Config
	err := h.app.Mailer.Send(r.Context(), mailer.Message{
		To:      []string{to},
		Subject: "Centace test email",
		Text:    "This is a test email from Centace (" + cfg.App.Environment + ", " + cfg.App.Version + ").",
		HTML:    "<p>This is a test email from <strong>Centace</strong>.</p>",
	})
	if err != nil {
		h.writeError(w, r, apperrors.Network("failed to send test email", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type diagnosticsResponse struct {
	Timestamp string         `json:"timestamp"`
	Uptime    float64        `json:"uptime"`
	Version   string         `json:"version"`
	Go        goStats        `json:"go"`
	Process   map[string]any `json:"process,omitempty"`
	Host      map[string]any `json:"host,omitempty"`
	Service   serviceStats   `json:"service"`
	Errors    []string       `json:"errors,omitempty"`
}

type goStats struct {
	Version    string `json:"version"`
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc_bytes"`
	NumGC      uint32 `json:"num_gc"`
}

type serviceStats struct {
	Sessions          int `json:"sessions"`
	NotificationSyncs int `json:"notification_syncs"`
}

func (h *handler) diagnostics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	out := diagnosticsResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    h.app.Uptime().Seconds(),
		Version:   h.app.Config.App.Version,
		Go: goStats{
			Version:    runtime.Version(),
			Goroutines: runtime.NumGoroutine(),
			HeapAlloc:  ms.HeapAlloc,
			NumGC:      ms.NumGC,
		},
		Service: serviceStats{
			Sessions:          h.app.Sessions.Len(),
			NotificationSyncs: h.app.Notifications.Len(),
		},
		Process: map[string]any{},
		Host:    map[string]any{},
	}
	fail := func(what string, err error) {
		out.Errors = append(out.Errors, what+": "+err.Error())
	}

	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err != nil {
		fail("process", err)
	} else {
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
			out.Process["rss_bytes"] = mi.RSS
			out.Process["vms_bytes"] = mi.VMS
		} else {
			fail("process memory", err)
		}
		if pct, err := p.CPUPercentWithContext(ctx); err == nil {
			out.Process["cpu_percent"] = pct
		}
		if n, err := p.NumThreadsWithContext(ctx); err == nil {
			out.Process["threads"] = n
		}
	}

	if info, err := host.InfoWithContext(ctx); err != nil {
		fail("host", err)
	} else {
		out.Host["hostname"] = info.Hostname
		out.Host["os"] = info.OS
		out.Host["platform"] = info.Platform
		out.Host["kernel"] = info.KernelVersion
		out.Host["uptime_seconds"] = info.Uptime
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		fail("memory", err)
	} else {
		out.Host["memory_total_bytes"] = vm.Total
		out.Host["memory_used_percent"] = vm.UsedPercent
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		out.Host["cpus"] = n
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		out.Host["load1"] = avg.Load1
		out.Host["load5"] = avg.Load5
		out.Host["load15"] = avg.Load15
	}

	httputil.WriteJSON(w, http.StatusOK, out)
}
