// Package health reports liveness plus a resource snapshot at /healthz,
// adapted from the teacher's ResourceGuard.UpdateResources
// (src/resource_guard.go): cpu.Percent(100ms) for CPU, runtime.MemStats
// for memory, plus a Postgres ping instead of the teacher's NATS/Redis
// connectivity checks.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"todosync-server/internal/store"
)

type Snapshot struct {
	OK              bool    `json:"ok"`
	CPUPercent      float64 `json:"cpuPercent"`
	MemoryAllocMB   int64   `json:"memoryAllocMb"`
	Goroutines      int     `json:"goroutines"`
	PostgresReachable bool  `json:"postgresReachable"`
}

// Handler builds an http.HandlerFunc that samples CPU/memory and pings
// Postgres on every call. A 100ms CPU sample keeps /healthz responsive
// while still returning a real reading instead of cpu.Percent(0, false)'s
// invalid first-call baseline.
func Handler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := Snapshot{OK: true}

		cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
		if err == nil && len(cpuPercent) > 0 {
			snap.CPUPercent = cpuPercent[0]
		}

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		snap.MemoryAllocMB = int64(mem.Alloc) / (1024 * 1024)
		snap.Goroutines = runtime.NumGoroutine()

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		snap.PostgresReachable = st.Pool.Ping(ctx) == nil
		if !snap.PostgresReachable {
			snap.OK = false
		}

		w.Header().Set("Content-Type", "application/json")
		if !snap.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(snap)
	}
}
