// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"

	"github.com/sustainable-computing-io/powermon/internal/service"
)

// ReadinessChecker reports whether the monitor has published data
type ReadinessChecker interface {
	Ready() bool
}

type probe struct {
	api          APIService
	powerMonitor ReadinessChecker
}

var (
	_ service.Service     = (*probe)(nil)
	_ service.Initializer = (*probe)(nil)
)

// NewProbe creates a new probe service that provides health check endpoints
func NewProbe(api APIService, powerMonitor ReadinessChecker) *probe {
	return &probe{
		api:          api,
		powerMonitor: powerMonitor,
	}
}

func (p *probe) Name() string {
	return "probe"
}

func (p *probe) Init() error {
	return p.api.Register("/probe/", "probe", "Health check endpoints", p.handlers())
}

func (p *probe) handlers() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/probe/readyz", p.readyzHandler)
	mux.HandleFunc("/probe/livez", p.livezHandler)
	return mux
}

// readyzHandler reports ready once the monitor has published a snapshot
func (p *probe) readyzHandler(w http.ResponseWriter, r *http.Request) {
	p.check(w, r, "ok", "not ready")
}

func (p *probe) livezHandler(w http.ResponseWriter, r *http.Request) {
	p.check(w, r, "alive", "not alive")
}

func (p *probe) check(w http.ResponseWriter, r *http.Request, ok, failed string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !p.powerMonitor.Ready() {
		respond(w, http.StatusServiceUnavailable, map[string]string{
			"status": failed,
			"reason": "monitor service not operational",
		})
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": ok})
}

func respond(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
