// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sustainable-computing-io/powermon/internal/monitor"
	"github.com/sustainable-computing-io/powermon/internal/service"
)

// DataEndpoint is the path serving one freshly collected snapshot per request
const DataEndpoint = "/data"

type data struct {
	logger  *slog.Logger
	api     APIService
	monitor monitor.PowerDataProvider
}

var (
	_ service.Service     = (*data)(nil)
	_ service.Initializer = (*data)(nil)
)

// NewData creates the service answering /data requests with a new snapshot
func NewData(api APIService, pm monitor.PowerDataProvider, logger *slog.Logger) *data {
	return &data{
		logger:  logger.With("service", "data"),
		api:     api,
		monitor: pm,
	}
}

func (d *data) Name() string {
	return "data"
}

func (d *data) Init() error {
	return d.api.Register(DataEndpoint, "data", "Power and frequency snapshot (JSON)", http.HandlerFunc(d.handle))
}

func (d *data) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := d.monitor.Collect()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		d.logger.Error("failed to encode snapshot", "error", err)
	}
}
