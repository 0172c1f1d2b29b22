// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"github.com/stretchr/testify/mock"
	"github.com/sustainable-computing-io/powermon/internal/monitor"
)

// mockPowerDataProvider implements monitor.PowerDataProvider for testing
type mockPowerDataProvider struct {
	mock.Mock
}

func (m *mockPowerDataProvider) Snapshot() (*monitor.Snapshot, error) {
	args := m.Called()
	snapshot := args.Get(0)
	if snapshot == nil {
		return nil, args.Error(1)
	}
	return snapshot.(*monitor.Snapshot), args.Error(1)
}

func (m *mockPowerDataProvider) Collect() *monitor.Snapshot {
	args := m.Called()
	return args.Get(0).(*monitor.Snapshot)
}

func (m *mockPowerDataProvider) DataChannel() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(chan struct{})
}

func (m *mockPowerDataProvider) DomainNames() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

// mockAPIService records registrations on its own mux
type mockAPIService struct {
	mux       *http.ServeMux
	endpoints []string
	err       error
}

func newMockAPIService() *mockAPIService {
	return &mockAPIService{mux: http.NewServeMux()}
}

func (m *mockAPIService) Name() string {
	return "mock-api"
}

func (m *mockAPIService) Register(endpoint, summary, description string, handler http.Handler) error {
	if m.err != nil {
		return m.err
	}
	m.mux.Handle(endpoint, handler)
	m.endpoints = append(m.endpoints, endpoint)
	return nil
}
