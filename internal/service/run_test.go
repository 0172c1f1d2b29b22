// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runAsync(ctx context.Context, services []Service) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, nil, services) }()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRun(t *testing.T) {
	t.Run("outer context cancels every runner", func(t *testing.T) {
		rec := &recorder{}
		a := &fakeLifecycle{fakeService: fakeService{"a", rec}}
		b := &fakeLifecycle{fakeService: fakeService{"b", rec}}

		ctx, cancel := context.WithCancel(context.Background())
		errCh := runAsync(ctx, []Service{a, b, &fakeService{"plain", rec}})

		require.Eventually(t, func() bool { return len(rec.list()) == 2 }, time.Second, 5*time.Millisecond)
		cancel()

		assert.NoError(t, waitErr(t, errCh))
		assert.ElementsMatch(t, []string{"run a", "run b", "shutdown a", "shutdown b"}, rec.list())
	})

	t.Run("first failure stops the others", func(t *testing.T) {
		rec := &recorder{}
		runErr := errors.New("listen tcp :8030: address already in use")
		server := &fakeLifecycle{
			fakeService: fakeService{"api-server", rec},
			runFn:       func(context.Context) error { return runErr },
		}
		monitor := &fakeLifecycle{fakeService: fakeService{"monitor", rec}}

		err := waitErr(t, runAsync(context.Background(), []Service{server, monitor}))
		assert.ErrorIs(t, err, runErr)
		assert.Contains(t, rec.list(), "shutdown monitor")
		assert.Contains(t, rec.list(), "shutdown api-server")
	})

	t.Run("shutdown errors do not change the result", func(t *testing.T) {
		rec := &recorder{}
		a := &fakeLifecycle{
			fakeService: fakeService{"a", rec},
			runFn:       func(context.Context) error { return nil },
			shutdownErr: errors.New("busy"),
		}

		assert.NoError(t, waitErr(t, runAsync(context.Background(), []Service{a})))
	})
}
