// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"sync"
)

// recorder collects lifecycle events across services in call order
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeService struct {
	name string
	rec  *recorder
}

func (f *fakeService) Name() string { return f.name }

// fakeLifecycle implements Initializer, Runner and Shutdowner
type fakeLifecycle struct {
	fakeService
	initErr     error
	shutdownErr error
	runFn       func(ctx context.Context) error
}

func (f *fakeLifecycle) Init() error {
	f.rec.add("init " + f.name)
	return f.initErr
}

func (f *fakeLifecycle) Run(ctx context.Context) error {
	f.rec.add("run " + f.name)
	if f.runFn != nil {
		return f.runFn(ctx)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeLifecycle) Shutdown() error {
	f.rec.add("shutdown " + f.name)
	return f.shutdownErr
}

// fakeInitOnly implements only Initializer
type fakeInitOnly struct {
	fakeService
	initErr error
}

func (f *fakeInitOnly) Init() error {
	f.rec.add("init " + f.name)
	return f.initErr
}
