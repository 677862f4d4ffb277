// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervisor

import (
	"context"
	"sync"
)

// Mock is a Supervisor for tests.
//
// # Description
//
// LaunchFunc decides the result of every launch. When it is nil, every
// launch exits with status zero. All calls are recorded in order.
//
// # Example
//
//	mock := &supervisor.Mock{
//	    LaunchFunc: func(ctx context.Context, c supervisor.Command) (*supervisor.Exit, error) {
//	        return supervisor.ExitCode(111), nil
//	    },
//	}
type Mock struct {
	LaunchFunc func(ctx context.Context, cmd Command) (*Exit, error)

	mu    sync.Mutex
	calls []Command
}

var _ Supervisor = (*Mock)(nil)

// Launch records the call and delegates to LaunchFunc.
func (m *Mock) Launch(ctx context.Context, cmd Command) (*Exit, error) {
	m.mu.Lock()
	m.calls = append(m.calls, cmd)
	fn := m.LaunchFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, cmd)
	}
	return ExitCode(0), nil
}

// Calls returns a copy of every recorded command.
func (m *Mock) Calls() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Command, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset clears the recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// ExitCode builds an Exit for a normal termination with the given status.
func ExitCode(code int) *Exit {
	return &Exit{Code: code}
}

// EnvValue returns the last value set for key in cmd.Env.
func (c Command) EnvValue(key string) (string, bool) {
	prefix := key + "="
	for i := len(c.Env) - 1; i >= 0; i-- {
		if len(c.Env[i]) >= len(prefix) && c.Env[i][:len(prefix)] == prefix {
			return c.Env[i][len(prefix):], true
		}
	}
	return "", false
}
