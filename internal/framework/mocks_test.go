package framework

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// mockLLMClient returns scripted responses in order, repeating the last
// one once the script is exhausted.
type mockLLMClient struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (m *mockLLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *mockLLMClient) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.prompts = append(m.prompts, prompt)
	idx := m.calls
	m.calls++
	if idx >= len(m.responses) {
		if len(m.responses) == 0 {
			return "", fmt.Errorf("mock: no responses configured")
		}
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

// memStore is a single-session in-memory StateStore for contract tests.
type memStore struct {
	mu    sync.Mutex
	state *ExecutionState
}

func newMemStore(sessionID, frameworkID string) *memStore {
	return &memStore{state: &ExecutionState{
		SessionID: sessionID,
		Framework: frameworkID,
		Context:   make(map[string]any),
		Status:    StatusActive,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}}
}

func (m *memStore) State(sessionID string) (*ExecutionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil || m.state.SessionID != sessionID {
		return nil, false
	}
	cp := *m.state
	cp.Steps = append([]Step(nil), m.state.Steps...)
	return &cp, true
}

func (m *memStore) AddStep(sessionID string, step Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil || m.state.SessionID != sessionID {
		return ErrSessionNotFound
	}
	m.state.Steps = append(m.state.Steps, step)
	m.state.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) UpdateStep(sessionID, stepID string, patch StepPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil || m.state.SessionID != sessionID {
		return ErrSessionNotFound
	}
	for i := range m.state.Steps {
		if m.state.Steps[i].ID != stepID {
			continue
		}
		s := &m.state.Steps[i]
		if patch.Thought != nil {
			s.Thought = *patch.Thought
		}
		if patch.Action != nil {
			s.Action = *patch.Action
		}
		if patch.Result != nil && (s.Result == nil || !s.Result.Success) {
			s.Result = patch.Result
		}
		if patch.Confidence != nil {
			s.Confidence = *patch.Confidence
		}
		return nil
	}
	return ErrStepNotFound
}

func (m *memStore) SetPhase(sessionID, phase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.CurrentPhase = phase
	return nil
}

func (m *memStore) IncrementLoop(sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.LoopCount++
	return m.state.LoopCount, nil
}

func (m *memStore) SetContextValue(sessionID, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Context[key] = value
	return nil
}

func (m *memStore) SetStatus(sessionID string, status ExecutionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Status = status
	return nil
}

// recordingSink captures progress notifications.
type recordingSink struct {
	mu    sync.Mutex
	steps []Step
}

func (r *recordingSink) StepAdded(sessionID string, step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}
