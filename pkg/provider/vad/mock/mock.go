// Package mock is the test double for the vad interfaces: Engine records the
// configs it was asked for, Session replays a canned VADEvent and keeps every
// frame it was shown.
package mock

import (
	"sync"

	"github.com/rpgscribe/rpgscribe/pkg/provider/vad"
)

// NewSessionCall is one recorded Engine.NewSession invocation.
type NewSessionCall struct {
	Cfg vad.Config
}

// Engine implements vad.Engine with a fixed session.
type Engine struct {
	mu sync.Mutex

	// Session is handed out by NewSession; nil yields a fresh default
	// Session per call.
	Session vad.SessionHandle

	// NewSessionErr fails NewSession when set.
	NewSessionErr error

	NewSessionCalls []NewSessionCall
}

var _ vad.Engine = (*Engine)(nil)

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Reset drops the recorded calls.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = nil
}

// ProcessFrameCall is one recorded Session.ProcessFrame invocation; Frame is
// a copy.
type ProcessFrameCall struct {
	Frame []byte
}

// Session implements vad.SessionHandle with a fixed classification.
type Session struct {
	mu sync.Mutex

	// EventResult is returned from every ProcessFrame.
	EventResult vad.VADEvent

	// ProcessFrameErr fails every ProcessFrame when set.
	ProcessFrameErr error

	// CloseErr is returned from Close.
	CloseErr error

	ProcessFrameCalls []ProcessFrameCall
	ResetCallCount    int
	CloseCallCount    int
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame implements vad.SessionHandle.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProcessFrameCalls = append(s.ProcessFrameCalls, ProcessFrameCall{
		Frame: append([]byte(nil), frame...),
	})
	return s.EventResult, s.ProcessFrameErr
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ResetCalls drops the recorded call history.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProcessFrameCalls = nil
	s.ResetCallCount = 0
	s.CloseCallCount = 0
}
