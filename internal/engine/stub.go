package engine

import (
	"context"
	"sync"
)

// Stub is an in-memory Engine for tests. It records lifecycle calls and
// lets tests inject observer events and script a training failure.
type Stub struct {
	mu         sync.Mutex
	obs        Observer
	running    bool
	StartCalls int
	StopCalls  int

	// TrainErr, when set, is returned by Train.
	TrainErr error
	// StartErr, when set, is returned by Start.
	StartErr error

	// Canned results.
	IntentResult        Intent
	TranscriptionResult Transcription
}

var _ Engine = (*Stub)(nil)

func NewStub() *Stub { return &Stub{} }

func (s *Stub) Start(ctx context.Context, obs Observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.obs = obs
	s.running = true
	return nil
}

func (s *Stub) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	s.running = false
	s.obs = nil
	return nil
}

// Running reports whether Start has completed without a later Stop.
func (s *Stub) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// EmitIntent invokes the observer from a fresh goroutine, mimicking a
// notification from the engine's own execution context.
func (s *Stub) EmitIntent(in Intent) {
	s.mu.Lock()
	obs := s.obs
	s.mu.Unlock()
	if obs == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		obs.OnIntentRecognized(in)
		close(done)
	}()
	<-done
}

// EmitLog invokes OnLog from a fresh goroutine, synchronously.
func (s *Stub) EmitLog(line string) {
	s.mu.Lock()
	obs := s.obs
	s.mu.Unlock()
	if obs == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		obs.OnLog(line)
		close(done)
	}()
	<-done
}

func (s *Stub) Train(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	return s.TrainErr
}

func (s *Stub) TranscribeWAV(ctx context.Context, wav []byte) (Transcription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return Transcription{}, ErrNotRunning
	}
	return s.TranscriptionResult, nil
}

func (s *Stub) RecognizeIntent(ctx context.Context, text string) (Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return Intent{}, ErrNotRunning
	}
	out := s.IntentResult
	out.Text = text
	return out, nil
}

func (s *Stub) SpeakSentence(ctx context.Context, sentence string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	return nil
}

func (s *Stub) Microphones(ctx context.Context) (map[string]string, error) {
	return map[string]string{"0": "default"}, nil
}

func (s *Stub) Speakers(ctx context.Context) (map[string]string, error) {
	return map[string]string{"0": "default"}, nil
}
