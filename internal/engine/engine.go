// Package engine defines the contract with the external speech/intent
// pipeline and the adapters that back it. The gateway never reaches into
// pipeline internals; it only starts/stops the engine, issues requests,
// and receives observer callbacks.
package engine

import "context"

// Entity is one recognized slot value inside an intent.
type Entity struct {
	Entity string `json:"entity"`
	Value  string `json:"value"`
}

// Intent is a recognition result. Slots is populated by the observer
// adapter when entities are flattened for the wire.
type Intent struct {
	Name       string            `json:"intent"`
	Text       string            `json:"text"`
	Confidence float64           `json:"confidence"`
	Entities   []Entity          `json:"entities,omitempty"`
	Slots      map[string]string `json:"slots,omitempty"`
}

// Transcription is a speech-to-text result.
type Transcription struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Observer receives engine notifications. Callbacks are invoked from the
// engine's own goroutine, outside any request handler; implementations
// must be safe for that and must not block for long.
type Observer interface {
	OnIntentRecognized(intent Intent)
	OnLog(line string)
}

// Engine is the external pipeline the gateway owns exactly one live
// instance of. Start must complete before any other method is used;
// Stop releases audio devices and subprocesses and must be idempotent
// at the adapter level.
type Engine interface {
	Start(ctx context.Context, obs Observer) error
	Stop() error

	Train(ctx context.Context) error
	TranscribeWAV(ctx context.Context, wav []byte) (Transcription, error)
	RecognizeIntent(ctx context.Context, text string) (Intent, error)
	SpeakSentence(ctx context.Context, sentence string) error

	Microphones(ctx context.Context) (map[string]string, error)
	Speakers(ctx context.Context) (map[string]string, error)
}

// Factory constructs a fresh engine instance for one lifecycle
// generation. The lifecycle controller calls it on every start/restart.
type Factory func() Engine
