package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// TestMain doubles as the fake pipeline process: when the test binary is
// re-executed with the -fake-pipeline argument it speaks the stdio
// protocol instead of running tests.
func TestMain(m *testing.M) {
	for _, arg := range os.Args {
		if arg == "-fake-pipeline" {
			runFakePipeline()
			return
		}
	}
	os.Exit(m.Run())
}

func writeLine(v any) {
	buf, _ := json.Marshal(v)
	os.Stdout.Write(append(buf, '\n'))
}

func runFakePipeline() {
	profile := ""
	for i, arg := range os.Args {
		if arg == "--profile" && i+1 < len(os.Args) {
			profile = os.Args[i+1]
		}
	}

	writeLine(map[string]any{"event": "ready"})
	if profile == "chatty" {
		writeLine(map[string]any{"event": "log", "line": "[DEBUG] engine warmed up"})
		writeLine(map[string]any{"event": "intent", "intent": map[string]any{
			"intent": "GetTime", "text": "what time is it", "confidence": 1,
		}})
		// chatter that is not JSON becomes a log event on the gateway side
		fmt.Println("plain stderr-style chatter")
	}

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		var req map[string]any
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			continue
		}
		id, _ := req["id"].(string)
		op, _ := req["op"].(string)
		switch op {
		case "train":
			if profile == "untrainable" {
				writeLine(map[string]any{"id": id, "ok": false, "reason": "missing sentences file"})
				continue
			}
			writeLine(map[string]any{"id": id, "ok": true})
		case "recognize":
			text, _ := req["text"].(string)
			writeLine(map[string]any{"id": id, "result": map[string]any{
				"intent": "ChangeLightState", "text": text, "confidence": 0.9,
				"entities": []map[string]any{{"entity": "state", "value": "on"}},
			}})
		case "transcribe":
			writeLine(map[string]any{"id": id, "result": map[string]any{
				"text": "turn on the lamp", "confidence": 0.87,
			}})
		case "speak":
			writeLine(map[string]any{"id": id, "ok": true})
		case "microphones", "speakers":
			writeLine(map[string]any{"id": id, "result": map[string]any{"0": "default"}})
		default:
			writeLine(map[string]any{"id": id, "error": "unknown op: " + op})
		}
	}
}

// recordingObserver collects callbacks for assertions.
type recordingObserver struct {
	mu      sync.Mutex
	intents []Intent
	logs    []string
}

func (o *recordingObserver) OnIntentRecognized(in Intent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.intents = append(o.intents, in)
}

func (o *recordingObserver) OnLog(line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logs = append(o.logs, line)
}

func (o *recordingObserver) snapshot() ([]Intent, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Intent(nil), o.intents...), append([]string(nil), o.logs...)
}

func startRemote(t *testing.T, profile string) (*Remote, *recordingObserver) {
	t.Helper()
	r := NewRemote(RemoteConfig{
		Command:      []string{os.Args[0], "-fake-pipeline"},
		Profile:      profile,
		StartTimeout: 10 * time.Second,
		StopTimeout:  2 * time.Second,
		Logger:       zerolog.Nop(),
	})
	obs := &recordingObserver{}
	if err := r.Start(context.Background(), obs); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = r.Stop() })
	return r, obs
}

func TestRemoteStartAndStop(t *testing.T) {
	r, _ := startRemote(t, "en")
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// idempotent
	if err := r.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if _, err := r.RecognizeIntent(context.Background(), "hi"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestRemoteDoubleStart(t *testing.T) {
	r, _ := startRemote(t, "en")
	if err := r.Start(context.Background(), &recordingObserver{}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRemoteRecognizeIntent(t *testing.T) {
	r, _ := startRemote(t, "en")
	in, err := r.RecognizeIntent(context.Background(), "turn on the lamp")
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if in.Name != "ChangeLightState" || in.Text != "turn on the lamp" {
		t.Fatalf("intent=%+v", in)
	}
	if len(in.Entities) != 1 || in.Entities[0].Value != "on" {
		t.Fatalf("entities=%v", in.Entities)
	}
}

func TestRemoteTranscribe(t *testing.T) {
	r, _ := startRemote(t, "en")
	tr, err := r.TranscribeWAV(context.Background(), []byte("RIFFfakewav"))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if tr.Text != "turn on the lamp" || tr.Confidence != 0.87 {
		t.Fatalf("transcription=%+v", tr)
	}
}

func TestRemoteSpeakAndDevices(t *testing.T) {
	r, _ := startRemote(t, "en")
	if err := r.SpeakSentence(context.Background(), "hello"); err != nil {
		t.Fatalf("speak: %v", err)
	}
	mics, err := r.Microphones(context.Background())
	if err != nil || mics["0"] != "default" {
		t.Fatalf("microphones=%v err=%v", mics, err)
	}
	speakers, err := r.Speakers(context.Background())
	if err != nil || speakers["0"] != "default" {
		t.Fatalf("speakers=%v err=%v", speakers, err)
	}
}

func TestRemoteTrainFailureCarriesReason(t *testing.T) {
	r, _ := startRemote(t, "untrainable")
	err := r.Train(context.Background())
	reason, ok := IsTrainingError(err)
	if !ok {
		t.Fatalf("expected TrainingError, got %v", err)
	}
	if reason != "missing sentences file" {
		t.Fatalf("reason=%q", reason)
	}

	// a healthy profile trains fine
	r2, _ := startRemote(t, "en")
	if err := r2.Train(context.Background()); err != nil {
		t.Fatalf("train: %v", err)
	}
}

func TestRemoteDispatchesEvents(t *testing.T) {
	_, obs := startRemote(t, "chatty")

	deadline := time.Now().Add(5 * time.Second)
	for {
		intents, logs := obs.snapshot()
		if len(intents) == 1 && len(logs) >= 2 {
			if intents[0].Name != "GetTime" {
				t.Fatalf("intent=%+v", intents[0])
			}
			if logs[0] != "[DEBUG] engine warmed up" {
				t.Fatalf("logs=%v", logs)
			}
			// non-JSON output surfaced as a log line
			found := false
			for _, l := range logs {
				if strings.Contains(l, "chatter") {
					found = true
				}
			}
			if !found {
				t.Fatalf("chatter not dispatched: %v", logs)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("events not dispatched: intents=%v logs=%v", intents, logs)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRemoteStartFailsForBadCommand(t *testing.T) {
	r := NewRemote(RemoteConfig{
		Command: []string{"/definitely/not/a/real/binary-12345"},
		Logger:  zerolog.Nop(),
	})
	if err := r.Start(context.Background(), &recordingObserver{}); err == nil {
		t.Fatalf("expected spawn error")
	}
}

func TestRemoteStartRequiresCommand(t *testing.T) {
	r := NewRemote(RemoteConfig{Logger: zerolog.Nop()})
	if err := r.Start(context.Background(), &recordingObserver{}); err == nil {
		t.Fatalf("expected configuration error")
	}
}
