package engine

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RemoteConfig configures the subprocess-backed engine adapter.
type RemoteConfig struct {
	// Command is the argv of the pipeline process.
	Command []string
	// Profile name and directory passed to the pipeline.
	Profile    string
	ProfileDir string
	// StartTimeout bounds the wait for the pipeline's ready event.
	StartTimeout time.Duration
	// StopTimeout bounds the graceful-termination wait before SIGKILL.
	StopTimeout time.Duration

	Logger zerolog.Logger
}

const (
	defaultStartTimeout = 30 * time.Second
	defaultStopTimeout  = 5 * time.Second
)

// Remote runs the speech/intent pipeline as a child process and speaks
// newline-delimited JSON over its stdio. Requests carry an id and are
// matched to responses; unsolicited event lines are dispatched to the
// Observer from the reader goroutine, i.e. from outside the HTTP
// serving goroutines.
type Remote struct {
	cfg RemoteConfig
	log zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending map[string]chan remoteReply
	obs     Observer
	started bool

	writeMu sync.Mutex

	stopOnce sync.Once
	exited   chan struct{}
	ready    chan struct{}
}

// NewRemote constructs a Remote adapter. The process is not spawned
// until Start.
func NewRemote(cfg RemoteConfig) *Remote {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &Remote{
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "engine").Logger(),
		pending: make(map[string]chan remoteReply),
		exited:  make(chan struct{}),
		ready:   make(chan struct{}),
	}
}

// remoteLine is the wire shape for every line in either direction.
type remoteLine struct {
	ID     string          `json:"id,omitempty"`
	Op     string          `json:"op,omitempty"`
	Text   string          `json:"text,omitempty"`
	WAV    string          `json:"wav,omitempty"`
	OK     *bool           `json:"ok,omitempty"`
	Error  string          `json:"error,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`

	Event  string  `json:"event,omitempty"`
	Intent *Intent `json:"intent,omitempty"`
	Line   string  `json:"line,omitempty"`
}

type remoteReply struct {
	line remoteLine
	err  error
}

// Start spawns the pipeline process and waits for its ready event.
func (r *Remote) Start(ctx context.Context, obs Observer) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	if len(r.cfg.Command) == 0 {
		r.mu.Unlock()
		return errors.New("engine command not configured")
	}

	args := append([]string(nil), r.cfg.Command[1:]...)
	if r.cfg.Profile != "" {
		args = append(args, "--profile", r.cfg.Profile)
	}
	if r.cfg.ProfileDir != "" {
		args = append(args, "--profile-dir", r.cfg.ProfileDir)
	}
	cmd := exec.Command(r.cfg.Command[0], args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("spawn pipeline: %w", err)
	}
	r.cmd = cmd
	r.stdin = stdin
	r.obs = obs
	r.started = true
	r.mu.Unlock()

	go r.readLoop(stdout)
	go func() {
		err := cmd.Wait()
		r.log.Debug().Err(err).Int("pid", cmd.Process.Pid).Msg("pipeline exited")
		close(r.exited)
		r.failPending(ErrNotRunning)
	}()

	select {
	case <-r.ready:
		r.log.Info().Int("pid", cmd.Process.Pid).Str("profile", r.cfg.Profile).Msg("pipeline started")
		return nil
	case <-r.exited:
		return errors.New("pipeline exited before becoming ready")
	case <-time.After(r.cfg.StartTimeout):
		_ = r.Stop()
		return errors.New("timed out waiting for pipeline ready")
	case <-ctx.Done():
		_ = r.Stop()
		return ctx.Err()
	}
}

func (r *Remote) readLoop(stdout io.Reader) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		raw := sc.Bytes()
		var line remoteLine
		if err := json.Unmarshal(raw, &line); err != nil {
			// Non-JSON output is pipeline chatter; surface it as a log event.
			r.dispatchLog(string(raw))
			continue
		}
		switch {
		case line.Event == "ready":
			select {
			case <-r.ready:
			default:
				close(r.ready)
			}
		case line.Event == "intent" && line.Intent != nil:
			r.dispatchIntent(*line.Intent)
		case line.Event == "log":
			r.dispatchLog(line.Line)
		case line.ID != "":
			r.mu.Lock()
			ch := r.pending[line.ID]
			delete(r.pending, line.ID)
			r.mu.Unlock()
			if ch != nil {
				ch <- remoteReply{line: line}
			}
		}
	}
}

func (r *Remote) dispatchIntent(in Intent) {
	r.mu.Lock()
	obs := r.obs
	r.mu.Unlock()
	if obs != nil {
		obs.OnIntentRecognized(in)
	}
}

func (r *Remote) dispatchLog(line string) {
	if line == "" {
		return
	}
	r.mu.Lock()
	obs := r.obs
	r.mu.Unlock()
	if obs != nil {
		obs.OnLog(line)
	}
}

func (r *Remote) failPending(err error) {
	r.mu.Lock()
	for id, ch := range r.pending {
		delete(r.pending, id)
		ch <- remoteReply{err: err}
	}
	r.mu.Unlock()
}

// call sends one request line and waits for its reply.
func (r *Remote) call(ctx context.Context, req remoteLine) (remoteLine, error) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return remoteLine{}, ErrNotRunning
	}
	req.ID = uuid.NewString()
	ch := make(chan remoteReply, 1)
	r.pending[req.ID] = ch
	stdin := r.stdin
	r.mu.Unlock()

	buf, err := json.Marshal(req)
	if err != nil {
		return remoteLine{}, err
	}
	buf = append(buf, '\n')
	r.writeMu.Lock()
	_, err = stdin.Write(buf)
	r.writeMu.Unlock()
	if err != nil {
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()
		return remoteLine{}, fmt.Errorf("write request: %w", err)
	}

	select {
	case rep := <-ch:
		if rep.err != nil {
			return remoteLine{}, rep.err
		}
		return rep.line, nil
	case <-r.exited:
		return remoteLine{}, ErrNotRunning
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()
		return remoteLine{}, ctx.Err()
	}
}

// Stop terminates the pipeline: close stdin, SIGTERM, then SIGKILL
// after StopTimeout. Idempotent; a stop that had to kill still counts
// as stopped.
func (r *Remote) Stop() error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		cmd := r.cmd
		stdin := r.stdin
		r.started = false
		r.mu.Unlock()
		if cmd == nil || cmd.Process == nil {
			return
		}
		if stdin != nil {
			_ = stdin.Close()
		}
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-r.exited:
		case <-time.After(r.cfg.StopTimeout):
			r.log.Warn().Int("pid", cmd.Process.Pid).Msg("pipeline did not exit, killing")
			_ = cmd.Process.Kill()
			<-r.exited
		}
	})
	return nil
}

// Train runs the pipeline's training job. A failure reason from the
// pipeline is returned as a TrainingError.
func (r *Remote) Train(ctx context.Context) error {
	rep, err := r.call(ctx, remoteLine{Op: "train"})
	if err != nil {
		return err
	}
	if rep.OK != nil && !*rep.OK {
		reason := rep.Reason
		if reason == "" {
			reason = rep.Error
		}
		return &TrainingError{Reason: reason}
	}
	return nil
}

func (r *Remote) TranscribeWAV(ctx context.Context, wav []byte) (Transcription, error) {
	rep, err := r.call(ctx, remoteLine{Op: "transcribe", WAV: base64.StdEncoding.EncodeToString(wav)})
	if err != nil {
		return Transcription{}, err
	}
	if rep.Error != "" {
		return Transcription{}, errors.New(rep.Error)
	}
	var out Transcription
	if err := json.Unmarshal(rep.Result, &out); err != nil {
		return Transcription{}, fmt.Errorf("decode transcription: %w", err)
	}
	return out, nil
}

func (r *Remote) RecognizeIntent(ctx context.Context, text string) (Intent, error) {
	rep, err := r.call(ctx, remoteLine{Op: "recognize", Text: text})
	if err != nil {
		return Intent{}, err
	}
	if rep.Error != "" {
		return Intent{}, errors.New(rep.Error)
	}
	var out Intent
	if err := json.Unmarshal(rep.Result, &out); err != nil {
		return Intent{}, fmt.Errorf("decode intent: %w", err)
	}
	return out, nil
}

func (r *Remote) SpeakSentence(ctx context.Context, sentence string) error {
	rep, err := r.call(ctx, remoteLine{Op: "speak", Text: sentence})
	if err != nil {
		return err
	}
	if rep.Error != "" {
		return errors.New(rep.Error)
	}
	return nil
}

func (r *Remote) Microphones(ctx context.Context) (map[string]string, error) {
	return r.devices(ctx, "microphones")
}

func (r *Remote) Speakers(ctx context.Context) (map[string]string, error) {
	return r.devices(ctx, "speakers")
}

func (r *Remote) devices(ctx context.Context, op string) (map[string]string, error) {
	rep, err := r.call(ctx, remoteLine{Op: op})
	if err != nil {
		return nil, err
	}
	if rep.Error != "" {
		return nil, errors.New(rep.Error)
	}
	out := make(map[string]string)
	if len(rep.Result) > 0 {
		if err := json.Unmarshal(rep.Result, &out); err != nil {
			return nil, fmt.Errorf("decode devices: %w", err)
		}
	}
	return out, nil
}
