package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assistd/internal/bus"
	"assistd/internal/engine"
)

// stubFactory returns a factory handing out the given stubs in order,
// and keeps handing out the last one when the list runs dry.
func stubFactory(stubs ...*engine.Stub) (engine.Factory, *[]*engine.Stub) {
	created := &[]*engine.Stub{}
	i := 0
	var mu sync.Mutex
	return func() engine.Engine {
		mu.Lock()
		defer mu.Unlock()
		s := stubs[i]
		if i < len(stubs)-1 {
			i++
		}
		*created = append(*created, s)
		return s
	}, created
}

func newController(t *testing.T, stubs ...*engine.Stub) (*Controller, *bus.Bus) {
	t.Helper()
	if len(stubs) == 0 {
		stubs = []*engine.Stub{engine.NewStub()}
	}
	factory, _ := stubFactory(stubs...)
	b := bus.New()
	c := New(Config{
		Factory: factory,
		Bus:     b,
		Profile: "en",
		Logger:  zerolog.Nop(),
	})
	return c, b
}

func TestStartTwiceFailsAndKeepsOriginal(t *testing.T) {
	first := engine.NewStub()
	second := engine.NewStub()
	c, _ := newController(t, first, second)

	require.NoError(t, c.Start(context.Background()))
	err := c.Start(context.Background())
	assert.ErrorIs(t, err, engine.ErrAlreadyRunning)

	// Original instance untouched: still running, second never started.
	assert.True(t, first.Running())
	assert.Equal(t, 0, second.StartCalls)

	h, err := c.Handle()
	require.NoError(t, err)
	assert.Same(t, first, h.(*liveEngine).Engine)
}

func TestShutdownIdempotentStopRunsOnce(t *testing.T) {
	stub := engine.NewStub()
	c, _ := newController(t, stub)
	require.NoError(t, c.Start(context.Background()))

	c.Shutdown()
	c.Shutdown() // flow + termination hook
	assert.Equal(t, 1, stub.StopCalls)

	_, err := c.Handle()
	assert.ErrorIs(t, err, engine.ErrNotReady)
}

func TestShutdownWithoutStartIsNoop(t *testing.T) {
	c, _ := newController(t)
	c.Shutdown()
	_, err := c.Handle()
	assert.ErrorIs(t, err, engine.ErrNotReady)
}

func TestConcurrentShutdownStopsOnce(t *testing.T) {
	stub := engine.NewStub()
	c, _ := newController(t, stub)
	require.NoError(t, c.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Shutdown()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, stub.StopCalls)
}

func TestRestartSwapsInstances(t *testing.T) {
	first := engine.NewStub()
	second := engine.NewStub()
	c, _ := newController(t, first, second)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Restart(context.Background()))
	assert.Equal(t, 1, first.StopCalls)
	assert.True(t, second.Running())

	h, err := c.Handle()
	require.NoError(t, err)
	assert.Same(t, second, h.(*liveEngine).Engine)
	assert.Equal(t, uint64(1), c.Status().Restarts)
}

func TestRestartKeepsLogSessionStreaming(t *testing.T) {
	first := engine.NewStub()
	second := engine.NewStub()
	c, b := newController(t, first, second)
	require.NoError(t, c.Start(context.Background()))

	sub, q := b.Channel(bus.LogEvents).Subscribe()
	defer b.Channel(bus.LogEvents).Unsubscribe(sub)

	first.EmitLog("before restart")
	require.NoError(t, c.Restart(context.Background()))
	second.EmitLog("after restart")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "before restart", msg)
	msg, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "after restart", msg)
}

func TestObserverFlattensEntitiesIntoSlots(t *testing.T) {
	stub := engine.NewStub()
	c, b := newController(t, stub)
	require.NoError(t, c.Start(context.Background()))

	sub, q := b.Channel(bus.IntentEvents).Subscribe()
	defer b.Channel(bus.IntentEvents).Unsubscribe(sub)

	stub.EmitIntent(engine.Intent{
		Name:       "ChangeLightState",
		Text:       "turn on the lamp",
		Confidence: 0.9,
		Entities: []engine.Entity{
			{Entity: "name", Value: "lamp"},
			{Entity: "state", Value: "on"},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	payload, err := q.Pop(ctx)
	require.NoError(t, err)

	var got engine.Intent
	require.NoError(t, json.Unmarshal([]byte(payload), &got))
	assert.Equal(t, "ChangeLightState", got.Name)
	assert.Equal(t, map[string]string{"name": "lamp", "state": "on"}, got.Slots)
}

func TestTrainSurfacesReasonVerbatim(t *testing.T) {
	stub := engine.NewStub()
	stub.TrainErr = &engine.TrainingError{Reason: "missing sentences file"}
	c, _ := newController(t, stub)
	require.NoError(t, c.Start(context.Background()))

	_, err := c.Train(context.Background())
	require.Error(t, err)
	reason, ok := engine.IsTrainingError(err)
	require.True(t, ok)
	assert.Equal(t, "missing sentences file", reason)
	assert.Contains(t, err.Error(), "missing sentences file")
}

func TestTrainRequiresRunningEngine(t *testing.T) {
	c, _ := newController(t)
	_, err := c.Train(context.Background())
	assert.ErrorIs(t, err, engine.ErrNotReady)
}

func TestPreStartFailureAbortsStart(t *testing.T) {
	stub := engine.NewStub()
	factory, _ := stubFactory(stub)
	c := New(Config{
		Factory:  factory,
		Bus:      bus.New(),
		Profile:  "en",
		PreStart: func() error { return assert.AnError },
		Logger:   zerolog.Nop(),
	})
	err := c.Start(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, stub.StartCalls)
	_, herr := c.Handle()
	assert.ErrorIs(t, herr, engine.ErrNotReady)
}

func TestStatus(t *testing.T) {
	c, b := newController(t)
	st := c.Status()
	assert.Equal(t, "stopped", st.State)
	assert.Empty(t, st.Profile)

	require.NoError(t, c.Start(context.Background()))
	b.Channel(bus.LogEvents).Subscribe()
	st = c.Status()
	assert.Equal(t, "running", st.State)
	assert.Equal(t, "en", st.Profile)
	assert.Equal(t, 1, st.Subscribers[string(bus.LogEvents)])
}
