package mqttpub

import (
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assistd/internal/bus"
	"assistd/internal/config"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                       { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool   { return !t.timeout }
func (t *fakeToken) Done() <-chan struct{}            { ch := make(chan struct{}); close(ch); return ch }
func (t *fakeToken) Error() error                     { return t.err }

type publishedMsg struct {
	topic   string
	payload string
}

// fakeClient records publishes; every other client method is inert.
type fakeClient struct {
	mu        sync.Mutex
	published []publishedMsg
	pubErr    error
}

func (c *fakeClient) IsConnected() bool       { return true }
func (c *fakeClient) IsConnectionOpen() bool  { return true }
func (c *fakeClient) Connect() mqtt.Token     { return &fakeToken{} }
func (c *fakeClient) Disconnect(quiesce uint) {}
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, publishedMsg{topic: topic, payload: payload.(string)})
	return &fakeToken{err: c.pubErr}
}
func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (c *fakeClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token          { return &fakeToken{} }
func (c *fakeClient) AddRoute(topic string, callback mqtt.MessageHandler) {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader          { return mqtt.ClientOptionsReader{} }

func (c *fakeClient) snapshot() []publishedMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publishedMsg(nil), c.published...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		require.False(t, time.Now().After(deadline), "condition not met in time")
		time.Sleep(5 * time.Millisecond)
	}
}

func TestForwardsBothChannels(t *testing.T) {
	b := bus.New()
	client := &fakeClient{}
	p := newPublisher(client, "assistd", b, zerolog.Nop())
	defer p.Close()

	waitFor(t, func() bool {
		return b.Channel(bus.IntentEvents).Len() == 1 && b.Channel(bus.LogEvents).Len() == 1
	})

	b.Publish(bus.IntentEvents, `{"intent":"GetTime"}`)
	b.Publish(bus.LogEvents, "[DEBUG] ready")

	waitFor(t, func() bool { return len(client.snapshot()) == 2 })

	byTopic := map[string]string{}
	for _, msg := range client.snapshot() {
		byTopic[msg.topic] = msg.payload
	}
	assert.Equal(t, `{"intent":"GetTime"}`, byTopic["assistd/intent"])
	assert.Equal(t, "[DEBUG] ready", byTopic["assistd/log"])
}

func TestCloseUnsubscribes(t *testing.T) {
	b := bus.New()
	p := newPublisher(&fakeClient{}, "assistd", b, zerolog.Nop())

	waitFor(t, func() bool { return b.Channel(bus.IntentEvents).Len() == 1 })
	p.Close()
	assert.Equal(t, 0, b.Channel(bus.IntentEvents).Len())
	assert.Equal(t, 0, b.Channel(bus.LogEvents).Len())
}

func TestNewRequiresBroker(t *testing.T) {
	_, err := New(config.MQTT{}, bus.New(), zerolog.Nop())
	require.Error(t, err)
}

func TestWaitTokenTimeoutIsError(t *testing.T) {
	require.Error(t, waitToken(&fakeToken{timeout: true}, time.Millisecond))
	require.NoError(t, waitToken(&fakeToken{}, time.Millisecond))

	boom := errors.New("boom")
	assert.Equal(t, boom, waitToken(&fakeToken{err: boom}, time.Millisecond))
}

// A broker outage must not amplify through the log channel: the bridge
// subscribes to LogEvents, so logging every failed publish would turn
// one line into an endless publish/warn cycle.
func TestBrokerFailureDoesNotFeedBackIntoLogStream(t *testing.T) {
	b := bus.New()
	client := &fakeClient{pubErr: errors.New("connection lost")}
	log := zerolog.New(bus.NewLineWriter(b.Channel(bus.LogEvents)))
	p := newPublisher(client, "assistd", b, log)
	defer p.Close()

	waitFor(t, func() bool { return b.Channel(bus.LogEvents).Len() == 1 })
	b.Publish(bus.LogEvents, "seed line")

	// The seed fails and produces one warn line, whose own failure is
	// suppressed. The publish count must settle, not grow.
	waitFor(t, func() bool { return len(client.snapshot()) >= 2 })
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, len(client.snapshot()), 3)
}
