// Package mqttpub republishes gateway events to an MQTT broker. It is a
// plain additional bus subscriber: when the broker is unreachable or a
// publish fails, websocket delivery is unaffected.
package mqttpub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"assistd/internal/bus"
	"assistd/internal/config"
)

// Publisher bridges the event bus to an MQTT broker. Intents go to
// <prefix>/intent and log lines to <prefix>/log.
type Publisher struct {
	client mqtt.Client
	prefix string
	log    zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// connectTimeout bounds the initial broker handshake.
const connectTimeout = 10 * time.Second

// New connects to the broker and starts one forwarding goroutine per bus
// channel. The returned Publisher must be closed to release its
// subscriptions.
func New(cfg config.MQTT, b *bus.Bus, log zerolog.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker URL is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "assistd"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("assistd-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if err := waitToken(client.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return newPublisher(client, prefix, b, log), nil
}

// waitToken resolves a paho token. A token that does not complete within
// the timeout is an error, not a success.
func waitToken(token mqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return errors.New("timed out")
	}
	return token.Error()
}

// newPublisher wires an already-connected client; split out for tests.
func newPublisher(client mqtt.Client, prefix string, b *bus.Bus, log zerolog.Logger) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		client: client,
		prefix: prefix,
		log:    log.With().Str("component", "mqtt").Logger(),
		cancel: cancel,
	}

	for id, topic := range map[bus.ChannelID]string{
		bus.IntentEvents: prefix + "/intent",
		bus.LogEvents:    prefix + "/log",
	} {
		p.wg.Add(1)
		go p.forward(ctx, b.Channel(id), topic)
	}
	return p
}

// forward drains one bus subscription into an MQTT topic until the
// publisher closes. Publish failures are skipped; the broker is
// best-effort. Outages are logged only on the failing/recovered edges:
// on the log topic a per-message warn would feed the channel being
// forwarded and loop forever.
func (p *Publisher) forward(ctx context.Context, ch *bus.Channel, topic string) {
	defer p.wg.Done()
	sub, queue := ch.Subscribe()
	defer ch.Unsubscribe(sub)

	failing := false
	for {
		payload, err := queue.Pop(ctx)
		if err != nil {
			return
		}
		token := p.client.Publish(topic, 0, false, payload)
		if err := waitToken(token, connectTimeout); err != nil {
			if !failing {
				failing = true
				p.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failing, dropping events")
			}
			continue
		}
		if failing {
			failing = false
			p.log.Info().Str("topic", topic).Msg("mqtt publish recovered")
		}
	}
}

// Close stops the forwarding goroutines and disconnects from the broker.
func (p *Publisher) Close() {
	p.cancel()
	p.wg.Wait()
	p.client.Disconnect(250)
}
