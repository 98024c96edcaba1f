// Package ops is the operational surface: per-tick status and counters
// published to MQTT, and the safe-mode command subscription that forces the
// next tick through the reset prelude. When no broker is configured the
// publisher is a no-op.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"

	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
)

// Publisher surfaces tick outcomes to operators.
type Publisher interface {
	// PublishOutcome publishes the outcome of one executor tick.
	PublishOutcome(ctx context.Context, siteID string, outcome types.TickOutcome) error

	// OnSafeMode registers a callback fired when an operator requests the
	// reset-to-safe prelude.
	OnSafeMode(fn func())

	// Close disconnects from the broker.
	Close() error
}

// Configured sets up the publisher based on flags. An empty broker address
// yields the no-op publisher.
func Configured() Publisher {
	broker := lflag.String("mqtt-broker", "", "MQTT broker address for the ops surface (empty disables)")
	clientID := lflag.String("mqtt-client-id", "gridpilot", "MQTT client id")
	prefix := lflag.String("mqtt-topic-prefix", "gridpilot", "MQTT topic prefix")

	var p struct{ Publisher }

	lflag.Do(func() {
		if *broker == "" {
			p.Publisher = noop{}
			return
		}
		m, err := newMQTT(*broker, *clientID, *prefix)
		if err != nil {
			panic(fmt.Sprintf("mqtt connect failed: %v", err))
		}
		p.Publisher = m
	})

	return &p
}

type noop struct{}

func (noop) PublishOutcome(ctx context.Context, siteID string, outcome types.TickOutcome) error {
	return nil
}
func (noop) OnSafeMode(fn func()) {}
func (noop) Close() error         { return nil }

// MQTT publishes retained status topics per site and listens for the
// safe-mode command.
type MQTT struct {
	client mqtt.Client
	prefix string
}

func newMQTT(broker, clientID, prefix string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &MQTT{client: client, prefix: prefix}, nil
}

// PublishOutcome writes the outcome as a retained JSON payload so a late
// subscriber always sees the last tick.
func (m *MQTT) PublishOutcome(ctx context.Context, siteID string, outcome types.TickOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	topic := m.prefix + "/" + siteID + "/tick"
	token := m.client.Publish(topic, 1, true, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to publish tick outcome",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// OnSafeMode subscribes to the safe-mode command topic.
func (m *MQTT) OnSafeMode(fn func()) {
	topic := m.prefix + "/command/safe_mode"
	m.client.Subscribe(topic, 1, func(_ mqtt.Client, _ mqtt.Message) {
		fn()
	})
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
