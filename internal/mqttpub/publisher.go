package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"retranslator-svr/internal/pipeline"
)

const publishTimeout = 5 * time.Second

// Publisher sends each tracking object as JSON to <topic>/<device_id>.
type Publisher struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// Connect opens a paho client against broker and returns a publisher on it.
func Connect(broker, clientID, topic string, qos byte, lg *slog.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			lg.Warn("mqtt: connection lost", "broker", broker, "err", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			lg.Info("mqtt: connected", "broker", broker)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return New(client, topic, qos), nil
}

func New(client mqtt.Client, topic string, qos byte) *Publisher {
	return &Publisher{client: client, topic: topic, qos: qos}
}

func (p *Publisher) Name() string { return "mqtt" }

func (p *Publisher) Topic(deviceID string) string {
	return p.topic + "/" + deviceID
}

func (p *Publisher) Send(ctx context.Context, tr *pipeline.TrackingObject) error {
	payload, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("mqtt marshal %s: %w", tr.DeviceID, err)
	}
	token := p.client.Publish(p.Topic(tr.DeviceID), p.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("mqtt publish %s: timeout", tr.DeviceID)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", tr.DeviceID, err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
