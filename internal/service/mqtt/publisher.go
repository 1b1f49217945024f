// Package mqtt publishes committed detection results to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"detectionapi/internal/config"
	"detectionapi/internal/logger"
	"detectionapi/internal/model"
	"detectionapi/internal/service"
)

const (
	connectTimeout = 30 * time.Second
	publishTimeout = 10 * time.Second
	qos            = 1
)

// client is the subset of mqtt.Client the publisher needs.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher sends one JSON detection event per committed record.
type Publisher struct {
	client client
	topic  string
	logger *logger.Logger
}

var _ service.Notifier = (*Publisher)(nil)

// Connect dials the broker named in cfg. The paho client reconnects on its own afterwards.
func Connect(ctx context.Context, cfg config.MQTTConfig, log *logger.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("Connected to MQTT broker %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warning("Connection to MQTT broker %s lost: %v", cfg.Broker, err)
	})

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if err := wait(ctx, token, connectTimeout); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}
	return newPublisher(c, cfg.Topic, log), nil
}

func newPublisher(c client, topic string, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Publisher{client: c, topic: topic, logger: log}
}

// Notify publishes the record to the configured topic.
func (p *Publisher) Notify(ctx context.Context, record *model.ResultRecord) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("not connected to MQTT broker")
	}

	payload, err := json.Marshal(model.NewResultEvent(record))
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	token := p.client.Publish(p.topic, qos, false, payload)
	if err := wait(ctx, token, publishTimeout); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", record.ID, p.topic, err)
	}
	p.logger.Debug("Published %s to %s", record.ID, p.topic)
	return nil
}

func (p *Publisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

// wait blocks until the token completes, ctx ends or the timeout elapses.
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	}
}
