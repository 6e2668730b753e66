package events

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTPublisher publishes status changes with QoS 1 and the retained flag,
// so late subscribers see the current status.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

// NewMQTTPublisher builds a client for broker (tcp://host:port). Call Connect before Publish.
func NewMQTTPublisher(broker, clientID, topic string, logger *zap.Logger) *MQTTPublisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})
	return &MQTTPublisher{client: mqtt.NewClient(opts), topic: topic}
}

// Connect waits for the first connection or ctx.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	return wait(ctx, p.client.Connect(), "mqtt connect")
}

func (p *MQTTPublisher) Publish(ctx context.Context, ev StatusChange) error {
	data, err := encode(ev)
	if err == nil {
		err = wait(ctx, p.client.Publish(p.topic, 1, true, data), "mqtt publish")
	}
	record("mqtt", err)
	return err
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

func wait(ctx context.Context, token mqtt.Token, op string) error {
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}
