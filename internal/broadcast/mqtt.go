// Package broadcast fans commands out to nodes over MQTT. The command
// channel stays authoritative for per-node transitions; the broker path
// exists for fleet-wide pushes (reload_schedule, inject_audio) where
// walking every session would be wasteful.
package broadcast

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/chorus/internal/protocol"
)

const allNodesTopic = "node/all/commands"

type Publisher struct {
	client mqtt.Client
}

// Connect establishes the broker connection used for fan-out.
func Connect(brokerURL string) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID("chorus-server")
	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("broker", brokerURL).Msg("connected to MQTT broker")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return &Publisher{client: client}, nil
}

// PublishToNode pushes one command onto a node's topic.
func (p *Publisher) PublishToNode(nodeName string, msg protocol.ServerMessage) error {
	return p.publish(fmt.Sprintf("node/%s/commands", nodeName), msg)
}

// PublishAll pushes one command onto the fleet-wide topic.
func (p *Publisher) PublishAll(msg protocol.ServerMessage) error {
	return p.publish(allNodesTopic, msg)
}

func (p *Publisher) publish(topic string, msg protocol.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	token := p.client.Publish(topic, 1, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
