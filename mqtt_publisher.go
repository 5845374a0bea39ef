package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher republishes accepted station events to an MQTT
// broker. Entirely optional and config-gated; a broker outage never
// touches the audio path because publishes are fire-and-forget.
type MQTTPublisher struct {
	client      mqtt.Client
	topicPrefix string
}

func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "retrowaves_" + hex.EncodeToString(b)
}

// NewMQTTPublisher connects to the configured broker. Returns an
// error rather than retrying forever so startup stays bounded; the
// paho auto-reconnect handles outages after the first connect.
func NewMQTTPublisher(cfg *MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(generateClientID())

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("MQTT: connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}

	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "retrowaves/events"
	}

	log.Printf("MQTT: publishing events under %s/ on %s", prefix, cfg.Broker)
	return &MQTTPublisher{client: client, topicPrefix: prefix}, nil
}

// PublishEvent sends one accepted event payload. QoS 0: listeners of
// the mirror topic accept the same best-effort contract as WebSocket
// subscribers.
func (mp *MQTTPublisher) PublishEvent(eventType string, payload []byte) {
	topic := mp.topicPrefix + "/" + eventType
	mp.client.Publish(topic, 0, false, payload)
}

// Close disconnects from the broker.
func (mp *MQTTPublisher) Close() {
	mp.client.Disconnect(250)
}
