// Package telemetry publishes connection lifecycle events and a periodic
// status heartbeat to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/blockgate-project/blockgate/internal/config"
	"github.com/blockgate-project/blockgate/internal/events"
	"github.com/blockgate-project/blockgate/internal/util"
)

// Topic suffixes appended to the configured prefix.
const (
	TopicConnection = "connection"
	TopicPhase      = "phase"
	TopicLogin      = "login"
	TopicChat       = "chat"
	TopicAdmin      = "admin"
	TopicStatus     = "status"
)

const subscriberName = "mqtt"

// brokerClient is the part of mqtt.Client the publisher uses.
type brokerClient interface {
	IsConnected() bool
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// StatusFunc returns the heartbeat payload.
type StatusFunc func() interface{}

// MQTTHandler forwards bus events to MQTT.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      *config.Config
	eventBus *events.EventBus
	client   brokerClient
	prefix   string
	status   StatusFunc

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler. status may be nil,
// in which case no heartbeat is published.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, version string, status StatusFunc) (*MQTTHandler, error) {
	mqttCfg := cfg.GetMQTT()

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := newHandler(cfg, eventBus, nil, status, map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"os":          sysInfo.OS,
		"app_version": version,
	})

	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("blockgate-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if mqttCfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	return handler, nil
}

func newHandler(cfg *config.Config, eventBus *events.EventBus, client brokerClient, status StatusFunc, metadata map[string]interface{}) *MQTTHandler {
	prefix := strings.Trim(cfg.GetMQTT().TopicPrefix, "/")
	if prefix == "" {
		prefix = "blockgate"
	}
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		client:   client,
		prefix:   prefix,
		status:   status,
		metadata: metadata,
	}
}

// Topic returns the full topic for suffix.
func (h *MQTTHandler) Topic(suffix string) string {
	return h.prefix + "/" + suffix
}

// Start connects to the broker, subscribes to the bus and publishes the
// heartbeat until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetMQTT()
	log.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	defer h.unsubscribeEvents()

	var tick <-chan time.Time
	if interval := mqttCfg.StatusInterval(); interval > 0 && h.status != nil {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
		h.PublishStatus()
	}

	for {
		select {
		case <-ctx.Done():
			h.PublishShutdown()
			h.client.Disconnect(5000)
			log.Info().Msg("MQTT disconnected")
			return nil
		case <-tick:
			h.PublishStatus()
		}
	}
}

// forwardedEvents are the bus events published to MQTT.
var forwardedEvents = []events.EventType{
	events.EventConnectionOpened,
	events.EventConnectionClosed,
	events.EventPhaseChanged,
	events.EventPlayerLogin,
	events.EventLoginRejected,
	events.EventChat,
	events.EventKick,
	events.EventConfigChanged,
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.SubscribeMany(forwardedEvents, subscriberName, h.onEvent)
}

func (h *MQTTHandler) unsubscribeEvents() {
	for _, t := range forwardedEvents {
		h.eventBus.Unsubscribe(t, subscriberName)
	}
}

// topicFor maps an event type to its topic suffix.
func topicFor(t events.EventType) (string, bool) {
	switch t {
	case events.EventConnectionOpened, events.EventConnectionClosed:
		return TopicConnection, true
	case events.EventPhaseChanged:
		return TopicPhase, true
	case events.EventPlayerLogin, events.EventLoginRejected:
		return TopicLogin, true
	case events.EventChat:
		return TopicChat, true
	case events.EventKick, events.EventConfigChanged:
		return TopicAdmin, true
	}
	return "", false
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	suffix, ok := topicFor(event.Type)
	if !ok {
		return nil
	}
	h.publish(h.Topic(suffix), map[string]interface{}{
		"event":   string(event.Type),
		"source":  event.Source,
		"payload": event.Payload,
	})
	return nil
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishStatus sends one heartbeat.
func (h *MQTTHandler) PublishStatus() {
	if h.status == nil {
		return
	}
	h.publish(h.Topic(TopicStatus), h.status())
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.Topic(TopicAdmin), map[string]interface{}{
		"event": "shutdown",
	})
}
