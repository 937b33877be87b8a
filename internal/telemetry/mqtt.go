// Package telemetry connects the daemon to an MQTT broker: the game
// server's state feed comes in on it and notifications go out on it.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sourcequery-project/sourcequery/internal/config"
	"github.com/sourcequery-project/sourcequery/internal/events"
	"github.com/sourcequery-project/sourcequery/internal/query"
	"github.com/sourcequery-project/sourcequery/internal/server"
	"github.com/sourcequery-project/sourcequery/internal/util"
)

// Feed sections, appended to "<prefix>/state/".
const (
	SectionInfo    = "info"
	SectionPlayers = "players"
	SectionRules   = "rules"
)

// Feed payload encodings.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// FeedSource is the source name recorded on state changes made by the feed.
const FeedSource = "mqtt"

// PlayersFeed is the payload of the players topic.
type PlayersFeed struct {
	Players []string `json:"players" msgpack:"players"`
}

// FeedRule is one rule in the rules topic payload.
type FeedRule struct {
	Name  string `json:"name" msgpack:"name"`
	Value string `json:"value" msgpack:"value"`
}

// RulesFeed is the payload of the rules topic.
type RulesFeed struct {
	Rules []FeedRule `json:"rules" msgpack:"rules"`
}

// FeedTopic returns the state feed topic for a section.
func FeedTopic(prefix, section string) string {
	return strings.TrimSuffix(prefix, "/") + "/state/" + section
}

// EventTopic returns the outbound topic for a notification type.
func EventTopic(prefix, name string) string {
	return strings.TrimSuffix(prefix, "/") + "/events/" + name
}

// Decode unmarshals a feed payload in the given encoding.
func Decode(encoding string, data []byte, v interface{}) error {
	switch encoding {
	case EncodingMsgpack:
		return msgpack.Unmarshal(data, v)
	case EncodingJSON, "":
		return json.Unmarshal(data, v)
	default:
		return fmt.Errorf("unsupported feed encoding %q", encoding)
	}
}

// ApplyFeed decodes one state feed message and applies it to the state.
func ApplyFeed(state *server.GameState, encoding, section string, data []byte) error {
	switch section {
	case SectionInfo:
		var u server.InfoUpdate
		if err := Decode(encoding, data, &u); err != nil {
			return fmt.Errorf("failed to decode info feed: %w", err)
		}
		if err := state.ApplyInfoUpdate(u, FeedSource); err != nil {
			return err
		}
	case SectionPlayers:
		var p PlayersFeed
		if err := Decode(encoding, data, &p); err != nil {
			return fmt.Errorf("failed to decode players feed: %w", err)
		}
		state.SetPlayers(p.Players, FeedSource)
	case SectionRules:
		var r RulesFeed
		if err := Decode(encoding, data, &r); err != nil {
			return fmt.Errorf("failed to decode rules feed: %w", err)
		}
		rules := make([]query.Rule, 0, len(r.Rules))
		for _, fr := range r.Rules {
			if fr.Name == "" {
				continue
			}
			rules = append(rules, query.Rule{Name: fr.Name, Value: fr.Value})
		}
		return state.SetRules(server.RuleSourceFeed, rules)
	default:
		return fmt.Errorf("unknown feed section %q", section)
	}
	return nil
}

// MQTTHandler manages the broker connection.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      config.MQTTConfig
	state    *server.GameState
	eventBus *events.EventBus
	client   mqtt.Client

	// Included in every outbound message.
	metadata map[string]interface{}
}

// NewMQTTHandler creates the handler. It fails when MQTT is disabled or
// the TLS material cannot be loaded.
func NewMQTTHandler(cfg config.MQTTConfig, state *server.GameState, eventBus *events.EventBus, appVersion string) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      cfg,
		state:    state,
		eventBus: eventBus,
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"platform":    sysInfo.Platform,
			"app_version": appVersion,
		},
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("%s-%s", util.AppName, sysInfo.Hostname))
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	// Subscriptions are renewed on every (re)connect.
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
		h.subscribeFeed(client)
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// Start connects, wires the event bus and blocks until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	defer h.unsubscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeFeed(client mqtt.Client) {
	for _, section := range []string{SectionInfo, SectionPlayers, SectionRules} {
		section := section
		topic := FeedTopic(h.cfg.TopicPrefix, section)
		token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			if err := ApplyFeed(h.state, h.cfg.FeedEncoding, section, msg.Payload()); err != nil {
				log.Warn().Err(err).Str("topic", msg.Topic()).Msg("rejected state feed message")
			}
		})
		go func() {
			token.Wait()
			if token.Error() != nil {
				log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT subscribe failed")
				return
			}
			log.Debug().Str("topic", topic).Msg("subscribed to state feed")
		}()
	}
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventUpdateAvailable, "mqtt.updateAvailable", h.onUpdateAvailable)
	h.eventBus.Subscribe(events.EventNotifyMQTT, "mqtt.notify", h.onNotify)
}

func (h *MQTTHandler) unsubscribeEvents() {
	h.eventBus.Unsubscribe(events.EventUpdateAvailable, "mqtt.updateAvailable")
	h.eventBus.Unsubscribe(events.EventNotifyMQTT, "mqtt.notify")
}

// publish sends a JSON message to an MQTT topic at QoS 1.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return BuildMessage(h.metadata, payload, time.Now())
}

// BuildMessage combines metadata with an event payload.
func BuildMessage(metadata map[string]interface{}, payload interface{}, at time.Time) map[string]interface{} {
	msg := make(map[string]interface{}, len(metadata)+2)
	for k, v := range metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = at.UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onUpdateAvailable(ctx context.Context, event events.Event) error {
	h.publish(EventTopic(h.cfg.TopicPrefix, string(events.EventUpdateAvailable)), event.Payload)
	return nil
}

func (h *MQTTHandler) onNotify(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.NotifyMQTTPayload)
	if !ok {
		return fmt.Errorf("unexpected notify payload %T", event.Payload)
	}
	name := p.Topic
	if name == "" {
		name = "notify"
	}
	h.publish(EventTopic(h.cfg.TopicPrefix, name), p.Data)
	return nil
}

// PublishShutdown sends a shutdown message to the broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(EventTopic(h.cfg.TopicPrefix, string(events.EventShutdown)), map[string]interface{}{
		"event": "shutdown",
	})
}
