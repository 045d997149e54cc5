// Package mqtt publishes the per-area climate aggregates. Topics follow the
// zigbee2mqtt convention: retained state under <prefix>/<area-slug>/<kind>,
// bridge availability under <prefix>/bridge/state, and Home Assistant
// discovery configs so the areas appear as sensors without manual setup.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"trv-manager/internal/directory"
)

// Config holds the broker connection settings.
type Config struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "trv-manager"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "trv-manager"
	}
	return c
}

// Publisher is the MQTT sink for area readings.
type Publisher struct {
	client pahomqtt.Client
	prefix string
	logger *slog.Logger

	// Discovery configs are sent once per (area, kind) series, before the
	// first state message of that series.
	mu        sync.Mutex
	announced map[string]bool
}

// NewPublisher connects to the broker. The last-will marks the bridge
// offline if the process dies without a clean shutdown.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	cfg = cfg.withDefaults()
	p := &Publisher{
		prefix:    cfg.TopicPrefix,
		logger:    logger.With("component", "mqtt"),
		announced: make(map[string]bool),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			p.logger.Info("MQTT connected")
			p.publish(cfg.TopicPrefix+"/bridge/state", []byte("online"), true)
			// A broker restart wipes nothing retained, but a fresh broker
			// needs the discovery configs again.
			p.mu.Lock()
			p.announced = make(map[string]bool)
			p.mu.Unlock()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			p.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	p.client = client
	return p, nil
}

// PublishReading implements climate.Publisher.
func (p *Publisher) PublishReading(ctx context.Context, area string, kind directory.Kind, value float64) error {
	p.ensureDiscovery(area, kind)
	topic := p.stateTopic(area, kind)
	p.publish(topic, []byte(fmt.Sprintf("%.2f", value)), true)
	return nil
}

// PublishUnavailable implements climate.Publisher.
func (p *Publisher) PublishUnavailable(ctx context.Context, area string, kind directory.Kind) error {
	p.ensureDiscovery(area, kind)
	topic := p.stateTopic(area, kind)
	p.publish(topic, []byte("unavailable"), true)
	return nil
}

// Stop marks the bridge offline and disconnects.
func (p *Publisher) Stop() {
	p.publishSync(p.prefix+"/bridge/state", []byte("offline"), true)
	p.client.Disconnect(1000)
	p.logger.Info("MQTT publisher stopped")
}

func (p *Publisher) stateTopic(area string, kind directory.Kind) string {
	return p.prefix + "/" + slugify(area) + "/" + string(kind)
}

func (p *Publisher) ensureDiscovery(area string, kind directory.Kind) {
	key := slugify(area) + "/" + string(kind)
	p.mu.Lock()
	done := p.announced[key]
	if !done {
		p.announced[key] = true
	}
	p.mu.Unlock()
	if done {
		return
	}

	msg := buildDiscovery(p.prefix, area, kind)
	p.publish(msg.Topic, msg.Payload, true)
	p.logger.Info("published HA discovery", "area", area, "kind", string(kind))
}

// publish fires a QoS 1 message and reports failures asynchronously; a
// dropped reading is replaced by the next cycle anyway.
func (p *Publisher) publish(topic string, payload []byte, retained bool) {
	token := p.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			p.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			p.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func (p *Publisher) publishSync(topic string, payload []byte, retained bool) {
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(3 * time.Second) {
		p.logger.Warn("MQTT publish timeout", "topic", topic)
	}
}

// slugify turns an area name into a safe topic segment.
func slugify(name string) string {
	s := strings.ToLower(name)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, s)
}
