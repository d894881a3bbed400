// Package telemetry publishes login flow events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/uolink-project/uolink/internal/config"
	"github.com/uolink-project/uolink/internal/events"
	"github.com/uolink-project/uolink/internal/util"
)

// MQTT topics
const (
	TopicLoginStep    = "uolink/login/step"
	TopicLoginFailure = "uolink/login/failure"
	TopicLoginServers = "uolink/login/servers"
	TopicLoginRelay   = "uolink/login/relay"
	TopicClientAdmin  = "uolink/client/admin"
)

const (
	subscriberName      = "mqtt"
	disconnectQuiesceMs = 5000
)

// Publisher forwards bus events to MQTT as JSON messages.
type Publisher struct {
	cfg      config.TelemetryConfig
	bus      *events.Bus
	client   mqtt.Client
	metadata map[string]interface{}
	now      func() time.Time

	// send is replaced in tests.
	send func(topic string, data []byte)
}

// NewPublisher creates a publisher for cfg. It fails when telemetry is
// disabled or the TLS material cannot be loaded.
func NewPublisher(cfg config.TelemetryConfig, bus *events.Bus) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("telemetry is disabled")
	}

	sysInfo := util.GetSystemInfo()
	p := &Publisher{
		cfg: cfg,
		bus: bus,
		metadata: map[string]interface{}{
			"hostname":  sysInfo.Hostname,
			"os":        sysInfo.OS,
			"arch":      sysInfo.Architecture,
			"cpu_model": sysInfo.CPUModel,
			"cpu_cores": sysInfo.CPUCores,
			"memory_mb": sysInfo.TotalMemory,
		},
		now: time.Now,
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("uolink-%s", sysInfo.Hostname))
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

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	p.client = mqtt.NewClient(opts)
	p.send = p.mqttSend
	return p, nil
}

func buildTLSConfig(cfg config.TelemetryConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

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
	return tlsConfig, nil
}

// Start connects to the broker, subscribes to the bus and blocks until ctx
// is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	log.Info().
		Str("broker", p.cfg.BrokerURL).
		Int("port", p.cfg.Port).
		Msg("connecting to MQTT broker")

	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	p.Subscribe()
	defer p.Unsubscribe()

	<-ctx.Done()

	p.publish(TopicClientAdmin, map[string]interface{}{"event": "shutdown"})
	p.client.Disconnect(disconnectQuiesceMs)
	log.Info().Msg("MQTT disconnected")
	return nil
}

// Subscribe registers the bus handlers.
func (p *Publisher) Subscribe() {
	p.bus.Subscribe(events.EventLoginStepChanged, subscriberName, p.onStepChanged)
	p.bus.Subscribe(events.EventConnectionFailed, subscriberName, p.onConnectionFailed)
	p.bus.Subscribe(events.EventLoginError, subscriberName, p.onLoginError)
	p.bus.Subscribe(events.EventServerListUpdated, subscriberName, p.onServerList)
	p.bus.Subscribe(events.EventRelayed, subscriberName, p.onRelayed)
}

// Unsubscribe removes the bus handlers.
func (p *Publisher) Unsubscribe() {
	for _, t := range []events.EventType{
		events.EventLoginStepChanged,
		events.EventConnectionFailed,
		events.EventLoginError,
		events.EventServerListUpdated,
		events.EventRelayed,
	} {
		p.bus.Unsubscribe(t, subscriberName)
	}
}

func (p *Publisher) publish(topic string, payload interface{}) {
	data, err := json.Marshal(p.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}
	p.send(topic, data)
}

func (p *Publisher) mqttSend(topic string, data []byte) {
	if !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines host metadata with the event payload.
func (p *Publisher) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(p.metadata)+2)
	for k, v := range p.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = p.now().UTC().Format(time.RFC3339)
	return msg
}

func (p *Publisher) onStepChanged(ctx context.Context, ev events.Event) error {
	if s, ok := ev.Payload.(events.StepChangedPayload); ok {
		p.publish(TopicLoginStep, map[string]interface{}{"from": s.From, "to": s.To})
	}
	return nil
}

func (p *Publisher) onConnectionFailed(ctx context.Context, ev events.Event) error {
	if f, ok := ev.Payload.(events.ConnectionFailedPayload); ok {
		p.publish(TopicLoginFailure, map[string]interface{}{
			"event":   "connection_failed",
			"reason":  f.Reason,
			"code":    f.Code,
			"attempt": f.Attempt,
			"message": f.Message,
		})
	}
	return nil
}

func (p *Publisher) onLoginError(ctx context.Context, ev events.Event) error {
	if e, ok := ev.Payload.(events.LoginErrorPayload); ok {
		p.publish(TopicLoginFailure, map[string]interface{}{
			"event":     "login_error",
			"packet_id": fmt.Sprintf("0x%02X", e.PacketID),
			"code":      e.Code,
			"message":   e.Message,
		})
	}
	return nil
}

func (p *Publisher) onServerList(ctx context.Context, ev events.Event) error {
	if s, ok := ev.Payload.(events.ServerListPayload); ok {
		p.publish(TopicLoginServers, map[string]interface{}{"count": s.Count, "names": s.Names})
	}
	return nil
}

func (p *Publisher) onRelayed(ctx context.Context, ev events.Event) error {
	if r, ok := ev.Payload.(events.RelayedPayload); ok {
		p.publish(TopicLoginRelay, map[string]interface{}{"address": r.Address})
	}
	return nil
}
