package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/agent"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/config"
)

// eventBuffer is how many cycle events may wait for the publish loop
// before new ones are dropped.
const eventBuffer = 64

// CycleEvent is the JSON message published for each completed cycle.
type CycleEvent struct {
	CycleID       string    `json:"cycle_id"`
	Timestamp     time.Time `json:"timestamp"`
	Model         string    `json:"model"`
	Outcome       string    `json:"outcome"`
	Steps         int       `json:"steps"`
	DecisionCalls int       `json:"decision_calls"`
	ToolsUsed     []string  `json:"tools_used"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	DurationMs    int64     `json:"duration_ms"`
}

// publishFunc sends one message. It is the connection manager's
// Publish in production.
type publishFunc func(ctx context.Context, msg *paho.Publish) error

// Publisher forwards cycle events to the broker. CycleCompleted never
// blocks the agent; a background loop started by [Publisher.Start]
// does the publishing.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	stats      *DailyStats
	logger     *slog.Logger

	events  chan CycleEvent
	cm      *autopaho.ConnectionManager
	publish publishFunc
}

// New creates a Publisher but does not connect.
func New(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		stats:      NewDailyStats(nil),
		logger:     logger.With("component", "mqtt"),
		events:     make(chan CycleEvent, eventBuffer),
	}
}

// CycleCompleted queues an event for res. When the queue is full the
// event is dropped and logged.
func (p *Publisher) CycleCompleted(_ context.Context, _ string, res *agent.Result) {
	ev := CycleEvent{
		CycleID:       res.CycleID,
		Timestamp:     res.StartedAt.UTC(),
		Model:         res.Model,
		Outcome:       string(res.Outcome),
		Steps:         res.Steps,
		DecisionCalls: res.DecisionCalls,
		ToolsUsed:     res.ToolsUsed,
		InputTokens:   res.InputTokens,
		OutputTokens:  res.OutputTokens,
		DurationMs:    res.Duration.Milliseconds(),
	}
	p.stats.Add(res.InputTokens, res.OutputTokens, len(res.ToolsUsed))

	select {
	case p.events <- ev:
	default:
		p.logger.Warn("mqtt event queue full, dropping cycle event", "cycle_id", res.CycleID)
	}
}

// Start connects to the broker and publishes queued events until ctx
// is cancelled. On every (re-)connect it publishes discovery configs
// and a birth message.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.announce(ctx)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "wizard-" + p.instanceID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm
	p.publish = func(ctx context.Context, msg *paho.Publish) error {
		_, err := cm.Publish(ctx, msg)
		return err
	}

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, "offline")
	return p.cm.Disconnect(ctx)
}

func (p *Publisher) baseTopic() string {
	return p.cfg.TopicPrefix + "/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) eventsTopic() string {
	return p.baseTopic() + "/cycles"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) discoveryTopic(entity string) string {
	return p.cfg.DiscoveryPrefix + "/sensor/" + p.cfg.DeviceName + "/" + entity + "/config"
}

type sensorDef struct {
	entity string
	config SensorConfig
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	sensor := func(entity, label, icon string) sensorDef {
		return sensorDef{entity: entity, config: SensorConfig{
			Name:              p.device.Name + " " + label,
			UniqueID:          p.instanceID + "_" + entity,
			StateTopic:        p.stateTopic(entity),
			AvailabilityTopic: p.availabilityTopic(),
			Device:            p.device,
			Icon:              icon,
		}}
	}

	outcome := sensor("last_outcome", "Last Outcome", "mdi:flag-checkered")
	outcome.config.EntityCategory = "diagnostic"
	cycles := sensor("cycles_today", "Requests Today", "mdi:counter")
	cycles.config.StateClass = "total_increasing"
	tokens := sensor("tokens_today", "Tokens Today", "mdi:counter")
	tokens.config.StateClass = "total_increasing"
	tokens.config.UnitOfMeasurement = "tokens"
	toolCalls := sensor("tool_calls_today", "Tool Calls Today", "mdi:tools")
	toolCalls.config.StateClass = "total_increasing"

	return []sensorDef{outcome, cycles, tokens, toolCalls}
}

// announce publishes discovery configs (when enabled) and the birth
// message.
func (p *Publisher) announce(ctx context.Context) {
	if p.cfg.DiscoveryPrefix != "" {
		for _, s := range p.sensorDefinitions() {
			payload, err := json.Marshal(s.config)
			if err != nil {
				p.logger.Error("mqtt marshal discovery payload", "entity", s.entity, "error", err)
				continue
			}
			topic := p.discoveryTopic(s.entity)
			if err := p.send(ctx, topic, payload, 1, true); err != nil {
				p.logger.Warn("mqtt discovery publish failed", "entity", s.entity, "topic", topic, "error", err)
			}
		}
	}
	p.publishAvailability(ctx, "online")
}

func (p *Publisher) publishAvailability(ctx context.Context, status string) {
	if err := p.send(ctx, p.availabilityTopic(), []byte(status), 1, true); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	p.logger.Info("mqtt availability published", "status", status)
}

func (p *Publisher) send(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if p.publish == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	return p.publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	})
}

// runLoop drains the event queue until ctx is cancelled.
func (p *Publisher) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.events:
			p.publishEvent(ctx, ev)
		}
	}
}

func (p *Publisher) publishEvent(ctx context.Context, ev CycleEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("mqtt marshal cycle event", "cycle_id", ev.CycleID, "error", err)
		return
	}
	if err := p.send(ctx, p.eventsTopic(), payload, 0, false); err != nil {
		p.logger.Debug("mqtt cycle event publish failed", "cycle_id", ev.CycleID, "error", err)
	}

	cycles, tokens, toolCalls := p.stats.Snapshot()
	states := []struct{ entity, value string }{
		{"last_outcome", ev.Outcome},
		{"cycles_today", strconv.FormatInt(cycles, 10)},
		{"tokens_today", strconv.FormatInt(tokens, 10)},
		{"tool_calls_today", strconv.FormatInt(toolCalls, 10)},
	}
	for _, s := range states {
		if err := p.send(ctx, p.stateTopic(s.entity), []byte(s.value), 0, true); err != nil {
			p.logger.Debug("mqtt state publish failed", "entity", s.entity, "error", err)
		}
	}
	p.logger.Debug("mqtt cycle event published", "cycle_id", ev.CycleID, "outcome", ev.Outcome)
}
