package mqtt

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/agent"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/config"
)

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if parts := strings.Split(first, "-"); len(parts) != 5 {
		t.Errorf("id %q does not look like a UUID", first)
	}
	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.TrimSpace(string(data)) != first {
		t.Errorf("file content = %q, want %q", data, first)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want stable %q", second, first)
	}
}

// recorder captures published messages in place of a broker.
type recorder struct {
	mu   sync.Mutex
	msgs []*paho.Publish
	done chan struct{}
	want int
}

func (r *recorder) publish(_ context.Context, msg *paho.Publish) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	if len(r.msgs) == r.want {
		close(r.done)
	}
	return nil
}

func (r *recorder) byTopic() map[string]*paho.Publish {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*paho.Publish)
	for _, m := range r.msgs {
		out[m.Topic] = m
	}
	return out
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker:          "mqtt://localhost:1883",
		DeviceName:      "den-wizard",
		TopicPrefix:     "wizard",
		DiscoveryPrefix: "homeassistant",
	}
}

func TestPublisher_Topics(t *testing.T) {
	p := New(testConfig(), "inst-1", nil)

	tests := []struct {
		got, want string
	}{
		{p.availabilityTopic(), "wizard/den-wizard/availability"},
		{p.eventsTopic(), "wizard/den-wizard/cycles"},
		{p.stateTopic("last_outcome"), "wizard/den-wizard/last_outcome/state"},
		{p.discoveryTopic("tokens_today"), "homeassistant/sensor/den-wizard/tokens_today/config"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestPublisher_SensorDefinitions(t *testing.T) {
	p := New(testConfig(), "inst-1", nil)
	defs := p.sensorDefinitions()
	if len(defs) != 4 {
		t.Fatalf("got %d sensors, want 4", len(defs))
	}
	seen := make(map[string]bool)
	for _, d := range defs {
		if seen[d.config.UniqueID] {
			t.Errorf("duplicate unique_id %q", d.config.UniqueID)
		}
		seen[d.config.UniqueID] = true
		if d.config.StateTopic != p.stateTopic(d.entity) {
			t.Errorf("%s: state topic %q", d.entity, d.config.StateTopic)
		}
		if d.config.Device.Identifiers[0] != "inst-1" {
			t.Errorf("%s: device identifiers %v", d.entity, d.config.Device.Identifiers)
		}
	}
}

func TestPublisher_Announce(t *testing.T) {
	tests := []struct {
		name      string
		discovery string
		want      int
	}{
		{"with discovery", "homeassistant", 5},
		{"discovery disabled", "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.DiscoveryPrefix = tt.discovery
			rec := &recorder{done: make(chan struct{}), want: -1}
			p := New(cfg, "inst-1", nil)
			p.publish = rec.publish

			p.announce(context.Background())

			if len(rec.msgs) != tt.want {
				t.Fatalf("published %d messages, want %d", len(rec.msgs), tt.want)
			}
			last := rec.msgs[len(rec.msgs)-1]
			if last.Topic != p.availabilityTopic() || string(last.Payload) != "online" || !last.Retain {
				t.Errorf("birth message = %s %q retain=%v", last.Topic, last.Payload, last.Retain)
			}
		})
	}
}

func TestPublisher_PublishesCycleEvents(t *testing.T) {
	rec := &recorder{done: make(chan struct{}), want: 5}
	p := New(testConfig(), "inst-1", nil)
	p.publish = rec.publish

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.runLoop(ctx)

	var observer agent.CycleObserver = p
	observer.CycleCompleted(ctx, "two dogs please", &agent.Result{
		CycleID:       "cyc-1",
		Model:         "qwen-3-32b",
		Outcome:       agent.OutcomeFinal,
		Steps:         2,
		DecisionCalls: 3,
		ToolsUsed:     []string{"random_dog", "random_dog"},
		InputTokens:   900,
		OutputTokens:  40,
		StartedAt:     time.Now(),
		Duration:      1200 * time.Millisecond,
	})

	select {
	case <-rec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for publishes")
	}

	msgs := rec.byTopic()
	ev := msgs["wizard/den-wizard/cycles"]
	if ev == nil {
		t.Fatal("no cycle event published")
	}
	var got CycleEvent
	if err := json.Unmarshal(ev.Payload, &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.CycleID != "cyc-1" || got.Outcome != "final" || len(got.ToolsUsed) != 2 || got.DurationMs != 1200 {
		t.Errorf("event = %+v", got)
	}
	if ev.Retain {
		t.Error("cycle events should not be retained")
	}

	want := map[string]string{
		"wizard/den-wizard/last_outcome/state":     "final",
		"wizard/den-wizard/cycles_today/state":     "1",
		"wizard/den-wizard/tokens_today/state":     "940",
		"wizard/den-wizard/tool_calls_today/state": "2",
	}
	for topic, value := range want {
		m := msgs[topic]
		if m == nil || string(m.Payload) != value {
			t.Errorf("%s = %v, want %q", topic, m, value)
		}
	}
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	p := New(testConfig(), "inst-1", nil)
	res := &agent.Result{CycleID: "x", Outcome: agent.OutcomeFinal}
	for range eventBuffer + 10 {
		p.CycleCompleted(context.Background(), "", res)
	}
	if len(p.events) != eventBuffer {
		t.Errorf("queued %d events, want %d", len(p.events), eventBuffer)
	}
	if cycles, _, _ := p.stats.Snapshot(); cycles != eventBuffer+10 {
		t.Errorf("daily stats counted %d cycles, want all %d", cycles, eventBuffer+10)
	}
}

func TestPublisher_SendBeforeStart(t *testing.T) {
	p := New(testConfig(), "inst-1", nil)
	if err := p.send(context.Background(), "t", nil, 0, false); err == nil {
		t.Error("expected error before Start")
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop() before Start = %v", err)
	}
}

func TestMQTTConfig_Configured(t *testing.T) {
	if (config.MQTTConfig{}).Configured() {
		t.Error("empty config should not be configured")
	}
	if !testConfig().Configured() {
		t.Error("config with broker should be configured")
	}
}
