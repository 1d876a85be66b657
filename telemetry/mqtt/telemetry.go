// Package mqtt streams live telemetry to an MQTT broker over WiFi. The
// main loop hands samples to a Feed; a separate goroutine owns the broker
// session and publishes them.
package mqtt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	mqtt "github.com/soypat/natiu-mqtt"

	"github.com/harveysanders/miatadash/telemetry/signal"
)

// DefaultTopic is the publish topic.
const DefaultTopic = "miata/telemetry"

// Telemetry is one published sample.
type Telemetry struct {
	UptimeMs  uint32     `json:"t"`
	RPM       uint16     `json:"rpm"`
	Speed     uint16     `json:"kmh"`
	Gear      int8       `json:"gear"`
	Throttle  uint8      `json:"tps"`
	Coolant   int16      `json:"clt"`
	OilTemp   int16      `json:"oilT"`
	OilPress  uint16     `json:"oilP"`
	Voltage   uint16     `json:"v"`
	Tires     [4]uint16  `json:"tires"`
	G         [3]float32 `json:"g"`
	Lat       int32      `json:"lat,omitempty"`
	Lon       int32      `json:"lon,omitempty"`
	Running   bool       `json:"run"`
	Connected bool       `json:"can"`
}

// FromSnapshot builds a sample from a cache snapshot.
func FromSnapshot(nowMs uint32, s *signal.Snapshot) Telemetry {
	t := Telemetry{
		UptimeMs:  nowMs,
		RPM:       s.RPM,
		Speed:     s.Speed,
		Gear:      s.Gear,
		Throttle:  s.Throttle,
		Coolant:   s.Coolant,
		OilTemp:   s.OilTemp,
		OilPress:  s.OilPressure,
		Voltage:   s.Voltage,
		Tires:     s.TirePressure,
		G:         s.AccelComp,
		Running:   s.EngineRunning,
		Connected: s.Connected,
	}
	if s.Fix {
		t.Lat, t.Lon = s.Lat, s.Lon
	}
	return t
}

// Session is the broker session surface the publisher uses.
// *mqtt.Client from natiu-mqtt implements it.
type Session interface {
	IsConnected() bool
	PublishPayload(flags mqtt.PacketFlags, vp mqtt.VariablesPublish, payload []byte) error
}

var ErrNotConnected = errors.New("mqtt: not connected")

var pubFlags, _ = mqtt.NewPublishFlags(mqtt.QoS0, false, false)

// Publisher marshals samples and publishes them on one topic.
type Publisher struct {
	Session Session
	Topic   string

	vars mqtt.VariablesPublish
}

// Publish sends t with the given packet identifier.
func (p *Publisher) Publish(t Telemetry, packetID uint16) error {
	if p.Session == nil || !p.Session.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return errors.New("mqtt marshal:" + err.Error())
	}
	topic := p.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	if string(p.vars.TopicName) != topic {
		p.vars.TopicName = []byte(topic)
	}
	p.vars.PacketIdentifier = packetID
	if err := p.Session.PublishPayload(pubFlags, p.vars, payload); err != nil {
		return errors.New("mqtt publish:" + err.Error())
	}
	return nil
}

// Feed hands samples from the main loop to the publishing goroutine at a
// fixed rate. It never blocks: when the channel is full the sample is
// dropped.
type Feed struct {
	C          chan Telemetry
	IntervalMs uint32

	enabled bool
	last    uint32
	primed  bool
	sent    uint32
	dropped uint32
}

// NewFeed returns a disabled feed with a small buffer.
func NewFeed(intervalMs uint32) *Feed {
	if intervalMs == 0 {
		intervalMs = 200
	}
	return &Feed{C: make(chan Telemetry, 8), IntervalMs: intervalMs}
}

// SetEnabled turns the feed on or off.
func (f *Feed) SetEnabled(on bool) {
	f.enabled = on
	f.primed = false
}

// Enabled reports whether the feed is on.
func (f *Feed) Enabled() bool { return f.enabled }

// Offer queues a sample if the feed is enabled and one is due.
func (f *Feed) Offer(nowMs uint32, src signal.Reader) {
	if !f.enabled || (f.primed && nowMs-f.last < f.IntervalMs) {
		return
	}
	s, ok := src.Load()
	if !ok {
		return
	}
	f.last, f.primed = nowMs, true
	select {
	case f.C <- FromSnapshot(nowMs, &s):
		f.sent++
	default:
		f.dropped++
	}
}

// Counts returns the number of queued and dropped samples.
func (f *Feed) Counts() (sent, dropped uint32) { return f.sent, f.dropped }

// Drain publishes every queued sample until the channel is empty or a
// publish fails. nextID supplies packet identifiers.
func Drain(p *Publisher, c <-chan Telemetry, nextID func() uint16) (n int, err error) {
	for {
		select {
		case t := <-c:
			if err := p.Publish(t, nextID()); err != nil {
				return n, err
			}
			n++
		default:
			return n, nil
		}
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
}
