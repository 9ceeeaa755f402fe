// Package forward publishes the changes of mirrored fields to an MQTT broker.
package forward

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/component"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/metrics"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/mirror"
	"github.com/awcullen/opcua/ua"
	"github.com/eclipse/paho.golang/paho"
	"github.com/sirupsen/logrus"
)

// Publisher sends MQTT messages; *autopaho.ConnectionManager is one.
type Publisher interface {
	AwaitConnection(ctx context.Context) error
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Message is the payload published for one field change.
type Message struct {
	Object          string     `json:"object"`
	Field           string     `json:"field"`
	Value           ua.Variant `json:"value"`
	StatusCode      uint32     `json:"statusCode"`
	SourceTimestamp time.Time  `json:"sourceTimestamp"`
	ServerTimestamp time.Time  `json:"serverTimestamp"`
}

// Topic returns the topic of a message, e.g. raman/Device/Channel1/Spectrum/Intensity.
func (m Message) Topic(prefix string) string {
	parts := []string{}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	return strings.Join(append(parts, m.Object, m.Field), "/")
}

const queueSize = 64

// Forwarder queues the changes reported by its hook and publishes them in order.
type Forwarder struct {
	pub   Publisher
	cfg   component.MQTTConfig
	log   *logrus.Logger
	queue chan Message
}

func New(pub Publisher, cfg component.MQTTConfig, log *logrus.Logger) *Forwarder {
	return &Forwarder{
		pub:   pub,
		cfg:   cfg,
		log:   log,
		queue: make(chan Message, queueSize),
	}
}

// Hook returns the change hook to bind mirrored objects with. Changes arriving while
// the queue is full are dropped.
func (f *Forwarder) Hook() mirror.ChangeHook {
	return func(obj *mirror.Object, field string, value ua.DataValue) {
		msg := Message{
			Object:          obj.Path(),
			Field:           field,
			Value:           value.Value,
			StatusCode:      uint32(value.StatusCode),
			SourceTimestamp: value.SourceTimestamp,
			ServerTimestamp: value.ServerTimestamp,
		}
		select {
		case f.queue <- msg:
		default:
			metrics.ForwardedMessages.WithLabelValues("dropped").Inc()
			f.log.WithField("Topic", msg.Topic(f.cfg.TopicPrefix)).Debugln("Forward queue full, change dropped 🔔")
		}
	}
}

// Run publishes the queued changes until ctx is done.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-f.queue:
			f.publish(ctx, msg)
		}
	}
}

func (f *Forwarder) publish(ctx context.Context, msg Message) {
	topic := msg.Topic(f.cfg.TopicPrefix)
	payload, err := json.Marshal(msg)
	if err != nil {
		metrics.ForwardedMessages.WithLabelValues("error").Inc()
		f.log.WithFields(logrus.Fields{"Topic": topic, "Err": err}).Errorln("Unable to encode message ⛔")
		return
	}
	// publication stops whilst the connection is unavailable
	if err := f.pub.AwaitConnection(ctx); err != nil {
		return
	}
	if _, err := f.pub.Publish(ctx, &paho.Publish{
		QoS:     f.cfg.QoS,
		Topic:   topic,
		Retain:  f.cfg.Retain,
		Payload: payload,
	}); err != nil {
		metrics.ForwardedMessages.WithLabelValues("error").Inc()
		f.log.WithFields(logrus.Fields{"Topic": topic, "Err": err}).Errorln("MQTT publish error ⛔")
		return
	}
	metrics.ForwardedMessages.WithLabelValues("ok").Inc()
	f.log.WithField("Topic", topic).Debugln("Message published ✅")
}
