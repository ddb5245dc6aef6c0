// Package telemetry reports session lifecycle to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/blukai/nova/internal/event"
	"github.com/blukai/nova/internal/netserver"
	"github.com/blukai/nova/internal/service"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/phuslu/log"
)

const (
	DefaultTopic = "nova/sessions"
	// DefaultQueue is how many events may wait for the publisher.
	DefaultQueue = 256
)

// HandlerName is what the reporter registers its handlers under.
const HandlerName = "telemetry"

var ErrNotConnected = errors.New("telemetry: not connected")

// Publisher is called from Reporter.Run only, so it may block.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type SessionEvent struct {
	Event  string    `json:"event"`
	ConnID uint64    `json:"conn_id"`
	Remote string    `json:"remote,omitempty"`
	Reason string    `json:"reason,omitempty"`
	TS     time.Time `json:"ts"`
}

// Reporter turns accepts and disconnects into session events. Its handlers
// run on the reactor goroutine and only queue; Run publishes. When the queue
// is full events are dropped.
type Reporter struct {
	pub     Publisher
	topic   string
	queue   chan SessionEvent
	dropped atomic.Uint64
	logger  *log.Logger
}

func NewReporter(pub Publisher, topic string, queue int, logger *log.Logger) *Reporter {
	if topic == "" {
		topic = DefaultTopic
	}
	if queue <= 0 {
		queue = DefaultQueue
	}
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}
	return &Reporter{
		pub:    pub,
		topic:  topic,
		queue:  make(chan SessionEvent, queue),
		logger: logger,
	}
}

// Dropped returns how many events did not fit the queue.
func (rp *Reporter) Dropped() uint64 { return rp.dropped.Load() }

// Attach subscribes the reporter to r's accept and disconnect chains. Call it
// after RegisterDefaults so accepted clients are registered by the time they
// are reported.
func (rp *Reporter) Attach(r *netserver.Reactor) {
	r.RegisterHandler(event.KindAccept, HandlerName, event.HandlerFunc(rp.onAccept))
	r.RegisterHandler(event.KindDisconnect, HandlerName, event.HandlerFunc(rp.onDisconnect))
}

func (rp *Reporter) onAccept(ev event.Event, _ *event.Context) {
	c := ev.(netserver.AcceptEvent).Client
	rp.publish(SessionEvent{
		Event:  "connect",
		ConnID: c.ID(),
		Remote: c.RemoteAddr(),
	})
}

func (rp *Reporter) onDisconnect(ev event.Event, _ *event.Context) {
	de := ev.(service.DisconnectEvent)
	se := SessionEvent{
		Event:  "disconnect",
		ConnID: de.Session.ID(),
	}
	if c, ok := de.Session.(interface{ RemoteAddr() string }); ok {
		se.Remote = c.RemoteAddr()
	}
	if de.Reason != nil {
		se.Reason = de.Reason.Error()
	}
	rp.publish(se)
}

func (rp *Reporter) publish(se SessionEvent) {
	se.TS = time.Now().UTC()

	select {
	case rp.queue <- se:
	default:
		rp.dropped.Add(1)
		rp.logger.Warn().
			Str("event", se.Event).
			Uint64("conn", se.ConnID).
			Msg("telemetry queue full, dropping session event")
	}
}

// Run publishes queued events until ctx is done.
func (rp *Reporter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case se := <-rp.queue:
			rp.send(se)
		}
	}
}

func (rp *Reporter) send(se SessionEvent) {
	data, err := json.Marshal(se)
	if err != nil {
		rp.logger.Warn().Err(err).Msg("could not marshal session event")
		return
	}
	if err := rp.pub.Publish(rp.topic, data); err != nil {
		rp.logger.Debug().
			Err(err).
			Str("topic", rp.topic).
			Msg("could not publish session event")
	}
}

// MQTT publishes to a broker with QoS 1, without waiting for acks.
type MQTT struct {
	client mqtt.Client
	logger *log.Logger
}

var _ Publisher = (*MQTT)(nil)

func DialMQTT(broker, clientID string, logger *log.Logger) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	// bounds how long Publish waits to hand a message to the client
	opts.SetWriteTimeout(5 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Str("broker", broker).Msg("mqtt connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("could not connect to %s: timeout reached", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", broker, err)
	}

	return &MQTT{client: client, logger: logger}, nil
}

func (m *MQTT) Publish(topic string, payload []byte) error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}

	token := m.client.Publish(topic, 1, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			m.logger.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
	return nil
}

func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
