package transport

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttQoS            = 1
	mqttBufSize        = 256
	maxReconnectWait   = 30 * time.Second
	connectWaitTimeout = 10 * time.Second
)

// MQTT adapts a paho client to the Transport interface. Reconnects are
// handled by the client with exponential backoff capped at maxReconnectWait;
// on every (re)connect the adapter re-issues all live subscriptions, so
// in-memory component state survives a broker drop.
type MQTT struct {
	client mqtt.Client
	mu     sync.Mutex
	subs   []*mqttSub
	closed bool
}

type mqttSub struct {
	filter string
	ch     chan Message
}

// DialMQTT connects to the broker at host:port. A connection that cannot be
// established within the connect timeout is returned as an error; the
// caller treats it as broker-unreachable.
func DialMQTT(host string, port int, clientID string, keepAlive time.Duration) (*MQTT, error) {
	t := &MQTT{}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", host, port)).
		SetClientID(clientID).
		SetKeepAlive(keepAlive).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(maxReconnectWait).
		SetOnConnectHandler(func(c mqtt.Client) {
			t.resubscribe()
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("mqtt: connection lost, reconnecting", "error", err)
		})

	t.client = mqtt.NewClient(opts)
	tok := t.client.Connect()
	if !tok.WaitTimeout(connectWaitTimeout) {
		return nil, fmt.Errorf("mqtt: connect %s:%d: timeout", host, port)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s:%d: %w", host, port, err)
	}
	return t, nil
}

// Publish sends payload to topic at QoS 1.
func (t *MQTT) Publish(topic string, payload []byte) error {
	tok := t.client.Publish(topic, mqttQoS, false, payload)
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers filter at QoS 1 and returns the delivery channel.
// Frames are pushed from the paho callback; a full channel drops the frame
// with a warning (QoS-1 redelivery is the broker's responsibility).
func (t *MQTT) Subscribe(filter string) (<-chan Message, error) {
	s := &mqttSub{filter: filter, ch: make(chan Message, mqttBufSize)}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("mqtt: subscribe %s: transport closed", filter)
	}
	t.subs = append(t.subs, s)
	t.mu.Unlock()

	if err := t.subscribe(s); err != nil {
		return nil, err
	}
	return s.ch, nil
}

func (t *MQTT) subscribe(s *mqttSub) error {
	tok := t.client.Subscribe(s.filter, mqttQoS, func(_ mqtt.Client, m mqtt.Message) {
		// Sends are guarded by the transport lock so Close cannot close the
		// channel between the closed check and the send.
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.closed {
			return
		}
		select {
		case s.ch <- Message{Topic: m.Topic(), Payload: m.Payload()}:
		default:
			slog.Warn("mqtt: subscriber channel full, frame dropped", "topic", m.Topic(), "filter", s.filter)
		}
	})
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", s.filter, err)
	}
	return nil
}

// resubscribe re-issues every live subscription after a reconnect.
func (t *MQTT) resubscribe() {
	t.mu.Lock()
	subs := make([]*mqttSub, len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for _, s := range subs {
		if err := t.subscribe(s); err != nil {
			slog.Error("mqtt: resubscribe failed", "filter", s.filter, "error", err)
		}
	}
	if len(subs) > 0 {
		slog.Info("mqtt: connected", "subscriptions", len(subs))
	}
}

// Close disconnects from the broker and closes all subscription channels.
func (t *MQTT) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	t.client.Disconnect(250)
	for _, s := range subs {
		close(s.ch)
	}
}
