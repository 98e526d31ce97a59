package weblink

//
// This file contains code to mirror property values to an mqtt broker with
// the paho mqtt client.
//

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	mqttClientIDPrefix = "weblinkGo"
	defaultTopicBase   = "hodcp"
	defaultMqttBroker  = "tcp://127.0.0.1:1883"
	mirrorQueueSize    = 256
)

// Publisher is the part of mqtt.Client the mirror publishes through.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type MirrorOptions struct {
	Broker    string
	TopicBase string
	ClientID  string
	Logger    zerolog.Logger
}

type mirrorMessage struct {
	topic    string
	payload  string
	Qos      byte // default value is 1
	Retained bool // default value is true
}

// Mirror republishes property updates as retained messages under
// <topicBase>/<node-id>/<property-id>, with the type under
// .../<property-id>/$datatype. It implements Observer.
type Mirror struct {
	client    mqtt.Client
	pub       Publisher
	topicBase string
	log       zerolog.Logger

	// Updates arrive on the panel's goroutine; publication happens in Run.
	updates chan Property

	// Publish tokens are waited for off the Run goroutine and finalised in it.
	tokenChannel chan mqtt.Token

	datatypes map[string]string // last $datatype published per property topic
}

// NewMirror builds a mirror with its own paho client. Call Connect, then Run.
func NewMirror(opts MirrorOptions) *Mirror {
	if opts.Broker == "" {
		opts.Broker = defaultMqttBroker
	}

	if opts.ClientID == "" {
		opts.ClientID = mqttClientIDPrefix + "-" + uuid.NewString()[:8]
	}

	m := newMirror(nil, opts.TopicBase, opts.Logger)

	o := mqtt.NewClientOptions()
	o.AddBroker(opts.Broker)
	o.SetClientID(opts.ClientID)
	o.SetKeepAlive(60 * time.Second)
	o.SetCleanSession(true)
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(time.Minute)
	o.SetOrderMatters(false)
	o.SetWill(m.topic("$state"), "lost", 1, true)
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.log.Warn().Err(err).Msg("MQTT connection lost")
	})
	o.SetOnConnectHandler(func(c mqtt.Client) {
		m.log.Info().Str("broker", opts.Broker).Msg("MQTT connected")
		c.Publish(m.topic("$state"), 1, true, "ready")
	})

	m.client = mqtt.NewClient(o)
	m.pub = m.client

	return m
}

func newMirror(pub Publisher, topicBase string, log zerolog.Logger) *Mirror {
	if topicBase == "" {
		topicBase = defaultTopicBase
	}

	return &Mirror{
		pub:          pub,
		topicBase:    topicBase,
		log:          log.With().Str("component", "mirror").Logger(),
		updates:      make(chan Property, mirrorQueueSize),
		tokenChannel: make(chan mqtt.Token, mirrorQueueSize),
		datatypes:    make(map[string]string),
	}
}

// Connect waits for the first connection attempt. With connect retry on,
// paho keeps trying in the background after a timeout.
func (m *Mirror) Connect(timeout time.Duration) error {
	if m.client == nil {
		return nil
	}

	token := m.client.Connect()
	if !token.WaitTimeout(timeout) {
		m.log.Warn().Dur("timeout", timeout).Msg("MQTT broker not reached yet, retrying in background")
		return nil
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	return nil
}

// PropertyChanged queues p for publication. It never blocks the caller: if
// the queue is full the update is dropped, the next one carries the value.
func (m *Mirror) PropertyChanged(p Property) {
	select {
	case m.updates <- p:
	default:
		m.log.Warn().Str("key", p.Key()).Msg("Mirror queue full, dropping update")
	}
}

// Run publishes queued updates until ctx ends.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case p := <-m.updates:
			m.publishProperty(ctx, p)

		case t := <-m.tokenChannel:
			m.tokenFinalize(t)

		case <-ctx.Done():
			if m.client != nil && m.client.IsConnected() {
				m.client.Publish(m.topic("$state"), 1, true, "disconnected").WaitTimeout(time.Second)
				m.client.Disconnect(250)
			}

			return
		}
	}
}

func (m *Mirror) topic(t string) string {
	return m.topicBase + "/" + t
}

func (m *Mirror) propertyTopic(p Property) (string, error) {
	nodeID, err := topicID(SimpleName(p.Node))
	if err != nil {
		return "", err
	}

	propID, err := topicID(p.Name)
	if err != nil {
		return "", err
	}

	return m.topic(nodeID + "/" + propID), nil
}

func (m *Mirror) publishProperty(ctx context.Context, p Property) {
	topic, err := m.propertyTopic(p)
	if err != nil {
		m.log.Debug().Err(err).Str("key", p.Key()).Msg("Property not mirrored")
		return
	}

	if m.datatypes[topic] != p.Type {
		m.datatypes[topic] = p.Type
		m.publish(ctx, mirrorMessage{topic: topic + "/$datatype", payload: p.Type, Qos: 1, Retained: true})
	}

	m.publish(ctx, mirrorMessage{topic: topic, payload: p.Value, Qos: 1, Retained: true})
}

func (m *Mirror) publish(ctx context.Context, msg mirrorMessage) {
	token := m.pub.Publish(msg.topic, msg.Qos, msg.Retained, msg.payload)

	// I don't want token.Wait() to block the loop, so ...
	go func(t mqtt.Token) {
		t.Wait()
		select {
		case m.tokenChannel <- t:
		case <-ctx.Done():
		}
	}(token)
}

// Check for publish errors. If found, log them.
// Token t has already been waited for.
func (m *Mirror) tokenFinalize(t mqtt.Token) {
	if err := t.Error(); err != nil {
		m.log.Warn().Err(err).Msg("Publish error")
	}
}
