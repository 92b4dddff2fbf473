package mqttclient

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type MessageHandler func(topic string, payload []byte)

// Client is the engine's broker connection. It subscribes to the trigger
// topics and publishes pipeline status. When a presence topic is set the
// broker holds a retained "online" there, replaced by "offline" through
// the will message if the engine drops off.
type Client struct {
	conn      mqtt.Client
	topics    []string
	presence  string
	connected atomic.Bool
	log       zerolog.Logger
	handler   atomic.Pointer[MessageHandler]
	unhandled atomic.Int64
}

type Options struct {
	BrokerURL     string
	ClientID      string
	Topics        string // comma separated subscription filters
	PresenceTopic string // optional
	Username      string
	Password      string
	Log           zerolog.Logger
}

const (
	subscribeQoS   = 1
	connectTimeout = 10 * time.Second
	publishTimeout = 2 * time.Second

	presenceOnline  = "online"
	presenceOffline = "offline"
)

var ErrNotConnected = errors.New("mqtt not connected")

// Connect dials the broker and blocks until the first connection succeeds
// or connectTimeout passes. Subscriptions are (re)made on every connect.
func Connect(opts Options) (*Client, error) {
	c := &Client{
		topics:   parseTopics(opts.Topics),
		presence: opts.PresenceTopic,
		log:      opts.Log.With().Str("component", "mqtt").Logger(),
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.BrokerURL)
	co.SetClientID(opts.ClientID)
	co.SetUsername(opts.Username)
	co.SetPassword(opts.Password)
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectRetryInterval(5 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.SetOrderMatters(false)
	co.SetOnConnectHandler(c.onConnect)
	co.SetConnectionLostHandler(c.onConnectionLost)
	co.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		c.log.Debug().Msg("mqtt reconnecting")
	})
	if c.presence != "" {
		co.SetWill(c.presence, presenceOffline, subscribeQoS, true)
	}

	c.conn = mqtt.NewClient(co)
	token := c.conn.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out after %s", opts.BrokerURL, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", opts.BrokerURL, err)
	}
	return c, nil
}

// SetMessageHandler installs h for trigger messages. Messages that arrive
// before a handler is set are counted and dropped.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.handler.Store(&h)
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)

	filters := make(map[string]byte, len(c.topics))
	for _, t := range c.topics {
		filters[t] = subscribeQoS
	}
	tok := client.SubscribeMultiple(filters, c.onMessage)
	switch {
	case !tok.WaitTimeout(connectTimeout):
		c.log.Error().Strs("topics", c.topics).Msg("mqtt subscribe timed out")
	case tok.Error() != nil:
		c.log.Error().Err(tok.Error()).Strs("topics", c.topics).Msg("mqtt subscribe failed")
	default:
		c.log.Info().Strs("topics", c.topics).Msg("mqtt connected and subscribed")
	}

	if c.presence != "" {
		client.Publish(c.presence, subscribeQoS, true, presenceOnline)
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	h := c.handler.Load()
	if h == nil {
		n := c.unhandled.Add(1)
		c.log.Debug().Str("topic", msg.Topic()).Int64("unhandled", n).Msg("trigger dropped, no handler yet")
		return
	}
	(*h)(msg.Topic(), msg.Payload())
}

// Publish sends payload at QoS 0 and waits briefly for the broker to take it.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	token := c.conn.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Close marks the engine offline, when presence is enabled, and
// disconnects after giving in-flight work up to a second.
func (c *Client) Close() {
	if c.presence != "" && c.connected.Load() {
		c.conn.Publish(c.presence, subscribeQoS, true, presenceOffline).WaitTimeout(publishTimeout)
	}
	c.connected.Store(false)
	c.conn.Disconnect(1000)
	c.log.Info().Int64("unhandled", c.unhandled.Load()).Msg("mqtt client disconnected")
}

// parseTopics splits a comma separated filter list. An empty list
// subscribes to every trigger topic.
func parseTopics(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' })
	topics := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			topics = append(topics, f)
		}
	}
	if len(topics) == 0 {
		return []string{"veya/trigger/#"}
	}
	return topics
}
