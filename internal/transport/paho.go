package transport

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// Options configures connections to the broker. Username and password pass
// through opaquely; broker authentication policy is not the gateway's concern.
type Options struct {
	BrokerURL        string
	Username         string
	Password         string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

const (
	defaultConnectTimeout   = 10 * time.Second
	defaultOperationTimeout = 10 * time.Second
)

// PahoDialer creates eclipse/paho clients from shared broker options.
type PahoDialer struct {
	opts Options
}

// NewPahoDialer returns a Dialer for the configured broker.
func NewPahoDialer(opts Options) *PahoDialer {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.OperationTimeout == 0 {
		opts.OperationTimeout = defaultOperationTimeout
	}
	return &PahoDialer{opts: opts}
}

// Dial builds a client with the given MQTT client id. onConnect, if set, runs
// on every (re)connect so callers can restore subscriptions and seed retained
// topics.
func (d *PahoDialer) Dial(clientID string, onConnect func(Client)) Client {
	c := &pahoClient{timeout: d.opts.OperationTimeout}

	mqttOpts := mqtt.NewClientOptions().
		AddBroker(d.opts.BrokerURL).
		SetClientID(clientID).
		SetUsername(d.opts.Username).
		SetPassword(d.opts.Password).
		SetConnectTimeout(d.opts.ConnectTimeout).
		SetAutoReconnect(true).
		SetOrderMatters(false)

	mqttOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("client_id", clientID).Msg("MQTT connection lost")
	})
	if onConnect != nil {
		mqttOpts.SetOnConnectHandler(func(_ mqtt.Client) {
			onConnect(c)
		})
	}

	c.inner = mqtt.NewClient(mqttOpts)
	return c
}

type pahoClient struct {
	inner   mqtt.Client
	timeout time.Duration
}

func (c *pahoClient) Connect() error {
	return c.wait("connect", c.inner.Connect())
}

func (c *pahoClient) Disconnect() {
	// Grace period for in-flight acks, in milliseconds.
	c.inner.Disconnect(250)
}

func (c *pahoClient) Publish(topic string, qos byte, retain bool, payload []byte) error {
	return c.wait("publish to "+topic, c.inner.Publish(topic, qos, retain, payload))
}

func (c *pahoClient) Subscribe(filter string, qos byte, handler MessageHandler) error {
	token := c.inner.Subscribe(filter, qos, func(_ mqtt.Client, m mqtt.Message) {
		handler(Message{Topic: m.Topic(), Payload: m.Payload()})
	})
	return c.wait("subscribe to "+filter, token)
}

func (c *pahoClient) Unsubscribe(filter string) error {
	return c.wait("unsubscribe from "+filter, c.inner.Unsubscribe(filter))
}

func (c *pahoClient) wait(op string, token mqtt.Token) error {
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("mqtt %s: timed out after %s", op, c.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt %s: %w", op, err)
	}
	return nil
}
