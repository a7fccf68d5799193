package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MQTTConfig describes the broker connection and subscription
type MQTTConfig struct {
	Broker    string // e.g. tcp://127.0.0.1:1883
	ClientID  string // generated when empty
	TopicRoot string // subscribes to <TopicRoot>/#
	QoS       byte
	Jitter    Jitter
}

// MQTTSubscriber subscribes to a topic hierarchy on an MQTT broker
type MQTTSubscriber struct {
	cfg    MQTTConfig
	logger *zap.Logger
}

// NewMQTTSubscriber creates a subscriber; no connection is made until Run
func NewMQTTSubscriber(cfg MQTTConfig, logger *zap.Logger) *MQTTSubscriber {
	if cfg.ClientID == "" {
		cfg.ClientID = "qos-analyzer-" + uuid.NewString()
	}
	return &MQTTSubscriber{cfg: cfg, logger: logger}
}

// Filter returns the subscription topic filter
func (s *MQTTSubscriber) Filter() string {
	return s.cfg.TopicRoot + "/#"
}

// Run connects, subscribes and forwards messages to handle until ctx is done
func (s *MQTTSubscriber) Run(ctx context.Context, handle Handler) error {
	filter := s.Filter()
	failed := make(chan error, 1)
	onMessage := func(_ mqtt.Client, m mqtt.Message) {
		handle(Message{
			Topic:    m.Topic(),
			Payload:  m.Payload(),
			Received: time.Now(),
		})
	}

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			// resubscribe on every (re)connect
			s.subscribed(c.Subscribe(filter, s.cfg.QoS, onMessage), failed)
		})

	if s.cfg.Jitter.Enabled() {
		opts.SetCustomOpenConnectionFn(s.openLatencyConn)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to %s: %w", s.cfg.Broker, token.Error())
	}
	defer client.Disconnect(250)

	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		return err
	}
}

// subscribed waits for a subscribe token. A failure is reported on failed so
// Run can end the session instead of idling without a subscription.
func (s *MQTTSubscriber) subscribed(token mqtt.Token, failed chan<- error) {
	if err := subscribeError(token); err != nil {
		s.logger.Error("mqtt subscribe failed", zap.String("filter", s.Filter()), zap.Error(err))
		select {
		case failed <- fmt.Errorf("subscribe to %s: %w", s.Filter(), err):
		default:
		}
		return
	}
	s.logger.Info("subscribed",
		zap.String("broker", s.cfg.Broker),
		zap.String("filter", s.Filter()),
		zap.Uint8("qos", s.cfg.QoS))
}

// subscribeError waits for token and returns its error, treating a
// rejected filter in the SUBACK (code 0x80) as a failure too
func subscribeError(token mqtt.Token) error {
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		for topic, code := range st.Result() {
			if code == 0x80 {
				return fmt.Errorf("broker rejected subscription to %s", topic)
			}
		}
	}
	return nil
}

// openLatencyConn dials plain TCP or TLS brokers and wraps the connection
// with latency injection
func (s *MQTTSubscriber) openLatencyConn(uri *url.URL, options mqtt.ClientOptions) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: options.ConnectTimeout}

	var (
		conn net.Conn
		err  error
	)
	switch uri.Scheme {
	case "tcp", "mqtt":
		conn, err = dialer.Dial("tcp", uri.Host)
	case "ssl", "tls", "mqtts", "tcps":
		cfg := options.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", uri.Host, cfg)
	default:
		return nil, fmt.Errorf("latency injection does not support scheme %q", uri.Scheme)
	}
	if err != nil {
		return nil, err
	}
	return NewLatencyConn(conn, s.cfg.Jitter), nil
}
