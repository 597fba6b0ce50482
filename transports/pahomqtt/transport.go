// Package pahomqtt implements the delivery transport over MQTT v5.
package pahomqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/edgewire/telemetry-relay/contracts"
)

// Transport publishes messages to an MQTT v5 broker. The delivery class
// maps directly onto the wire QoS level; a PUBACK or PUBREC carrying an
// error reason code surfaces as a broker rejection.
type Transport struct {
	addr        string
	clientID    string
	keepAlive   uint16
	cleanStart  bool
	username    string
	password    []byte
	tlsConfig   *tls.Config
	dialTimeout time.Duration
	logger      *slog.Logger

	mu        sync.Mutex
	client    *paho.Client
	connected atomic.Bool
}

// TransportOption configures the transport.
type TransportOption func(*Transport)

// WithTLSConfig enables TLS with the given configuration.
func WithTLSConfig(cfg *tls.Config) TransportOption {
	return func(t *Transport) {
		t.tlsConfig = cfg
	}
}

// WithCredentials sets the broker username and password.
func WithCredentials(username, password string) TransportOption {
	return func(t *Transport) {
		t.username = username
		t.password = []byte(password)
	}
}

// WithKeepAlive sets the MQTT keep-alive interval.
func WithKeepAlive(interval time.Duration) TransportOption {
	return func(t *Transport) {
		t.keepAlive = uint16(interval / time.Second)
	}
}

// WithCleanStart controls the CONNECT clean-start flag.
func WithCleanStart(clean bool) TransportOption {
	return func(t *Transport) {
		t.cleanStart = clean
	}
}

// WithDialTimeout bounds the TCP/TLS dial.
func WithDialTimeout(d time.Duration) TransportOption {
	return func(t *Transport) {
		t.dialTimeout = d
	}
}

// WithTransportLogger sets the logger.
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates a transport targeting addr (host:port) with the
// given client identifier.
func NewTransport(addr, clientID string, options ...TransportOption) *Transport {
	t := &Transport{
		addr:        addr,
		clientID:    clientID,
		keepAlive:   60,
		cleanStart:  true,
		dialTimeout: 10 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Connect dials the broker and completes the MQTT session handshake.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	if t.tlsConfig != nil {
		dialer := &tls.Dialer{Config: t.tlsConfig}
		conn, err = dialer.DialContext(dialCtx, "tcp", t.addr)
	} else {
		var dialer net.Dialer
		conn, err = dialer.DialContext(dialCtx, "tcp", t.addr)
	}
	if err != nil {
		return fmt.Errorf("dialing broker %s: %w", t.addr, err)
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: t.clientID,
		Conn:     conn,
		OnClientError: func(err error) {
			t.connected.Store(false)
			t.logger.Warn("mqtt client error", "error", err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			t.connected.Store(false)
			t.logger.Warn("broker disconnected session", "reasonCode", d.ReasonCode)
		},
	})

	cp := &paho.Connect{
		ClientID:   t.clientID,
		KeepAlive:  t.keepAlive,
		CleanStart: t.cleanStart,
	}
	if t.username != "" {
		cp.UsernameFlag = true
		cp.Username = t.username
		cp.PasswordFlag = true
		cp.Password = t.password
	}

	connack, err := client.Connect(ctx, cp)
	if err != nil {
		conn.Close()
		return fmt.Errorf("mqtt connect to %s: %w", t.addr, err)
	}
	if connack.ReasonCode != 0 {
		conn.Close()
		return fmt.Errorf("mqtt connect to %s refused: reason code %d", t.addr, connack.ReasonCode)
	}

	t.client = client
	t.connected.Store(true)
	t.logger.Info("connected to broker",
		"addr", t.addr,
		"clientId", t.clientID,
		"cleanStart", t.cleanStart)
	return nil
}

// Publish sends one message at the QoS level implied by its delivery
// class and classifies the broker's verdict.
func (t *Transport) Publish(ctx context.Context, msg *contracts.Message) (contracts.Outcome, error) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil || !t.connected.Load() {
		return contracts.TransportFailure, &contracts.PublishError{
			MessageID: msg.ID,
			Topic:     msg.Topic,
			Attempt:   msg.AttemptCount,
			Outcome:   contracts.TransportFailure,
			Err:       contracts.ErrTransportClosed,
		}
	}

	resp, err := client.Publish(ctx, &paho.Publish{
		Topic:   msg.Topic,
		QoS:     byte(msg.Class),
		Payload: msg.Payload,
	})

	outcome := classifyPublish(resp, err)
	if outcome == contracts.Acked {
		return contracts.Acked, nil
	}
	return outcome, &contracts.PublishError{
		MessageID: msg.ID,
		Topic:     msg.Topic,
		Attempt:   msg.AttemptCount,
		Outcome:   outcome,
		Err:       err,
	}
}

// classifyPublish maps the paho response and error onto a delivery
// outcome. Reason codes at or above 0x80 are broker refusals; everything
// else that errored is a transport-level failure.
func classifyPublish(resp *paho.PublishResponse, err error) contracts.Outcome {
	if resp != nil && resp.ReasonCode >= 0x80 {
		return contracts.Rejected
	}
	if err != nil {
		return contracts.TransportFailure
	}
	return contracts.Acked
}

// IsConnected reports the session state.
func (t *Transport) IsConnected() bool {
	return t.connected.Load()
}

// Close sends a clean DISCONNECT and tears the session down.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}
	t.connected.Store(false)
	err := t.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	t.client = nil
	return err
}
