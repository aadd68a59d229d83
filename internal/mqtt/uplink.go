// Package mqtt bridges the frame hub to an MQTT broker: frames coming
// off the bus are published to <prefix>/rx as wire-encoded payloads,
// and payloads arriving on <prefix>/tx are decoded and injected into
// the backend transmit path.
package mqtt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/canlink-io/canlink/internal/can"
	"github.com/canlink-io/canlink/internal/hub"
	"github.com/canlink-io/canlink/internal/logging"
	"github.com/canlink-io/canlink/internal/metrics"
	"github.com/canlink-io/canlink/internal/wire"
)

const (
	rxTopic = "rx" // bus -> broker
	txTopic = "tx" // broker -> bus

	defaultConnectTimeout = 5 * time.Second
	defaultBuffer         = 256
)

var ErrConnect = errors.New("mqtt: connect")

// Uplink owns the broker session and the hub tap feeding it.
type Uplink struct {
	cli    paho.Client
	codec  wire.Codec
	prefix string
	send   func(can.Frame) error
	logger *slog.Logger
	buffer int

	h      *hub.Hub
	cl     *hub.Client
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type Option func(*Uplink)

func WithLogger(l *slog.Logger) Option {
	return func(u *Uplink) {
		if l != nil {
			u.logger = l
		}
	}
}

func WithBuffer(n int) Option {
	return func(u *Uplink) {
		if n > 0 {
			u.buffer = n
		}
	}
}

// New builds an uplink from a broker URL. The URL path selects the
// topic prefix and a client-id query parameter sets the identity, e.g.
// mqtt://user:pw@broker:1883/fleet/busA?client-id=gw-1.
func New(brokerURL string, opts ...Option) (*Uplink, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("mqtt broker url: %w", err)
	}
	scheme := u.Scheme
	if scheme == "" || scheme == "mqtt" {
		scheme = "tcp"
	}
	if u.Host == "" {
		return nil, fmt.Errorf("mqtt broker url %q: missing host", brokerURL)
	}
	prefix := strings.Trim(u.Path, "/")
	if prefix == "" {
		prefix = "canlink"
	}

	up := &Uplink{
		prefix: prefix + "/",
		logger: logging.L(),
		buffer: defaultBuffer,
	}
	for _, o := range opts {
		o(up)
	}

	copts := paho.NewClientOptions()
	copts.AddBroker(scheme + "://" + u.Host).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(defaultConnectTimeout)
	if u.User != nil {
		copts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			copts.SetPassword(pwd)
		}
	}
	if cid := u.Query().Get("client-id"); cid != "" {
		copts.SetClientID(cid)
	}
	copts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		up.logger.Warn("mqtt_connection_lost", "error", err)
	})
	// Resubscribe on every (re)connect so the tx topic survives broker restarts.
	copts.SetOnConnectHandler(func(c paho.Client) {
		up.logger.Info("mqtt_connected", "prefix", up.prefix)
		up.subscribeTx(c)
	})
	up.cli = paho.NewClient(copts)
	return up, nil
}

// Start connects to the broker, taps the hub for outbound frames and
// wires inbound tx payloads into send.
func (u *Uplink) Start(ctx context.Context, h *hub.Hub, send func(can.Frame) error) error {
	u.h = h
	u.send = send

	tok := u.cli.Connect()
	if !tok.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: timeout", ErrConnect)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	ctx, u.cancel = context.WithCancel(ctx)
	u.cl = &hub.Client{Out: make(chan can.Frame, u.buffer), Closed: make(chan struct{})}
	h.Add(u.cl)

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		for {
			select {
			case fr := <-u.cl.Out:
				u.publish(fr)
			case <-u.cl.Closed:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (u *Uplink) publish(fr can.Frame) {
	payload := u.codec.Encode([]can.Frame{fr})
	tok := u.cli.Publish(u.prefix+rxTopic, 0, false, payload)
	tok.Wait()
	if err := tok.Error(); err != nil {
		metrics.IncError(metrics.ErrMQTTPublish)
		u.logger.Warn("mqtt_publish_error", "error", err)
		return
	}
	metrics.IncMQTTTx()
}

func (u *Uplink) subscribeTx(c paho.Client) {
	topic := u.prefix + txTopic
	tok := c.Subscribe(topic, 0, u.onTx)
	tok.Wait()
	if err := tok.Error(); err != nil {
		u.logger.Error("mqtt_subscribe_error", "topic", topic, "error", err)
	}
}

func (u *Uplink) onTx(_ paho.Client, msg paho.Message) {
	if _, err := u.inject(msg.Payload()); err != nil {
		metrics.IncError(metrics.ErrMQTTDecode)
		u.logger.Warn("mqtt_tx_decode_error", "topic", msg.Topic(), "error", err)
	}
}

// inject decodes every frame in payload and hands it to send. It
// returns the number injected and the first decode error, if any.
func (u *Uplink) inject(payload []byte) (int, error) {
	r := bytes.NewReader(payload)
	n, err := u.codec.DecodeN(r, 0, func(fr can.Frame) {
		metrics.IncMQTTRx()
		if serr := u.send(fr); serr != nil {
			u.logger.Debug("mqtt_tx_backend_error", "error", serr, "can_id", fmt.Sprintf("0x%X", fr.ID))
		}
	})
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Close detaches the hub tap and disconnects from the broker.
func (u *Uplink) Close() {
	if u.cancel != nil {
		u.cancel()
	}
	if u.h != nil && u.cl != nil {
		u.h.Remove(u.cl)
	}
	u.wg.Wait()
	if u.cli != nil && u.cli.IsConnected() {
		u.cli.Unsubscribe(u.prefix + txTopic)
		u.cli.Disconnect(250)
	}
}
