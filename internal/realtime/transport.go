package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wayfarerhq/wayfarer/internal/observability"
	"github.com/wayfarerhq/wayfarer/internal/protocol"
)

const sendOutcomeSent = "sent"
const sendOutcomeQueued = "queued"
const sendOutcomeRejected = "rejected"
const sendOutcomeFailed = "failed"

// Codecs the endpoint is known to accept. An unsupported preference falls
// back to the default instead of failing the connection.
var supportedCodecs = map[string]struct{}{
	"opus": {},
	"pcmu": {},
	"pcma": {},
}

const defaultCodec = "opus"

// Transport is the single duplex connection to the realtime endpoint. All
// sends go through SendEventSafe; nothing else may write to the wire.
type Transport interface {
	Connect(ctx context.Context, credential string) error
	SendEventSafe(event any) bool
	Events() <-chan any
	Connected() bool
	Codec() string
	Close() error
}

// TransportConfig tunes one WSTransport.
type TransportConfig struct {
	URL            string
	Model          string
	ConnectTimeout time.Duration
	PreferredCodec string
}

// WSTransport owns one websocket connection plus the audio devices bound to
// it. Events are sent online once the handshake completes; events sent
// before that are queued in order and flushed when the connection opens.
type WSTransport struct {
	cfg      TransportConfig
	capture  CaptureDevice
	playback PlaybackDevice
	dialer   *websocket.Dialer
	log      zerolog.Logger
	metrics  *observability.Metrics

	// The events and done channels belong to one connection attempt and
	// are recreated by Connect after a Close, so an explicit
	// Disconnect-then-retry yields a working transport.
	mu        sync.Mutex
	conn      *websocket.Conn
	open      bool
	closed    bool
	codec     string
	sendQueue [][]byte
	events    chan any
	done      chan struct{}

	writeMu sync.Mutex
}

func NewWSTransport(cfg TransportConfig, capture CaptureDevice, playback PlaybackDevice, metrics *observability.Metrics, log zerolog.Logger) *WSTransport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 8 * time.Second
	}
	return &WSTransport{
		cfg:      cfg,
		capture:  capture,
		playback: playback,
		dialer:   websocket.DefaultDialer,
		log:      log,
		metrics:  metrics,
		events:   make(chan any, 256),
		done:     make(chan struct{}),
	}
}

// Connect acquires the capture device, dials the endpoint with the supplied
// credential and waits for the server's session acknowledgement. The whole
// handshake is bounded by ConnectTimeout.
func (t *WSTransport) Connect(ctx context.Context, credential string) error {
	// A previous connection (closed or dead) leaves consumed channels
	// behind; start this attempt with fresh ones. Queued sends survive.
	t.mu.Lock()
	if t.closed || t.conn != nil {
		t.events = make(chan any, 256)
		t.done = make(chan struct{})
		t.closed = false
		t.conn = nil
		t.open = false
	}
	t.mu.Unlock()

	if t.capture != nil {
		if err := t.capture.Open(ctx); err != nil {
			return err
		}
	}

	codec := t.cfg.PreferredCodec
	if _, ok := supportedCodecs[codec]; !ok {
		if codec != "" {
			t.log.Warn().Str("codec", codec).Str("fallback", defaultCodec).Msg("preferred codec unsupported")
		}
		codec = defaultCodec
	}

	deadline := time.Now().Add(t.cfg.ConnectTimeout)
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	endpoint, err := t.endpointURL()
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	conn, _, err := t.dialer.DialContext(dialCtx, endpoint, header)
	if err != nil {
		if dialCtx.Err() != nil {
			return &ConnectionTimeoutError{Timeout: t.cfg.ConnectTimeout}
		}
		return fmt.Errorf("dial realtime endpoint: %w", err)
	}

	// The connection is not usable until the server acknowledges the
	// session. Wait for it within what remains of the timeout budget.
	if err := conn.SetReadDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("set handshake deadline: %w", err)
	}
	if err := t.awaitSessionAck(conn); err != nil {
		conn.Close()
		return err
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return fmt.Errorf("clear handshake deadline: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.codec = codec
	t.open = true
	queued := t.sendQueue
	t.sendQueue = nil
	events := t.events
	done := t.done
	t.mu.Unlock()

	// Flush in arrival order before anything new goes out.
	for _, raw := range queued {
		if err := t.writeRaw(raw); err != nil {
			t.log.Error().Err(err).Msg("flush queued send failed")
			break
		}
		t.countSend(sendOutcomeSent)
	}

	go t.readLoop(conn, events, done)
	return nil
}

func (t *WSTransport) endpointURL() (string, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	if t.cfg.Model != "" {
		q := u.Query()
		q.Set("model", t.cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (t *WSTransport) awaitSessionAck(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return &ConnectionTimeoutError{Timeout: t.cfg.ConnectTimeout}
		}
		ev, err := protocol.ParseServerEvent(data)
		if err != nil {
			t.log.Warn().Err(err).Msg("unparseable frame during handshake")
			continue
		}
		switch msg := ev.(type) {
		case protocol.SessionCreatedEvent:
			return nil
		case protocol.ErrorEvent:
			return fmt.Errorf("handshake rejected: %s", msg.Error.Message)
		default:
			continue
		}
	}
}

// SendEventSafe serializes and sends one client event. Event types outside
// the allow-list are rejected. Sends attempted before the connection opens
// are queued in order and flushed on open. Returns whether the event was
// accepted for delivery.
func (t *WSTransport) SendEventSafe(event any) bool {
	raw, err := json.Marshal(event)
	if err != nil {
		t.log.Error().Err(err).Msg("unencodable client event dropped")
		t.countSend(sendOutcomeRejected)
		return false
	}

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || !protocol.IsAllowedClientEvent(env.Type) {
		t.log.Warn().Str("type", string(env.Type)).Msg("disallowed client event dropped")
		t.countSend(sendOutcomeRejected)
		return false
	}

	t.mu.Lock()
	if !t.open {
		t.sendQueue = append(t.sendQueue, raw)
		t.mu.Unlock()
		t.countSend(sendOutcomeQueued)
		return true
	}
	t.mu.Unlock()

	if err := t.writeRaw(raw); err != nil {
		t.log.Error().Err(err).Str("type", string(env.Type)).Msg("transport send failed")
		t.countSend(sendOutcomeFailed)
		return false
	}
	t.countSend(sendOutcomeSent)
	return true
}

func (t *WSTransport) writeRaw(raw []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport not connected")
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (t *WSTransport) countSend(outcome string) {
	if t.metrics != nil {
		t.metrics.TransportSends.WithLabelValues(outcome).Inc()
	}
}

// readLoop pumps one connection. It owns the events channel it was handed
// and closes it on exit; a reconnect runs a new loop on fresh channels.
func (t *WSTransport) readLoop(conn *websocket.Conn, events chan any, done chan struct{}) {
	defer close(events)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.log.Debug().Err(err).Msg("transport read ended")
			}
			t.mu.Lock()
			t.open = false
			t.mu.Unlock()
			return
		}
		ev, err := protocol.ParseServerEvent(data)
		if err != nil {
			t.log.Warn().Err(err).Msg("dropping unparseable server frame")
			continue
		}
		select {
		case events <- ev:
		case <-done:
			t.mu.Lock()
			t.open = false
			t.mu.Unlock()
			return
		}
	}
}

// Events yields server events in wire order. The channel closes when the
// connection ends; after a reconnect it returns the new connection's
// channel, so callers re-read it after each Connect.
func (t *WSTransport) Events() <-chan any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

func (t *WSTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Codec reports the negotiated codec after Connect.
func (t *WSTransport) Codec() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.codec
}

// Close shuts down the current connection. The transport stays reusable: a
// later Connect starts over with fresh channels.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	conn := t.conn
	t.conn = nil
	t.open = false
	t.mu.Unlock()

	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		t.writeMu.Unlock()
		_ = conn.Close()
	}
	if t.capture != nil {
		_ = t.capture.Close()
	}
	if t.playback != nil {
		_ = t.playback.Close()
	}
	return nil
}
