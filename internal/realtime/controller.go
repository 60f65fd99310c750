package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wayfarerhq/wayfarer/internal/agent"
	"github.com/wayfarerhq/wayfarer/internal/history"
	"github.com/wayfarerhq/wayfarer/internal/observability"
	"github.com/wayfarerhq/wayfarer/internal/policy"
	"github.com/wayfarerhq/wayfarer/internal/protocol"
	"github.com/wayfarerhq/wayfarer/internal/session"
)

var ErrNotConnected = errors.New("session not connected")
var ErrConnectInProgress = errors.New("connect attempt already in progress")

const persistTimeout = 5 * time.Second

// ControllerOptions wires one session controller.
type ControllerOptions struct {
	FrontendID   string
	Registry     *agent.Registry
	DefaultAgent string

	Auth      *Authenticator
	Transport Transport
	Capture   CaptureDevice
	Playback  PlaybackDevice
	Store     history.Store

	// Sessions, when set, receives the controller's lifecycle: connection
	// state, agent changes and the lazily bound persistence id, so the
	// registry's read endpoints stay current.
	Sessions *session.Manager

	Updater UpdaterConfig
	PTT     PTTConfig

	Callbacks Callbacks
	Metrics   *observability.Metrics
	Log       zerolog.Logger
}

// Controller is the session facade the UI layer talks to. It exclusively
// owns the transport; every send from any collaborator goes through the
// transport's safe-send gate.
type Controller struct {
	opts      ControllerOptions
	sessionID string

	queue      *ResponseQueue
	updater    *SessionUpdater
	handoff    *HandoffHandler
	ptt        *PTTMachine
	reconciler *Reconciler

	mu          sync.Mutex
	connected   bool
	connecting  bool
	dbSessionID string
}

func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Registry == nil {
		return nil, errors.New("agent registry is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Auth == nil {
		return nil, errors.New("authenticator is required")
	}

	initial, err := opts.Registry.Get(opts.DefaultAgent)
	if err != nil {
		return nil, fmt.Errorf("default agent: %w", err)
	}

	c := &Controller{opts: opts}
	if opts.Sessions != nil {
		c.sessionID = opts.Sessions.Create(opts.FrontendID, initial.Name, "realtime").ID
	} else {
		c.sessionID = uuid.NewString()
	}

	send := opts.Transport.SendEventSafe
	c.queue = NewResponseQueue(send, opts.Metrics, opts.Log)
	c.updater = NewSessionUpdater(opts.Updater, send, c.queue, opts.Log)
	c.updater.SetAgent(initial)
	onTransfer := func(agentName string) {
		if opts.Sessions != nil {
			_ = opts.Sessions.SetAgent(c.sessionID, agentName)
		}
		if opts.Callbacks.OnAgentTransfer != nil {
			opts.Callbacks.OnAgentTransfer(agentName)
		}
	}
	c.handoff = NewHandoffHandler(opts.Registry, c.updater, c.queue, send,
		onTransfer, opts.Metrics, opts.Log)
	c.reconciler = NewReconciler(ReconcilerDeps{
		Queue:     c.queue,
		Handoff:   c.handoff,
		Send:      send,
		Callbacks: opts.Callbacks,
		Persist:   c.persistTurn,
		Metrics:   opts.Metrics,
		Log:       opts.Log,
	}, initial.Name)
	c.ptt = NewPTTMachine(opts.PTT, opts.Capture, opts.Playback, send, c.queue,
		c.interruptActive, c.reconciler.MarkUserInteraction, opts.Log)

	return c, nil
}

// SessionID is stable for the lifetime of the controller, across
// reconnects.
func (c *Controller) SessionID() string { return c.sessionID }

func (c *Controller) SelectedAgentName() string { return c.updater.Agent().Name }

func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect fetches a credential, establishes the transport and pushes the
// initial session configuration. A failed attempt leaves the connecting
// flag set; the caller decides whether to Disconnect and retry.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	c.connecting = true
	c.mu.Unlock()
	c.noteConnectionState(true, false)

	started := time.Now()

	credential, err := c.opts.Auth.FetchCredential(ctx)
	if err != nil {
		c.reportError(err)
		return err
	}

	if err := c.opts.Transport.Connect(ctx, credential); err != nil {
		c.reportError(err)
		return err
	}

	go c.reconciler.Run(c.opts.Transport.Events())
	c.updater.UpdateSession(false)

	c.mu.Lock()
	c.connected = true
	c.connecting = false
	c.mu.Unlock()
	c.noteConnectionState(false, true)

	if c.opts.Metrics != nil {
		c.opts.Metrics.ActiveSessions.Inc()
		c.opts.Metrics.ConnectLatency.Observe(time.Since(started).Seconds())
		c.opts.Metrics.SessionEvents.WithLabelValues("connected").Inc()
	}
	c.opts.Log.Info().Str("session_id", c.sessionID).
		Str("agent", c.SelectedAgentName()).Msg("realtime session connected")
	return nil
}

// Disconnect tears down the transport and closes the backing persistence
// record. A response in flight is abandoned, not drained.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connecting = false
	dbID := c.dbSessionID
	c.mu.Unlock()
	if c.opts.Sessions != nil {
		if _, endErr := c.opts.Sessions.End(c.sessionID); endErr != nil && !errors.Is(endErr, session.ErrNotFound) {
			c.opts.Log.Warn().Err(endErr).Str("session_id", c.sessionID).Msg("end registry session failed")
		}
	}

	err := c.opts.Transport.Close()

	if dbID != "" && c.opts.Store != nil {
		endCtx, cancel := context.WithTimeout(ctx, persistTimeout)
		defer cancel()
		if endErr := c.opts.Store.EndSession(endCtx, dbID); endErr != nil {
			c.opts.Log.Warn().Err(endErr).Str("db_session_id", dbID).Msg("end session failed")
		}
	}

	if wasConnected && c.opts.Metrics != nil {
		c.opts.Metrics.ActiveSessions.Dec()
		c.opts.Metrics.SessionEvents.WithLabelValues("disconnected").Inc()
	}
	return err
}

// SendMessage submits one user text turn and requests a response.
func (c *Controller) SendMessage(text string) error {
	if !c.Connected() {
		return ErrNotConnected
	}

	c.reconciler.MarkUserInteraction()
	c.touchSession()

	itemID := "msg_" + uuid.NewString()
	sent := c.opts.Transport.SendEventSafe(protocol.ItemCreateEvent{
		Type: protocol.TypeItemCreate,
		Item: protocol.Item{
			ID:   itemID,
			Type: "message",
			Role: "user",
			Content: []protocol.ContentPart{
				{Type: "input_text", Text: text},
			},
		},
	})
	if !sent {
		return fmt.Errorf("user message send rejected")
	}

	c.persistTurn("user", "message", text, "text", map[string]any{"item_id": itemID})
	c.queue.SafeCreateResponse(TriggerText)
	return nil
}

// StartVoice begins a push-to-talk capture window.
func (c *Controller) StartVoice() error {
	if !c.Connected() {
		return ErrNotConnected
	}
	c.ptt.Press()
	return nil
}

// StopVoice ends the capture window, committing the buffer and requesting
// a response. Blocks briefly when the press was shorter than the minimum
// capture duration.
func (c *Controller) StopVoice() error {
	if !c.Connected() {
		return ErrNotConnected
	}
	c.touchSession()
	c.ptt.Release()
	return nil
}

// Interrupt cancels the active response and clears buffered audio on both
// sides. The connection stays open.
func (c *Controller) Interrupt() {
	c.interruptActive()
}

func (c *Controller) interruptActive() {
	if id := c.queue.ActiveResponseID(); id != "" {
		c.opts.Transport.SendEventSafe(protocol.ResponseCancelEvent{
			Type:       protocol.TypeResponseCancel,
			ResponseID: id,
		})
	}
	c.opts.Transport.SendEventSafe(protocol.InputAudioClearEvent{Type: protocol.TypeInputAudioClear})
	if c.opts.Playback != nil {
		c.opts.Playback.Interrupt()
	}
}

// Mute toggles assistant audio output.
func (c *Controller) Mute(muted bool) {
	if c.opts.Playback != nil {
		c.opts.Playback.SetMuted(muted)
	}
}

// noteConnectionState mirrors the transport state into the session
// registry. Connect failures deliberately leave the connecting flag in
// place; only Disconnect clears it.
func (c *Controller) noteConnectionState(connecting, connected bool) {
	if c.opts.Sessions == nil {
		return
	}
	if err := c.opts.Sessions.SetConnectionState(c.sessionID, connecting, connected); err != nil && !errors.Is(err, session.ErrNotFound) {
		c.opts.Log.Warn().Err(err).Str("session_id", c.sessionID).Msg("record connection state failed")
	}
}

func (c *Controller) touchSession() {
	if c.opts.Sessions != nil {
		_ = c.opts.Sessions.Touch(c.sessionID)
	}
}

func (c *Controller) reportError(err error) {
	c.opts.Log.Error().Err(err).Str("session_id", c.sessionID).Msg("connect attempt failed")
	if c.opts.Callbacks.OnError != nil {
		c.opts.Callbacks.OnError(err)
	}
}

// persistTurn logs one conversation turn, creating the backing session
// record lazily on first use. Failures never reach the conversation path.
func (c *Controller) persistTurn(role, msgType, content, channel string, meta map[string]any) {
	if c.opts.Store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	c.mu.Lock()
	dbID := c.dbSessionID
	c.mu.Unlock()
	if dbID == "" {
		created, err := c.opts.Store.CreateSession(ctx, c.sessionID, channel)
		if err != nil {
			c.opts.Log.Warn().Err(err).Msg("create db session failed, dropping turn")
			return
		}
		c.mu.Lock()
		if c.dbSessionID == "" {
			c.dbSessionID = created
		}
		dbID = c.dbSessionID
		c.mu.Unlock()
		if c.opts.Sessions != nil {
			_ = c.opts.Sessions.BindDBSession(c.sessionID, dbID)
		}
	}

	if msgType == "message" {
		if redacted, changed := policy.RedactTranscript(content); changed {
			content = redacted
			if meta == nil {
				meta = map[string]any{}
			}
			meta["redacted"] = true
		}
	}

	err := c.opts.Store.LogMessage(ctx, history.MessageRecord{
		SessionID: dbID,
		Role:      role,
		Type:      msgType,
		Content:   content,
		Channel:   channel,
		Meta:      meta,
	})
	if err != nil {
		c.opts.Log.Warn().Err(err).Str("role", role).Msg("log message failed")
	}
}
