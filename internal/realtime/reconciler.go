package realtime

import (
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wayfarerhq/wayfarer/internal/observability"
	"github.com/wayfarerhq/wayfarer/internal/protocol"
	"github.com/wayfarerhq/wayfarer/internal/reliability"
)

// Callbacks is the UI surface. Nil members are skipped.
type Callbacks struct {
	OnResponseStart          func()
	OnResponseStartFromDelta func(agentName string)
	OnResponseDelta          func(text string)
	OnResponseDone           func(text, agentName string)
	OnTranscript             func(text string)
	OnTranscriptDelta        func(text string)
	OnAgentTransfer          func(agentName string)
	OnError                  func(err error)
}

// PersistFunc logs one conversation turn. Implementations are best-effort;
// they never propagate failures into the conversation path.
type PersistFunc func(role, msgType, content, channel string, meta map[string]any)

// ReconcilerDeps is everything the event reconciler needs. One registration
// per connection; all handler state lives on the Reconciler rather than
// being scattered across captured variables.
type ReconcilerDeps struct {
	Queue     *ResponseQueue
	Handoff   *HandoffHandler
	Send      func(event any) bool
	Callbacks Callbacks
	Persist   PersistFunc
	Metrics   *observability.Metrics
	Log       zerolog.Logger
}

// Reconciler is the single consumer of transport events. It fans out to UI
// callbacks and persistence while tracking which agent streaming output
// belongs to and which responses have already been finalized.
type Reconciler struct {
	deps ReconcilerDeps

	// Guards the user-interaction state, which the controller's text path
	// also touches. Everything else is event-loop-only.
	mu             sync.Mutex
	userInteracted bool
	markedItems    map[string]bool

	currentOutputAgent string
	placeholderMade    map[string]bool
	finalized          map[string]bool
	finalizedOrder     []string
	transcripts        map[string]string
	handledCalls       map[string]bool
	markedOrder        []string
}

// Correlation state is pruned as responses retire so a long-lived session
// does not accumulate it; the finalized and marked-item guards keep a
// bounded window of recent ids for late duplicate events.
const (
	finalizedKeep   = 64
	markedItemsKeep = 256
)

// NewReconciler wires the handlers for one connection.
func NewReconciler(deps ReconcilerDeps, initialAgent string) *Reconciler {
	return &Reconciler{
		deps:               deps,
		currentOutputAgent: initialAgent,
		placeholderMade:    make(map[string]bool),
		finalized:          make(map[string]bool),
		transcripts:        make(map[string]string),
		markedItems:        make(map[string]bool),
		handledCalls:       make(map[string]bool),
	}
}

// Run consumes events until the channel closes. Call in its own goroutine.
func (r *Reconciler) Run(events <-chan any) {
	for ev := range events {
		r.handle(ev)
	}
}

// MarkUserInteraction unlocks agent turns and pre-empts any pending
// hand-off kickoff. Safe to call repeatedly.
func (r *Reconciler) MarkUserInteraction() {
	r.mu.Lock()
	r.userInteracted = true
	r.mu.Unlock()
	if r.deps.Handoff != nil {
		r.deps.Handoff.NoteUserInput()
	}
}

func (r *Reconciler) userHasInteracted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userInteracted
}

func (r *Reconciler) handle(ev any) {
	switch msg := ev.(type) {
	case protocol.ResponseCreatedEvent:
		r.handleResponseCreated(msg)
	case protocol.ResponseTranscriptDeltaEvent:
		r.handleTranscriptDelta(msg)
	case protocol.ResponseTranscriptDoneEvent:
		r.handleTranscriptDone(msg)
	case protocol.ResponseOutputItemDoneEvent:
		r.handleOutputItemDone(msg)
	case protocol.ResponseDoneEvent:
		r.handleResponseDone(msg)
	case protocol.InputTranscriptionDeltaEvent:
		if r.deps.Callbacks.OnTranscriptDelta != nil {
			r.deps.Callbacks.OnTranscriptDelta(msg.Delta)
		}
	case protocol.InputTranscriptionCompletedEvent:
		r.handleInputTranscriptionCompleted(msg)
	case protocol.ItemCreatedEvent:
		r.handleItemCreated(msg)
	case protocol.ErrorEvent:
		r.handleModelError(msg)
	case protocol.SessionCreatedEvent:
		r.deps.Log.Debug().Str("type", string(msg.Type)).Msg("session acknowledged")
	case protocol.UnknownEvent:
		r.deps.Log.Debug().Str("type", string(msg.Type)).Msg("unhandled server event")
	}
}

func (r *Reconciler) handleResponseCreated(msg protocol.ResponseCreatedEvent) {
	r.deps.Queue.SetActiveResponseID(msg.Response.ID)

	// Until the user has actually said or typed something, the model must
	// not speak unprompted; cancel anything it starts on its own.
	if !r.userHasInteracted() {
		r.deps.Log.Debug().Str("response_id", msg.Response.ID).
			Msg("cancelling response before first user interaction")
		r.deps.Send(protocol.ResponseCancelEvent{
			Type:       protocol.TypeResponseCancel,
			ResponseID: msg.Response.ID,
		})
		return
	}
	if r.deps.Callbacks.OnResponseStart != nil {
		r.deps.Callbacks.OnResponseStart()
	}
}

func (r *Reconciler) handleTranscriptDelta(msg protocol.ResponseTranscriptDeltaEvent) {
	// The UI placeholder appears on the first delta, not before.
	if !r.placeholderMade[msg.ResponseID] {
		r.placeholderMade[msg.ResponseID] = true
		if r.deps.Callbacks.OnResponseStartFromDelta != nil {
			r.deps.Callbacks.OnResponseStartFromDelta(r.currentOutputAgent)
		}
	}
	r.transcripts[msg.ResponseID] += msg.Delta
	if r.deps.Callbacks.OnResponseDelta != nil {
		r.deps.Callbacks.OnResponseDelta(msg.Delta)
	}
}

func (r *Reconciler) handleTranscriptDone(msg protocol.ResponseTranscriptDoneEvent) {
	text := msg.Transcript
	if text == "" {
		text = r.transcripts[msg.ResponseID]
	}
	// Delta-based finalization always wins for its response id, even over
	// an earlier fallback emission.
	r.finalizeAssistantTurn(msg.ResponseID, text)
}

func (r *Reconciler) handleOutputItemDone(msg protocol.ResponseOutputItemDoneEvent) {
	if msg.Item.Type != "function_call" {
		return
	}
	r.handleFunctionCall(msg.Item)
}

func (r *Reconciler) handleFunctionCall(item protocol.Item) {
	if item.CallID != "" {
		if r.handledCalls[item.CallID] {
			return
		}
		r.handledCalls[item.CallID] = true
	}

	r.deps.Handoff.RecordFunctionCall(item)
	r.persist("assistant", "function_call", item.Name, "voice", map[string]any{
		"call_id":   item.CallID,
		"arguments": item.Arguments,
	})

	if !IsTransferCall(item) {
		// Tool execution happens server-side; this subsystem only logs and
		// attributes the call.
		return
	}
	dest, err := r.deps.Handoff.HandleTransfer(item)
	if err != nil {
		r.deps.Log.Warn().Err(err).Str("call", item.Name).Msg("hand-off not applied")
		return
	}
	r.currentOutputAgent = dest
}

func (r *Reconciler) handleResponseDone(msg protocol.ResponseDoneEvent) {
	// Some servers surface function calls only in the terminal response.
	for _, call := range msg.Response.FunctionCalls() {
		r.handleFunctionCall(call)
	}

	// Fallback finalization: some completions never emit deltas. Only
	// fires when no delta path already claimed this response id.
	if !r.finalized[msg.Response.ID] {
		if text := msg.Response.Transcript(); text != "" {
			r.finalizeAssistantTurn(msg.Response.ID, text)
		}
	}

	// The response is retired; its per-response correlation state goes
	// with it. Function-call dedupe entries are dropped here too, since
	// both delivery paths for this response have now been seen.
	delete(r.placeholderMade, msg.Response.ID)
	delete(r.transcripts, msg.Response.ID)
	for _, call := range msg.Response.FunctionCalls() {
		if call.CallID != "" {
			delete(r.handledCalls, call.CallID)
		}
	}

	// Resetting the queue last keeps any kickoff strictly after this
	// turn's UI effects.
	r.deps.Queue.MarkResponseDone(msg.Response.ID)
}

func (r *Reconciler) finalizeAssistantTurn(responseID, text string) {
	if !r.finalized[responseID] {
		r.finalized[responseID] = true
		r.finalizedOrder = append(r.finalizedOrder, responseID)
		if len(r.finalizedOrder) > finalizedKeep {
			delete(r.finalized, r.finalizedOrder[0])
			r.finalizedOrder = r.finalizedOrder[1:]
		}
	}
	if r.deps.Callbacks.OnResponseDone != nil {
		r.deps.Callbacks.OnResponseDone(text, r.currentOutputAgent)
	}
	r.persist("assistant", "message", text, "voice", map[string]any{
		"agent":       r.currentOutputAgent,
		"response_id": responseID,
	})
}

func (r *Reconciler) handleInputTranscriptionCompleted(msg protocol.InputTranscriptionCompletedEvent) {
	if r.deps.Callbacks.OnTranscript != nil {
		r.deps.Callbacks.OnTranscript(msg.Transcript)
	}
	r.persist("user", "message", msg.Transcript, "voice", map[string]any{
		"item_id": msg.ItemID,
	})
	r.markItemOnce(msg.ItemID)
}

func (r *Reconciler) handleItemCreated(msg protocol.ItemCreatedEvent) {
	if msg.Item.Role != "user" {
		return
	}
	r.markItemOnce(msg.Item.ID)
}

// markItemOnce triggers the user-interaction side effect exactly once per
// conversation item.
func (r *Reconciler) markItemOnce(itemID string) {
	r.mu.Lock()
	if itemID != "" {
		if r.markedItems[itemID] {
			r.mu.Unlock()
			return
		}
		r.markedItems[itemID] = true
		r.markedOrder = append(r.markedOrder, itemID)
		if len(r.markedOrder) > markedItemsKeep {
			delete(r.markedItems, r.markedOrder[0])
			r.markedOrder = r.markedOrder[1:]
		}
	}
	r.mu.Unlock()
	r.MarkUserInteraction()
}

func (r *Reconciler) handleModelError(msg protocol.ErrorEvent) {
	retryable := reliability.IsRetryableRealtimeCode(msg.Error.Code)
	if r.deps.Metrics != nil {
		r.deps.Metrics.ModelErrors.WithLabelValues(msg.Error.Code, strconv.FormatBool(retryable)).Inc()
	}
	r.deps.Log.Warn().Str("code", msg.Error.Code).Str("message", msg.Error.Message).
		Bool("retryable", retryable).Msg("model error event")

	// The connection stays open; many of these are per-turn.
	if r.deps.Callbacks.OnError != nil {
		r.deps.Callbacks.OnError(&ModelError{Code: msg.Error.Code, Message: msg.Error.Message})
	}
}

func (r *Reconciler) persist(role, msgType, content, channel string, meta map[string]any) {
	if r.deps.Persist == nil {
		return
	}
	r.deps.Persist(role, msgType, content, channel, meta)
}
