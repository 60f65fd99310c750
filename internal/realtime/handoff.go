package realtime

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/wayfarerhq/wayfarer/internal/agent"
	"github.com/wayfarerhq/wayfarer/internal/observability"
	"github.com/wayfarerhq/wayfarer/internal/protocol"
)

const handoffOutcomeApplied = "applied"
const handoffOutcomePreempted = "preempted"
const handoffOutcomeReplaced = "replaced"
const handoffOutcomeUnknownDest = "unknown_destination"

// transferContext is one pending hand-off: destination, the model's stated
// rationale and an optional kickoff summary carried over from the outgoing
// agent.
type transferContext struct {
	AgentName string
	Rationale string
	Context   string
}

// HandoffHandler applies agent-to-agent transfers without corrupting
// in-flight response state. The UI-visible agent switch happens
// immediately; the kickoff message to the new agent is deferred until the
// response that triggered the transfer completes, and is dropped entirely
// if user input arrives first.
type HandoffHandler struct {
	registry   *agent.Registry
	updater    *SessionUpdater
	queue      *ResponseQueue
	send       func(event any) bool
	onTransfer func(agentName string)
	log        zerolog.Logger
	metrics    *observability.Metrics

	mu      sync.Mutex
	pending *transferContext
	// callLog keeps recent function calls so a transfer can recover the
	// most recent kickoff summary even when its own arguments omit one.
	callLog []protocol.Item
}

const callLogLimit = 32

func NewHandoffHandler(
	registry *agent.Registry,
	updater *SessionUpdater,
	queue *ResponseQueue,
	send func(event any) bool,
	onTransfer func(agentName string),
	metrics *observability.Metrics,
	log zerolog.Logger,
) *HandoffHandler {
	return &HandoffHandler{
		registry:   registry,
		updater:    updater,
		queue:      queue,
		send:       send,
		onTransfer: onTransfer,
		metrics:    metrics,
		log:        log,
	}
}

// RecordFunctionCall remembers a completed function call for later kickoff
// summary extraction.
func (h *HandoffHandler) RecordFunctionCall(item protocol.Item) {
	if item.Type != "function_call" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callLog = append(h.callLog, item)
	if len(h.callLog) > callLogLimit {
		h.callLog = h.callLog[len(h.callLog)-callLogLimit:]
	}
}

// IsTransferCall reports whether a function-call item signals a hand-off.
func IsTransferCall(item protocol.Item) bool {
	if item.Type != "function_call" {
		return false
	}
	if item.Name == agent.LegacyTransferToolName {
		return true
	}
	_, ok := agent.DestinationFromToolName(item.Name)
	return ok
}

// destination resolves the target agent name from the call name pattern or
// the explicit argument field.
func destination(item protocol.Item) string {
	if name, ok := agent.DestinationFromToolName(item.Name); ok {
		return name
	}
	return gjson.Get(item.Arguments, "destination_agent").String()
}

// HandleTransfer processes one hand-off function call and returns the
// resolved destination agent name. The selected-agent switch is applied and
// announced immediately; the kickoff waits for the in-flight response in a
// background step.
func (h *HandoffHandler) HandleTransfer(item protocol.Item) (string, error) {
	dest := destination(item)
	target, err := h.registry.Resolve(dest)
	if err != nil {
		h.countOutcome(handoffOutcomeUnknownDest)
		return "", fmt.Errorf("hand-off to unknown agent %q: %w", dest, err)
	}

	rationale := gjson.Get(item.Arguments, "rationale_for_transfer").String()
	summary := gjson.Get(item.Arguments, "conversation_context").String()
	if summary == "" {
		summary = h.latestSummary()
	}

	ctx := &transferContext{
		AgentName: target.Name,
		Rationale: rationale,
		Context:   summary,
	}

	h.mu.Lock()
	if h.pending != nil {
		// Only the most recent pending hand-off's kickoff is honored.
		h.log.Debug().Str("replaced", h.pending.AgentName).Str("by", target.Name).
			Msg("pending hand-off superseded")
		h.countOutcome(handoffOutcomeReplaced)
	}
	h.pending = ctx
	h.mu.Unlock()

	// UI-only switch; the response queue is untouched here.
	h.updater.SetAgent(target)
	if h.onTransfer != nil {
		h.onTransfer(target.Name)
	}
	h.log.Info().Str("agent", target.Name).Str("rationale", rationale).Msg("agent hand-off")

	go h.kickoffWhenIdle(ctx)
	return target.Name, nil
}

// kickoffWhenIdle waits for the response that carried the transfer to
// finish, then sends the kickoff unless the context was superseded or
// pre-empted by user input in the meantime.
func (h *HandoffHandler) kickoffWhenIdle(ctx *transferContext) {
	<-h.queue.WaitForResponseDone()

	h.mu.Lock()
	if h.pending != ctx {
		h.mu.Unlock()
		return
	}
	h.pending = nil
	h.mu.Unlock()

	h.updater.UpdateSession(false)

	kickoff := fmt.Sprintf("You are now %s. Greet the traveler and continue the conversation.", ctx.AgentName)
	if ctx.Context != "" {
		kickoff = fmt.Sprintf("You are now %s. Context from the previous agent: %s Continue the conversation.", ctx.AgentName, ctx.Context)
	}
	sent := h.send(protocol.ItemCreateEvent{
		Type: protocol.TypeItemCreate,
		Item: protocol.Item{
			Type: "message",
			Role: "system",
			Content: []protocol.ContentPart{
				{Type: "input_text", Text: kickoff},
			},
		},
	})
	if !sent {
		h.log.Warn().Str("agent", ctx.AgentName).Msg("kickoff send rejected")
		return
	}
	h.queue.SafeCreateResponse(TriggerHandoff)
	h.countOutcome(handoffOutcomeApplied)
}

// NoteUserInput invalidates any pending kickoff. Live user input always
// wins over a deferred hand-off continuation.
func (h *HandoffHandler) NoteUserInput() {
	h.mu.Lock()
	preempted := h.pending != nil
	h.pending = nil
	h.mu.Unlock()
	if preempted {
		h.log.Debug().Msg("pending hand-off kickoff pre-empted by user input")
		h.countOutcome(handoffOutcomePreempted)
	}
}

// PendingAgent reports the destination of the not-yet-kicked-off transfer,
// if one exists.
func (h *HandoffHandler) PendingAgent() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending == nil {
		return "", false
	}
	return h.pending.AgentName, true
}

// latestSummary scans the recorded call history backward for the most
// recent non-empty kickoff summary.
func (h *HandoffHandler) latestSummary() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.callLog) - 1; i >= 0; i-- {
		if s := gjson.Get(h.callLog[i].Arguments, "conversation_context").String(); s != "" {
			return s
		}
	}
	return ""
}

func (h *HandoffHandler) countOutcome(outcome string) {
	if h.metrics != nil {
		h.metrics.Handoffs.WithLabelValues(outcome).Inc()
	}
}
