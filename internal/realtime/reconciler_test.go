package realtime

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wayfarerhq/wayfarer/internal/protocol"
)

type persistedTurn struct {
	role    string
	msgType string
	content string
	channel string
	meta    map[string]any
}

type reconcilerHarness struct {
	transport *fakeTransport
	queue     *ResponseQueue
	handoff   *HandoffHandler
	rec       *Reconciler

	starts      int
	deltaStarts []string
	deltas      []string
	finals      []string
	finalAgents []string
	transcripts []string
	errs        []error
	persisted   []persistedTurn
}

func newReconcilerHarness(t *testing.T) *reconcilerHarness {
	t.Helper()
	h := &reconcilerHarness{transport: newFakeTransport()}
	h.queue = NewResponseQueue(h.transport.SendEventSafe, nil, zerolog.Nop())
	updater := NewSessionUpdater(UpdaterConfig{Model: "gpt-realtime"}, h.transport.SendEventSafe, h.queue, zerolog.Nop())
	reg := testRegistry(t)
	start, err := reg.Get("concierge")
	require.NoError(t, err)
	updater.SetAgent(start)
	h.handoff = NewHandoffHandler(reg, updater, h.queue, h.transport.SendEventSafe, nil, nil, zerolog.Nop())

	h.rec = NewReconciler(ReconcilerDeps{
		Queue:   h.queue,
		Handoff: h.handoff,
		Send:    h.transport.SendEventSafe,
		Callbacks: Callbacks{
			OnResponseStart:          func() { h.starts++ },
			OnResponseStartFromDelta: func(agent string) { h.deltaStarts = append(h.deltaStarts, agent) },
			OnResponseDelta:          func(text string) { h.deltas = append(h.deltas, text) },
			OnResponseDone: func(text, agent string) {
				h.finals = append(h.finals, text)
				h.finalAgents = append(h.finalAgents, agent)
			},
			OnTranscript: func(text string) { h.transcripts = append(h.transcripts, text) },
			OnError:      func(err error) { h.errs = append(h.errs, err) },
		},
		Persist: func(role, msgType, content, channel string, meta map[string]any) {
			h.persisted = append(h.persisted, persistedTurn{role, msgType, content, channel, meta})
		},
		Log: zerolog.Nop(),
	}, "concierge")
	return h
}

func TestPlaceholderCreatedOnFirstDeltaOnly(t *testing.T) {
	h := newReconcilerHarness(t)

	h.rec.handle(protocol.ResponseTranscriptDeltaEvent{
		Type: protocol.TypeResponseTranscriptDelta, ResponseID: "resp_1", Delta: "Good ",
	})
	h.rec.handle(protocol.ResponseTranscriptDeltaEvent{
		Type: protocol.TypeResponseTranscriptDelta, ResponseID: "resp_1", Delta: "morning",
	})

	require.Equal(t, []string{"concierge"}, h.deltaStarts, "placeholder exactly once, on the first delta")
	require.Equal(t, []string{"Good ", "morning"}, h.deltas)
}

func TestDeltaFinalizationSuppressesResponseDoneFallback(t *testing.T) {
	h := newReconcilerHarness(t)
	h.rec.MarkUserInteraction()

	h.rec.handle(protocol.ResponseTranscriptDeltaEvent{
		Type: protocol.TypeResponseTranscriptDelta, ResponseID: "resp_1", Delta: "Hello there",
	})
	h.rec.handle(protocol.ResponseTranscriptDoneEvent{
		Type: protocol.TypeResponseTranscriptDone, ResponseID: "resp_1", Transcript: "Hello there",
	})
	h.rec.handle(protocol.ResponseDoneEvent{
		Type: protocol.TypeResponseDone,
		Response: protocol.Response{
			ID: "resp_1",
			Output: []protocol.Item{{
				Type: "message", Role: "assistant",
				Content: []protocol.ContentPart{{Type: "audio", Transcript: "Hello there"}},
			}},
		},
	})

	require.Equal(t, []string{"Hello there"}, h.finals, "turn must finalize exactly once")
	require.Equal(t, []string{"concierge"}, h.finalAgents)
}

func TestResponseDoneFallbackFinalizesDeltalessTurn(t *testing.T) {
	h := newReconcilerHarness(t)
	h.rec.MarkUserInteraction()

	h.queue.SafeCreateResponse(TriggerText)
	h.rec.handle(protocol.ResponseDoneEvent{
		Type: protocol.TypeResponseDone,
		Response: protocol.Response{
			ID: "resp_1",
			Output: []protocol.Item{{
				Type: "message", Role: "assistant",
				Content: []protocol.ContentPart{{Type: "text", Text: "Your hotel is confirmed."}},
			}},
		},
	})

	require.Equal(t, []string{"Your hotel is confirmed."}, h.finals)
	require.False(t, h.queue.Active(), "response.done must reset queue bookkeeping")
}

func TestUnpromptedResponseCancelledBeforeFirstInteraction(t *testing.T) {
	h := newReconcilerHarness(t)

	h.rec.handle(protocol.ResponseCreatedEvent{
		Type:     protocol.TypeResponseCreated,
		Response: protocol.Response{ID: "resp_1"},
	})

	require.Equal(t, 0, h.starts, "no start callback for a cancelled response")
	require.Equal(t, 1, h.transport.countType(protocol.TypeResponseCancel))

	h.rec.MarkUserInteraction()
	h.rec.handle(protocol.ResponseCreatedEvent{
		Type:     protocol.TypeResponseCreated,
		Response: protocol.Response{ID: "resp_2"},
	})

	require.Equal(t, 1, h.starts)
	require.Equal(t, 1, h.transport.countType(protocol.TypeResponseCancel), "no cancel after interaction")
}

func TestUserTranscriptionCompletedPersistsAndMarksInteraction(t *testing.T) {
	h := newReconcilerHarness(t)

	h.rec.handle(protocol.InputTranscriptionCompletedEvent{
		Type: protocol.TypeInputTranscriptionCompleted, ItemID: "item_1",
		Transcript: "I need a flight to Rome",
	})

	require.Equal(t, []string{"I need a flight to Rome"}, h.transcripts)
	require.Len(t, h.persisted, 1)
	require.Equal(t, "user", h.persisted[0].role)
	require.Equal(t, "voice", h.persisted[0].channel)
	require.True(t, h.rec.userHasInteracted())
}

func TestUserItemMarksInteractionOncePerItem(t *testing.T) {
	h := newReconcilerHarness(t)

	// A pending hand-off is invalidated by fresh user input.
	h.queue.SafeCreateResponse(TriggerText)
	_, err := h.handoff.HandleTransfer(transferCall("transfer_to_flights", `{}`))
	require.NoError(t, err)
	h.rec.handle(protocol.ItemCreatedEvent{
		Type: protocol.TypeItemCreated,
		Item: protocol.Item{ID: "item_1", Type: "message", Role: "user"},
	})
	_, pending := h.handoff.PendingAgent()
	require.False(t, pending, "user item must pre-empt the pending kickoff")

	// The same item re-announced must not fire the side effect again.
	_, err = h.handoff.HandleTransfer(transferCall("transfer_to_flights", `{}`))
	require.NoError(t, err)
	h.rec.handle(protocol.ItemCreatedEvent{
		Type: protocol.TypeItemCreated,
		Item: protocol.Item{ID: "item_1", Type: "message", Role: "user"},
	})
	_, pending = h.handoff.PendingAgent()
	require.True(t, pending, "duplicate item must not re-trigger user-input side effects")
}

func TestTransferCallSwitchesOutputAttribution(t *testing.T) {
	h := newReconcilerHarness(t)
	h.rec.MarkUserInteraction()
	h.queue.SafeCreateResponse(TriggerText)

	h.rec.handle(protocol.ResponseOutputItemDoneEvent{
		Type:       protocol.TypeResponseOutputItemDone,
		ResponseID: "resp_1",
		Item: protocol.Item{
			Type: "function_call", Name: "transfer_to_flights", CallID: "call_7",
			Arguments: `{"rationale_for_transfer":"flight question"}`,
		},
	})

	h.rec.handle(protocol.ResponseTranscriptDeltaEvent{
		Type: protocol.TypeResponseTranscriptDelta, ResponseID: "resp_2", Delta: "Checking fares",
	})
	require.Equal(t, []string{"flights"}, h.deltaStarts, "post-transfer output attributed to the new agent")
}

func TestFunctionCallPersistedAndDeduplicatedByCallID(t *testing.T) {
	h := newReconcilerHarness(t)
	h.rec.MarkUserInteraction()

	call := protocol.Item{
		Type: "function_call", Name: "lookup_fares", CallID: "call_9", Arguments: `{"origin":"FCO"}`,
	}
	h.rec.handle(protocol.ResponseOutputItemDoneEvent{
		Type: protocol.TypeResponseOutputItemDone, ResponseID: "resp_1", Item: call,
	})
	// The same call surfaces again inside response.done.
	h.rec.handle(protocol.ResponseDoneEvent{
		Type:     protocol.TypeResponseDone,
		Response: protocol.Response{ID: "resp_1", Output: []protocol.Item{call}},
	})

	var calls int
	for _, turn := range h.persisted {
		if turn.msgType == "function_call" {
			calls++
		}
	}
	require.Equal(t, 1, calls, "one persistence record per call id")
}

func TestModelErrorSurfacedWithoutTearingDown(t *testing.T) {
	h := newReconcilerHarness(t)

	h.rec.handle(protocol.ErrorEvent{
		Type:  protocol.TypeErrorEvent,
		Error: protocol.ErrorDetail{Code: "rate_limit_exceeded", Message: "slow down"},
	})

	require.Len(t, h.errs, 1)
	var modelErr *ModelError
	require.True(t, errors.As(h.errs[0], &modelErr))
	require.Equal(t, "rate_limit_exceeded", modelErr.Code)
}

func TestCorrelationStatePrunedAsResponsesRetire(t *testing.T) {
	h := newReconcilerHarness(t)
	h.rec.MarkUserInteraction()

	for i := 0; i < finalizedKeep+20; i++ {
		id := fmt.Sprintf("resp_%d", i)
		h.rec.handle(protocol.ResponseCreatedEvent{
			Type: protocol.TypeResponseCreated, Response: protocol.Response{ID: id},
		})
		h.rec.handle(protocol.ResponseTranscriptDeltaEvent{
			Type: protocol.TypeResponseTranscriptDelta, ResponseID: id, Delta: "ok",
		})
		h.rec.handle(protocol.ResponseTranscriptDoneEvent{
			Type: protocol.TypeResponseTranscriptDone, ResponseID: id, Transcript: "ok",
		})
		h.rec.handle(protocol.ResponseDoneEvent{
			Type: protocol.TypeResponseDone, Response: protocol.Response{ID: id},
		})
	}

	require.Empty(t, h.rec.placeholderMade)
	require.Empty(t, h.rec.transcripts)
	require.Empty(t, h.rec.handledCalls)
	require.LessOrEqual(t, len(h.rec.finalized), finalizedKeep)
	require.Len(t, h.rec.finalizedOrder, len(h.rec.finalized))

	// The dedupe window still covers recent responses: a late fallback for
	// an already finalized turn stays suppressed.
	last := fmt.Sprintf("resp_%d", finalizedKeep+19)
	before := len(h.finals)
	h.rec.handle(protocol.ResponseDoneEvent{
		Type: protocol.TypeResponseDone,
		Response: protocol.Response{
			ID: last,
			Output: []protocol.Item{{
				Type: "message", Role: "assistant",
				Content: []protocol.ContentPart{{Type: "audio", Transcript: "late duplicate"}},
			}},
		},
	})
	require.Len(t, h.finals, before)
}
