package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies realtime wire payload variants.
type EventType string

// Client events. Only these may cross the transport; everything else is
// rejected by the safe-send gate.
const (
	TypeSessionUpdate    EventType = "session.update"
	TypeInputAudioAppend EventType = "input_audio_buffer.append"
	TypeInputAudioCommit EventType = "input_audio_buffer.commit"
	TypeInputAudioClear  EventType = "input_audio_buffer.clear"
	TypeItemCreate       EventType = "conversation.item.create"
	TypeItemRetrieve     EventType = "conversation.item.retrieve"
	TypeItemTruncate     EventType = "conversation.item.truncate"
	TypeResponseCreate   EventType = "response.create"
	TypeResponseCancel   EventType = "response.cancel"
)

// Server events.
const (
	TypeSessionCreated              EventType = "session.created"
	TypeSessionUpdated              EventType = "session.updated"
	TypeItemCreated                 EventType = "conversation.item.created"
	TypeInputTranscriptionDelta     EventType = "conversation.item.input_audio_transcription.delta"
	TypeInputTranscriptionCompleted EventType = "conversation.item.input_audio_transcription.completed"
	TypeResponseCreated             EventType = "response.created"
	TypeResponseTranscriptDelta     EventType = "response.output_audio_transcript.delta"
	TypeResponseTranscriptDone      EventType = "response.output_audio_transcript.done"
	TypeResponseOutputItemDone      EventType = "response.output_item.done"
	TypeResponseDone                EventType = "response.done"
	TypeErrorEvent                  EventType = "error"

	// Older endpoint revisions emit the transcript family under these names.
	typeLegacyTranscriptDelta EventType = "response.audio_transcript.delta"
	typeLegacyTranscriptDone  EventType = "response.audio_transcript.done"
)

var ErrUnsupportedType = errors.New("unsupported event type")

var allowedClientEvents = map[EventType]struct{}{
	TypeSessionUpdate:    {},
	TypeInputAudioAppend: {},
	TypeInputAudioCommit: {},
	TypeInputAudioClear:  {},
	TypeItemCreate:       {},
	TypeItemRetrieve:     {},
	TypeItemTruncate:     {},
	TypeResponseCreate:   {},
	TypeResponseCancel:   {},
}

// IsAllowedClientEvent reports whether the type may be sent over the transport.
func IsAllowedClientEvent(t EventType) bool {
	_, ok := allowedClientEvents[t]
	return ok
}

type Envelope struct {
	Type EventType `json:"type"`
}

// ToolDef describes one callable function exposed to the model.
type ToolDef struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// TurnDetection configures server-side voice activity detection. A nil
// pointer in SessionConfig serializes to null, which selects manual turns.
type TurnDetection struct {
	Type string `json:"type"`
}

type InputTranscription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

// SessionConfig is the authoritative session payload pushed on every update.
type SessionConfig struct {
	Model              string              `json:"model,omitempty"`
	Instructions       string              `json:"instructions"`
	Voice              string              `json:"voice,omitempty"`
	Modalities         []string            `json:"modalities"`
	InputAudioFormat   string              `json:"input_audio_format,omitempty"`
	OutputAudioFormat  string              `json:"output_audio_format,omitempty"`
	PreferredCodec     string              `json:"preferred_codec,omitempty"`
	InputTranscription *InputTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection      *TurnDetection      `json:"turn_detection"`
	Tools              []ToolDef           `json:"tools"`
}

type SessionUpdateEvent struct {
	Type    EventType     `json:"type"`
	Session SessionConfig `json:"session"`
}

type InputAudioAppendEvent struct {
	Type  EventType `json:"type"`
	Audio string    `json:"audio"`
}

type InputAudioCommitEvent struct {
	Type EventType `json:"type"`
}

type InputAudioClearEvent struct {
	Type EventType `json:"type"`
}

type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Item is a conversation item in either direction: user/assistant messages
// and function calls share the shape.
type Item struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Status    string        `json:"status,omitempty"`
	Name      string        `json:"name,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
}

type ItemCreateEvent struct {
	Type EventType `json:"type"`
	Item Item      `json:"item"`
}

type ItemRetrieveEvent struct {
	Type   EventType `json:"type"`
	ItemID string    `json:"item_id"`
}

type ResponseCreateEvent struct {
	Type EventType `json:"type"`
}

type ResponseCancelEvent struct {
	Type       EventType `json:"type"`
	ResponseID string    `json:"response_id,omitempty"`
}

// Response is the server's structured view of one generated turn.
type Response struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Output []Item `json:"output,omitempty"`
}

type SessionCreatedEvent struct {
	Type    EventType       `json:"type"`
	Session json.RawMessage `json:"session"`
}

type ItemCreatedEvent struct {
	Type           EventType `json:"type"`
	PreviousItemID string    `json:"previous_item_id,omitempty"`
	Item           Item      `json:"item"`
}

type InputTranscriptionDeltaEvent struct {
	Type   EventType `json:"type"`
	ItemID string    `json:"item_id"`
	Delta  string    `json:"delta"`
}

type InputTranscriptionCompletedEvent struct {
	Type       EventType `json:"type"`
	ItemID     string    `json:"item_id"`
	Transcript string    `json:"transcript"`
}

type ResponseCreatedEvent struct {
	Type     EventType `json:"type"`
	Response Response  `json:"response"`
}

type ResponseTranscriptDeltaEvent struct {
	Type       EventType `json:"type"`
	ResponseID string    `json:"response_id"`
	ItemID     string    `json:"item_id"`
	Delta      string    `json:"delta"`
}

type ResponseTranscriptDoneEvent struct {
	Type       EventType `json:"type"`
	ResponseID string    `json:"response_id"`
	ItemID     string    `json:"item_id"`
	Transcript string    `json:"transcript"`
}

type ResponseOutputItemDoneEvent struct {
	Type       EventType `json:"type"`
	ResponseID string    `json:"response_id"`
	Item       Item      `json:"item"`
}

type ResponseDoneEvent struct {
	Type     EventType `json:"type"`
	Response Response  `json:"response"`
}

type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type ErrorEvent struct {
	Type  EventType   `json:"type"`
	Error ErrorDetail `json:"error"`
}

// UnknownEvent preserves server events this client does not interpret.
type UnknownEvent struct {
	Type EventType
	Raw  json.RawMessage
}

// ParseServerEvent decodes one server frame into its typed variant. Events
// outside the handled vocabulary come back as UnknownEvent, not an error:
// the endpoint adds new event types without notice.
func ParseServerEvent(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("invalid envelope: missing type")
	}

	switch env.Type {
	case TypeSessionCreated, TypeSessionUpdated:
		var msg SessionCreatedEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeItemCreated:
		var msg ItemCreatedEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Item.Type == "" {
			return nil, errors.New("invalid conversation.item.created")
		}
		return msg, nil
	case TypeInputTranscriptionDelta:
		var msg InputTranscriptionDeltaEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeInputTranscriptionCompleted:
		var msg InputTranscriptionCompletedEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ItemID == "" {
			return nil, errors.New("invalid input_audio_transcription.completed")
		}
		return msg, nil
	case TypeResponseCreated:
		var msg ResponseCreatedEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Response.ID == "" {
			return nil, errors.New("invalid response.created")
		}
		return msg, nil
	case TypeResponseTranscriptDelta, typeLegacyTranscriptDelta:
		var msg ResponseTranscriptDeltaEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Type = TypeResponseTranscriptDelta
		return msg, nil
	case TypeResponseTranscriptDone, typeLegacyTranscriptDone:
		var msg ResponseTranscriptDoneEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Type = TypeResponseTranscriptDone
		return msg, nil
	case TypeResponseOutputItemDone:
		var msg ResponseOutputItemDoneEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeResponseDone:
		var msg ResponseDoneEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Response.ID == "" {
			return nil, errors.New("invalid response.done")
		}
		return msg, nil
	case TypeErrorEvent:
		var msg ErrorEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return UnknownEvent{Type: env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

// Transcript extracts the assistant transcript text embedded in a completed
// response's structured output. Used as the finalization fallback when a
// completion terminates without emitting transcript deltas.
func (r Response) Transcript() string {
	for _, item := range r.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, part := range item.Content {
			if part.Transcript != "" {
				return part.Transcript
			}
			if part.Text != "" {
				return part.Text
			}
		}
	}
	return ""
}

// FunctionCalls returns the function-call items of a completed response in
// output order.
func (r Response) FunctionCalls() []Item {
	var calls []Item
	for _, item := range r.Output {
		if item.Type == "function_call" {
			calls = append(calls, item)
		}
	}
	return calls
}
