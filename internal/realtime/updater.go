package realtime

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/wayfarerhq/wayfarer/internal/agent"
	"github.com/wayfarerhq/wayfarer/internal/protocol"
)

// UpdaterConfig carries the session-level inputs that do not change with
// the selected agent.
type UpdaterConfig struct {
	Model                 string
	TranscriptionLanguage string
	PreferredCodec        string
}

// SessionUpdater computes the authoritative session payload from the
// currently selected agent and pushes it over the transport. Repeated
// updates with unchanged inputs produce identical payloads.
type SessionUpdater struct {
	cfg   UpdaterConfig
	send  func(event any) bool
	queue *ResponseQueue
	log   zerolog.Logger

	mu      sync.Mutex
	current agent.Config
}

func NewSessionUpdater(cfg UpdaterConfig, send func(event any) bool, queue *ResponseQueue, log zerolog.Logger) *SessionUpdater {
	return &SessionUpdater{cfg: cfg, send: send, queue: queue, log: log}
}

// SetAgent selects the agent whose instructions and tools the next update
// pushes. It does not push by itself.
func (u *SessionUpdater) SetAgent(cfg agent.Config) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.current = cfg
}

func (u *SessionUpdater) Agent() agent.Config {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.current
}

// BuildConfig assembles the session payload deterministically from current
// inputs. Turn detection is always manual: server-side VAD double-triggers
// responses against the push-to-talk protocol, so it stays off at creation
// and at every update.
func (u *SessionUpdater) BuildConfig() protocol.SessionConfig {
	u.mu.Lock()
	current := u.current
	u.mu.Unlock()

	return protocol.SessionConfig{
		Model:             u.cfg.Model,
		Instructions:      current.ResolvedInstructions(),
		Voice:             current.Voice,
		Modalities:        []string{"audio", "text"},
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		PreferredCodec:    u.cfg.PreferredCodec,
		InputTranscription: &protocol.InputTranscription{
			Model:    "whisper-1",
			Language: u.cfg.TranscriptionLanguage,
		},
		TurnDetection: nil,
		Tools:         current.SessionTools(),
	}
}

// UpdateSession pushes the current configuration. When triggerResponse is
// set it also asks the queue to start a turn afterward. Returns whether the
// update send was accepted.
func (u *SessionUpdater) UpdateSession(triggerResponse bool) bool {
	payload := protocol.SessionUpdateEvent{
		Type:    protocol.TypeSessionUpdate,
		Session: u.BuildConfig(),
	}
	if !u.send(payload) {
		u.log.Warn().Msg("session update send rejected")
		return false
	}
	if triggerResponse {
		u.queue.SafeCreateResponse(TriggerHandoff)
	}
	return true
}
