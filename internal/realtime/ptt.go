package realtime

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wayfarerhq/wayfarer/internal/audio"
	"github.com/wayfarerhq/wayfarer/internal/protocol"
)

type pttState int

const (
	pttIdle pttState = iota
	pttCapturing
	pttCommitting
)

// PTTConfig tunes the push-to-talk state machine.
type PTTConfig struct {
	// MinCaptureDuration delays the commit when a press is shorter, so the
	// transport never sees a near-empty buffer commit.
	MinCaptureDuration time.Duration
	// CreateRetryDelay is the fixed wait before the single retry when
	// response creation was not issued synchronously.
	CreateRetryDelay time.Duration
	// CaptureDumpDir, when set, receives a WAV file per voice turn.
	CaptureDumpDir      string
	CaptureSampleRateHz int
}

// PTTMachine runs one press-and-release voice turn at a time:
// Idle -> Capturing on press, Capturing -> Committing -> Idle on release.
type PTTMachine struct {
	cfg       PTTConfig
	capture   CaptureDevice
	playback  PlaybackDevice
	send      func(event any) bool
	queue     *ResponseQueue
	interrupt func()
	userInput func()
	log       zerolog.Logger

	// injectable for tests
	now   func() time.Time
	sleep func(d time.Duration)

	mu        sync.Mutex
	state     pttState
	startedAt time.Time
}

func NewPTTMachine(
	cfg PTTConfig,
	capture CaptureDevice,
	playback PlaybackDevice,
	send func(event any) bool,
	queue *ResponseQueue,
	interrupt func(),
	userInput func(),
	log zerolog.Logger,
) *PTTMachine {
	if cfg.MinCaptureDuration <= 0 {
		cfg.MinCaptureDuration = 150 * time.Millisecond
	}
	if cfg.CreateRetryDelay <= 0 {
		cfg.CreateRetryDelay = 250 * time.Millisecond
	}
	if cfg.CaptureSampleRateHz <= 0 {
		cfg.CaptureSampleRateHz = 16000
	}
	return &PTTMachine{
		cfg:       cfg,
		capture:   capture,
		playback:  playback,
		send:      send,
		queue:     queue,
		interrupt: interrupt,
		userInput: userInput,
		log:       log,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// Press starts a capture window. A new press always wins over leftover
// state: it interrupts assistant playback and clears any stale partial
// audio first.
func (p *PTTMachine) Press() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.interrupt != nil {
		p.interrupt()
	}
	p.send(protocol.InputAudioClearEvent{Type: protocol.TypeInputAudioClear})

	p.startedAt = p.now()
	p.state = pttCapturing

	// Mute output while the user speaks so the previous turn's tail is not
	// re-captured, then open the mic.
	if p.playback != nil {
		p.playback.SetMuted(true)
	}
	if p.capture != nil {
		p.capture.SetEnabled(true)
	}
	if p.userInput != nil {
		p.userInput()
	}
}

// Release closes the capture window, commits the buffer and requests a
// response. Shorter presses than the minimum capture duration block until
// the minimum has elapsed.
func (p *PTTMachine) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != pttCapturing {
		return
	}
	p.state = pttCommitting

	if elapsed := p.now().Sub(p.startedAt); elapsed < p.cfg.MinCaptureDuration {
		p.sleep(p.cfg.MinCaptureDuration - elapsed)
	}

	committed := p.commit()
	if committed {
		if issued := p.queue.SafeCreateResponse(TriggerPTT); !issued {
			p.sleep(p.cfg.CreateRetryDelay)
			p.queue.SafeCreateResponse(TriggerPTTRetry)
		}
	}

	if p.capture != nil {
		p.capture.SetEnabled(false)
	}
	if p.playback != nil {
		p.playback.SetMuted(false)
	}
	p.state = pttIdle
}

// commit forwards the captured audio and commits the input buffer. A
// missing or disabled capture track skips the commit entirely; the server
// would reject it anyway.
func (p *PTTMachine) commit() bool {
	if p.capture == nil || !p.capture.Usable() {
		p.log.Warn().Msg("no usable capture track, skipping buffer commit")
		return false
	}

	pcm := p.capture.Drain()
	if len(pcm) > 0 {
		p.send(protocol.InputAudioAppendEvent{
			Type:  protocol.TypeInputAudioAppend,
			Audio: base64.StdEncoding.EncodeToString(pcm),
		})
		p.dumpCapture(pcm)
	}

	if !p.send(protocol.InputAudioCommitEvent{Type: protocol.TypeInputAudioCommit}) {
		return false
	}
	p.log.Debug().
		Dur("captured", audio.PCM16Duration(pcm, p.cfg.CaptureSampleRateHz)).
		Msg("input buffer committed")
	return true
}

func (p *PTTMachine) dumpCapture(pcm []byte) {
	if p.cfg.CaptureDumpDir == "" {
		return
	}
	path := filepath.Join(p.cfg.CaptureDumpDir, fmt.Sprintf("capture-%s.wav", uuid.NewString()))
	if err := audio.WriteWAVPCM16LEFile(path, pcm, p.cfg.CaptureSampleRateHz); err != nil {
		p.log.Warn().Err(err).Str("path", path).Msg("capture dump failed")
	}
}
