package realtime

import (
	"context"
	"sync"
)

// CaptureDevice abstracts the local microphone feeding the transport.
// Implementations buffer PCM16 little-endian audio while enabled.
type CaptureDevice interface {
	// Open acquires the device. Implementations return MediaAccessError
	// when the platform denies access.
	Open(ctx context.Context) error
	SetEnabled(enabled bool)
	// Usable reports whether the device is open and currently enabled.
	Usable() bool
	// Drain returns and clears the PCM buffered since the last drain.
	Drain() []byte
	Close() error
}

// PlaybackDevice abstracts the assistant audio output.
type PlaybackDevice interface {
	SetMuted(muted bool)
	Muted() bool
	// Interrupt discards any audio still queued for playback.
	Interrupt()
	Close() error
}

// MemoryCaptureDevice is an in-process capture device. The gateway's
// frontend pushes PCM frames into it over the client connection; tests feed
// it directly.
type MemoryCaptureDevice struct {
	mu      sync.Mutex
	open    bool
	enabled bool
	buf     []byte

	// OpenErr, when set, is returned from Open to simulate denied access.
	OpenErr error
}

func NewMemoryCaptureDevice() *MemoryCaptureDevice {
	return &MemoryCaptureDevice{}
}

func (d *MemoryCaptureDevice) Open(_ context.Context) error {
	if d.OpenErr != nil {
		return &MediaAccessError{Err: d.OpenErr}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return nil
}

func (d *MemoryCaptureDevice) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

func (d *MemoryCaptureDevice) Usable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open && d.enabled
}

// Feed appends captured PCM. Frames pushed while the device is disabled are
// dropped, matching a muted microphone track.
func (d *MemoryCaptureDevice) Feed(pcm []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open || !d.enabled {
		return
	}
	d.buf = append(d.buf, pcm...)
}

func (d *MemoryCaptureDevice) Drain() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.buf
	d.buf = nil
	return out
}

func (d *MemoryCaptureDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.enabled = false
	d.buf = nil
	return nil
}

// MemoryPlaybackDevice buffers assistant audio for the frontend to pull.
type MemoryPlaybackDevice struct {
	mu         sync.Mutex
	muted      bool
	queued     []byte
	interrupts int
}

func NewMemoryPlaybackDevice() *MemoryPlaybackDevice {
	return &MemoryPlaybackDevice{}
}

func (d *MemoryPlaybackDevice) SetMuted(muted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.muted = muted
}

func (d *MemoryPlaybackDevice) Muted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

// Enqueue buffers assistant audio. Audio arriving while muted is dropped.
func (d *MemoryPlaybackDevice) Enqueue(pcm []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.muted {
		return
	}
	d.queued = append(d.queued, pcm...)
}

func (d *MemoryPlaybackDevice) Interrupt() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queued = nil
	d.interrupts++
}

// Interrupts reports how many times playback was cut short.
func (d *MemoryPlaybackDevice) Interrupts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interrupts
}

func (d *MemoryPlaybackDevice) Close() error {
	d.Interrupt()
	return nil
}
