// Package audio holds small PCM16LE helpers shared by the capture path:
// duration math for the push-to-talk minimum-capture guard and WAV framing
// for capture debug dumps.
package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"time"
)

const (
	pcmChannels      = 1
	pcmBitsPerSample = 16
)

// PCM16Duration returns the playback duration of raw PCM16LE mono audio.
func PCM16Duration(pcm []byte, sampleRateHz int) time.Duration {
	if sampleRateHz <= 0 || len(pcm) == 0 {
		return 0
	}
	samples := len(pcm) / (pcmBitsPerSample / 8)
	return time.Duration(samples) * time.Second / time.Duration(sampleRateHz)
}

type wavHeader struct {
	RIFF          [4]byte
	RIFFSize      uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRateHz int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRateHz); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LEFile writes raw PCM16LE mono audio bytes as a WAV file.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRateHz int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteWAVPCM16LETo(f, pcm, sampleRateHz)
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRateHz int) error {
	if sampleRateHz <= 0 {
		sampleRateHz = 16000
	}
	header := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		RIFFSize:      36 + uint32(len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1, // PCM
		NumChannels:   pcmChannels,
		SampleRate:    uint32(sampleRateHz),
		ByteRate:      uint32(sampleRateHz * pcmChannels * pcmBitsPerSample / 8),
		BlockAlign:    pcmChannels * pcmBitsPerSample / 8,
		BitsPerSample: pcmBitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}
	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}
