package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const (
	DefaultSampleRate = 16000
	WAVMimeType       = "audio/wav"

	wavHeaderSize = 44
	bitsPerSample = 16
	numChannels   = 1
)

var ErrEmptyRecording = errors.New("audio: recording has no samples")

// Artifact is one assembled recording ready for transcription.
type Artifact struct {
	ID         string
	MimeType   string
	SampleRate int
	Data       []byte
	Duration   time.Duration
}

// Assemble concatenates PCM16LE mono chunks into a single WAV artifact.
func Assemble(id string, chunks [][]byte, sampleRate int) (Artifact, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total == 0 {
		return Artifact{}, ErrEmptyRecording
	}
	pcm := make([]byte, 0, total)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}
	data, err := EncodeWAVPCM16LE(pcm, sampleRate)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		ID:         id,
		MimeType:   WAVMimeType,
		SampleRate: sampleRate,
		Data:       data,
		Duration:   PCMDuration(len(pcm), sampleRate),
	}, nil
}

// PCMDuration reports the play time of n bytes of PCM16LE mono audio.
func PCMDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 || n <= 0 {
		return 0
	}
	samples := n / (bitsPerSample / 8)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	dataSize := uint32(len(pcm))
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	header := struct {
		Riff          [4]byte
		ChunkSize     uint32
		Wave          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		Riff:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Wave:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1, // PCM
		Channels:      numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}
