package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Canonical format accepted by the speech services.
const (
	CanonicalSampleRate    = 16000
	CanonicalChannels      = 1
	CanonicalBitsPerSample = 16

	formatPCM = 1
)

var ErrNotWAV = errors.New("not a RIFF/WAVE container")

// Format describes the fmt chunk of a WAV container.
type Format struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataSize      uint32
}

// Canonical reports whether f is mono 16-bit PCM at 16 kHz.
func (f Format) Canonical() bool {
	return f.AudioFormat == formatPCM &&
		f.Channels == CanonicalChannels &&
		f.BitsPerSample == CanonicalBitsPerSample &&
		f.SampleRate == CanonicalSampleRate
}

func (f Format) String() string {
	return fmt.Sprintf("fmt=%d channels=%d rate=%d bits=%d", f.AudioFormat, f.Channels, f.SampleRate, f.BitsPerSample)
}

// ParseWAV walks the RIFF chunks of data and returns the fmt description.
// Unknown chunks such as LIST are skipped.
func ParseWAV(data []byte) (Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, ErrNotWAV
	}

	var (
		f       Format
		haveFmt bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		body := off + 8
		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return Format{}, fmt.Errorf("%w: truncated fmt chunk", ErrNotWAV)
			}
			f.AudioFormat = binary.LittleEndian.Uint16(data[body : body+2])
			f.Channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			f.SampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			f.BitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return Format{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrNotWAV)
			}
			f.DataSize = size
			if f.Channels == 0 || f.SampleRate == 0 {
				return Format{}, fmt.Errorf("%w: invalid fmt chunk", ErrNotWAV)
			}
			return f, nil
		}
		// Chunks are word aligned.
		next := body + int(size) + int(size&1)
		if next <= off || next > len(data) {
			break
		}
		off = next
	}
	return Format{}, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = CanonicalSampleRate
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * CanonicalChannels * CanonicalBitsPerSample / 8)
	blockAlign := uint16(CanonicalChannels * CanonicalBitsPerSample / 8)

	w := bufio.NewWriter(out)
	fields := []any{
		[]byte("RIFF"), uint32(36) + dataSize, []byte("WAVE"),
		[]byte("fmt "), uint32(16), uint16(formatPCM), uint16(CanonicalChannels),
		uint32(sampleRate), byteRate, blockAlign, uint16(CanonicalBitsPerSample),
		[]byte("data"), dataSize,
	}
	for _, v := range fields {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}
