package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// WAV format tags.
const (
	formatPCM   = 1
	formatMuLaw = 7
)

// ErrNotWAV is returned when a buffer does not carry a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a WAV file")

// Info describes a decoded WAV header.
type Info struct {
	Format        uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	Data          []byte
}

// MuLawWAV wraps raw μ-law bytes in a mono WAV container.
func MuLawWAV(data []byte, sampleRate int) []byte {
	return encodeWAV(formatMuLaw, 8, sampleRate, data)
}

// PCM16WAV wraps 16-bit mono samples in a WAV container.
func PCM16WAV(pcm []int16, sampleRate int) []byte {
	data := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return encodeWAV(formatPCM, 16, sampleRate, data)
}

func encodeWAV(format, bits uint16, sampleRate int, data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(data))

	blockAlign := bits / 8
	dataSize := uint32(len(data))

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36)+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, format)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate)*uint32(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(&buf, binary.LittleEndian, bits)
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(data)

	return buf.Bytes()
}

// ParseWAV reads the fmt and data chunks of a WAV buffer.
func ParseWAV(b []byte) (*Info, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	info := &Info{}
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		pos += 8
		if pos+size > len(b) {
			size = len(b) - pos
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("audio: fmt chunk too small (%d bytes)", size)
			}
			info.Format = binary.LittleEndian.Uint16(b[pos : pos+2])
			info.Channels = binary.LittleEndian.Uint16(b[pos+2 : pos+4])
			info.SampleRate = binary.LittleEndian.Uint32(b[pos+4 : pos+8])
			info.BitsPerSample = binary.LittleEndian.Uint16(b[pos+14 : pos+16])
		case "data":
			info.Data = b[pos : pos+size]
		}

		pos += size
		if pos%2 == 1 {
			pos++
		}
	}

	if info.SampleRate == 0 || info.Data == nil {
		return nil, fmt.Errorf("audio: missing fmt or data chunk")
	}
	return info, nil
}
