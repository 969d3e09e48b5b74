package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// PhoneRate is the sample rate of telephone audio.
const PhoneRate = 8000

// DecodeMP3 decodes an MP3 stream to mono 16-bit samples at its native rate.
func DecodeMP3(r io.Reader) ([]int16, int, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: open mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode mp3: %w", err)
	}

	// go-mp3 always yields 16-bit little-endian stereo.
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
	}
	return ToMono(samples, 2), dec.SampleRate(), nil
}

// PhoneWAVFromMP3 transcodes MP3 audio to an 8 kHz mono μ-law WAV that
// Twilio's <Play> accepts.
func PhoneWAVFromMP3(data []byte) ([]byte, error) {
	pcm, rate, err := DecodeMP3(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	phone := Resample(pcm, rate, PhoneRate)
	return MuLawWAV(EncodeMuLaw(phone), PhoneRate), nil
}

// WAVFromMuLaw converts raw 8 kHz μ-law frames to a PCM16 WAV for
// transcription services that do not accept μ-law.
func WAVFromMuLaw(frames []byte) []byte {
	return PCM16WAV(DecodeMuLaw(frames), PhoneRate)
}
