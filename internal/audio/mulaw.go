// Package audio converts between the audio formats a phone call uses.
//
// Telephone audio is 8 kHz mono G.711 μ-law. Synthesizers return MP3 or
// PCM at higher rates, and transcription wants WAV, so this package
// carries the small codec, resampling and container helpers needed to
// move between them.
package audio

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// MuLawToLinear decodes one G.711 μ-law byte into a 16-bit sample.
func MuLawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	value := (int(mant) << 3) + muLawBias
	value <<= uint(exp)
	value -= muLawBias
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

// LinearToMuLaw encodes a 16-bit sample as one G.711 μ-law byte.
func LinearToMuLaw(sample int16) byte {
	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	exponent := 7
	for mask := 0x4000; s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F

	return ^byte(sign | exponent<<4 | mantissa)
}

// DecodeMuLaw expands a μ-law buffer to PCM samples.
func DecodeMuLaw(data []byte) []int16 {
	pcm := make([]int16, len(data))
	for i, b := range data {
		pcm[i] = MuLawToLinear(b)
	}
	return pcm
}

// EncodeMuLaw compresses PCM samples to μ-law.
func EncodeMuLaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = LinearToMuLaw(s)
	}
	return out
}
