package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplexus/omnivoice-receptionist/internal/audio"
)

func TestMuLaw_Silence(t *testing.T) {
	assert.Equal(t, byte(0xFF), audio.LinearToMuLaw(0))
	assert.Equal(t, int16(0), audio.MuLawToLinear(0xFF))
}

func TestMuLaw_RoundTrip(t *testing.T) {
	for _, sample := range []int16{100, 1000, 5000, 12000, 30000, -100, -1000, -5000, -12000, -30000} {
		got := audio.MuLawToLinear(audio.LinearToMuLaw(sample))

		diff := int(got) - int(sample)
		if diff < 0 {
			diff = -diff
		}
		limit := int(sample) / 16
		if limit < 0 {
			limit = -limit
		}
		assert.LessOrEqual(t, diff, limit+8, "sample %d decoded as %d", sample, got)
		assert.Equal(t, sample < 0, got < 0, "sign lost for %d", sample)
	}
}

func TestMuLaw_ClipsExtremes(t *testing.T) {
	assert.Equal(t, audio.LinearToMuLaw(32767), audio.LinearToMuLaw(32700))
	assert.NotPanics(t, func() { audio.LinearToMuLaw(-32768) })
}

func TestMuLawWAV_Header(t *testing.T) {
	data := []byte{0xFF, 0x7F, 0x00, 0x80}
	wav := audio.MuLawWAV(data, 8000)

	require.Len(t, wav, 44+len(data))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint16(7), binary.LittleEndian.Uint16(wav[20:22]))
	assert.Equal(t, uint32(8000), binary.LittleEndian.Uint32(wav[24:28]))

	info, err := audio.ParseWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), info.Channels)
	assert.Equal(t, uint16(8), info.BitsPerSample)
	assert.Equal(t, data, info.Data)
}

func TestWAVFromMuLaw(t *testing.T) {
	frames := audio.EncodeMuLaw([]int16{0, 1000, -1000})
	info, err := audio.ParseWAV(audio.WAVFromMuLaw(frames))
	require.NoError(t, err)

	assert.Equal(t, uint16(1), info.Format)
	assert.Equal(t, uint16(16), info.BitsPerSample)
	assert.Equal(t, uint32(8000), info.SampleRate)
	assert.Len(t, info.Data, 6)
}

func TestParseWAV_Rejects(t *testing.T) {
	_, err := audio.ParseWAV([]byte("not audio at all"))
	assert.ErrorIs(t, err, audio.ErrNotWAV)
}

func TestResample(t *testing.T) {
	in := make([]int16, 480)
	for i := range in {
		in[i] = int16(i)
	}
	out := audio.Resample(in, 48000, 8000)
	assert.Len(t, out, 80)
	assert.Equal(t, int16(0), out[0])
	assert.Equal(t, int16(6), out[1])

	same := audio.Resample(in, 8000, 8000)
	assert.Equal(t, in, same)
	assert.Empty(t, audio.Resample(nil, 44100, 8000))
}

func TestToMono(t *testing.T) {
	assert.Equal(t, []int16{150, -50}, audio.ToMono([]int16{100, 200, -100, 0}, 2))
	assert.Equal(t, []int16{1, 2}, audio.ToMono([]int16{1, 2}, 1))
}

func TestPhoneWAVFromMP3_InvalidInput(t *testing.T) {
	_, err := audio.PhoneWAVFromMP3([]byte{0x00, 0x01, 0x02})
	assert.Error(t, err)
}
