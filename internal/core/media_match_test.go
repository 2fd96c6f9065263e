package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsumableParameters(t *testing.T) {
	produced := RtpParameters{
		Codecs: []RtpCodecParameters{
			{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000},
			{MimeType: "video/H264", PayloadType: 102, ClockRate: 90000},
		},
		Encodings: []RtpEncodingParameters{{SSRC: 42}},
	}

	out, ok := ConsumableParameters(produced, RtpCapabilities{Codecs: []RtpCodecCapability{
		{MimeType: "video/h264", ClockRate: 90000},
	}})
	assert.True(t, ok)
	assert.Len(t, out.Codecs, 1)
	assert.Equal(t, uint8(102), out.Codecs[0].PayloadType)
	assert.Equal(t, produced.Encodings, out.Encodings)
	assert.Len(t, produced.Codecs, 2, "input must not be modified")

	_, ok = ConsumableParameters(produced, RtpCapabilities{Codecs: []RtpCodecCapability{
		{MimeType: "video/VP8", ClockRate: 48000},
	}})
	assert.False(t, ok)
}

func TestKindOfMime(t *testing.T) {
	assert.Equal(t, "video", KindOfMime("Video/VP8"))
	assert.Equal(t, "audio", KindOfMime("audio/opus"))
	assert.Equal(t, "", KindOfMime(""))
}

func TestDefaultCodecs(t *testing.T) {
	codecs := DefaultCodecs()
	assert.NotEmpty(t, codecs)
	seen := map[uint8]bool{}
	for _, c := range codecs {
		assert.False(t, seen[c.PreferredPayloadType], "duplicate payload type %d", c.PreferredPayloadType)
		seen[c.PreferredPayloadType] = true
		assert.Equal(t, string(c.Kind), KindOfMime(c.MimeType))
	}
}
