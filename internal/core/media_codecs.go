package core

import "github.com/parbhatia/gospace-sub000/internal/domain"

// DefaultCodecs is the router codec set used when none is configured.
func DefaultCodecs() []RtpCodecCapability {
	return []RtpCodecCapability{
		{
			Kind:                 domain.KindAudio,
			MimeType:             "audio/opus",
			PreferredPayloadType: 111,
			ClockRate:            48000,
			Channels:             2,
			Parameters:           map[string]any{"minptime": 10, "useinbandfec": 1},
		},
		{
			Kind:                 domain.KindVideo,
			MimeType:             "video/VP8",
			PreferredPayloadType: 96,
			ClockRate:            90000,
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"},
			},
		},
		{
			Kind:                 domain.KindVideo,
			MimeType:             "video/H264",
			PreferredPayloadType: 102,
			ClockRate:            90000,
			Parameters: map[string]any{
				"level-asymmetry-allowed": 1,
				"packetization-mode":      1,
				"profile-level-id":        "42e01f",
			},
			RtcpFeedback: []RtcpFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"},
			},
		},
	}
}
