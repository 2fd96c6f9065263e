package core

import "strings"

// ConsumableParameters reduces a producer's RTP parameters to the codecs the
// consuming endpoint supports. It reports false when no codec survives.
func ConsumableParameters(produced RtpParameters, caps RtpCapabilities) (RtpParameters, bool) {
	out := produced
	out.Codecs = nil
	for _, c := range produced.Codecs {
		if supportsCodec(caps, c) {
			out.Codecs = append(out.Codecs, c)
		}
	}
	return out, len(out.Codecs) > 0
}

func supportsCodec(caps RtpCapabilities, c RtpCodecParameters) bool {
	for _, cc := range caps.Codecs {
		if !strings.EqualFold(cc.MimeType, c.MimeType) {
			continue
		}
		if cc.ClockRate != 0 && c.ClockRate != 0 && cc.ClockRate != c.ClockRate {
			continue
		}
		return true
	}
	return false
}

// KindOfMime returns the media kind encoded in a mime type such as
// "video/VP8".
func KindOfMime(mime string) string {
	kind, _, _ := strings.Cut(strings.ToLower(mime), "/")
	return kind
}
