package core

import "github.com/parbhatia/gospace-sub000/internal/domain"

type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type RtpCodecCapability struct {
	Kind                 domain.MediaKind `json:"kind"`
	MimeType             string           `json:"mimeType"`
	PreferredPayloadType uint8            `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32           `json:"clockRate"`
	Channels             uint16           `json:"channels,omitempty"`
	Parameters           map[string]any   `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback   `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtension struct {
	Kind        domain.MediaKind `json:"kind,omitempty"`
	URI         string           `json:"uri"`
	PreferredID int              `json:"preferredId"`
}

// RtpCapabilities is the descriptor a client needs before it can create its
// local endpoints.
type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

type RtpCodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint16         `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

type RtpEncodingParameters struct {
	SSRC uint32 `json:"ssrc,omitempty"`
	RID  string `json:"rid,omitempty"`
}

type RtpHeaderExtensionParameters struct {
	URI string `json:"uri"`
	ID  int    `json:"id"`
}

type RtcpParameters struct {
	CNAME       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize,omitempty"`
}

type RtpParameters struct {
	Mid              string                         `json:"mid,omitempty"`
	Codecs           []RtpCodecParameters           `json:"codecs"`
	HeaderExtensions []RtpHeaderExtensionParameters `json:"headerExtensions,omitempty"`
	Encodings        []RtpEncodingParameters        `json:"encodings,omitempty"`
	Rtcp             RtcpParameters                 `json:"rtcp,omitempty"`
}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

type SctpParameters struct {
	Port           uint16 `json:"port"`
	OS             uint16 `json:"OS"`
	MIS            uint16 `json:"MIS"`
	MaxMessageSize uint32 `json:"maxMessageSize"`
}

type SctpCapabilities struct {
	MaxMessageSize uint32 `json:"maxMessageSize,omitempty"`
}

type SctpStreamParameters struct {
	StreamID          uint16  `json:"streamId"`
	Ordered           *bool   `json:"ordered,omitempty"`
	MaxPacketLifeTime *uint16 `json:"maxPacketLifeTime,omitempty"`
	MaxRetransmits    *uint16 `json:"maxRetransmits,omitempty"`
}

// TransportParams is what a client needs to build its local counterpart.
type TransportParams struct {
	ID             string          `json:"id"`
	IceParameters  IceParameters   `json:"iceParameters"`
	IceCandidates  []IceCandidate  `json:"iceCandidates"`
	DtlsParameters DtlsParameters  `json:"dtlsParameters"`
	SctpParameters *SctpParameters `json:"sctpParameters,omitempty"`
}

// ConnectParams carries the client's side of the transport. ICE fields are
// optional for engines that run ICE-lite.
type ConnectParams struct {
	DtlsParameters   DtlsParameters    `json:"dtlsParameters"`
	IceParameters    *IceParameters    `json:"iceParameters,omitempty"`
	IceCandidates    []IceCandidate    `json:"iceCandidates,omitempty"`
	SctpCapabilities *SctpCapabilities `json:"sctpCapabilities,omitempty"`
}

type ProduceOptions struct {
	Kind          domain.MediaKind `json:"kind"`
	RtpParameters RtpParameters    `json:"rtpParameters"`
	Paused        bool             `json:"paused,omitempty"`
	AppData       map[string]any   `json:"appData,omitempty"`
}

type ConsumeOptions struct {
	ProducerID      string          `json:"producerId"`
	RtpCapabilities RtpCapabilities `json:"rtpCapabilities"`
	Paused          bool            `json:"paused,omitempty"`
	AppData         map[string]any  `json:"appData,omitempty"`
}

type ConsumerParams struct {
	ID             string           `json:"id"`
	ProducerID     string           `json:"producerId"`
	Kind           domain.MediaKind `json:"kind"`
	RtpParameters  RtpParameters    `json:"rtpParameters"`
	Paused         bool             `json:"paused"`
	ProducerPaused bool             `json:"producerPaused"`
	AppData        map[string]any   `json:"appData,omitempty"`
}

type DataProduceOptions struct {
	SctpStreamParameters SctpStreamParameters `json:"sctpStreamParameters"`
	Label                string               `json:"label"`
	Protocol             string               `json:"protocol"`
	AppData              map[string]any       `json:"appData,omitempty"`
}

type DataConsumeOptions struct {
	DataProducerID string         `json:"dataProducerId"`
	Paused         bool           `json:"paused,omitempty"`
	AppData        map[string]any `json:"appData,omitempty"`
}

type DataConsumerParams struct {
	ID                   string               `json:"id"`
	DataProducerID       string               `json:"dataProducerId"`
	SctpStreamParameters SctpStreamParameters `json:"sctpStreamParameters"`
	Label                string               `json:"label"`
	Protocol             string               `json:"protocol"`
	AppData              map[string]any       `json:"appData,omitempty"`
}
