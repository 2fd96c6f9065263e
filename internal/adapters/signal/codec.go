package signal

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes frames of one websocket message type. Both codecs use the
// json field names.
type Codec interface {
	Name() string
	MessageType() int
	DecodeEnvelope(b []byte) (Envelope, error)
	Unmarshal(b []byte, v any) error
	Marshal(v any) ([]byte, error)
}

// Envelope is an inbound client message. Data is still encoded.
type Envelope struct {
	Event string
	Ack   *uint64
	Data  []byte
}

// Outbound is every server to client message.
type Outbound struct {
	Event string     `json:"event"`
	Ack   *uint64    `json:"ack,omitempty"`
	OK    *bool      `json:"ok,omitempty"`
	Data  any        `json:"data,omitempty"`
	Error *WireError `json:"error,omitempty"`
}

type WireError struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// CodecFor picks the codec of a websocket message type.
func CodecFor(messageType int) (Codec, error) {
	switch messageType {
	case websocket.TextMessage:
		return JSON, nil
	case websocket.BinaryMessage:
		return Msgpack, nil
	}
	return nil, fmt.Errorf("%w: websocket message type %d", domain.ErrBadPayload, messageType)
}

type jsonCodec struct{}

func (jsonCodec) Name() string     { return "json" }
func (jsonCodec) MessageType() int { return websocket.TextMessage }

func (jsonCodec) DecodeEnvelope(b []byte) (Envelope, error) {
	var in struct {
		Event string          `json:"event"`
		Ack   *uint64         `json:"ack"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	return Envelope{Event: in.Event, Ack: in.Ack, Data: in.Data}, nil
}

func (jsonCodec) Unmarshal(b []byte, v any) error {
	if len(b) == 0 {
		b = []byte("{}")
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	return nil
}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string     { return "msgpack" }
func (msgpackCodec) MessageType() int { return websocket.BinaryMessage }

func (c msgpackCodec) DecodeEnvelope(b []byte) (Envelope, error) {
	var in struct {
		Event string             `json:"event"`
		Ack   *uint64            `json:"ack"`
		Data  msgpack.RawMessage `json:"data"`
	}
	if err := c.Unmarshal(b, &in); err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: in.Event, Ack: in.Ack, Data: in.Data}, nil
}

func (msgpackCodec) Unmarshal(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	return nil
}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
