package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string `json:"t" msgpack:"t"`
	Data any    `json:"d,omitempty" msgpack:"d,omitempty"`
}

// InEnvelope is a decoded frame whose payload is still encoded, so the type
// can be inspected before the payload is parsed.
type InEnvelope struct {
	T string
	D []byte
}

// Codec turns envelopes into frames and back.
type Codec interface {
	Name() string
	// Binary reports whether frames go out as binary websocket messages.
	Binary() bool
	Marshal(t string, payload any) ([]byte, error)
	Unmarshal(frame []byte) (InEnvelope, error)
	UnmarshalPayload(in InEnvelope, v any) error
}

// Codec names accepted by CodecByName
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// CodecByName returns the codec for name, defaulting to JSON for "".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSONCodec sends text frames: {"t":"fire","d":{...}}
type JSONCodec struct{}

type jsonInEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

func (JSONCodec) Name() string { return CodecJSON }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Marshal(t string, payload any) ([]byte, error) {
	return json.Marshal(Envelope{T: t, Data: payload})
}

func (JSONCodec) Unmarshal(frame []byte) (InEnvelope, error) {
	var env jsonInEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return InEnvelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.T == "" {
		return InEnvelope{}, malformed("frame without type")
	}
	return InEnvelope{T: env.T, D: env.D}, nil
}

func (JSONCodec) UnmarshalPayload(in InEnvelope, v any) error {
	if len(in.D) == 0 {
		return malformed("%s without payload", in.T)
	}
	if err := json.Unmarshal(in.D, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, in.T, err)
	}
	return nil
}

// MsgpackCodec sends binary frames carrying the same envelope shape.
type MsgpackCodec struct{}

type msgpackInEnvelope struct {
	T string             `msgpack:"t"`
	D msgpack.RawMessage `msgpack:"d"`
}

func (MsgpackCodec) Name() string { return CodecMsgpack }
func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Marshal(t string, payload any) ([]byte, error) {
	return msgpack.Marshal(Envelope{T: t, Data: payload})
}

func (MsgpackCodec) Unmarshal(frame []byte) (InEnvelope, error) {
	var env msgpackInEnvelope
	if err := msgpack.Unmarshal(frame, &env); err != nil {
		return InEnvelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.T == "" {
		return InEnvelope{}, malformed("frame without type")
	}
	return InEnvelope{T: env.T, D: env.D}, nil
}

func (MsgpackCodec) UnmarshalPayload(in InEnvelope, v any) error {
	if len(in.D) == 0 {
		return malformed("%s without payload", in.T)
	}
	if err := msgpack.Unmarshal(in.D, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, in.T, err)
	}
	return nil
}
