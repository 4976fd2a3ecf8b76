package a2a

import (
	"bytes"
	"encoding/json"

	"finmesh/pkg/errors"
)

// Encode serializes env as JSON with string tags for kind and priority
func Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.Wrap(errors.ErrMalformedEnvelope, "nil envelope")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedEnvelope, "encode %s: %v", env.ID, err)
	}
	return data, nil
}

// Decode parses and validates an envelope. On failure no envelope is returned.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedEnvelope, "decode: %v", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.Payload == nil {
		env.Payload = map[string]any{}
	}
	return &env, nil
}

// EncodeFrame builds a stream frame: "<sender_id>:" followed by the envelope JSON
func EncodeFrame(env *Envelope) ([]byte, error) {
	data, err := Encode(env)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(env.SenderID)+1+len(data))
	frame = append(frame, env.SenderID...)
	frame = append(frame, ':')
	return append(frame, data...), nil
}

// DecodeFrame parses a stream frame. The prefix is informational; the envelope's
// sender_id is authoritative and is returned alongside the declared prefix.
func DecodeFrame(frame []byte) (*Envelope, string, error) {
	start := bytes.IndexByte(frame, '{')
	if start < 1 || frame[start-1] != ':' {
		return nil, "", errors.Wrap(errors.ErrMalformedEnvelope, "frame missing sender prefix")
	}
	prefix := string(frame[:start-1])
	env, err := Decode(frame[start:])
	if err != nil {
		return nil, prefix, err
	}
	return env, prefix, nil
}
