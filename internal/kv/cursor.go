package kv

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
)

// ErrBadCursor signals a malformed or foreign pagination token. Decoding
// fails closed: a token we cannot parse never degrades into an unbounded
// scan, it is rejected as a validation error.
var ErrBadCursor = errors.New("malformed pagination token")

// EncodeCursor serializes a continuation key into an opaque client token.
// Returns "" for a nil key, meaning the listing is exhausted.
func EncodeCursor(k *Key) string {
	if k == nil {
		return ""
	}
	raw, err := json.Marshal(k)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeCursor parses a client token back into a continuation key.
func DecodeCursor(token string) (*Key, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrBadCursor
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var k Key
	if err := dec.Decode(&k); err != nil {
		return nil, ErrBadCursor
	}
	if k.PK == "" || k.SK == "" {
		return nil, ErrBadCursor
	}
	return &k, nil
}
