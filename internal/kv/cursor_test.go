package kv

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	key := &Key{PK: "USER#u_a1", SK: "TXN#abc-123"}

	token := EncodeCursor(key)
	require.NotEmpty(t, token)

	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, key, decoded)
}

func TestCursorEmptyToken(t *testing.T) {
	decoded, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, decoded)

	assert.Equal(t, "", EncodeCursor(nil))
}

func TestCursorFailsClosed(t *testing.T) {
	cases := map[string]string{
		"not base64":      "!!!not-base64!!!",
		"not json":        base64.StdEncoding.EncodeToString([]byte("not json")),
		"missing sk":      base64.StdEncoding.EncodeToString([]byte(`{"pk":"USER#u_a1"}`)),
		"missing pk":      base64.StdEncoding.EncodeToString([]byte(`{"sk":"TXN#x"}`)),
		"unknown fields":  base64.StdEncoding.EncodeToString([]byte(`{"pk":"a","sk":"b","scan":"*"}`)),
		"wrong json type": base64.StdEncoding.EncodeToString([]byte(`["pk","sk"]`)),
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCursor(token)
			assert.ErrorIs(t, err, ErrBadCursor)
		})
	}
}
