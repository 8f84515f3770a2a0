package handler

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowCursor(t *testing.T) {
	after, err := DecodeRowCursor("")
	require.NoError(t, err)
	assert.Equal(t, 0, after)

	after, err = DecodeRowCursor(EncodeRowCursor(42))
	require.NoError(t, err)
	assert.Equal(t, 42, after)

	tests := []struct {
		name   string
		cursor string
	}{
		{name: "not base64", cursor: "!!"},
		{name: "wrong prefix", cursor: base64.StdEncoding.EncodeToString([]byte("job|1"))},
		{name: "not a number", cursor: base64.StdEncoding.EncodeToString([]byte("row|x"))},
		{name: "negative", cursor: base64.StdEncoding.EncodeToString([]byte("row|-1"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRowCursor(tt.cursor)
			assert.Error(t, err)
		})
	}
}
