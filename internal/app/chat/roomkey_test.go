package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hzrealtime/internal/pkg/errs"
)

func TestParseRoomKey(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
		kind  RoomKind
		id    string
	}{
		{in: "channel-7", valid: true, kind: KindChannel, id: "7"},
		{in: "server-42", valid: true, kind: KindServer, id: "42"},
		{in: "voice-3", valid: true, kind: KindVoice, id: "3"},
		{in: "dm-abc_1", valid: true, kind: KindDM, id: "abc_1"},
		{in: "channel-", valid: false},
		{in: "lobby-1", valid: false},
		{in: "channel-7-8", valid: false},
		{in: "", valid: false},
		{in: "CHANNEL-7", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			key, err := ParseRoomKey(tt.in)
			if !tt.valid {
				require.NotNil(t, err)
				assert.Equal(t, errs.ErrInvalidRoomKey, err.Code)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tt.kind, key.Kind())
			assert.Equal(t, tt.id, key.ID())
			assert.Equal(t, tt.kind == KindVoice, key.IsVoice())
		})
	}
}
