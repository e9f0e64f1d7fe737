package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsParticipant(t *testing.T) {
	c := &Chat{ID: "c1", ChatType: ChatTypeRoom, ParticipantIDs: []string{"u1", "u2"}}
	assert.True(t, c.IsParticipant("u1"))
	assert.False(t, c.IsParticipant("u3"))
	assert.False(t, (&Chat{}).IsParticipant("u1"))
}

func TestDirectChatKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, DirectChatKey("a", "b"), DirectChatKey("b", "a"))
	assert.Equal(t, "a:b", DirectChatKey("b", "a"))
	assert.NotEqual(t, DirectChatKey("a", "b"), DirectChatKey("a", "c"))
}

func TestDirectKey(t *testing.T) {
	tests := []struct {
		name string
		chat Chat
		want string
	}{
		{
			name: "direct chat",
			chat: Chat{ChatType: ChatTypeDirect, ParticipantIDs: []string{"u2", "u1"}},
			want: "u1:u2",
		},
		{
			name: "room has no key",
			chat: Chat{ChatType: ChatTypeRoom, ParticipantIDs: []string{"u1", "u2"}},
			want: "",
		},
		{
			name: "direct with wrong participant count",
			chat: Chat{ChatType: ChatTypeDirect, ParticipantIDs: []string{"u1"}},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.chat.DirectKey())
		})
	}
}
