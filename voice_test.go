package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func voiceGame(t *testing.T) (*VoiceManager, *fakeConn, *fakeConn) {
	t.Helper()

	tables := NewTableDirectory()
	tables.Seat("G", "c1", Membership{Name: "Ana", IsPlayer: true})
	tables.Seat("G", "c2", Membership{Name: "Bo", IsSpectator: true})

	return NewVoiceManager(tables), newFakeConn("c1", "Ana"), newFakeConn("c2", "Bo")
}

func TestJoinChannelRequiresGameMembership(t *testing.T) {
	voice, _, _ := voiceGame(t)

	stranger := newFakeConn("c9", "Sol")
	err := voice.JoinChannel("G", stranger)
	assert.ErrorIs(t, err, ErrNotAMember)
	assert.Zero(t, voice.MemberCount("G"))
}

func TestJoinChannelTwiceRejected(t *testing.T) {
	voice, c1, _ := voiceGame(t)

	require.NoError(t, voice.JoinChannel("G", c1))
	err := voice.JoinChannel("G", c1)
	assert.ErrorIs(t, err, ErrAlreadyJoined)
	assert.Equal(t, 1, voice.MemberCount("G"))
}

func TestJoinChannelNotifiesAndSendsRoster(t *testing.T) {
	voice, c1, c2 := voiceGame(t)

	require.NoError(t, voice.JoinChannel("G", c1))
	require.NoError(t, voice.JoinChannel("G", c2))

	// Existing member heard about the spectator joining.
	data, ok := c1.last("voice-joined")
	require.True(t, ok)
	member := data.(voiceMemberNotice).Member
	assert.Equal(t, "c2", member.PlayerID)
	assert.True(t, member.IsSpectator)
	assert.False(t, member.IsMuted)
	assert.False(t, member.IsSpeaking)

	// Joiner got the full roster.
	data, ok = c2.last("voice-roster")
	require.True(t, ok)
	assert.Len(t, data.(voiceRosterNotice).Members, 2)
}

func TestRelayMembershipGating(t *testing.T) {
	voice, c1, c2 := voiceGame(t)

	err := voice.Relay("G", c1, "c2", "relay-offer", "sdp-blob")
	assert.ErrorIs(t, err, ErrNotAMember, "sender must be in the channel")

	require.NoError(t, voice.JoinChannel("G", c1))
	require.NoError(t, voice.JoinChannel("G", c2))

	require.NoError(t, voice.Relay("G", c1, "c2", "relay-offer", "sdp-blob"))

	data, ok := c2.last("relay-offer")
	require.True(t, ok)
	relay := data.(voiceRelayNotice)
	assert.Equal(t, "c1", relay.FromID)
	assert.Equal(t, "Ana", relay.FromName)
	assert.Equal(t, "sdp-blob", relay.Payload)
}

func TestRelayToDepartedTargetSilentlyDropped(t *testing.T) {
	voice, c1, c2 := voiceGame(t)

	require.NoError(t, voice.JoinChannel("G", c1))
	require.NoError(t, voice.JoinChannel("G", c2))
	voice.LeaveChannel("G", c2)

	err := voice.Relay("G", c1, "c2", "relay-candidate", "ice")
	assert.NoError(t, err, "undeliverable relay is not an error to the sender")
	assert.Zero(t, c2.count("relay-candidate"))
}

func TestUpdateMuteBroadcasts(t *testing.T) {
	voice, c1, c2 := voiceGame(t)

	err := voice.UpdateMute("G", c1, true)
	assert.ErrorIs(t, err, ErrNotAMember)

	require.NoError(t, voice.JoinChannel("G", c1))
	require.NoError(t, voice.JoinChannel("G", c2))
	require.NoError(t, voice.UpdateMute("G", c1, true))

	for _, c := range []*fakeConn{c1, c2} {
		data, ok := c.last("voice-mute-changed")
		require.True(t, ok)
		assert.True(t, data.(voiceMemberNotice).Member.IsMuted)
	}
}

func TestUpdateSpeakingBroadcasts(t *testing.T) {
	voice, c1, c2 := voiceGame(t)

	require.NoError(t, voice.JoinChannel("G", c1))
	require.NoError(t, voice.JoinChannel("G", c2))
	require.NoError(t, voice.UpdateSpeaking("G", c2, true))

	data, ok := c1.last("voice-speaking-changed")
	require.True(t, ok)
	assert.True(t, data.(voiceMemberNotice).Member.IsSpeaking)
}

func TestEmptyChannelCleanup(t *testing.T) {
	voice, c1, c2 := voiceGame(t)

	require.NoError(t, voice.JoinChannel("G", c1))
	require.NoError(t, voice.JoinChannel("G", c2))

	voice.LeaveChannel("G", c1)
	voice.LeaveChannel("G", c2)

	assert.Zero(t, voice.MemberCount("G"))
	assert.Empty(t, voice.channels, "no lingering empty channel state")

	// A fresh join starts a fresh channel: the roster contains only the
	// joiner, not a stale member list.
	require.NoError(t, voice.JoinChannel("G", c1))
	data, ok := c1.last("voice-roster")
	require.True(t, ok)
	assert.Len(t, data.(voiceRosterNotice).Members, 1)
}

func TestLeaveChannelWhenNotMemberIsNoop(t *testing.T) {
	voice, c1, _ := voiceGame(t)
	voice.LeaveChannel("G", c1)
	voice.LeaveChannel("unknown", c1)
}

func TestOnDisconnectSweepsAllChannels(t *testing.T) {
	tables := NewTableDirectory()
	tables.Seat("G1", "c1", Membership{Name: "Ana", IsPlayer: true})
	tables.Seat("G2", "c1", Membership{Name: "Ana", IsSpectator: true})
	tables.Seat("G1", "c2", Membership{Name: "Bo", IsPlayer: true})
	voice := NewVoiceManager(tables)

	c1 := newFakeConn("c1", "Ana")
	c2 := newFakeConn("c2", "Bo")

	require.NoError(t, voice.JoinChannel("G1", c1))
	require.NoError(t, voice.JoinChannel("G2", c1))
	require.NoError(t, voice.JoinChannel("G1", c2))

	voice.OnDisconnect("c1")

	assert.Equal(t, 1, voice.MemberCount("G1"))
	assert.Zero(t, voice.MemberCount("G2"))
	assert.Equal(t, 1, c2.count("voice-left"))

	// Zero-membership disconnect is fine too.
	voice.OnDisconnect("c1")
	voice.OnDisconnect("never-joined")
}

func TestTeardownForEndedGame(t *testing.T) {
	voice, c1, c2 := voiceGame(t)

	require.NoError(t, voice.JoinChannel("G", c1))
	require.NoError(t, voice.JoinChannel("G", c2))

	voice.TeardownForEndedGame("G")

	for _, c := range []*fakeConn{c1, c2} {
		data, ok := c.last("voice-roster")
		require.True(t, ok)
		assert.Empty(t, data.(voiceRosterNotice).Members)
	}
	assert.Zero(t, voice.MemberCount("G"))
	assert.Empty(t, voice.channels)

	// Tearing down a game with no channel is a no-op.
	voice.TeardownForEndedGame("G")
}
