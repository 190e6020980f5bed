package main

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// VoiceMember is one connection's state inside a game's voice channel.
type VoiceMember struct {
	PlayerID    string `json:"player_id"`
	Name        string `json:"name"`
	IsSpectator bool   `json:"is_spectator"`
	IsMuted     bool   `json:"is_muted"`
	IsSpeaking  bool   `json:"is_speaking"`

	conn clientConn
}

// VoiceManager tracks one voice channel per game and relays peer-connection
// setup messages between members. Payloads pass through untouched; the
// manager only checks that the sender belongs to the channel.
type VoiceManager struct {
	mu       sync.Mutex
	channels map[string]map[string]*VoiceMember

	games GameAuthority
}

func NewVoiceManager(games GameAuthority) *VoiceManager {
	return &VoiceManager{
		channels: make(map[string]map[string]*VoiceMember),
		games:    games,
	}
}

type voiceRosterNotice struct {
	GameID  string         `json:"gameId"`
	Members []*VoiceMember `json:"members"`
}

type voiceMemberNotice struct {
	GameID string       `json:"gameId"`
	Member *VoiceMember `json:"member"`
}

type voiceRelayNotice struct {
	GameID   string      `json:"gameId"`
	FromID   string      `json:"fromId"`
	FromName string      `json:"fromName"`
	Payload  interface{} `json:"payload"`
}

// JoinChannel adds conn to the voice channel of gameID. Only current players
// and spectators of the game may join, and joining twice is an error rather
// than a merge.
func (v *VoiceManager) JoinChannel(gameID string, conn clientConn) error {
	m, ok := v.games.Member(gameID, conn.ID())
	if !ok || (!m.IsPlayer && !m.IsSpectator) {
		return ErrNotAMember
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	members, ok := v.channels[gameID]
	if !ok {
		members = make(map[string]*VoiceMember)
		v.channels[gameID] = members
	}
	if _, ok := members[conn.ID()]; ok {
		return ErrAlreadyJoined
	}

	member := &VoiceMember{
		PlayerID:    conn.ID(),
		Name:        m.Name,
		IsSpectator: m.IsSpectator,
		conn:        conn,
	}

	for _, other := range members {
		other.conn.Send("voice-joined", voiceMemberNotice{GameID: gameID, Member: member})
	}
	members[conn.ID()] = member
	conn.Send("voice-roster", voiceRosterNotice{GameID: gameID, Members: rosterLocked(members)})

	log.WithFields(log.Fields{"game": gameID, "player": conn.ID()}).Debug("voice channel joined")
	return nil
}

// LeaveChannel removes conn from gameID's channel. Not being a member is a
// no-op. The last member out takes the channel's state with them.
func (v *VoiceManager) LeaveChannel(gameID string, conn clientConn) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.leaveLocked(gameID, conn.ID())
}

func (v *VoiceManager) leaveLocked(gameID, playerID string) {
	members, ok := v.channels[gameID]
	if !ok {
		return
	}
	member, ok := members[playerID]
	if !ok {
		return
	}
	delete(members, playerID)

	if len(members) == 0 {
		delete(v.channels, gameID)
		return
	}
	for _, other := range members {
		other.conn.Send("voice-left", voiceMemberNotice{GameID: gameID, Member: member})
	}
}

// Relay forwards an opaque connection-setup payload from a channel member to
// one other member, tagged with the sender. The target's membership is not
// checked; a relay to someone who already left is dropped without telling
// the sender.
func (v *VoiceManager) Relay(gameID string, from clientConn, targetID, kind string, payload interface{}) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	members, ok := v.channels[gameID]
	if !ok {
		return ErrNotAMember
	}
	sender, ok := members[from.ID()]
	if !ok {
		return ErrNotAMember
	}

	target, ok := members[targetID]
	if !ok {
		log.WithFields(log.Fields{"game": gameID, "target": targetID, "kind": kind}).
			Debug("relay target absent, dropping")
		return nil
	}

	target.conn.Send(kind, voiceRelayNotice{
		GameID:   gameID,
		FromID:   sender.PlayerID,
		FromName: sender.Name,
		Payload:  payload,
	})
	return nil
}

// UpdateMute flips the member's mute flag and tells the whole channel.
func (v *VoiceManager) UpdateMute(gameID string, conn clientConn, muted bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	member, ok := v.channels[gameID][conn.ID()]
	if !ok {
		return ErrNotAMember
	}
	member.IsMuted = muted

	for _, other := range v.channels[gameID] {
		other.conn.Send("voice-mute-changed", voiceMemberNotice{GameID: gameID, Member: member})
	}
	return nil
}

// UpdateSpeaking flips the member's talk indicator and tells the whole channel.
func (v *VoiceManager) UpdateSpeaking(gameID string, conn clientConn, speaking bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	member, ok := v.channels[gameID][conn.ID()]
	if !ok {
		return ErrNotAMember
	}
	member.IsSpeaking = speaking

	for _, other := range v.channels[gameID] {
		other.conn.Send("voice-speaking-changed", voiceMemberNotice{GameID: gameID, Member: member})
	}
	return nil
}

// OnDisconnect sweeps the connection out of every channel it was in, with
// the same semantics as an explicit leave. Safe to call for a connection
// that was in no channel at all.
func (v *VoiceManager) OnDisconnect(playerID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for gameID, members := range v.channels {
		if _, ok := members[playerID]; ok {
			v.leaveLocked(gameID, playerID)
		}
	}
}

// TeardownForEndedGame force-empties a game's channel when the game itself
// ends. Members get an empty roster so clients drop their peer connections,
// then the channel state is discarded.
func (v *VoiceManager) TeardownForEndedGame(gameID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	members, ok := v.channels[gameID]
	if !ok {
		return
	}
	for _, member := range members {
		member.conn.Send("voice-roster", voiceRosterNotice{GameID: gameID, Members: []*VoiceMember{}})
	}
	delete(v.channels, gameID)
}

// MemberCount returns how many connections are in gameID's channel.
func (v *VoiceManager) MemberCount(gameID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.channels[gameID])
}

func rosterLocked(members map[string]*VoiceMember) []*VoiceMember {
	out := make([]*VoiceMember, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	return out
}
