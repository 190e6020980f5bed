package main

import (
	"errors"
	"time"
)

type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// Coordination errors. Each one maps to a single "error" event sent back to
// the connection that caused it; nothing here is fatal to the server.
var (
	ErrNotPresent      = errors.New("no live presence for this connection")
	ErrNotAMember      = errors.New("not a member of this game")
	ErrAlreadyJoined   = errors.New("already in the voice channel")
	ErrNotFound        = errors.New("no matching request")
	ErrInvalidProposal = errors.New("invalid swap proposal")
)

type PlayerStatus string

const (
	StatusOnline         PlayerStatus = "online"
	StatusLookingForGame PlayerStatus = "looking_for_game"
	StatusInGame         PlayerStatus = "in_game"
	StatusAway           PlayerStatus = "away"
)

// PresenceRecord is the live lobby entry for one display name. At most one
// exists per name; a reconnect replaces the old one wholesale.
type PresenceRecord struct {
	PlayerID   string       `json:"player_id"`
	Name       string       `json:"name"`
	Status     PlayerStatus `json:"status"`
	GameID     string       `json:"game_id,omitempty"`
	TableID    string       `json:"table_id,omitempty"`
	LastActive time.Time    `json:"last_active"`

	conn clientConn
}

type ActivityEntry struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

type ChatEntry struct {
	PlayerID string    `json:"player_id"`
	Name     string    `json:"name"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// WebSocket envelope, both directions.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// errorData is the payload of every outbound "error" event. Context names
// the inbound event that failed so the client can match it up.
type errorData struct {
	Message string `json:"message"`
	Context string `json:"context"`
}

type setStatusData struct {
	Status PlayerStatus `json:"status"`
}

type chatData struct {
	Text string `json:"text"`
}

type proposeSwapData struct {
	GameID           string `json:"gameId"`
	TargetConnection string `json:"targetConnection"`
}

type respondSwapData struct {
	GameID              string `json:"gameId"`
	RequesterConnection string `json:"requesterConnection"`
	Accepted            bool   `json:"accepted"`
}

type voiceChannelData struct {
	GameID string `json:"gameId"`
}

type relayData struct {
	GameID           string      `json:"gameId"`
	TargetConnection string      `json:"targetConnection"`
	Payload          interface{} `json:"payload"`
}

type updateMuteData struct {
	GameID  string `json:"gameId"`
	IsMuted bool   `json:"isMuted"`
}

type updateSpeakingData struct {
	GameID     string `json:"gameId"`
	IsSpeaking bool   `json:"isSpeaking"`
}
