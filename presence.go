package main

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Lobby is the presence registry for the shared social space. It owns the
// name->record and connection->record maps (which must always agree), the
// bounded activity feed, and the bounded chat log. It knows nothing about
// any particular game.
type Lobby struct {
	mu     sync.Mutex
	byName map[string]*PresenceRecord
	byConn map[string]*PresenceRecord

	activity    []ActivityEntry
	chat        []ChatEntry
	activityCap int
	chatCap     int

	// evict is called with the old connection's ID when a display name is
	// taken over by a reconnect, so other subsystems can drop their state
	// for the replaced connection.
	evict func(playerID string)

	now func() time.Time
}

func NewLobby(activityCap, chatCap int) *Lobby {
	return &Lobby{
		byName:      make(map[string]*PresenceRecord),
		byConn:      make(map[string]*PresenceRecord),
		activityCap: activityCap,
		chatCap:     chatCap,
		now:         time.Now,
	}
}

// SetEvictFunc registers the cross-subsystem cleanup hook for reconnection
// takeovers.
func (l *Lobby) SetEvictFunc(fn func(playerID string)) {
	l.evict = fn
}

type lobbySnapshot struct {
	You      *PresenceRecord   `json:"you"`
	Players  []*PresenceRecord `json:"players"`
	Activity []ActivityEntry   `json:"activity"`
	Chat     []ChatEntry       `json:"chat"`
}

// Join installs conn as the live connection for name. If the name already
// has a live record under another connection, that connection's presence and
// channel memberships are torn down first: the takeover stands in for the
// leave the dead connection never got to send, and no separate "left"
// notice is emitted for it.
func (l *Lobby) Join(conn clientConn, name string) *PresenceRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if old, ok := l.byName[name]; ok && old.PlayerID != conn.ID() {
		delete(l.byConn, old.PlayerID)
		delete(l.byName, name)
		if l.evict != nil {
			l.evict(old.PlayerID)
		}
		log.WithFields(log.Fields{"name": name, "old": old.PlayerID, "new": conn.ID()}).
			Info("presence taken over by reconnect")
	}

	// The connection may already hold a record under another name; both
	// maps must keep agreeing, so that record goes too.
	if old, ok := l.byConn[conn.ID()]; ok && old.Name != name {
		delete(l.byName, old.Name)
		delete(l.byConn, conn.ID())
	}

	rec := &PresenceRecord{
		PlayerID:   conn.ID(),
		Name:       name,
		Status:     StatusOnline,
		LastActive: l.now(),
		conn:       conn,
	}
	l.byName[name] = rec
	l.byConn[conn.ID()] = rec

	l.pushActivity(name + " joined the lobby")
	l.broadcast("player-joined", rec)
	conn.Send("lobby-snapshot", l.snapshotFor(rec))
	return rec
}

// Leave removes conn's presence if it still holds the live record for its
// name. A connection that was replaced by a reconnect is a no-op here; the
// takeover already cleaned it up.
func (l *Lobby) Leave(conn clientConn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byConn[conn.ID()]
	if !ok {
		return
	}
	delete(l.byConn, conn.ID())
	delete(l.byName, rec.Name)

	l.pushActivity(rec.Name + " left the lobby")
	l.broadcast("player-left", rec)
}

// SetStatus updates the caller's own status. Entering the looking-for-game
// status appends a feed entry, but only on the transition into it.
func (l *Lobby) SetStatus(conn clientConn, status PlayerStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byConn[conn.ID()]
	if !ok {
		return ErrNotPresent
	}

	prev := rec.Status
	rec.Status = status
	rec.LastActive = l.now()

	if status == StatusLookingForGame && prev != StatusLookingForGame {
		l.pushActivity(rec.Name + " is looking for a game")
	}
	l.broadcast("status-changed", rec)
	return nil
}

// UpdateStatus is the variant exposed to surrounding systems that only know
// a display name (for example when the game lifecycle seats a player). A
// name with no live presence is a no-op.
func (l *Lobby) UpdateStatus(name string, status PlayerStatus, gameID, tableID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byName[name]
	if !ok {
		return
	}
	rec.Status = status
	rec.GameID = gameID
	rec.TableID = tableID
	rec.LastActive = l.now()
	l.broadcast("status-changed", rec)
}

// Chat appends a lobby chat line and broadcasts it.
func (l *Lobby) Chat(conn clientConn, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byConn[conn.ID()]
	if !ok {
		return ErrNotPresent
	}
	if text == "" {
		return nil
	}

	entry := ChatEntry{PlayerID: rec.PlayerID, Name: rec.Name, Text: text, At: l.now()}
	l.chat = append(l.chat, entry)
	if len(l.chat) > l.chatCap {
		l.chat = l.chat[len(l.chat)-l.chatCap:]
	}
	l.broadcast("chat", entry)
	return nil
}

// Record returns the live record for a connection, if any.
func (l *Lobby) Record(playerID string) (*PresenceRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byConn[playerID]
	return rec, ok
}

// RecordByName returns the live record for a display name, if any.
func (l *Lobby) RecordByName(name string) (*PresenceRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byName[name]
	return rec, ok
}

func (l *Lobby) pushActivity(text string) {
	l.activity = append(l.activity, ActivityEntry{Text: text, At: l.now()})
	if len(l.activity) > l.activityCap {
		l.activity = l.activity[len(l.activity)-l.activityCap:]
	}
}

func (l *Lobby) snapshotFor(rec *PresenceRecord) lobbySnapshot {
	players := make([]*PresenceRecord, 0, len(l.byConn))
	for _, r := range l.byConn {
		players = append(players, r)
	}
	return lobbySnapshot{You: rec, Players: players, Activity: l.activity, Chat: l.chat}
}

func (l *Lobby) broadcast(event string, data interface{}) {
	for _, rec := range l.byConn {
		rec.conn.Send(event, data)
	}
}
