package main

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Membership describes how a connection relates to a game right now.
type Membership struct {
	Name        string `json:"name"`
	IsPlayer    bool   `json:"is_player"`
	IsSpectator bool   `json:"is_spectator"`
	IsBot       bool   `json:"is_bot"`
	Seat        int    `json:"seat"`
	Team        int    `json:"team"`
}

// GameAuthority is the boundary to the rules engine. The coordination core
// never inspects game state directly; it asks who is in a game, whether a
// seat exchange is legal, applies it, and requests a full resync after an
// exchange that may change visible information.
type GameAuthority interface {
	Member(gameID, playerID string) (Membership, bool)
	ValidateExchange(gameID, a, b string) error
	ApplyExchange(gameID, a, b string) error
	Resync(gameID string)
}

// gameStateNotice is the full-state broadcast sent after an applied seat
// exchange. A delta is deliberately not used: the exchange may change what
// each player is allowed to see.
type gameStateNotice struct {
	GameID  string                `json:"gameId"`
	Members map[string]Membership `json:"members"`
}

// TableDirectory is the in-process implementation of GameAuthority. It keeps
// seat and team assignments per game and fans resync requests out through a
// callback set by the server.
type TableDirectory struct {
	mu     sync.Mutex
	games  map[string]map[string]Membership
	resync func(gameID string)
}

func NewTableDirectory() *TableDirectory {
	return &TableDirectory{games: make(map[string]map[string]Membership)}
}

// SetResyncFunc registers the broadcast used after an applied exchange.
func (d *TableDirectory) SetResyncFunc(fn func(gameID string)) {
	d.mu.Lock()
	d.resync = fn
	d.mu.Unlock()
}

// Seat places a connection (or bot) in a game. Replaces any previous
// membership for the same playerID.
func (d *TableDirectory) Seat(gameID, playerID string, m Membership) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seats, ok := d.games[gameID]
	if !ok {
		seats = make(map[string]Membership)
		d.games[gameID] = seats
	}
	seats[playerID] = m
}

// Unseat removes a membership. Deletes the game entry when it empties.
func (d *TableDirectory) Unseat(gameID, playerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seats, ok := d.games[gameID]
	if !ok {
		return
	}
	delete(seats, playerID)
	if len(seats) == 0 {
		delete(d.games, gameID)
	}
}

// RemoveGame drops all memberships for a finished game.
func (d *TableDirectory) RemoveGame(gameID string) {
	d.mu.Lock()
	delete(d.games, gameID)
	d.mu.Unlock()
}

func (d *TableDirectory) Member(gameID, playerID string) (Membership, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.games[gameID][playerID]
	return m, ok
}

func (d *TableDirectory) ValidateExchange(gameID, a, b string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	seats, ok := d.games[gameID]
	if !ok {
		return fmt.Errorf("game %s not found", gameID)
	}
	ma, ok := seats[a]
	if !ok || !ma.IsPlayer {
		return fmt.Errorf("%s is not a player in game %s", a, gameID)
	}
	mb, ok := seats[b]
	if !ok || !mb.IsPlayer {
		return fmt.Errorf("%s is not a player in game %s", b, gameID)
	}
	if a == b {
		return fmt.Errorf("cannot swap a seat with itself")
	}
	return nil
}

// ApplyExchange swaps the seat and team assignments of a and b.
func (d *TableDirectory) ApplyExchange(gameID, a, b string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	seats, ok := d.games[gameID]
	if !ok {
		return fmt.Errorf("game %s not found", gameID)
	}
	ma, aOK := seats[a]
	mb, bOK := seats[b]
	if !aOK || !bOK {
		return fmt.Errorf("exchange parties missing from game %s", gameID)
	}

	ma.Seat, mb.Seat = mb.Seat, ma.Seat
	ma.Team, mb.Team = mb.Team, ma.Team
	seats[a] = ma
	seats[b] = mb

	log.WithFields(log.Fields{"game": gameID, "a": a, "b": b}).Info("seat exchange applied")
	return nil
}

// Roster returns a copy of all memberships in a game, keyed by playerID.
func (d *TableDirectory) Roster(gameID string) map[string]Membership {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]Membership, len(d.games[gameID]))
	for id, m := range d.games[gameID] {
		out[id] = m
	}
	return out
}

func (d *TableDirectory) Resync(gameID string) {
	d.mu.Lock()
	fn := d.resync
	d.mu.Unlock()
	if fn != nil {
		fn(gameID)
	}
}
