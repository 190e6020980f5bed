package main

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type swapKey struct {
	gameID   string
	targetID string
}

// SwapRequest is one pending seat-swap handshake. Exactly one of accept,
// reject, expiry, or disconnect cleanup removes it; the timer handle is
// cancelled on every client-driven terminal transition so a late firing
// finds the key gone and does nothing.
type SwapRequest struct {
	GameID        string
	RequesterID   string
	RequesterName string
	TargetID      string

	timer *time.Timer
}

// SwapManager runs the timed two-party seat-swap handshake per game. The
// requests map is keyed by (game, target); at most one request exists per
// key and at most one per requester.
type SwapManager struct {
	mu       sync.Mutex
	requests map[swapKey]*SwapRequest

	games   GameAuthority
	resolve func(playerID string) (clientConn, bool)
	ttl     time.Duration

	// afterFunc schedules the expiry callback; swapped out in tests.
	afterFunc func(d time.Duration, fn func()) *time.Timer
}

func NewSwapManager(games GameAuthority, ttl time.Duration) *SwapManager {
	return &SwapManager{
		requests:  make(map[swapKey]*SwapRequest),
		games:     games,
		ttl:       ttl,
		afterFunc: time.AfterFunc,
	}
}

// SetResolveFunc registers the lookup used to notify parties by connection
// identity. Set once during wiring, before any events flow.
func (m *SwapManager) SetResolveFunc(fn func(playerID string) (clientConn, bool)) {
	m.resolve = fn
}

type swapRequestNotice struct {
	GameID          string `json:"gameId"`
	FromPlayerID    string `json:"fromPlayerId"`
	FromPlayerName  string `json:"fromPlayerName"`
	WillChangeTeams bool   `json:"willChangeTeams"`
}

type swapResultNotice struct {
	GameID      string `json:"gameId"`
	RequesterID string `json:"requesterId"`
	TargetID    string `json:"targetId"`
}

// Propose starts a handshake from requester to targetID. A bot target skips
// the handshake entirely: the exchange is applied on the spot and no request
// is recorded. A human target gets a request-received notice and a pending
// entry with an expiry timer. Any previous pending request by the same
// requester is cancelled first, so a requester never has two outstanding.
func (m *SwapManager) Propose(gameID string, requester clientConn, targetID string) error {
	reqMember, ok := m.games.Member(gameID, requester.ID())
	if !ok {
		return ErrNotFound
	}
	tgtMember, ok := m.games.Member(gameID, targetID)
	if !ok {
		return ErrNotFound
	}
	if err := m.games.ValidateExchange(gameID, requester.ID(), targetID); err != nil {
		return ErrInvalidProposal
	}

	if tgtMember.IsBot {
		if err := m.games.ApplyExchange(gameID, requester.ID(), targetID); err != nil {
			return err
		}
		requester.Send("swap-accepted", swapResultNotice{
			GameID: gameID, RequesterID: requester.ID(), TargetID: targetID,
		})
		m.games.Resync(gameID)
		return nil
	}

	key := swapKey{gameID: gameID, targetID: targetID}

	m.mu.Lock()
	m.cancelByRequesterLocked(requester.ID())

	// The target may already hold a pending request from someone else.
	// That request's timer must die with its key, or it would later fire
	// against the fresh entry installed below and expire it early.
	displaced := m.requests[key]
	if displaced != nil {
		displaced.timer.Stop()
		delete(m.requests, key)
	}

	req := &SwapRequest{
		GameID:        gameID,
		RequesterID:   requester.ID(),
		RequesterName: reqMember.Name,
		TargetID:      targetID,
	}
	req.timer = m.afterFunc(m.ttl, func() { m.expire(key) })
	m.requests[key] = req
	m.mu.Unlock()

	if displaced != nil {
		if prev, ok := m.resolve(displaced.RequesterID); ok {
			prev.Send("swap-cancelled", swapResultNotice{
				GameID: displaced.GameID, RequesterID: displaced.RequesterID, TargetID: displaced.TargetID,
			})
		}
	}

	if target, ok := m.resolve(targetID); ok {
		target.Send("request-received", swapRequestNotice{
			GameID:          gameID,
			FromPlayerID:    requester.ID(),
			FromPlayerName:  reqMember.Name,
			WillChangeTeams: reqMember.Team != tgtMember.Team,
		})
	}
	return nil
}

// Respond resolves a pending handshake. The stored requester must match the
// caller-supplied one; a mismatch is reported as ErrNotFound so a stale or
// forged response learns nothing. The timer is cancelled and the key deleted
// before the exchange is applied, which settles the race against expiry.
func (m *SwapManager) Respond(gameID string, target clientConn, requesterID string, accepted bool) error {
	key := swapKey{gameID: gameID, targetID: target.ID()}

	m.mu.Lock()
	req, ok := m.requests[key]
	if !ok || req.RequesterID != requesterID {
		m.mu.Unlock()
		return ErrNotFound
	}
	req.timer.Stop()
	delete(m.requests, key)
	m.mu.Unlock()

	notice := swapResultNotice{GameID: gameID, RequesterID: req.RequesterID, TargetID: target.ID()}

	if !accepted {
		if requester, ok := m.resolve(req.RequesterID); ok {
			requester.Send("swap-rejected", notice)
		}
		return nil
	}

	if err := m.games.ApplyExchange(gameID, req.RequesterID, target.ID()); err != nil {
		return err
	}
	if requester, ok := m.resolve(req.RequesterID); ok {
		requester.Send("swap-accepted", notice)
	}
	target.Send("swap-accepted", notice)

	// The exchange can change which hand each player sees, so a delta is
	// not enough: everyone at the table gets the full state again.
	m.games.Resync(gameID)
	return nil
}

// OnDisconnect cancels every pending request the connection is a party to.
// When the target vanishes the requester is told the request is gone rather
// than being left to wait out a timer addressed to nobody.
func (m *SwapManager) OnDisconnect(playerID string) {
	m.mu.Lock()
	var orphaned []*SwapRequest
	for key, req := range m.requests {
		if req.RequesterID != playerID && req.TargetID != playerID {
			continue
		}
		req.timer.Stop()
		delete(m.requests, key)
		if req.TargetID == playerID {
			orphaned = append(orphaned, req)
		}
	}
	m.mu.Unlock()

	for _, req := range orphaned {
		if requester, ok := m.resolve(req.RequesterID); ok {
			requester.Send("swap-cancelled", swapResultNotice{
				GameID: req.GameID, RequesterID: req.RequesterID, TargetID: req.TargetID,
			})
		}
	}
}

// expire fires from the timer. The key-presence check is the whole guard: a
// request already resolved by Respond or OnDisconnect was deleted along with
// a Stop of this timer, and even if the callback was already in flight it
// finds nothing here and stays silent.
func (m *SwapManager) expire(key swapKey) {
	m.mu.Lock()
	req, ok := m.requests[key]
	if ok {
		delete(m.requests, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	log.WithFields(log.Fields{"game": req.GameID, "target": req.TargetID}).Debug("swap request expired")
	if requester, ok := m.resolve(req.RequesterID); ok {
		requester.Send("swap-expired", swapResultNotice{
			GameID: req.GameID, RequesterID: req.RequesterID, TargetID: req.TargetID,
		})
	}
}

// cancelByRequesterLocked removes any pending request held by requesterID.
// Caller holds m.mu.
func (m *SwapManager) cancelByRequesterLocked(requesterID string) {
	for key, req := range m.requests {
		if req.RequesterID == requesterID {
			req.timer.Stop()
			delete(m.requests, key)
		}
	}
}

// Pending reports whether a request exists at (gameID, targetID).
func (m *SwapManager) Pending(gameID, targetID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.requests[swapKey{gameID: gameID, targetID: targetID}]
	return ok
}

// PendingCount returns the number of outstanding requests.
func (m *SwapManager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
