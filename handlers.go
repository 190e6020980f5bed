package main

import (
	"encoding/json"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

type Server struct {
	cfg       Config
	db        *Database
	auth      *AuthManager
	lobby     *Lobby
	voice     *VoiceManager
	swap      *SwapManager
	tables    *TableDirectory
	wsManager *WSManager
}

func NewServer(cfg Config, db *Database) *Server {
	auth := NewAuthManager(db)
	tables := NewTableDirectory()
	lobby := NewLobby(cfg.ActivityLimit, cfg.ChatLogLimit)
	voice := NewVoiceManager(tables)
	swap := NewSwapManager(tables, cfg.SwapRequestTTL)
	wsManager := NewWSManager(lobby, voice, swap)

	swap.SetResolveFunc(wsManager.Resolve)

	// A reconnect takeover evicts the old connection from every subsystem,
	// the same way a real disconnect would.
	lobby.SetEvictFunc(func(playerID string) {
		voice.OnDisconnect(playerID)
		swap.OnDisconnect(playerID)
	})

	// Full-state resync fan-out after an applied seat exchange.
	tables.SetResyncFunc(func(gameID string) {
		roster := tables.Roster(gameID)
		state := gameStateNotice{GameID: gameID, Members: roster}
		for playerID := range roster {
			if conn, ok := wsManager.Resolve(playerID); ok {
				conn.Send("game-state", state)
			}
		}
	})

	return &Server{
		cfg:       cfg,
		db:        db,
		auth:      auth,
		lobby:     lobby,
		voice:     voice,
		swap:      swap,
		tables:    tables,
		wsManager: wsManager,
	}
}

func (s *Server) RegisterRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Auth endpoints
	mux.HandleFunc("/api/register", s.handleRegister)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/logout", s.auth.RequireAuth(s.handleLogout))

	// Game lifecycle: seat the caller's live connection into a game, or
	// end a game and tear its voice channel down.
	mux.HandleFunc("/api/games/seat", s.auth.RequireAuth(s.handleSeat))
	mux.HandleFunc("/api/games/end", s.auth.RequireAuth(s.handleEndGame))

	mux.HandleFunc("/api/stats", s.handleStats)

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	return mux
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		respondError(w, "Username and password required", http.StatusBadRequest)
		return
	}

	user, err := s.db.CreateUser(req.Username, req.Password)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			respondError(w, "Username already exists", http.StatusConflict)
			return
		}
		respondError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	session, err := s.auth.CreateSession(user)
	if err != nil {
		respondError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"user":  user,
		"token": session.Token,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	user, err := s.db.AuthenticateUser(req.Username, req.Password)
	if err != nil {
		respondError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	session, err := s.auth.CreateSession(user)
	if err != nil {
		respondError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"user":  user,
		"token": session.Token,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := s.auth.ExtractToken(r)
	s.auth.DeleteSession(token)

	respondJSON(w, map[string]string{"status": "logged out"})
}

// handleSeat places the caller's live lobby connection into a game. The
// caller must be present in the lobby over a websocket first; seating is
// keyed to that connection's identity.
func (s *Server) handleSeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session := sessionFromContext(r.Context())
	if session == nil {
		respondError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		GameID      string `json:"game_id"`
		TableID     string `json:"table_id"`
		Seat        int    `json:"seat"`
		Team        int    `json:"team"`
		AsSpectator bool   `json:"as_spectator"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.GameID == "" {
		respondError(w, "Game ID required", http.StatusBadRequest)
		return
	}

	rec, ok := s.lobby.RecordByName(session.Username)
	if !ok {
		respondError(w, "No live connection in the lobby", http.StatusConflict)
		return
	}

	s.tables.Seat(req.GameID, rec.PlayerID, Membership{
		Name:        session.Username,
		IsPlayer:    !req.AsSpectator,
		IsSpectator: req.AsSpectator,
		Seat:        req.Seat,
		Team:        req.Team,
	})
	s.lobby.UpdateStatus(session.Username, StatusInGame, req.GameID, req.TableID)

	respondJSON(w, map[string]interface{}{
		"game_id":   req.GameID,
		"player_id": rec.PlayerID,
	})
}

func (s *Server) handleEndGame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		GameID string `json:"game_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.GameID == "" {
		respondError(w, "Game ID required", http.StatusBadRequest)
		return
	}

	s.voice.TeardownForEndedGame(req.GameID)
	s.tables.RemoveGame(req.GameID)
	log.WithField("game", req.GameID).Info("game ended, voice channel torn down")

	respondJSON(w, map[string]string{"status": "game ended"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	respondJSON(w, map[string]interface{}{
		"connections":   s.wsManager.ClientCount(),
		"pending_swaps": s.swap.PendingCount(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := s.auth.ExtractToken(r)
	if token == "" {
		http.Error(w, "Missing token", http.StatusUnauthorized)
		return
	}

	session, err := s.auth.ValidateSession(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	s.wsManager.HandleConnection(w, r, session)
}
