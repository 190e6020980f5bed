package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// clientConn is what the coordination subsystems see of a connection: its
// identity token, the display name it carries, and a non-blocking send.
// Tests substitute a recording fake.
type clientConn interface {
	ID() string
	Name() string
	Send(event string, data interface{})
}

type WSManager struct {
	lobby *Lobby
	voice *VoiceManager
	swap  *SwapManager

	clients map[string]*WSClient
	mutex   sync.RWMutex

	register   chan *WSClient
	unregister chan *WSClient
}

type WSClient struct {
	id       string
	username string
	conn     *websocket.Conn
	send     chan []byte
	manager  *WSManager

	closeOnce sync.Once
	closed    chan struct{}

	// lastPing is read by the manager goroutine and written by the read
	// pump, so it lives in an atomic as unix nanos.
	lastPing atomic.Int64
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

func NewWSManager(lobby *Lobby, voice *VoiceManager, swap *SwapManager) *WSManager {
	manager := &WSManager{
		lobby:      lobby,
		voice:      voice,
		swap:       swap,
		clients:    make(map[string]*WSClient),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}

	go manager.run()
	return manager
}

func (m *WSManager) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-m.register:
			m.mutex.Lock()
			m.clients[client.id] = client
			m.mutex.Unlock()
			log.WithFields(log.Fields{"player": client.id, "name": client.username}).Info("client connected")

		case client := <-m.unregister:
			m.mutex.Lock()
			_, ok := m.clients[client.id]
			if ok {
				delete(m.clients, client.id)
			}
			m.mutex.Unlock()
			if !ok {
				continue
			}
			client.shutdown()

			// Disconnection is the universal cancellation signal: every
			// subsystem drops its state for this connection before the
			// next event is handled.
			m.lobby.Leave(client)
			m.voice.OnDisconnect(client.id)
			m.swap.OnDisconnect(client.id)

			log.WithFields(log.Fields{"player": client.id, "name": client.username}).Info("client disconnected")

		case <-ticker.C:
			m.checkClientHealth()
		}
	}
}

func (m *WSManager) checkClientHealth() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, client := range m.clients {
		if client.idleTime() > 60*time.Second {
			client.conn.Close()
		}
	}
}

// Resolve looks up a live client by its connection identity.
func (m *WSManager) Resolve(playerID string) (clientConn, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	client, ok := m.clients[playerID]
	return client, ok
}

func (m *WSManager) ClientCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

func (m *WSManager) HandleConnection(w http.ResponseWriter, r *http.Request, session *Session) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &WSClient{
		id:       uuid.NewString(),
		username: session.Username,
		conn:     conn,
		send:     make(chan []byte, 256),
		manager:  m,
		closed:   make(chan struct{}),
	}
	client.markAlive()

	m.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) ID() string   { return c.id }
func (c *WSClient) Name() string { return c.username }

// markAlive records client liveness from the read pump.
func (c *WSClient) markAlive() {
	c.lastPing.Store(time.Now().UnixNano())
}

// idleTime reports how long since the client last showed life.
func (c *WSClient) idleTime() time.Duration {
	return time.Since(time.Unix(0, c.lastPing.Load()))
}

// Send queues one event for the client. Never blocks: a client that cannot
// drain its buffer loses the event, and a closed client drops it outright.
func (c *WSClient) Send(event string, data interface{}) {
	payload, err := json.Marshal(WSMessage{Type: event, Data: data})
	if err != nil {
		log.Warnf("failed to marshal %s event: %v", event, err)
		return
	}

	select {
	case <-c.closed:
		return
	default:
	}

	select {
	case c.send <- payload:
	default:
		log.WithFields(log.Fields{"player": c.id, "event": event}).Warn("send buffer full, dropping event")
	}
}

func (c *WSClient) sendError(context string, err error) {
	c.Send("error", errorData{Message: err.Error(), Context: context})
}

func (c *WSClient) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

func (c *WSClient) readPump() {
	defer func() {
		c.manager.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.markAlive()
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warnf("WebSocket error: %v", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Warnf("Invalid JSON from client %s: %v", c.id, err)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-c.closed:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one inbound event. Every failure becomes exactly
// one "error" event back to this client; no other client is affected.
func (c *WSClient) handleMessage(msg WSMessage) {
	m := c.manager

	switch msg.Type {
	case "join-space":
		m.lobby.Join(c, c.username)

	case "leave-space":
		m.lobby.Leave(c)

	case "set-status":
		var data setStatusData
		if !c.decode(msg, &data) {
			return
		}
		if err := m.lobby.SetStatus(c, data.Status); err != nil {
			c.sendError(msg.Type, err)
		}

	case "chat":
		var data chatData
		if !c.decode(msg, &data) {
			return
		}
		if err := m.lobby.Chat(c, data.Text); err != nil {
			c.sendError(msg.Type, err)
		}

	case "propose-swap":
		var data proposeSwapData
		if !c.decode(msg, &data) {
			return
		}
		if err := m.swap.Propose(data.GameID, c, data.TargetConnection); err != nil {
			c.sendError(msg.Type, err)
		}

	case "respond-swap":
		var data respondSwapData
		if !c.decode(msg, &data) {
			return
		}
		if err := m.swap.Respond(data.GameID, c, data.RequesterConnection, data.Accepted); err != nil {
			c.sendError(msg.Type, err)
		}

	case "join-voice":
		var data voiceChannelData
		if !c.decode(msg, &data) {
			return
		}
		if err := m.voice.JoinChannel(data.GameID, c); err != nil {
			c.sendError(msg.Type, err)
		}

	case "leave-voice":
		var data voiceChannelData
		if !c.decode(msg, &data) {
			return
		}
		m.voice.LeaveChannel(data.GameID, c)

	case "relay-offer", "relay-answer", "relay-candidate":
		var data relayData
		if !c.decode(msg, &data) {
			return
		}
		if err := m.voice.Relay(data.GameID, c, data.TargetConnection, msg.Type, data.Payload); err != nil {
			c.sendError(msg.Type, err)
		}

	case "update-mute":
		var data updateMuteData
		if !c.decode(msg, &data) {
			return
		}
		if err := m.voice.UpdateMute(data.GameID, c, data.IsMuted); err != nil {
			c.sendError(msg.Type, err)
		}

	case "update-speaking":
		var data updateSpeakingData
		if !c.decode(msg, &data) {
			return
		}
		if err := m.voice.UpdateSpeaking(data.GameID, c, data.IsSpeaking); err != nil {
			c.sendError(msg.Type, err)
		}

	case "ping":
		c.markAlive()

	default:
		log.Warnf("Unknown message type: %s", msg.Type)
	}
}

func (c *WSClient) decode(msg WSMessage, out interface{}) bool {
	raw, _ := json.Marshal(msg.Data)
	if err := json.Unmarshal(raw, out); err != nil {
		log.Warnf("Invalid %s data from client %s: %v", msg.Type, c.id, err)
		return false
	}
	return true
}
