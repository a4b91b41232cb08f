// Package websocket bridges upgraded websocket connections to the broker.
// The peer speaks the text line protocol: /list, /join, /name, or plain
// chat.
package websocket

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"roomrelay-server/broker"
	"roomrelay-server/command"
	"roomrelay-server/domain"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Session is the per-connection state machine for the text transport. The
// read pump decodes peer lines, the write pump serializes outbound text and
// runs the heartbeat ticker.
type Session struct {
	connID string // log correlation only; the broker knows us by id
	id     domain.SessionID
	room   string
	name   string

	ws     *websocket.Conn
	broker *broker.Broker
	hb     domain.Heartbeat

	send     chan string
	done     chan struct{}
	lastSeen atomic.Int64
	stopOnce sync.Once
}

func NewSession(ws *websocket.Conn, b *broker.Broker, hb domain.Heartbeat) *Session {
	return &Session{
		connID: uuid.New().String(),
		room:   broker.MainRoom,
		ws:     ws,
		broker: b,
		hb:     hb,
		send:   make(chan string, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// Deliver implements domain.Deliverer. A session whose outbound buffer is
// full drops the message rather than blocking the broker.
func (s *Session) Deliver(text string) {
	select {
	case s.send <- text:
	default:
	}
}

// Run registers with the broker and services the connection until it
// terminates.
func (s *Session) Run() {
	id, err := s.broker.Connect(s)
	if err != nil {
		slog.Error("broker connect failed", "connId", s.connID, "error", err)
		s.ws.Close()
		return
	}
	s.id = id
	s.touch()
	slog.Info("ws session started", "connId", s.connID, "id", s.id)

	go s.writePump()
	s.readPump()
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) expired() bool {
	return time.Since(time.Unix(0, s.lastSeen.Load())) > s.hb.Timeout
}

// stop notifies the broker exactly once and wakes the write pump.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		s.broker.Disconnect(s.id)
		close(s.done)
	})
}

// reply queues session-originated text for the peer. Unlike Deliver it
// waits for buffer space so command replies are not dropped.
func (s *Session) reply(text string) {
	select {
	case s.send <- text:
	case <-s.done:
	}
}

func (s *Session) readPump() {
	defer func() {
		s.stop()
		s.ws.Close()
	}()

	s.ws.SetReadLimit(maxMessageSize)
	s.ws.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})
	pong := s.ws.PingHandler()
	s.ws.SetPingHandler(func(data string) error {
		s.touch()
		return pong(data)
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Error("read error", "connId", s.connID, "error", err)
			}
			return
		}
		if !s.handle(string(data)) {
			return
		}
	}
}

// handle processes one inbound line. It returns false when the session must
// terminate.
func (s *Session) handle(line string) bool {
	switch cmd := command.Parse(line).(type) {
	case command.List:
		// Suspends this session until the broker replies; other
		// sessions keep running.
		rooms, err := s.broker.ListRooms()
		if err != nil {
			return false
		}
		for _, room := range rooms {
			s.reply(room)
		}
	case command.Join:
		s.broker.Join(s.id, cmd.Room)
		s.room = cmd.Room
		s.reply("joined")
	case command.Name:
		s.name = cmd.Name
	case command.Notice:
		s.reply(cmd.Text)
	case command.Chat:
		text := cmd.Text
		if s.name != "" {
			text = s.name + ": " + text
		}
		s.broker.SendMessage(s.id, s.room, text)
	}
	return true
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.hb.Interval)
	defer func() {
		ticker.Stop()
		s.ws.Close()
	}()

	for {
		select {
		case text := <-s.send:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				s.stop()
				return
			}
		case <-ticker.C:
			if s.expired() {
				slog.Info("client heartbeat failed, disconnecting", "connId", s.connID, "id", s.id)
				s.stop()
				return
			}
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.stop()
				return
			}
		case <-s.done:
			return
		}
	}
}
