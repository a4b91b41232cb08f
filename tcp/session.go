// Package tcp bridges raw byte-stream connections to the broker using the
// length-prefixed frame protocol from the codec package.
package tcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"roomrelay-server/broker"
	"roomrelay-server/codec"
	"roomrelay-server/domain"
)

const (
	writeWait      = 10 * time.Second
	readBufferSize = 4096
	sendBufferSize = 256
)

// Session is the per-connection state machine for the binary transport.
type Session struct {
	connID string
	id     domain.SessionID
	room   string

	conn   net.Conn
	broker *broker.Broker
	hb     domain.Heartbeat

	send     chan codec.Response
	done     chan struct{}
	lastSeen atomic.Int64
	stopOnce sync.Once
}

func NewSession(conn net.Conn, b *broker.Broker, hb domain.Heartbeat) *Session {
	return &Session{
		connID: uuid.New().String(),
		room:   broker.MainRoom,
		conn:   conn,
		broker: b,
		hb:     hb,
		send:   make(chan codec.Response, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// Deliver implements domain.Deliverer; broker-pushed text goes out as a
// Message frame. A full outbound buffer drops the message.
func (s *Session) Deliver(text string) {
	select {
	case s.send <- codec.MessageResponse{Text: text}:
	default:
	}
}

// Run registers with the broker and services the connection until it
// terminates.
func (s *Session) Run() {
	id, err := s.broker.Connect(s)
	if err != nil {
		slog.Error("broker connect failed", "connId", s.connID, "error", err)
		s.conn.Close()
		return
	}
	s.id = id
	s.touch()
	slog.Info("tcp session started", "connId", s.connID, "id", s.id, "remote", s.conn.RemoteAddr())

	go s.writePump()
	s.readPump()
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) expired() bool {
	return time.Since(time.Unix(0, s.lastSeen.Load())) > s.hb.Timeout
}

func (s *Session) stop() {
	s.stopOnce.Do(func() {
		s.broker.Disconnect(s.id)
		close(s.done)
	})
}

func (s *Session) reply(resp codec.Response) {
	select {
	case s.send <- resp:
	case <-s.done:
	}
}

func (s *Session) readPump() {
	defer func() {
		s.stop()
		s.conn.Close()
	}()

	var dec codec.RequestDecoder
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				req, derr := dec.Next()
				if derr != nil {
					// Protocol violations are fatal to the
					// connection, never to the broker.
					slog.Warn("protocol violation", "connId", s.connID, "error", derr)
					return
				}
				if req == nil {
					break
				}
				if !s.handle(req) {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// handle processes one decoded request. It returns false when the session
// must terminate.
func (s *Session) handle(req codec.Request) bool {
	switch r := req.(type) {
	case codec.ListRequest:
		rooms, err := s.broker.ListRooms()
		if err != nil {
			return false
		}
		s.reply(codec.RoomsResponse{Rooms: rooms})
	case codec.JoinRequest:
		s.broker.Join(s.id, r.Room)
		s.room = r.Room
		s.reply(codec.JoinedResponse{Room: r.Room})
	case codec.MessageRequest:
		s.broker.SendMessage(s.id, s.room, r.Text)
	case codec.PingRequest:
		s.touch()
	}
	return true
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.hb.Interval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case resp := <-s.send:
			if err := s.write(resp); err != nil {
				s.stop()
				return
			}
		case <-ticker.C:
			if s.expired() {
				slog.Info("client heartbeat failed, disconnecting", "connId", s.connID, "id", s.id)
				s.stop()
				return
			}
			if err := s.write(codec.PingResponse{}); err != nil {
				s.stop()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) write(resp codec.Response) error {
	frame, err := codec.EncodeResponse(resp)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_, err = s.conn.Write(frame)
	return err
}

// Serve accepts connections from ln and runs one session per connection
// until ctx is cancelled.
func Serve(ctx context.Context, ln net.Listener, b *broker.Broker, hb domain.Heartbeat) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		sess := NewSession(conn, b, hb)
		go sess.Run()
	}
}
