// Package broker owns all room and session membership state. A single
// goroutine drains the request mailbox one message at a time, so every
// mutation is atomic without locks; sessions talk to it only through the
// exported methods.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"

	"roomrelay-server/domain"
)

// MainRoom exists for the lifetime of the process; every new session is
// placed into it on connect.
const MainRoom = "main"

// Notices broadcast to room members on membership changes.
const (
	NoticeJoined       = "Someone Joined"
	NoticeDisconnected = "Someone disconnected"
	NoticeConnected    = "Someone connected"
)

// skipNone disables the skip-id filter in a broadcast. Zero is also a
// (vanishingly unlikely) valid session id, so a session that drew id 0
// would be skipped by every no-skip broadcast; the id scheme carries the
// same residual risk as its lack of collision checking.
const skipNone domain.SessionID = 0

// ErrStopped is returned when the broker's run loop has exited.
var ErrStopped = errors.New("broker: stopped")

type request interface{ isRequest() }

type connectReq struct {
	deliver domain.Deliverer
	reply   chan domain.SessionID
}

type disconnectReq struct {
	id domain.SessionID
}

type sendReq struct {
	id   domain.SessionID
	room string
	text string
}

type listReq struct {
	reply chan []string
}

type joinReq struct {
	id   domain.SessionID
	room string
}

type statsReq struct {
	reply chan [2]int
}

func (connectReq) isRequest()    {}
func (disconnectReq) isRequest() {}
func (sendReq) isRequest()       {}
func (listReq) isRequest()       {}
func (joinReq) isRequest()       {}
func (statsReq) isRequest()      {}

// Broker routes chat traffic between sessions grouped into rooms.
type Broker struct {
	requests chan request
	done     chan struct{}

	// Owned exclusively by the run loop.
	sessions map[domain.SessionID]domain.Deliverer
	rooms    map[string]map[domain.SessionID]struct{}
}

func New() *Broker {
	return &Broker{
		requests: make(chan request),
		done:     make(chan struct{}),
		sessions: make(map[domain.SessionID]domain.Deliverer),
		rooms: map[string]map[domain.SessionID]struct{}{
			MainRoom: {},
		},
	}
}

// Run processes requests until ctx is cancelled. It must be running for any
// of the other methods to make progress.
func (b *Broker) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case req := <-b.requests:
			b.handle(req)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Broker) handle(req request) {
	switch r := req.(type) {
	case connectReq:
		// Notice goes out before the newcomer is inserted, so it
		// reaches only the existing members of main.
		b.broadcast(MainRoom, NoticeJoined, skipNone)

		id := domain.SessionID(rand.Uint64())
		b.sessions[id] = r.deliver
		b.rooms[MainRoom][id] = struct{}{}
		slog.Info("session connected", "id", id, "sessions", len(b.sessions))
		r.reply <- id

	case disconnectReq:
		delete(b.sessions, r.id)
		affected := b.removeFromAllRooms(r.id)
		for _, name := range affected {
			b.broadcast(name, NoticeDisconnected, skipNone)
		}
		slog.Info("session disconnected", "id", r.id, "sessions", len(b.sessions))

	case sendReq:
		b.broadcast(r.room, r.text, r.id)

	case listReq:
		r.reply <- slices.Sorted(maps.Keys(b.rooms))

	case joinReq:
		left := b.removeFromAllRooms(r.id)
		for _, name := range left {
			b.broadcast(name, NoticeDisconnected, skipNone)
		}
		if _, ok := b.rooms[r.room]; !ok {
			b.rooms[r.room] = make(map[domain.SessionID]struct{})
		}
		b.broadcast(r.room, NoticeConnected, r.id)
		b.rooms[r.room][r.id] = struct{}{}
		slog.Info("session joined room", "id", r.id, "room", r.room)

	case statsReq:
		r.reply <- [2]int{len(b.rooms), len(b.sessions)}
	}
}

// removeFromAllRooms scans every room rather than trusting any remembered
// "current room"; rooms stay registered even when their member set empties.
func (b *Broker) removeFromAllRooms(id domain.SessionID) []string {
	var affected []string
	for name, members := range b.rooms {
		if _, ok := members[id]; ok {
			delete(members, id)
			affected = append(affected, name)
		}
	}
	return affected
}

// broadcast delivers text to every member of room except skip. A missing
// room or a member without a live session record is silently ignored.
func (b *Broker) broadcast(room, text string, skip domain.SessionID) {
	members, ok := b.rooms[room]
	if !ok {
		return
	}
	for id := range members {
		if id == skip {
			continue
		}
		if d, ok := b.sessions[id]; ok {
			d.Deliver(text)
		}
	}
}

func (b *Broker) submit(req request) error {
	select {
	case b.requests <- req:
		return nil
	case <-b.done:
		return ErrStopped
	}
}

// Connect registers a session's deliver capability, places it in the main
// room, and returns its freshly drawn id.
func (b *Broker) Connect(d domain.Deliverer) (domain.SessionID, error) {
	req := connectReq{deliver: d, reply: make(chan domain.SessionID, 1)}
	if err := b.submit(req); err != nil {
		return 0, err
	}
	select {
	case id := <-req.reply:
		return id, nil
	case <-b.done:
		return 0, ErrStopped
	}
}

// Disconnect removes the session record and its room memberships,
// notifying each affected room. Fire-and-forget.
func (b *Broker) Disconnect(id domain.SessionID) {
	b.submit(disconnectReq{id: id})
}

// SendMessage broadcasts text to every member of room except the sender.
// Fire-and-forget; an unknown room is a silent no-op.
func (b *Broker) SendMessage(id domain.SessionID, room, text string) {
	b.submit(sendReq{id: id, room: room, text: text})
}

// ListRooms returns every known room name, sorted.
func (b *Broker) ListRooms() ([]string, error) {
	req := listReq{reply: make(chan []string, 1)}
	if err := b.submit(req); err != nil {
		return nil, err
	}
	select {
	case rooms := <-req.reply:
		return rooms, nil
	case <-b.done:
		return nil, ErrStopped
	}
}

// Join moves the session out of every room it belongs to and into room,
// creating it if needed. The joiner does not see its own join notice.
func (b *Broker) Join(id domain.SessionID, room string) {
	b.submit(joinReq{id: id, room: room})
}

// Stats reports the current room and session counts.
func (b *Broker) Stats() (rooms, sessions int) {
	req := statsReq{reply: make(chan [2]int, 1)}
	if err := b.submit(req); err != nil {
		return 0, 0
	}
	select {
	case counts := <-req.reply:
		return counts[0], counts[1]
	case <-b.done:
		return 0, 0
	}
}
