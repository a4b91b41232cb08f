// Package codec implements the binary transport's wire format: each frame
// is a 2-byte big-endian payload length followed by that many bytes of
// tagged JSON. The tag lives in "cmd", the variant payload in "data"
// (omitted for variants that carry nothing).
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// MaxPayload is the largest payload a single frame can carry; the length
// prefix is an unsigned 16-bit integer.
const MaxPayload = 65535

// Request is one client-to-server protocol message.
type Request interface{ isRequest() }

type ListRequest struct{}
type JoinRequest struct{ Room string }
type MessageRequest struct{ Text string }
type PingRequest struct{}

func (ListRequest) isRequest()    {}
func (JoinRequest) isRequest()    {}
func (MessageRequest) isRequest() {}
func (PingRequest) isRequest()    {}

// Response is one server-to-client protocol message.
type Response interface{ isResponse() }

type PingResponse struct{}
type RoomsResponse struct{ Rooms []string }
type JoinedResponse struct{ Room string }
type MessageResponse struct{ Text string }

func (PingResponse) isResponse()    {}
func (RoomsResponse) isResponse()   {}
func (JoinedResponse) isResponse()  {}
func (MessageResponse) isResponse() {}

type envelope struct {
	Cmd  string          `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeRequest serializes a request into one complete frame.
func EncodeRequest(req Request) ([]byte, error) {
	var env envelope
	var err error
	switch r := req.(type) {
	case ListRequest:
		env.Cmd = "List"
	case JoinRequest:
		env.Cmd = "Join"
		env.Data, err = json.Marshal(r.Room)
	case MessageRequest:
		env.Cmd = "Message"
		env.Data, err = json.Marshal(r.Text)
	case PingRequest:
		env.Cmd = "Ping"
	default:
		return nil, fmt.Errorf("codec: unsupported request type %T", req)
	}
	if err != nil {
		return nil, err
	}
	return frame(env)
}

// EncodeResponse serializes a response into one complete frame.
func EncodeResponse(resp Response) ([]byte, error) {
	var env envelope
	var err error
	switch r := resp.(type) {
	case PingResponse:
		env.Cmd = "Ping"
	case RoomsResponse:
		env.Cmd = "Rooms"
		env.Data, err = json.Marshal(r.Rooms)
	case JoinedResponse:
		env.Cmd = "Joined"
		env.Data, err = json.Marshal(r.Room)
	case MessageResponse:
		env.Cmd = "Message"
		env.Data, err = json.Marshal(r.Text)
	default:
		return nil, fmt.Errorf("codec: unsupported response type %T", resp)
	}
	if err != nil {
		return nil, err
	}
	return frame(env)
}

func frame(env envelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("codec: payload too large: %d bytes", len(payload))
	}
	out := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(out, uint16(len(payload)))
	copy(out[2:], payload)
	return out, nil
}

// frameBuffer accumulates stream bytes and splits off complete frame
// payloads. Bytes are only consumed once the whole frame is present, so a
// short read never corrupts framing.
type frameBuffer struct {
	buf []byte
}

func (b *frameBuffer) feed(p []byte) {
	b.buf = append(b.buf, p...)
}

func (b *frameBuffer) next() ([]byte, bool) {
	if len(b.buf) < 2 {
		return nil, false
	}
	size := int(binary.BigEndian.Uint16(b.buf))
	if len(b.buf) < 2+size {
		return nil, false
	}
	payload := b.buf[2 : 2+size]
	b.buf = b.buf[2+size:]
	return payload, true
}

// RequestDecoder is the server-side streaming decoder. Feed it raw stream
// bytes in whatever chunks the transport produces and drain decoded
// requests with Next.
type RequestDecoder struct {
	fb frameBuffer
}

// Feed appends raw bytes to the decode buffer.
func (d *RequestDecoder) Feed(p []byte) { d.fb.feed(p) }

// Next returns the next complete request, or (nil, nil) when more input is
// needed. A malformed payload or unknown tag is a protocol violation and
// returns an error; the caller is expected to drop the connection.
func (d *RequestDecoder) Next() (Request, error) {
	payload, ok := d.fb.next()
	if !ok {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("codec: bad request payload: %w", err)
	}
	switch env.Cmd {
	case "List":
		return ListRequest{}, nil
	case "Join":
		var room string
		if err := json.Unmarshal(env.Data, &room); err != nil {
			return nil, fmt.Errorf("codec: bad Join data: %w", err)
		}
		return JoinRequest{Room: room}, nil
	case "Message":
		var text string
		if err := json.Unmarshal(env.Data, &text); err != nil {
			return nil, fmt.Errorf("codec: bad Message data: %w", err)
		}
		return MessageRequest{Text: text}, nil
	case "Ping":
		return PingRequest{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown request cmd %q", env.Cmd)
	}
}

// ResponseDecoder is the client-side counterpart of RequestDecoder.
type ResponseDecoder struct {
	fb frameBuffer
}

func (d *ResponseDecoder) Feed(p []byte) { d.fb.feed(p) }

func (d *ResponseDecoder) Next() (Response, error) {
	payload, ok := d.fb.next()
	if !ok {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("codec: bad response payload: %w", err)
	}
	switch env.Cmd {
	case "Ping":
		return PingResponse{}, nil
	case "Rooms":
		var rooms []string
		if err := json.Unmarshal(env.Data, &rooms); err != nil {
			return nil, fmt.Errorf("codec: bad Rooms data: %w", err)
		}
		return RoomsResponse{Rooms: rooms}, nil
	case "Joined":
		var room string
		if err := json.Unmarshal(env.Data, &room); err != nil {
			return nil, fmt.Errorf("codec: bad Joined data: %w", err)
		}
		return JoinedResponse{Room: room}, nil
	case "Message":
		var text string
		if err := json.Unmarshal(env.Data, &text); err != nil {
			return nil, fmt.Errorf("codec: bad Message data: %w", err)
		}
		return MessageResponse{Text: text}, nil
	default:
		return nil, fmt.Errorf("codec: unknown response cmd %q", env.Cmd)
	}
}
