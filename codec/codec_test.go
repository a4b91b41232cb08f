package codec

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{name: "list", req: ListRequest{}},
		{name: "join", req: JoinRequest{Room: "lobby"}},
		{name: "message", req: MessageRequest{Text: "hello there"}},
		{name: "ping", req: PingRequest{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeRequest(tt.req)
			require.NoError(t, err)

			var dec RequestDecoder
			dec.Feed(frame)
			got, err := dec.Next()
			require.NoError(t, err)
			assert.Equal(t, tt.req, got)

			// Nothing left over.
			got, err = dec.Next()
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		resp Response
	}{
		{name: "ping", resp: PingResponse{}},
		{name: "rooms", resp: RoomsResponse{Rooms: []string{"lobby", "main"}}},
		{name: "joined", resp: JoinedResponse{Room: "lobby"}},
		{name: "message", resp: MessageResponse{Text: "alice: hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeResponse(tt.resp)
			require.NoError(t, err)

			var dec ResponseDecoder
			dec.Feed(frame)
			got, err := dec.Next()
			require.NoError(t, err)
			assert.Equal(t, tt.resp, got)
		})
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	frame, err := EncodeRequest(JoinRequest{Room: "lobby"})
	require.NoError(t, err)

	var dec RequestDecoder
	for i, b := range frame {
		got, err := dec.Next()
		require.NoError(t, err, "byte %d", i)
		require.Nil(t, got, "decoded before frame was complete at byte %d", i)
		dec.Feed([]byte{b})
	}

	got, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, JoinRequest{Room: "lobby"}, got)
}

func TestDecoderTruncatedFrame(t *testing.T) {
	// Length says 2 bytes of payload, only 1 is available: need more
	// input, not an error.
	var dec RequestDecoder
	dec.Feed([]byte{0x00, 0x02, '{'})

	got, err := dec.Next()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDecoderBadPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "invalid json", payload: "not json"},
		{name: "unknown cmd", payload: `{"cmd":"Shout","data":"hi"}`},
		{name: "empty object", payload: `{}`},
		{name: "wrong data shape", payload: `{"cmd":"Join","data":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := make([]byte, 2+len(tt.payload))
			binary.BigEndian.PutUint16(frame, uint16(len(tt.payload)))
			copy(frame[2:], tt.payload)

			var dec RequestDecoder
			dec.Feed(frame)
			_, err := dec.Next()
			assert.Error(t, err)
		})
	}
}

func TestDecoderMultipleFramesOneFeed(t *testing.T) {
	first, err := EncodeRequest(PingRequest{})
	require.NoError(t, err)
	second, err := EncodeRequest(MessageRequest{Text: "hi"})
	require.NoError(t, err)

	var dec RequestDecoder
	dec.Feed(append(first, second...))

	got, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, PingRequest{}, got)

	got, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, MessageRequest{Text: "hi"}, got)

	got, err = dec.Next()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEncodeWireShape(t *testing.T) {
	frame, err := EncodeResponse(JoinedResponse{Room: "lobby"})
	require.NoError(t, err)

	size := binary.BigEndian.Uint16(frame)
	require.Equal(t, int(size), len(frame)-2)
	assert.JSONEq(t, `{"cmd":"Joined","data":"lobby"}`, string(frame[2:]))

	frame, err = EncodeResponse(PingResponse{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cmd":"Ping"}`, string(frame[2:]))
}

func TestEncodeOversizedPayload(t *testing.T) {
	big := make([]byte, MaxPayload+1)
	for i := range big {
		big[i] = 'a'
	}
	_, err := EncodeRequest(MessageRequest{Text: string(big)})
	assert.Error(t, err)
}
