package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwner_ThreeStates(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Owner
	}{
		{name: "absent", raw: `{"uniqueId":"a","timestamp":1}`, want: Owner{}},
		{name: "null", raw: `{"uniqueId":"a","privateTo":null,"timestamp":1}`, want: Owner{Set: true}},
		{name: "player", raw: `{"uniqueId":"a","privateTo":"p1","timestamp":1}`, want: Owner{Set: true, ID: "p1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var cs CardState
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &cs))
			assert.Equal(t, tc.want, cs.PrivateTo)
		})
	}
}

func TestOwner_MarshalOmitsAbsent(t *testing.T) {
	b, err := json.Marshal(CardState{UniqueID: "a"})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "privateTo")

	b, err = json.Marshal(CardState{UniqueID: "a", PrivateTo: Public()})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"privateTo":null`)
}

func TestEncodeControl_Unwrapped(t *testing.T) {
	id := Identity{PlayerID: "p1", PlayerName: "Ann", RoomCode: "ABC123"}
	b, err := EncodeControl(JoinRoom{Resume: true}, id)
	require.NoError(t, err)

	var f map[string]any
	require.NoError(t, json.Unmarshal(b, &f))
	assert.Equal(t, "joinRoom", f["type"])
	assert.Equal(t, "p1", f["playerId"])
	assert.Equal(t, "ABC123", f["roomCode"])
	assert.Equal(t, "Ann", f["playerName"])
	assert.Equal(t, true, f["resume"])
	assert.NotContains(t, f, "localMessageId")
}

func TestEncodeGameFrame_DecodeClient(t *testing.T) {
	id := Identity{PlayerID: "p1", RoomCode: "ABC123"}
	payload := ShuffleDiscardPile{UniqueIDs: []string{"x_0"}}
	b, err := EncodeGameFrame(payload, id, 7, 1000)
	require.NoError(t, err)

	msg, err := DecodeClient(b)
	require.NoError(t, err)
	prop, ok := msg.(GameProposal)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, uint64(7), prop.LocalMessageID)
	assert.Equal(t, int64(1000), prop.Timestamp)
	assert.Equal(t, payload, prop.Payload)
}

func TestDecodeServer_GameMessage(t *testing.T) {
	f, err := GameFrame(UpdateCardState{CardStates: []CardState{{UniqueID: "a_0", ZIndex: Int(10001)}}}, "p2", 55)
	require.NoError(t, err)
	b, err := json.Marshal(f)
	require.NoError(t, err)

	in, err := DecodeServer(b)
	require.NoError(t, err)
	gm := in.(GameMessage)
	assert.Equal(t, "p2", gm.SentBy)
	upd := gm.Payload.(UpdateCardState)
	require.Len(t, upd.CardStates, 1)
	assert.Equal(t, 10001, *upd.CardStates[0].ZIndex)
}

func TestDecodeServer_Rejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{name: "unknown type", raw: `{"type":"confetti"}`, want: ErrUnknownType},
		{name: "bad json", raw: `{"type":`, want: ErrInvalidPayload},
		{name: "fullState without state", raw: `{"type":"fullState"}`, want: ErrInvalidPayload},
		{name: "unknown game kind", raw: `{"type":"gameMessage","data":{"type":"dance","data":{}}}`, want: ErrUnknownType},
		{name: "card without id", raw: `{"type":"gameMessage","data":{"type":"updateCardState","data":{"cardStates":[{"timestamp":1}]}}}`, want: ErrInvalidPayload},
		{name: "bad location", raw: `{"type":"gameMessage","data":{"type":"updateCardState","data":{"cardStates":[{"uniqueId":"a","location":"moon"}]}}}`, want: ErrInvalidPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeServer([]byte(tc.raw))
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDecodeServer_ErrorDefaultsToUnknown(t *testing.T) {
	in, err := DecodeServer([]byte(`{"type":"error","message":"boom"}`))
	require.NoError(t, err)
	e := in.(ErrorMessage).Err
	assert.Equal(t, CodeUnknown, e.Code)
	assert.Equal(t, PolicyReconnect, e.Code.Policy())
}

func TestErrorCodePolicy(t *testing.T) {
	cases := map[ErrorCode]Policy{
		CodeInvalidState:    PolicyResync,
		CodeRoomNotFound:    PolicyOffline,
		CodePlayerNotInRoom: PolicyOffline,
		CodeDeckEmpty:       PolicyNotify,
		CodeUnknown:         PolicyReconnect,
		"SOMETHING_NEW":     PolicyReconnect,
	}
	for code, want := range cases {
		assert.Equal(t, want, code.Policy(), string(code))
	}
}
