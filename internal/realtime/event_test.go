package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEventPostID(t *testing.T) {
	testCases := []struct {
		name  string
		frame string
		want  string
	}{
		{name: "string", frame: `{"event":"joinPost","data":"42"}`, want: "42"},
		{name: "padded-string", frame: `{"event":"joinPost","data":"  abc "}`, want: "abc"},
		{name: "number", frame: `{"event":"joinPost","data":42}`, want: "42"},
		{name: "object", frame: `{"event":"joinPost","data":{"id":"42"}}`, want: ""},
		{name: "missing", frame: `{"event":"joinPost"}`, want: ""},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			event, err := DecodeEvent([]byte(testCase.frame))
			require.NoError(t, err)
			require.Equal(t, EventJoinPost, event.Name)
			require.Equal(t, testCase.want, event.PostID())
		})
	}
}

func TestDecodeEventRejectsMalformedFrames(t *testing.T) {
	_, err := DecodeEvent([]byte(`not json`))
	require.Error(t, err)

	_, err = DecodeEvent([]byte(`{"data":"42"}`))
	require.ErrorIs(t, err, errMissingEventName)
}

func TestNewEventEncodesEnvelope(t *testing.T) {
	event, err := NewEvent(EventNewComment, map[string]string{"id": "c1"})
	require.NoError(t, err)

	encoded, err := json.Marshal(event)
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"newComment","data":{"id":"c1"}}`, string(encoded))

	_, err = NewEvent(" ", nil)
	require.Error(t, err)
}
