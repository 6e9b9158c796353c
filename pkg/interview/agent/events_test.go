package agent

import (
	"errors"
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    EventType
		wantErr string
	}{
		{"final transcript", `{"type":"transcript","role":"user","text":"hi","final":true}`, EventTranscript, ""},
		{"call start", `{"type":"call-start","callId":"c1"}`, EventCallStart, ""},
		{"speech start", `{"type":"speech-start"}`, EventSpeakingStart, ""},
		{"error event", `{"type":"error","message":"boom"}`, EventError, ""},
		{"bad json", `{"type":`, "", "invalid_json"},
		{"unknown type", `{"type":"telemetry"}`, "", "unknown_type"},
		{"bad role", `{"type":"transcript","role":"narrator","text":"x"}`, "", "invalid_role"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tc.payload))
			if tc.wantErr != "" {
				var decodeErr *DecodeError
				if !errors.As(err, &decodeErr) || decodeErr.Code != tc.wantErr {
					t.Fatalf("err=%v, want code %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}
			if ev.Type != tc.want {
				t.Fatalf("type=%v, want %v", ev.Type, tc.want)
			}
		})
	}
}
