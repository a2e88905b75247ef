package agent

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestCheckpointRoundTrip(t *testing.T) {
	orig := State{
		Username:         "alice",
		Question:         "who is the top student",
		ResolvedQuestion: "who is the top student",
		MemoryContext:    "CONVERSATION CONTEXT",
		Intent:           IntentSQL,
		Query:            "SELECT name FROM students ORDER BY marks DESC LIMIT 1",
		Success:          true,
	}

	token, err := EncodeCheckpoint(orig)
	if err != nil {
		t.Fatalf("EncodeCheckpoint: %v", err)
	}

	got, err := DecodeCheckpoint(token)
	if err != nil {
		t.Fatalf("DecodeCheckpoint: %v", err)
	}
	if got != orig {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, orig)
	}
	if !got.Pending() {
		t.Error("decoded state should be pending approval")
	}
}

func TestDecodeCheckpointRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"not hex", "zzzz"},
		{"too short", "01"},
		{"empty", ""},
		{"wrong version", hex.EncodeToString(append([]byte{9}, []byte(`{}`)...))},
		{"not json", hex.EncodeToString(append([]byte{checkpointVersion}, []byte("garbage")...))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeCheckpoint(tc.token); err == nil {
				t.Errorf("DecodeCheckpoint(%q) succeeded, want error", tc.token)
			}
		})
	}
}

func TestDecodeCheckpointTrimsWhitespace(t *testing.T) {
	token, err := EncodeCheckpoint(State{Username: "alice", Success: true})
	if err != nil {
		t.Fatalf("EncodeCheckpoint: %v", err)
	}
	if _, err := DecodeCheckpoint("  " + token + "\n"); err != nil {
		t.Errorf("DecodeCheckpoint with padding: %v", err)
	}
	if !strings.HasPrefix(token, "01") {
		t.Errorf("token %q does not carry version prefix", token[:4])
	}
}
