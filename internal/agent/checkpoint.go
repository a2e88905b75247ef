package agent

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// checkpointVersion is the first byte of every encoded checkpoint. Bump it
// when the State wire format changes so stale tokens are rejected instead
// of misread.
const checkpointVersion = 1

// EncodeCheckpoint serializes a paused state into an opaque hex token the
// client hands back on approve or regenerate.
func EncodeCheckpoint(s State) (string, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding checkpoint: %w", err)
	}
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, checkpointVersion)
	buf = append(buf, payload...)
	return hex.EncodeToString(buf), nil
}

// DecodeCheckpoint reverses EncodeCheckpoint. Tokens that are not valid
// hex, are truncated, or carry an unknown version are rejected.
func DecodeCheckpoint(token string) (State, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return State{}, fmt.Errorf("decoding checkpoint: %w", err)
	}
	if len(raw) < 2 {
		return State{}, errors.New("checkpoint too short")
	}
	if raw[0] != checkpointVersion {
		return State{}, fmt.Errorf("unsupported checkpoint version %d", raw[0])
	}

	var s State
	if err := json.Unmarshal(raw[1:], &s); err != nil {
		return State{}, fmt.Errorf("decoding checkpoint state: %w", err)
	}
	return s, nil
}
