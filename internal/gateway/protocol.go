package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf16"
)

// Op identifies a gateway frame.
type Op int

const (
	OpStatus    Op = 0 // server: status snapshot or update
	OpHello     Op = 1 // server: sent once on connect
	OpSubscribe Op = 2 // client: d is the user id to follow
	OpHeartbeat Op = 3 // client: keeps the session alive
	OpError     Op = 4 // server: fatal, the socket closes right after
)

func (o Op) String() string { return strconv.Itoa(int(o)) }

const (
	HeartbeatInterval = 15 * time.Second
	HeartbeatTimeout  = HeartbeatInterval * 3 / 2
	SubscribeDeadline = 10 * time.Second

	maxUserIDLength = 32
)

// Reasons sent with OpError.
const (
	ReasonNoInit       = "No initialization in time"
	ReasonNoHeartbeat  = "No heartbeat received"
	ReasonBadMessage   = "Bad message"
	ReasonAlreadyInit  = "Already initialized."
	ReasonUnauthorized = "User has not authorized the application"
	ReasonTokenError   = "Error fetching user access token"
	ReasonStatusError  = "Error fetching user status"
	reasonSlowConsumer = "slow consumer"
)

// Frame is the envelope of every message in both directions.
type Frame struct {
	Op Op  `json:"op"`
	D  any `json:"d,omitempty"`
}

type hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

var errBadFrame = errors.New("bad frame")

// parseFrame accepts exactly {"op":2,"d":"<1-32 chars>"} and {"op":3}.
// Unknown keys, unknown ops and wrong types are rejected.
func parseFrame(data []byte) (Op, string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, "", fmt.Errorf("%w: %w", errBadFrame, err)
	}
	for k := range raw {
		if k != "op" && k != "d" {
			return 0, "", fmt.Errorf("%w: unexpected key %q", errBadFrame, k)
		}
	}
	opRaw, ok := raw["op"]
	if !ok {
		return 0, "", fmt.Errorf("%w: missing op", errBadFrame)
	}
	var op Op
	if err := json.Unmarshal(opRaw, &op); err != nil {
		return 0, "", fmt.Errorf("%w: op: %w", errBadFrame, err)
	}

	dRaw, hasD := raw["d"]
	switch op {
	case OpHeartbeat:
		if hasD {
			return 0, "", fmt.Errorf("%w: heartbeat takes no payload", errBadFrame)
		}
		return op, "", nil
	case OpSubscribe:
		if !hasD {
			return 0, "", fmt.Errorf("%w: missing user id", errBadFrame)
		}
		var userID string
		if err := json.Unmarshal(dRaw, &userID); err != nil {
			return 0, "", fmt.Errorf("%w: user id: %w", errBadFrame, err)
		}
		// Length is counted in UTF-16 code units, as browser clients count it.
		if n := len(utf16.Encode([]rune(userID))); n < 1 || n > maxUserIDLength {
			return 0, "", fmt.Errorf("%w: user id length %d", errBadFrame, n)
		}
		return op, userID, nil
	default:
		return 0, "", fmt.Errorf("%w: unknown op %d", errBadFrame, op)
	}
}
