package stream

import (
	"encoding/json"
	"errors"
	"strings"
)

// MessageType is the decoded tag of an inbound control message.
type MessageType int

const (
	MessageUnknown MessageType = iota
	MessageStart
	MessageEnd
	MessagePing
)

func (t MessageType) String() string {
	switch t {
	case MessageStart:
		return "start"
	case MessageEnd:
		return "end"
	case MessagePing:
		return "ping"
	default:
		return "unknown"
	}
}

// ParseMessageType maps a wire tag to its MessageType. Tags are case-insensitive.
func ParseMessageType(tag string) MessageType {
	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case "START":
		return MessageStart
	case "END":
		return MessageEnd
	case "PING":
		return MessagePing
	default:
		return MessageUnknown
	}
}

// Outbound message tags.
const (
	TypeConnected   = "CONNECTED"
	TypeStarted     = "STARTED"
	TypeEnded       = "ENDED"
	TypePong        = "PONG"
	TypeError       = "ERROR"
	TypeChunkStored = "CHUNK_STORED"
)

// Error texts sent in ERROR replies.
const (
	ErrTextLoginRequired  = "Login required for recording"
	ErrTextAlreadyActive  = "Session already active"
	ErrTextNoSession      = "No active session"
	ErrTextInvalidJSON    = "Invalid JSON payload"
	ErrTextStartFailed    = "Failed to start session"
	ErrTextStoreFailed    = "Failed to store segment"
	ErrTextSegmentTooBig  = "Segment too large"
	errTextUnknownTypeFmt = "Unknown type: "
)

var errMissingType = errors.New("control message has no type")

type inbound struct {
	Type *string `json:"type"`
}

// decodeControl parses a text frame. It returns the upper-cased tag along
// with its MessageType so unknown tags can be echoed back.
func decodeControl(data []byte) (MessageType, string, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return MessageUnknown, "", err
	}
	if in.Type == nil {
		return MessageUnknown, "", errMissingType
	}
	tag := strings.ToUpper(strings.TrimSpace(*in.Type))
	return ParseMessageType(tag), tag, nil
}

type ConnectedMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

type StartedMessage struct {
	Type      string `json:"type"`
	SessionID int64  `json:"sessionId"`
}

type EndedMessage struct {
	Type      string `json:"type"`
	SessionID int64  `json:"sessionId"`
	Chunks    int    `json:"chunks"`
}

type PongMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ChunkStoredMessage acknowledges a stored segment.
type ChunkStoredMessage struct {
	Type       string `json:"type"`
	Key        string `json:"key"`
	Size       int64  `json:"size"`
	ChunkIndex int    `json:"chunkIndex"`
}
