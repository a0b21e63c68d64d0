package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/suPer8Hu/roomchat/internal/chat"
)

// Client -> server frame types.
const (
	TypeJoinRoom    = "join_room"
	TypeLeaveRoom   = "leave_room"
	TypeSendMessage = "send_message"
	TypePing        = "ping"
)

// Server -> client frame types.
const (
	TypeReceiveMessage = "receive_message"
	TypeError          = "error"
	TypePong           = "pong"
)

// RoomID decodes from a JSON number or a decimal string and always encodes
// as a string.
type RoomID uint64

func (id *RoomID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = 0
		return nil
	}
	s := string(b)
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("roomId %q is not a positive integer", s)
	}
	*id = RoomID(n)
	return nil
}

func (id RoomID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id RoomID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Command is a decoded client frame. For send_message, a non-zero ID marks
// an already persisted message whose delivery is being requested; otherwise
// Content is persisted as a new message.
type Command struct {
	Type    string `json:"type"`
	RoomID  RoomID `json:"roomId"`
	Content string `json:"content,omitempty"`
	ID      uint64 `json:"id,omitempty"`
}

func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	switch cmd.Type {
	case TypeJoinRoom, TypeLeaveRoom:
		if cmd.RoomID == 0 {
			return cmd, fmt.Errorf("%w: roomId required", ErrBadFrame)
		}
	case TypeSendMessage:
		if cmd.RoomID == 0 {
			return cmd, fmt.Errorf("%w: roomId required", ErrBadFrame)
		}
		if cmd.ID == 0 {
			if err := chat.ValidateContent(cmd.Content); err != nil {
				return cmd, err
			}
		}
	case TypePing:
	case "":
		return cmd, fmt.Errorf("%w: type required", ErrBadFrame)
	default:
		return cmd, fmt.Errorf("%w: unknown type %q", ErrBadFrame, cmd.Type)
	}
	return cmd, nil
}

type ReceiveMessageEvent struct {
	Type string `json:"type"`
	chat.MessageView
}

func NewReceiveMessage(m chat.Message) ReceiveMessageEvent {
	return ReceiveMessageEvent{Type: TypeReceiveMessage, MessageView: m.View()}
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	// Ref echoes the command type that failed.
	Ref string `json:"ref,omitempty"`
}

func NewErrorEvent(ref string, err error) ErrorEvent {
	code, msg := errorCode(err)
	return ErrorEvent{Type: TypeError, Code: code, Message: msg, Ref: ref}
}

type PongEvent struct {
	Type string `json:"type"`
}
