package realtime

import (
	"errors"
	"fmt"

	"github.com/suPer8Hu/roomchat/internal/auth"
	"github.com/suPer8Hu/roomchat/internal/chat"
)

var (
	// ErrTransport covers delivery failures local to one session.
	ErrTransport     = errors.New("transport error")
	ErrSlowConsumer  = fmt.Errorf("%w: send buffer full", ErrTransport)
	ErrSessionClosed = fmt.Errorf("%w: session closed", ErrTransport)

	ErrIllegalState = errors.New("illegal session state")

	ErrBadFrame  = fmt.Errorf("%w: malformed frame", chat.ErrValidation)
	ErrWrongRoom = fmt.Errorf("%w: message belongs to another room", chat.ErrValidation)
	ErrNotAuthor = fmt.Errorf("%w: only the author may trigger delivery", chat.ErrValidation)

	errNotMember = errors.New("session is not a member of the room")
)

const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeIllegalState = "ILLEGAL_STATE"
	CodeInternal     = "INTERNAL_ERROR"
)

// errorCode maps an error to the code sent in an error frame and a message
// safe to show the client.
func errorCode(err error) (string, string) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return CodeBadRequest, err.Error()
	case errors.Is(err, chat.ErrNotFound):
		return CodeNotFound, err.Error()
	case errors.Is(err, auth.ErrUnauthenticated):
		return CodeUnauthorized, "unauthorized"
	case errors.Is(err, ErrIllegalState):
		return CodeIllegalState, err.Error()
	default:
		return CodeInternal, "internal error"
	}
}
