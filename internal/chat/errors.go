package chat

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage error")
)

var (
	ErrEmptyContent    = fmt.Errorf("%w: content must not be empty", ErrValidation)
	ErrContentTooLong  = fmt.Errorf("%w: content too long", ErrValidation)
	ErrEmptyRoomName   = fmt.Errorf("%w: room name must not be empty", ErrValidation)
	ErrRoomNameTooLong = fmt.Errorf("%w: room name too long", ErrValidation)

	ErrRoomNotFound    = fmt.Errorf("room %w", ErrNotFound)
	ErrUserNotFound    = fmt.Errorf("user %w", ErrNotFound)
	ErrMessageNotFound = fmt.Errorf("message %w", ErrNotFound)
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
