package fingerprint

import "errors"

var (
	ErrUnreadableInput = errors.New("unreadable input")
)
