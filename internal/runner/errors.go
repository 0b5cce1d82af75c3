package runner

import "errors"

var (
	ErrRuntime       = errors.New("runtime error")
	ErrCommandFailed = errors.New("stage command failed")
)
