package cache

import "errors"

var (
	ErrMiss      = errors.New("cache miss")
	ErrCorrupted = errors.New("cache corrupted")
)
