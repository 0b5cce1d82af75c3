package specfile

import "errors"

var (
	ErrMalformed = errors.New("malformed spec file")
)
