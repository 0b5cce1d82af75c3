package pipeline

import "errors"

var (
	ErrRunner = errors.New("stage runner failed")
	ErrBuild  = errors.New("build failed")
)
