package graph

import "errors"

var (
	ErrEmptySpec      = errors.New("spec has no stages")
	ErrUnnamedStage   = errors.New("stage name is required")
	ErrDuplicateStage = errors.New("duplicate stage name")
	ErrUnknownParent  = errors.New("unknown parent stage")
	ErrCycle          = errors.New("cycle in parent chain")
)
