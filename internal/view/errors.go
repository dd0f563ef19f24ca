package view

import "errors"

var (
	ErrNoResult       = errors.New("view: definition has no \"result\" key and is not itself a template value")
	ErrNotSingleKey   = errors.New("view: transform step must be a single-key map")
	ErrUnknownStep    = errors.New("view: transform step has an unrecognized kind")
	ErrTransformShape = errors.New("view: \"transform\" must be an array of steps")
)
