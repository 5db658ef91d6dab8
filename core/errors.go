package core

import "errors"

var (
	ErrUnsupportedBackend = errors.New("unsupported audio backend")
	ErrNoInputs           = errors.New("no input paths")
	ErrNoOutput           = errors.New("offline rendering needs an output path")
	ErrSeekUnsupported    = errors.New("seek not supported")
	ErrRateChange         = errors.New("playback rate can only change on a single-input session")
	ErrNoSuppressor       = errors.New("no adjustable noise suppressor configured")
)
