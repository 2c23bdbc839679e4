package app

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrUnsupportedType  = errors.New("unsupported content type")
	ErrChunkOutOfRange  = errors.New("chunk index out of range")
	ErrChunkMismatch    = errors.New("chunk length does not match recorded length")
	ErrIncomplete       = errors.New("upload session incomplete")
	ErrAlreadyFinalized = errors.New("upload session already finalized")
	ErrExpired          = errors.New("upload session expired")
	ErrJobTerminal      = errors.New("job already terminal")
)
