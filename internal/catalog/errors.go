package catalog

import "errors"

var (
	ErrEmptyCatalog     = errors.New("catalog has no features")
	ErrCorrupt          = errors.New("catalog file is corrupt")
	ErrUnknownPage      = errors.New("unknown page")
	ErrDuplicatePage    = errors.New("duplicate page")
	ErrDimMismatch      = errors.New("descriptor dimension mismatch")
	ErrInvalidPolarity  = errors.New("invalid polarity")
	ErrUnsupportedDim   = errors.New("descriptor dimension not supported by format")
	ErrUnsupportedFile  = errors.New("unsupported catalog file version")
	ErrInvalidDimension = errors.New("descriptor dimension must be positive")
)
