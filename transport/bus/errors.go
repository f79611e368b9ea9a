package bus

import "errors"

var (
	ErrClosed              = errors.New("bus endpoint closed")
	ErrTabInUse            = errors.New("tab already has a content endpoint")
	ErrUnsupportedLocation = errors.New("location cannot attach to the bus")
)
