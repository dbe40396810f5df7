package feed

import "errors"

var (
	ErrBadConfig      = errors.New("feed: invalid session configuration")
	ErrConnect        = errors.New("feed: unable to connect")
	ErrClosed         = errors.New("feed: session closed")
	ErrBadCorrelation = errors.New("feed: malformed correlation id")
)
