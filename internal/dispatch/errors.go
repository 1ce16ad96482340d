package dispatch

import "errors"

var (
	ErrUnknownEvent     = errors.New("unknown event")
	ErrMalformedPayload = errors.New("malformed event payload")
)
