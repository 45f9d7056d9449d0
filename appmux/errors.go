package appmux

import "errors"

// ErrUnknownApp is returned when a frame's app_ident has no registered
// Factory.
var ErrUnknownApp = errors.New("appmux: unknown app_ident")
