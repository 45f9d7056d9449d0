package gateway

import "errors"

var (
	errNotLoginFrame = errors.New("gateway: first frame is not a login frame")
	errEmptyClientID = errors.New("gateway: login frame carried an empty client_id")
)
