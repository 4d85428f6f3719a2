package httpserver

import "errors"

// ErrNoSuchBridgeInstance is what bridge-adapter resolvers return when the
// path's instance id does not map to an active bridge instance.
var ErrNoSuchBridgeInstance = errors.New("no such bridge instance")

const (
	ErrInvalidSignature = "invalid signature"
	ErrUnknownInstance  = "unknown instance"
	ErrDependency       = "dependency error"
	ErrBadBody          = "bad body"
)
