package vetcache

import "errors"

var (
	ErrInstallFailed  = errors.New("install failed")
	ErrNotWaiting     = errors.New("no installed worker waiting to activate")
	ErrClosed         = errors.New("worker closed")
	ErrUnknownMessage = errors.New("unknown message type")
	ErrNoOrigin       = errors.New("server.origin is required")
)
