package chanq

import "errors"

var (
	// Configuration errors. Raised eagerly, caller-fixable, never retried.
	ErrInvalidChannel      = errors.New("chanq: invalid channel name")
	ErrNoBackend           = errors.New("chanq: no backend configured")
	ErrNoHandler           = errors.New("chanq: nil handler")
	ErrBlockingUnsupported = errors.New("chanq: backend does not support blocking listeners")
	ErrAsyncUnsupported    = errors.New("chanq: backend does not support cooperative consumers")

	// Lifecycle errors.
	ErrChannelClosed = errors.New("chanq: channel closed")
)
