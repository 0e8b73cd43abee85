package peerio

import (
	"github.com/james-lawrence/peerio/internal/errorsx"
)

const (
	ErrClosed            = errorsx.String("peer connection closed")
	ErrReconnectIncoming = errorsx.String("reconnect is only supported for outgoing connections")
)
