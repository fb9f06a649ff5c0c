package transport

import (
	"github.com/luma/bean/storage"
	"go.uber.org/zap"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free port (see TCP.Addr)
	Port int

	// Reuseport controls setting SO_REUSEPORT, which is required for more
	// than one listener.
	Reuseport bool

	// NumListeners defaults to the number of CPUs when Reuseport is set and
	// to 1 otherwise.
	NumListeners int

	// MaxJobSize bounds put bodies, defaults to storage.DefaultMaxJobSize.
	MaxJobSize int

	Store storage.Store

	Log *zap.Logger
}
