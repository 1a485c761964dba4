package types

import (
	"context"
)

// Closer is implemented by everything that holds resources until
// explicitly closed: sessions, implementation contexts, sinks.
type Closer interface {
	Close(context.Context) error
}
