package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/xsync"
)

// writer is the buffered, close-once file/memory writer both sinks are
// built on.
type writer struct {
	locker   xsync.Mutex
	buffered *bufio.Writer
	closer   io.Closer
	isClosed bool
	counters types.Counters
}

func newWriter(w io.Writer) *writer {
	result := &writer{
		buffered: bufio.NewWriterSize(w, 1<<20),
	}
	if c, ok := w.(io.Closer); ok {
		result.closer = c
	}
	return result
}

func createFile(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, types.ErrIO{Op: fmt.Sprintf("create '%s'", path), Err: err}
	}
	return f, nil
}

func (w *writer) writeLocked(op string, b []byte) error {
	if w.isClosed {
		return types.ErrIO{Op: op, Err: fmt.Errorf("the sink is closed")}
	}
	if _, err := w.buffered.Write(b); err != nil {
		return types.ErrIO{Op: op, Err: err}
	}
	w.counters.IncrementIn(uint64(len(b)))
	return nil
}

func (w *writer) Flush(ctx context.Context) error {
	return xsync.DoR1(ctx, &w.locker, func() error {
		if w.isClosed {
			return nil
		}
		if err := w.buffered.Flush(); err != nil {
			return types.ErrIO{Op: "flush", Err: err}
		}
		return nil
	})
}

// Close flushes the buffered data and closes the underlying writer (if it
// is closable). Subsequent calls are no-ops.
func (w *writer) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()
	return xsync.DoR1(ctx, &w.locker, func() error {
		if w.isClosed {
			return nil
		}
		w.isClosed = true
		var result []error
		if err := w.buffered.Flush(); err != nil {
			result = append(result, types.ErrIO{Op: "flush", Err: err})
		}
		if w.closer != nil {
			if err := w.closer.Close(); err != nil {
				result = append(result, types.ErrIO{Op: "close", Err: err})
			}
		}
		if len(result) > 0 {
			return result[0]
		}
		return nil
	})
}

func (w *writer) Stats() types.Statistics {
	return w.counters.ToStats()
}
