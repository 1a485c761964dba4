package internal

import (
	"context"

	"github.com/xaionaro-go/avsession/logger"
)

// Assert panics (through the context logger) if an internal invariant is
// broken.
func Assert(
	ctx context.Context,
	mustBeTrue bool,
	extraArgs ...any,
) {
	if mustBeTrue {
		return
	}

	logger.Panic(ctx, append([]any{"assertion failed: "}, extraArgs...)...)
}
