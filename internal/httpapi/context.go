package httpapi

import (
	"context"
)

// serverBaseCtx is canceled when the process shuts down. Generations run
// under it as well as under their request.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level context; nil resets to Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts derives from req, keeping its values (request id, span), and
// is additionally canceled when base is done. The cancel func must be called.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
