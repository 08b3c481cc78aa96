package httpapi

import (
	"context"
	"net/http"
	"time"
)

// shutdownCtx is canceled when the server shuts down. Waiting handlers stop
// on it so Shutdown does not hang on a long generation.
var shutdownCtx = context.Background()

// SetBaseContext sets the shutdown context; nil resets it to Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	shutdownCtx = ctx
}

// waitContext bounds POST /generate?wait=1: it ends with the request, on
// shutdown, or after waitTimeout seconds when set.
func waitContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(shutdownCtx, cancel)
	if waitTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, time.Duration(waitTimeout)*time.Second)
		return ctx, func() { tcancel(); stop(); cancel() }
	}
	return ctx, func() { stop(); cancel() }
}
