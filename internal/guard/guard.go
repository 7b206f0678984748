// Package guard serialises access to a stateful engine and detects
// re-entry through the context passed to external collaborators.
package guard

import (
	"context"
	"sync"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

type ctxKey struct{ g *Guard }

// Guard is a mutex that refuses re-entry instead of deadlocking. Enter marks
// the returned context; any nested Enter with that context fails with
// domain.ErrReentrantCall.
type Guard struct {
	mu sync.Mutex
}

// Enter locks the guard. The returned release func must be called exactly
// once.
func (g *Guard) Enter(ctx context.Context) (context.Context, func(), error) {
	if Held(ctx, g) {
		return ctx, func() {}, domain.ErrReentrantCall
	}
	g.mu.Lock()
	return context.WithValue(ctx, ctxKey{g}, true), g.mu.Unlock, nil
}

// Held reports whether ctx was produced by g.Enter.
func Held(ctx context.Context, g *Guard) bool {
	held, _ := ctx.Value(ctxKey{g}).(bool)
	return held
}
