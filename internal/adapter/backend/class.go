package backend

import (
	"context"

	"github.com/houya/fqsocks/internal/core/ports"
)

// ClassFunc adapts a plain refresh function to ports.BackendClass, since
// most of this package's adapters have no bulk refresh step beyond what
// the background health scheduler already does per-instance.
type ClassFunc func(ctx context.Context, instances []ports.Backend) bool

func (f ClassFunc) Refresh(ctx context.Context, instances []ports.Backend) bool {
	return f(ctx, instances)
}
