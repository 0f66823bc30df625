// Package coalesce deduplicates concurrent fetches for the same key so a
// burst of identical requests costs one upstream call.
package coalesce

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group collapses concurrent Do calls sharing a key into a single execution
// of fn. Every caller receives the same result; the entry is forgotten once
// it settles, so a later call triggers a fresh fetch.
type Group[T any] struct {
	sf singleflight.Group
}

// Do executes fn once per in-flight key. shared reports whether the result
// was produced by another caller's execution.
//
// fn runs detached from the initiating caller's context: a caller that
// cancels stops waiting, while the flight keeps serving the remaining
// waiters.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (value T, shared bool, err error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (any, error) {
		return fn(flightCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return value, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	case <-ctx.Done():
		return value, false, ctx.Err()
	}
}
