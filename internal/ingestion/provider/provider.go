// Package provider collects data from the upstream stats API and persists it.
package provider

import (
	"context"
	"errors"
)

// Provider pulls data from the upstream source into local tables. Each call
// returns the number of rows written.
type Provider interface {
	CollectDay(ctx context.Context, date string) (int, error)
	CollectPlayers(ctx context.Context, season int) (int, error)
	CollectSeasonStats(ctx context.Context, season int) (int, error)
}

// ErrUpstreamUnavailable reports a non-2xx or unreachable upstream.
var ErrUpstreamUnavailable = errors.New("upstream_unavailable")
