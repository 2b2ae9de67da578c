package store

import (
	"context"
	"slices"
	"strings"

	"github.com/tinywall/procman/pkg/types"
)

// EventStore persists process events.
type EventStore interface {
	AppendEvent(ctx context.Context, ev types.Event) error
	QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error)
	Close() error
}

// Matches reports whether ev satisfies the filters of q. Limit, Offset and
// ordering are left to the caller.
func Matches(ev types.Event, q types.EventQuery) bool {
	if len(q.Types) > 0 && !slices.Contains(q.Types, ev.Type) {
		return false
	}
	if q.PID != 0 && ev.PID != q.PID {
		return false
	}
	if q.Since != nil && ev.Timestamp.Before(*q.Since) {
		return false
	}
	if q.Until != nil && ev.Timestamp.After(*q.Until) {
		return false
	}
	if q.ExeLike != "" && !strings.Contains(strings.ToLower(ev.ExeFile), strings.ToLower(q.ExeLike)) {
		return false
	}
	return true
}
