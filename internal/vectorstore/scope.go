package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// Metadata keys the stores reserve for scoping.
const (
	MetaDaemonPubkey = "daemon_pubkey"
	MetaChannelID    = "channel_id"
)

var (
	// ErrMissingScope is returned when no scope is present in context.
	// Operations fail closed rather than touching unscoped data.
	ErrMissingScope = errors.New("daemon scope required in context")

	// ErrScopeOverride is returned when caller filters or metadata try to set
	// a reserved scope key to a different value.
	ErrScopeOverride = errors.New("scope keys cannot be overridden")
)

// Scope identifies whose documents an operation may see.
type Scope struct {
	DaemonPubkey string
	// ChannelID narrows queries to one channel. Empty means every channel of the daemon.
	ChannelID string
}

// Validate reports whether the scope can be used.
func (s Scope) Validate() error {
	if s.DaemonPubkey == "" {
		return fmt.Errorf("%w: daemon pubkey is empty", ErrMissingScope)
	}
	return nil
}

type scopeKey struct{}

// ContextWithScope attaches s to ctx.
func ContextWithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext extracts the scope, failing closed when absent or invalid.
func ScopeFromContext(ctx context.Context) (Scope, error) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	if !ok {
		return Scope{}, ErrMissingScope
	}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}

// scopedFilter merges the scope into filters. Callers cannot widen the scope.
func scopedFilter(ctx context.Context, filters map[string]interface{}) (map[string]interface{}, error) {
	s, err := ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(filters)+2)
	for k, v := range filters {
		out[k] = v
	}
	if err := setReserved(out, MetaDaemonPubkey, s.DaemonPubkey); err != nil {
		return nil, err
	}
	if s.ChannelID != "" {
		if err := setReserved(out, MetaChannelID, s.ChannelID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// scopedMetadata tags every document with the scope. Documents are copied.
func scopedMetadata(ctx context.Context, docs []Document) ([]Document, error) {
	s, err := ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Document, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return nil, fmt.Errorf("%w: document at index %d", ErrMissingID, i)
		}
		meta := make(map[string]interface{}, len(doc.Metadata)+2)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		if err := setReserved(meta, MetaDaemonPubkey, s.DaemonPubkey); err != nil {
			return nil, err
		}
		if err := setReserved(meta, MetaChannelID, s.ChannelID); err != nil {
			return nil, err
		}
		doc.Metadata = meta
		out[i] = doc
	}
	return out, nil
}

func setReserved(m map[string]interface{}, key, value string) error {
	if existing, ok := m[key]; ok && existing != value {
		return fmt.Errorf("%w: %s", ErrScopeOverride, key)
	}
	m[key] = value
	return nil
}
