// Package cache holds the offline-shell cache: versioned buckets of stored
// responses plus the pure routing policy that decides how a request is
// served. The I/O side (network fetch, response writing) lives in the
// gateway; everything here is deterministic and testable in isolation.
package cache

import (
	"context"
	"net/http"
	"time"
)

// Entry is one stored response. Headers and body are copied at store time;
// entries are immutable once written.
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
}

// Store keeps request-key to Entry mappings grouped into named version
// buckets. Exactly one version is current at a time; Activate-style sweeps
// delete whole buckets, there is no per-entry eviction.
type Store interface {
	Get(ctx context.Context, version, key string) (Entry, bool, error)
	Put(ctx context.Context, version, key string, e Entry) error
	Versions(ctx context.Context) ([]string, error)
	DeleteVersion(ctx context.Context, version string) error
}

// Sweep deletes every bucket except the current version. It is the sole
// eviction mechanism.
func Sweep(ctx context.Context, s Store, current string) error {
	versions, err := s.Versions(ctx)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if v == current {
			continue
		}
		if err := s.DeleteVersion(ctx, v); err != nil {
			return err
		}
	}
	return nil
}
