package store

import (
	"context"
	"fmt"
	"hash/fnv"
)

// lockKey maps a job name onto the int64 keyspace Postgres advisory locks use.
func lockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// AcquireJobLock takes a session-scoped advisory lock keyed by name so that
// only one scheduler process runs a given job at a time. When acquired it
// returns a release function that must be called when the job finishes; when
// another session holds the lock it returns acquired=false.
func (s *Store) AcquireJobLock(ctx context.Context, name string) (release func(), acquired bool, err error) {
	// Advisory locks are bound to the session, so the lock and unlock must
	// run on the same pinned connection.
	conn, err := s.db.Connx(ctx)
	if err != nil {
		s.logger.Error(ctx, "failed to acquire connection for job lock", err)
		return nil, false, fmt.Errorf("failed to acquire connection for job lock: %w", err)
	}

	key := lockKey(name)

	var locked bool
	if err := conn.GetContext(ctx, &locked, "SELECT pg_try_advisory_lock($1)", key); err != nil {
		conn.Close()
		s.logger.Error(ctx, "failed to acquire job lock", err)
		return nil, false, fmt.Errorf("failed to acquire job lock: %w", err)
	}

	if !locked {
		conn.Close()
		return nil, false, nil
	}

	release = func() {
		// Unlock with a fresh context: the job's context may already be done.
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", key); err != nil {
			s.logger.Error(context.Background(), "failed to release job lock", err)
		}
		conn.Close()
	}
	return release, true, nil
}
