package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// LockPair takes a session advisory lock on a (company, category) pair and
// holds a pooled connection until unlock is called. Every process sharing
// the database contends for the same lock.
func (s *Store) LockPair(ctx context.Context, company, category string) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for pair lock: %w", err)
	}

	if _, err := conn.Exec(ctx,
		"SELECT pg_advisory_lock(hashtext($1), hashtext($2))", company, category); err != nil {
		conn.Release()
		return nil, fmt.Errorf("locking %s/%s: %w", company, category, err)
	}

	return func() {
		_, err := conn.Exec(context.Background(),
			"SELECT pg_advisory_unlock(hashtext($1), hashtext($2))", company, category)
		if err != nil {
			// A session that may still hold the lock must not go back to the pool.
			s.log.Warn("releasing pair lock failed, dropping connection",
				zap.String("company", company), zap.String("category", category), zap.Error(err))
			_ = conn.Conn().Close(context.Background())
		}
		conn.Release()
	}, nil
}
