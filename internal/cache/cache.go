package cache

import (
	"context"
	"time"

	"kasirponsel/backend/internal/domain"
)

// StatementCache keeps short-lived debtor statements. Invalidate is called on
// every write that can change a debtor's outstanding balance.
type StatementCache interface {
	Get(ctx context.Context, key string) (*domain.DebtorStatement, bool, error)
	Set(ctx context.Context, key string, value *domain.DebtorStatement, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopStatementCache struct{}

func (NoopStatementCache) Get(_ context.Context, _ string) (*domain.DebtorStatement, bool, error) {
	return nil, false, nil
}

func (NoopStatementCache) Set(_ context.Context, _ string, _ *domain.DebtorStatement, _ time.Duration) error {
	return nil
}

func (NoopStatementCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
