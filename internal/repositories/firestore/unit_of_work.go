package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/agrilink/api/internal/platform/firestore"
	"github.com/agrilink/api/internal/repositories"
)

// UnitOfWork groups repository operations inside a single Firestore
// transaction so multi-document writes either all apply or none do.
type UnitOfWork struct {
	provider *pfirestore.Provider
}

var _ repositories.UnitOfWork = (*UnitOfWork)(nil)

// NewUnitOfWork constructs a transaction boundary backed by the shared provider.
func NewUnitOfWork(provider *pfirestore.Provider) (*UnitOfWork, error) {
	if provider == nil {
		return nil, errors.New("unit of work requires firestore provider")
	}
	return &UnitOfWork{provider: provider}, nil
}

// RunInTx executes fn within a Firestore transaction. The context handed to
// fn carries the open transaction, so repository calls made through it read
// and write transactionally. The function may be retried on contention, so it
// must be safe to invoke more than once. Firestore requires all reads to
// happen before the first buffered write.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.provider == nil {
		return errors.New("unit of work not initialised")
	}
	if fn == nil {
		return errors.New("unit of work requires a function")
	}
	return u.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}
