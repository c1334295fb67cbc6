package unitofwork

import "context"

type RepositoryFactory interface {
	NewUnitOfWork(ctx context.Context) UnitOfWork
	// Transaction runs fn inside one committed unit. Any error from fn rolls it back.
	Transaction(ctx context.Context, fn func(uow UnitOfWork) error) error
}
