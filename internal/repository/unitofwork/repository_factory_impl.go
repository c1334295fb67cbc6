package unitofwork

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type repositoryFactory struct {
	db *gorm.DB
}

func NewRepositoryFactory(db *gorm.DB) RepositoryFactory {
	return &repositoryFactory{db: db}
}

// NewUnitOfWork returns a unit bound to the shared pool. Reads work without Begin.
func (f *repositoryFactory) NewUnitOfWork(ctx context.Context) UnitOfWork {
	return NewUnitOfWork(f.db)
}

func (f *repositoryFactory) Transaction(ctx context.Context, fn func(uow UnitOfWork) error) error {
	return RunTransaction(ctx, f.NewUnitOfWork(ctx), fn)
}

// RunTransaction drives Begin, fn and Commit on uow, rolling back on any failure.
func RunTransaction(ctx context.Context, uow UnitOfWork, fn func(uow UnitOfWork) error) error {
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := fn(uow); err != nil {
		return err
	}
	return uow.Commit()
}
