package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"certgen-cloud/internal/certificates/application"
	"certgen-cloud/internal/eventing"
	eventstore "certgen-cloud/internal/eventing/infrastructure/postgres"
)

// Stores returns repositories bound to db. events may be nil for read paths.
func Stores(db DBTX, events application.EventPublisher) application.Stores {
	return application.Stores{
		Certificates: NewCertificateRepository(db),
		Rows:         NewRowRepository(db),
		DataSets:     NewDataSetRepository(db),
		Emails:       NewEmailRepository(db),
		Events:       events,
	}
}

// UnitOfWork runs each function in one database transaction. Events are
// written to the outbox inside that transaction and dispatched after commit.
type UnitOfWork struct {
	db         *sql.DB
	dispatcher *eventing.Dispatcher
	logger     *slog.Logger
}

// NewUnitOfWork constructs a unit of work. dispatcher may be nil, in which
// case the background dispatcher loop delivers the outbox.
func NewUnitOfWork(db *sql.DB, dispatcher *eventing.Dispatcher, logger *slog.Logger) *UnitOfWork {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnitOfWork{db: db, dispatcher: dispatcher, logger: logger}
}

// Do implements application.UnitOfWork.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, s application.Stores) error) error {
	if u == nil || u.db == nil {
		return errors.New("unit of work: nil db")
	}
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unit of work: begin: %w", err)
	}
	outbox := eventstore.NewOutboxStore(tx)
	if err := fn(ctx, Stores(tx, eventing.NewPublisher(outbox, nil))); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			u.logger.Warn("unit of work rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unit of work: commit: %w", err)
	}
	if u.dispatcher != nil {
		if _, err := u.dispatcher.Dispatch(ctx, 0); err != nil {
			u.logger.Warn("post-commit dispatch failed", "error", err)
		}
	}
	return nil
}
