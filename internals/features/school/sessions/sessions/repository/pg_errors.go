// file: internals/features/school/sessions/sessions/repository/pg_errors.go
package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"schoolops_backend/internals/features/school/sessions/sessions/service"
)

// mapError translates gorm/pgx errors into the service sentinels, keeping the original in the chain.
//
//	23505 unique_violation      -> ErrUniqueViolation
//	57014 query_canceled        -> ErrStoreUnavailable (statement_timeout)
//	08xxx connection exception  -> ErrStoreUnavailable
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", service.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %s: %w", service.ErrUniqueViolation, pgErr.ConstraintName, err)
		case pgErr.Code == "57014", strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: %w", service.ErrStoreUnavailable, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", service.ErrStoreUnavailable, err)
	}
	return err
}

// affected turns a zero-row write into ErrNotFound.
func affected(tx *gorm.DB) error {
	if tx.Error != nil {
		return mapError(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return service.ErrNotFound
	}
	return nil
}
