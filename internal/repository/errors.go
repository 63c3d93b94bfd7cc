// Package repository implements the room and message stores on top of GORM.
package repository

import (
	"errors"
	"strings"

	"github.com/mstfsonmez/ghostly-backend/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// integrityViolationClass is the SQLSTATE class for constraint violations.
const integrityViolationClass = "23"

// classify turns a driver or GORM error into the application error taxonomy.
// Missing rows become NotFound, constraint violations InvalidState, and
// anything else TransientIO. Application errors pass through untouched.
func classify(err error, resource string, id interface{}) error {
	if err == nil {
		return nil
	}

	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, integrityViolationClass) {
		return &models.AppError{
			Code:    models.CodeInvalidState,
			Message: resource + " conflicts with existing data",
			Err:     err,
		}
	}

	return models.NewTransientError(err)
}
