package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"

	"dotproj/api/internal/auth"
	"dotproj/api/internal/filestore"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func invalidInput(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_INPUT", message, details)
}

var (
	errInviteExpired       = domainError(http.StatusBadRequest, "INVITE_EXPIRED", "Invite has expired", nil)
	errInviteEmailMismatch = domainError(http.StatusForbidden, "INVITE_EMAIL_MISMATCH", "Invite was issued to another email address", nil)
	errAlreadyMember       = domainError(http.StatusConflict, "ALREADY_MEMBER", "User is already a member", nil)
	errFilesDisabled       = domainError(http.StatusServiceUnavailable, "FILES_DISABLED", "File storage is not configured", nil)
	errSearchDisabled      = domainError(http.StatusServiceUnavailable, "SEARCH_DISABLED", "Search is not configured", nil)
)

// Postgres error codes the API maps to client errors.
const (
	pgInsufficientPrivilege = "42501"
	pgUniqueViolation       = "23505"
	pgForeignKeyViolation   = "23503"
	pgInvalidText           = "22P02"
	pgCheckViolation        = "23514"
)

// mapError translates service and store errors into the JSON error shape.
// Row security rejections surface as not found so a caller cannot discover
// rows it is not allowed to see.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, filestore.ErrNotConfigured) {
		return errFilesDisabled.Status, errFilesDisabled.Code, errFilesDisabled.Message, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgInsufficientPrivilege:
			return http.StatusNotFound, "NOT_FOUND", "Not found", nil
		case pgUniqueViolation:
			return http.StatusConflict, "CONFLICT", "Resource already exists", map[string]any{"constraint": pgErr.ConstraintName}
		case pgForeignKeyViolation:
			return http.StatusBadRequest, "INVALID_REFERENCE", "Referenced resource does not exist", map[string]any{"constraint": pgErr.ConstraintName}
		case pgInvalidText:
			return http.StatusBadRequest, "INVALID_ID", "Malformed identifier", nil
		case pgCheckViolation:
			return http.StatusBadRequest, "INVALID_INPUT", "Value out of range", map[string]any{"constraint": pgErr.ConstraintName}
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
