package repositories

import (
	"errors"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUserNotFound               = errors.New("user not found")
	ErrPaymentNotFound            = errors.New("payment not found")
	ErrGatewayTransactionNotFound = errors.New("gateway transaction not found")
	ErrDuplicateKey               = errors.New("duplicate key")
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
)

// IsDuplicateKeyError reports whether err is a unique constraint
// violation from either the postgres or the sqlite driver.
func IsDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return errors.Is(err, ErrDuplicateKey)
}
