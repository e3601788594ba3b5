package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump is the log-only view of an error: its chain plus, when the store
// rejected the statement, the SQLSTATE details and what that means for a
// settlement write.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGColumn     string `json:"pg_column,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`
	StoreClass   string `json:"store_class,omitempty"`
}

var storeClasses = map[string]string{
	"23505": "duplicate_reference",
	"23514": "check_violation",
	"23503": "missing_parent",
	"40001": "serialization_failure",
	"40P01": "deadlock",
	"55P03": "lock_not_available",
	"57014": "statement_timeout",
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	if errors.As(err, &pgErr) {
		d.PGCode, d.PGConstraint, d.PGTable = pgErr.Code, pgErr.ConstraintName, pgErr.TableName
		d.PGColumn, d.PGDetail, d.PGMessage = pgErr.ColumnName, pgErr.Detail, pgErr.Message
	} else if errors.As(err, &pqErr) {
		d.PGCode, d.PGConstraint, d.PGTable = string(pqErr.Code), pqErr.Constraint, pqErr.Table
		d.PGColumn, d.PGDetail, d.PGMessage = pqErr.Column, pqErr.Detail, pqErr.Message
	}
	d.StoreClass = storeClasses[d.PGCode]
	return d
}
