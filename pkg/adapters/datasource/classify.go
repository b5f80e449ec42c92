package datasource

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/VividCortex/mysqlerr"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sqlsage-io/sqlsage-engine/pkg/apperrors"
)

var oraCodePattern = regexp.MustCompile(`ORA-(\d{5})`)

// ClassifyError maps a driver error onto the engine taxonomy. Adapters call
// this on every failed execute so upstream never sees raw driver errors.
func ClassifyError(d Dialect, err error) *apperrors.Error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.New(apperrors.KindTimeout, "query timed out", true, err)
	}
	if errors.Is(err, context.Canceled) {
		return apperrors.New(apperrors.KindCancelled, "query cancelled", false, err)
	}

	switch d {
	case DialectPostgres:
		return classifyPostgres(err)
	case DialectMySQL:
		return classifyMySQL(err)
	case DialectOracle:
		return classifyOracle(err)
	case DialectSQLite:
		return classifySQLite(err)
	}
	return classifyByMessage(err)
}

// classifyPostgres uses SQLSTATE classes from the pgx driver.
func classifyPostgres(err error) *apperrors.Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "28P01" || pgErr.Code == "28000":
			return apperrors.New(apperrors.KindAuth, pgErr.Message, false, err)
		case pgErr.Code == "42501":
			return apperrors.New(apperrors.KindPermission, pgErr.Message, false, err)
		case pgErr.Code == "42P01" || pgErr.Code == "42703" || pgErr.Code == "3F000":
			// undefined_table, undefined_column, invalid_schema_name
			return apperrors.New(apperrors.KindObjectNotFound, pgErr.Message, true, err)
		case pgErr.Code == "42883" || pgErr.Code == "42804" || strings.HasPrefix(pgErr.Code, "22"):
			// undefined_function (operator type mismatch), datatype_mismatch,
			// data exceptions
			return apperrors.New(apperrors.KindTypeMismatch, pgErr.Message, true, err)
		case strings.HasPrefix(pgErr.Code, "42"):
			return apperrors.New(apperrors.KindSyntax, pgErr.Message, true, err)
		case strings.HasPrefix(pgErr.Code, "08"):
			return apperrors.New(apperrors.KindConnection, pgErr.Message, true, err)
		case pgErr.Code == "53100" || pgErr.Code == "53200" || pgErr.Code == "53400":
			return apperrors.New(apperrors.KindResultTooLarge, pgErr.Message, false, err)
		}
		return apperrors.New(apperrors.KindOther, pgErr.Message, true, err)
	}
	return classifyByMessage(err)
}

// classifyMySQL uses server error numbers from the mysql driver.
func classifyMySQL(err error) *apperrors.Error {
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlerr.ER_ACCESS_DENIED_ERROR, mysqlerr.ER_DBACCESS_DENIED_ERROR:
			return apperrors.New(apperrors.KindAuth, myErr.Message, false, err)
		case mysqlerr.ER_TABLEACCESS_DENIED_ERROR, mysqlerr.ER_COLUMNACCESS_DENIED_ERROR,
			mysqlerr.ER_SPECIFIC_ACCESS_DENIED_ERROR:
			return apperrors.New(apperrors.KindPermission, myErr.Message, false, err)
		case mysqlerr.ER_NO_SUCH_TABLE, mysqlerr.ER_BAD_TABLE_ERROR,
			mysqlerr.ER_BAD_FIELD_ERROR, mysqlerr.ER_BAD_DB_ERROR,
			mysqlerr.ER_UNKNOWN_TABLE:
			return apperrors.New(apperrors.KindObjectNotFound, myErr.Message, true, err)
		case mysqlerr.ER_TRUNCATED_WRONG_VALUE, mysqlerr.ER_WRONG_VALUE,
			mysqlerr.ER_ILLEGAL_VALUE_FOR_TYPE:
			return apperrors.New(apperrors.KindTypeMismatch, myErr.Message, true, err)
		case mysqlerr.ER_PARSE_ERROR, mysqlerr.ER_SYNTAX_ERROR:
			return apperrors.New(apperrors.KindSyntax, myErr.Message, true, err)
		case mysqlerr.ER_TOO_BIG_SELECT:
			return apperrors.New(apperrors.KindResultTooLarge, myErr.Message, false, err)
		}
		return apperrors.New(apperrors.KindOther, myErr.Message, true, err)
	}
	return classifyByMessage(err)
}

// classifyOracle matches ORA- codes from the error text; the go-ora driver
// does not expose a structured code field for every path.
func classifyOracle(err error) *apperrors.Error {
	msg := err.Error()
	m := oraCodePattern.FindStringSubmatch(msg)
	if m != nil {
		switch m[1] {
		case "01017": // invalid username/password
			return apperrors.New(apperrors.KindAuth, msg, false, err)
		case "01031", "01045": // insufficient privileges
			return apperrors.New(apperrors.KindPermission, msg, false, err)
		case "00942", "00904", "01435": // table/view, column, schema not found
			return apperrors.New(apperrors.KindObjectNotFound, msg, true, err)
		case "01722", "00932", "01858": // invalid number, inconsistent datatypes
			return apperrors.New(apperrors.KindTypeMismatch, msg, true, err)
		case "00900", "00907", "00933", "00936": // syntax family
			return apperrors.New(apperrors.KindSyntax, msg, true, err)
		case "12154", "12541", "12514": // TNS resolution and listener
			return apperrors.New(apperrors.KindConnection, msg, true, err)
		}
		return apperrors.New(apperrors.KindOther, msg, true, err)
	}
	return classifyByMessage(err)
}

// classifySQLite relies on message text; the pure-Go driver surfaces string
// errors for most failure modes.
func classifySQLite(err error) *apperrors.Error {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "no such table"), strings.Contains(lower, "no such column"):
		return apperrors.New(apperrors.KindObjectNotFound, msg, true, err)
	case strings.Contains(lower, "syntax error"):
		return apperrors.New(apperrors.KindSyntax, msg, true, err)
	case strings.Contains(lower, "datatype mismatch"):
		return apperrors.New(apperrors.KindTypeMismatch, msg, true, err)
	case strings.Contains(lower, "unable to open database"), strings.Contains(lower, "database is locked"):
		return apperrors.New(apperrors.KindConnection, msg, true, err)
	case strings.Contains(lower, "readonly database"), strings.Contains(lower, "access"):
		return apperrors.New(apperrors.KindPermission, msg, false, err)
	}
	return classifyByMessage(err)
}

// classifyByMessage is the dialect-agnostic fallback.
func classifyByMessage(err error) *apperrors.Error {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such host"),
		strings.Contains(lower, "connection reset"):
		return apperrors.New(apperrors.KindConnection, err.Error(), true, err)
	case strings.Contains(lower, "authentication"), strings.Contains(lower, "password"):
		return apperrors.New(apperrors.KindAuth, err.Error(), false, err)
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "denied"):
		return apperrors.New(apperrors.KindPermission, err.Error(), false, err)
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		return apperrors.New(apperrors.KindTimeout, err.Error(), true, err)
	case strings.Contains(lower, "syntax"):
		return apperrors.New(apperrors.KindSyntax, err.Error(), true, err)
	case strings.Contains(lower, "does not exist"), strings.Contains(lower, "not found"),
		strings.Contains(lower, "unknown column"), strings.Contains(lower, "no such"):
		return apperrors.New(apperrors.KindObjectNotFound, err.Error(), true, err)
	}
	return apperrors.New(apperrors.KindOther, err.Error(), true, err)
}
