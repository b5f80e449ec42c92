package logging

import (
	"regexp"
)

// MaxSQLLogLength caps generated SQL in log lines; full statements live in
// the query trace, not the logs.
const MaxSQLLogLength = 200

// Redacted replaces secret material in logged strings.
const Redacted = "[REDACTED]"

var (
	// password=..., pwd=..., pass=... in DSNs and error text.
	dsnPasswordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host credentials embedded in connection URLs.
	dsnCredsPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`)

	// Provider API keys: sk-..., bearer tokens and key=... query params.
	apiKeyPattern = regexp.MustCompile(`(?i)\b(sk-[A-Za-z0-9-_]{16,}|bearer\s+[A-Za-z0-9-_.]+|(api[_-]?key|apikey)=[A-Za-z0-9-_]{12,})`)
)

// DSN scrubs credentials from a connection string before logging.
func DSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	out := dsnPasswordPattern.ReplaceAllString(dsn, "${1}="+Redacted)
	return dsnCredsPattern.ReplaceAllString(out, "://"+Redacted+"@")
}

// Err scrubs secrets from an error's text. Database drivers echo the DSN in
// connection failures; providers echo the key in auth failures.
func Err(err error) string {
	if err == nil {
		return ""
	}
	out := dsnPasswordPattern.ReplaceAllString(err.Error(), "${1}="+Redacted)
	out = apiKeyPattern.ReplaceAllString(out, Redacted)
	return dsnCredsPattern.ReplaceAllString(out, "://"+Redacted+"@")
}

// SQL truncates a generated statement for log lines.
func SQL(sql string) string {
	if len(sql) <= MaxSQLLogLength {
		return sql
	}
	return sql[:MaxSQLLogLength] + "..."
}
