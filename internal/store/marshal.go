package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/disburse/internal/domain"
)

// Columns are written as text on both dialects: dates as YYYY-MM-DD,
// timestamps as RFC 3339 UTC and money as exact decimal strings. PostgreSQL
// parses the text into DATE, TIMESTAMPTZ and NUMERIC.

func formatDate(t time.Time) string {
	return t.Format(domain.DateLayout)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// dateColumn scans a DATE (PostgreSQL) or YYYY-MM-DD text (SQLite) column.
type dateColumn struct {
	t *time.Time
}

func (c dateColumn) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*c.t = time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC)
		return nil
	case string:
		return c.parse(v)
	case []byte:
		return c.parse(string(v))
	default:
		return fmt.Errorf("scan date: unsupported type %T", src)
	}
}

func (c dateColumn) parse(s string) error {
	if len(s) > len(domain.DateLayout) {
		s = s[:len(domain.DateLayout)]
	}
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return fmt.Errorf("scan date: %w", err)
	}
	*c.t = t
	return nil
}

// timeColumn scans a nullable TIMESTAMPTZ (PostgreSQL) or RFC 3339 text
// (SQLite) column. NULL leaves the pointer nil.
type timeColumn struct {
	t **time.Time
}

func (c timeColumn) Scan(src any) error {
	var parsed time.Time
	switch v := src.(type) {
	case nil:
		*c.t = nil
		return nil
	case time.Time:
		parsed = v.UTC()
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return fmt.Errorf("scan timestamp: %w", err)
		}
		parsed = t.UTC()
	case []byte:
		t, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil {
			return fmt.Errorf("scan timestamp: %w", err)
		}
		parsed = t.UTC()
	default:
		return fmt.Errorf("scan timestamp: unsupported type %T", src)
	}
	*c.t = &parsed
	return nil
}

// requiredTime scans a NOT NULL timestamp column.
type requiredTime struct {
	t *time.Time
}

func (c requiredTime) Scan(src any) error {
	var p *time.Time
	if err := (timeColumn{t: &p}).Scan(src); err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("scan timestamp: unexpected NULL")
	}
	*c.t = *p
	return nil
}

// FormatTime renders a timestamp the way every timestamp column stores it.
func FormatTime(t time.Time) string {
	return formatTime(t)
}

// ScanTime returns a scanner for a NOT NULL timestamp column, for packages
// that keep their own tables in this database.
func ScanTime(dst *time.Time) sql.Scanner {
	return requiredTime{t: dst}
}

// ScanNullTime returns a scanner for a nullable timestamp column.
func ScanNullTime(dst **time.Time) sql.Scanner {
	return timeColumn{t: dst}
}
