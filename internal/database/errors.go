package database

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrUniqueViolation = errors.New("unique constraint violated")
	ErrNotNull         = errors.New("not null constraint failed")
	ErrCheckConstraint = errors.New("check constraint failed")
)

type ConstraintError struct {
	Type    string
	Table   string
	Column  string
	Message string
	Cause   error
}

func (e *ConstraintError) Error() string {
	return e.Message
}

func (e *ConstraintError) Unwrap() error {
	return e.Cause
}

var (
	uniquePattern = regexp.MustCompile(`UNIQUE constraint failed: ([^\s]+)`)
	notNullRegex  = regexp.MustCompile(`NOT NULL constraint failed: ([^\s]+)`)
	checkRegex    = regexp.MustCompile(`CHECK constraint failed: ?([^\s]*)`)
)

// ClassifyError converts SQLite constraint failures into *ConstraintError.
// Other errors are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()

	if matches := uniquePattern.FindStringSubmatch(errStr); len(matches) == 2 {
		ce := &ConstraintError{
			Type:    "unique",
			Cause:   ErrUniqueViolation,
			Message: "a row with this value already exists",
		}
		// Composite keys are reported as "t.a, t.b"; keep the first column.
		table, column := splitColumn(strings.TrimSuffix(matches[1], ","))
		if table != "" {
			ce.Table = table
			ce.Column = column
			ce.Message = "a row with this '" + column + "' already exists"
		}
		return ce
	}

	if matches := notNullRegex.FindStringSubmatch(errStr); len(matches) == 2 {
		ce := &ConstraintError{
			Type:    "not_null",
			Cause:   ErrNotNull,
			Message: "required column is missing",
		}
		if table, column := splitColumn(matches[1]); table != "" {
			ce.Table = table
			ce.Column = column
			ce.Message = "column '" + column + "' is required"
		}
		return ce
	}

	if matches := checkRegex.FindStringSubmatch(errStr); matches != nil {
		ce := &ConstraintError{
			Type:    "check",
			Cause:   ErrCheckConstraint,
			Message: "value does not meet requirements",
		}
		if len(matches) == 2 && matches[1] != "" {
			ce.Message = "value does not meet requirements: " + matches[1]
		}
		return ce
	}

	return err
}

func splitColumn(qualified string) (table, column string) {
	parts := strings.Split(qualified, ".")
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

// IsConstraintError reports whether err carries a classified constraint
// failure.
func IsConstraintError(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce)
}

// IsCheckError reports whether err is a classified CHECK constraint failure.
func IsCheckError(err error) bool {
	return errors.Is(err, ErrCheckConstraint)
}
