// Package sqlcheck validates SQL text before it reaches the target database.
//
// The lexical pass counts statements and looks for write keywords with the
// quoting rules of the target dialect. It is a first filter only: the
// statement is then prepared on the target itself, and drivers refuse to
// prepare more than one statement.
package sqlcheck

import (
	"context"
	"fmt"

	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/query"
)

var readOnlyLeading = map[string]struct{}{
	"select":   {},
	"with":     {},
	"explain":  {},
	"show":     {},
	"describe": {},
	"values":   {},
}

var writeKeywords = map[string]struct{}{
	"insert":   {},
	"update":   {},
	"delete":   {},
	"merge":    {},
	"upsert":   {},
	"drop":     {},
	"alter":    {},
	"create":   {},
	"truncate": {},
	"grant":    {},
	"revoke":   {},
	"attach":   {},
	"copy":     {},
}

// Checker parses a statement on the target database without running it.
type Checker interface {
	Check(ctx context.Context, sqlText string) error
}

type Options struct {
	ReadOnly bool
	// Dialect selects the literal quoting rules of the lexical pass.
	Dialect query.Dialect
}

type Validator struct {
	checker  Checker
	readOnly bool
	dialect  query.Dialect
}

// New builds a validator. A nil checker limits validation to the lexical
// checks.
func New(checker Checker, opts Options) *Validator {
	return &Validator{checker: checker, readOnly: opts.ReadOnly, dialect: opts.Dialect}
}

// Validate returns the statement with trailing terminators removed, or a
// failure.KindValidation error describing why it was rejected.
func (v *Validator) Validate(ctx context.Context, sqlText string) (string, error) {
	normalized := query.StripTrailingSemicolons(sqlText)
	scanned := scanSQL(normalized, v.dialect)
	if normalized == "" || len(scanned.words) == 0 {
		return "", failure.Validation("sql statement is empty", nil)
	}
	if scanned.statements > 1 {
		return "", failure.Validation(fmt.Sprintf("expected a single statement, found %d", scanned.statements), nil)
	}
	if v.readOnly {
		if err := checkReadOnly(scanned.words); err != nil {
			return "", err
		}
	}
	if v.checker != nil {
		if err := v.checker.Check(ctx, normalized); err != nil {
			return "", failure.Validation("statement rejected by database", err)
		}
	}
	return normalized, nil
}

func checkReadOnly(words []string) error {
	leading := words[0]
	if _, ok := readOnlyLeading[leading]; !ok {
		return failure.Validation(fmt.Sprintf("only read-only statements are allowed, got %s", leading), nil)
	}
	for _, word := range words[1:] {
		if _, ok := writeKeywords[word]; ok {
			return failure.Validation(fmt.Sprintf("read-only statement contains %s", word), nil)
		}
	}
	return nil
}
