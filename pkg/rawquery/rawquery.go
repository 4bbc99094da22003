// Package rawquery validates and sandboxes pass-through queries before
// they ever reach the backing database. Write operations are disabled
// unless explicitly allowed, and every execution is bounded by a row
// limit and a timeout.
package rawquery

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/inrep-lab/lexgraph/backend/pkg/common"
	"github.com/inrep-lab/lexgraph/backend/pkg/store"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000

	DefaultTimeout = 10 * time.Second
	MaxTimeout     = 60 * time.Second

	maxQueryLength = 10000
)

// writeKeywords are statement-leading or embedded keywords that mutate
// state or schema. Blocked unless writes are explicitly allowed.
var writeKeywords = []string{
	"insert", "update", "delete", "merge", "upsert",
	"create", "alter", "drop", "truncate", "rename",
	"grant", "revoke", "copy", "vacuum", "set",
}

// readKeywords are the statements a read-only query may start with.
var readKeywords = []string{"select", "with", "explain", "show", "match"}

// ValidationResult reports the outcome of query validation.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// ExecuteOptions bounds a raw query execution.
type ExecuteOptions struct {
	Parameters  []any
	Limit       int
	Timeout     time.Duration
	AllowWrites bool
}

func (o *ExecuteOptions) normalize() error {
	if o.Limit == 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit < 1 || o.Limit > MaxLimit {
		return common.Invalid("limit", "must be between 1 and %d", MaxLimit)
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Timeout < time.Millisecond || o.Timeout > MaxTimeout {
		return common.Invalid("timeout", "must be between 1ms and %s", MaxTimeout)
	}
	return nil
}

// Validate checks a query for length, statement count and write access
// without executing it. Problems are itemized so callers can surface
// all of them at once.
func Validate(query string, allowWrites bool) ValidationResult {
	var problems []string

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		problems = append(problems, "query must not be empty")
		return ValidationResult{Problems: problems}
	}
	if len(trimmed) > maxQueryLength {
		problems = append(problems, "query exceeds maximum length")
	}

	statements := splitStatements(trimmed)
	if len(statements) > 1 {
		problems = append(problems, "multiple statements are not allowed")
	}

	tokens := tokenize(trimmed)
	if len(tokens) == 0 {
		problems = append(problems, "query contains no statement")
		return ValidationResult{Valid: false, Problems: problems}
	}

	if !allowWrites {
		if !isReadKeyword(tokens[0]) {
			problems = append(problems, "query must start with a read statement ("+strings.Join(readKeywords, ", ")+")")
		}
		for _, token := range tokens {
			if isWriteKeyword(token) {
				problems = append(problems, "write operation "+strings.ToUpper(token)+" is not allowed")
				break
			}
		}
	}

	return ValidationResult{Valid: len(problems) == 0, Problems: problems}
}

// Executor runs validated queries against a raw-query-capable backend.
type Executor struct {
	store store.GraphStore
}

func NewExecutor(s store.GraphStore) *Executor {
	return &Executor{store: s}
}

// Execute validates and then runs the query with the configured bounds.
// Validation failures are field-level errors; missing backend support
// surfaces as a capability error.
func (e *Executor) Execute(ctx context.Context, query string, opts ExecuteOptions) ([]map[string]any, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if result := Validate(query, opts.AllowWrites); !result.Valid {
		return nil, common.Invalid("query", "%s", strings.Join(result.Problems, "; "))
	}

	raw, err := store.RawQuery(e.store)
	if err != nil {
		return nil, err
	}
	return raw.ExecuteRawQuery(ctx, query, opts.Parameters, opts.Limit, opts.Timeout)
}

// splitStatements splits on semicolons outside of quoted strings. A
// trailing semicolon does not count as a second statement.
func splitStatements(query string) []string {
	var statements []string
	var current strings.Builder
	var quote rune

	for _, r := range query {
		switch {
		case quote != 0:
			current.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			current.WriteRune(r)
		case r == ';':
			if s := strings.TrimSpace(current.String()); s != "" {
				statements = append(statements, s)
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		statements = append(statements, s)
	}
	return statements
}

// tokenize lowercases the query and splits it into bare words, skipping
// quoted string contents so literals never trip the keyword checks.
func tokenize(query string) []string {
	var tokens []string
	var current strings.Builder
	var quote rune

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, strings.ToLower(current.String()))
			current.Reset()
		}
	}

	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			flush()
			quote = r
		case unicode.IsLetter(r) || r == '_':
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func isReadKeyword(token string) bool {
	for _, k := range readKeywords {
		if token == k {
			return true
		}
	}
	return false
}

func isWriteKeyword(token string) bool {
	for _, k := range writeKeywords {
		if token == k {
			return true
		}
	}
	return false
}
