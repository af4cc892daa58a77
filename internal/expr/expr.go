// Package expr evaluates the "{{ dotted.path }}" interpolation form used by
// child aliases and child parameters against a parent's hydrated context.
package expr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/conduit-lang/composer/internal/values"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// ErrUnresolved is returned when a path does not exist in the context.
var ErrUnresolved = errors.New("expression unresolved")

// SyntaxError reports a malformed expression.
type SyntaxError struct {
	Input  string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid expression %q: %s", e.Input, e.Reason)
}

type part struct {
	literal string
	path    string
}

// Template is a parsed interpolation string.
type Template struct {
	raw   string
	parts []part
}

// IsDynamic reports whether s contains an interpolation opener.
func IsDynamic(s string) bool {
	return strings.Contains(s, openDelim)
}

// Parse splits s into literal and path parts.
func Parse(s string) (*Template, error) {
	t := &Template{raw: s}
	rest := s
	for rest != "" {
		i := strings.Index(rest, openDelim)
		if i < 0 {
			if strings.Contains(rest, closeDelim) {
				return nil, &SyntaxError{Input: s, Reason: "unmatched '}}'"}
			}
			t.parts = append(t.parts, part{literal: rest})
			break
		}
		if i > 0 {
			t.parts = append(t.parts, part{literal: rest[:i]})
		}
		rest = rest[i+len(openDelim):]
		j := strings.Index(rest, closeDelim)
		if j < 0 {
			return nil, &SyntaxError{Input: s, Reason: "unclosed '{{'"}
		}
		path := strings.TrimSpace(rest[:j])
		if err := checkPath(path); err != nil {
			return nil, &SyntaxError{Input: s, Reason: err.Error()}
		}
		t.parts = append(t.parts, part{path: path})
		rest = rest[j+len(closeDelim):]
	}
	return t, nil
}

func checkPath(path string) error {
	if path == "" {
		return errors.New("empty path")
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return errors.New("empty path segment")
		}
		for _, r := range seg {
			ok := r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if !ok {
				return fmt.Errorf("invalid character %q in path", r)
			}
		}
	}
	return nil
}

// Roots returns the first segment of every path, in order of appearance.
func (t *Template) Roots() []string {
	var roots []string
	for _, p := range t.parts {
		if p.path == "" {
			continue
		}
		root, _, _ := strings.Cut(p.path, ".")
		roots = append(roots, root)
	}
	return roots
}

// Eval resolves the template. A template consisting of exactly one path yields
// the raw value; anything else is rendered to a string.
func (t *Template) Eval(ctx map[string]any) (any, error) {
	if len(t.parts) == 1 && t.parts[0].path != "" {
		v, ok := values.Lookup(ctx, t.parts[0].path)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnresolved, t.parts[0].path)
		}
		return v, nil
	}
	var b strings.Builder
	for _, p := range t.parts {
		if p.path == "" {
			b.WriteString(p.literal)
			continue
		}
		v, ok := values.Lookup(ctx, p.path)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnresolved, p.path)
		}
		b.WriteString(values.ToString(v))
	}
	return b.String(), nil
}

// Eval parses and evaluates s in one go. Literal strings come back unchanged.
func Eval(s string, ctx map[string]any) (any, error) {
	if !IsDynamic(s) {
		return s, nil
	}
	t, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return t.Eval(ctx)
}

// EvalString is Eval with a string result.
func EvalString(s string, ctx map[string]any) (string, error) {
	v, err := Eval(s, ctx)
	if err != nil {
		return "", err
	}
	return values.ToString(v), nil
}

// EvalParams resolves every string value in params (recursively) against ctx.
// Unresolvable entries are dropped and reported through the returned error,
// resolved ones are kept.
func EvalParams(params map[string]any, ctx map[string]any) (map[string]any, error) {
	var errs []error
	out := evalValue(params, ctx, &errs).(map[string]any)
	return out, errors.Join(errs...)
}

func evalValue(v any, ctx map[string]any, errs *[]error) any {
	switch t := v.(type) {
	case string:
		if !IsDynamic(t) {
			return t
		}
		r, err := Eval(t, ctx)
		if err != nil {
			*errs = append(*errs, err)
			return nil
		}
		return r
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			r := evalValue(inner, ctx, errs)
			if r == nil {
				if _, isStr := inner.(string); isStr {
					continue
				}
			}
			out[k] = r
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, inner := range t {
			out = append(out, evalValue(inner, ctx, errs))
		}
		return out
	default:
		return v
	}
}

// String returns the source text.
func (t *Template) String() string {
	return t.raw
}
