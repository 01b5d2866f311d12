package protocol

import (
	"regexp"
	"strings"

	apperrors "github.com/carbon-console/amee/internal/errors"
)

// profileUIDPattern matches a profile path segment: twelve hex digits.
const profileUIDPattern = `/profiles/[0-9A-Fa-f]{12}/`

// DefaultAllowList holds the permitted path prefixes per verb, in match order.
var DefaultAllowList = map[string][]string{
	MethodPost:   {`/auth`},
	MethodPut:    {profileUIDPattern},
	MethodGet:    {`/profiles`, `/data`},
	MethodDelete: {profileUIDPattern},
}

// PathValidator checks request paths against per-verb allow-lists.
// It is immutable after construction.
type PathValidator struct {
	patterns map[string][]string
	compiled map[string]*regexp.Regexp
}

// NewPathValidator compiles allowList. Each verb's patterns are joined into a
// single alternation anchored at the start of the path only.
func NewPathValidator(allowList map[string][]string) (*PathValidator, error) {
	v := &PathValidator{
		patterns: make(map[string][]string, len(allowList)),
		compiled: make(map[string]*regexp.Regexp, len(allowList)),
	}
	for verb, patterns := range allowList {
		verb = strings.ToUpper(verb)
		re, err := regexp.Compile(`^(?:` + strings.Join(patterns, `|`) + `)`)
		if err != nil {
			return nil, apperrors.NewConfigurationError("protocol").
				WithOperation("compile_allow_list").
				WithMessagef("invalid allow-list pattern for %s", verb).
				WithCause(err).
				Build()
		}
		v.patterns[verb] = append([]string(nil), patterns...)
		v.compiled[verb] = re
	}
	return v, nil
}

// MustPathValidator is NewPathValidator for static allow-lists.
func MustPathValidator(allowList map[string][]string) *PathValidator {
	v, err := NewPathValidator(allowList)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate returns nil when path starts with one of verb's allowed patterns.
func (v *PathValidator) Validate(path, verb string) error {
	verb = strings.ToUpper(strings.TrimSpace(verb))
	re, ok := v.compiled[verb]
	if ok && re.MatchString(path) {
		return nil
	}
	return apperrors.NewPathValidationError("protocol").
		WithOperation("validate_path").
		WithMessagef("path %q is not allowed for %s", path, verb).
		WithContext("path", path).
		WithContext("verb", verb).
		Build()
}

// Patterns returns a copy of the patterns configured for verb.
func (v *PathValidator) Patterns(verb string) []string {
	return append([]string(nil), v.patterns[strings.ToUpper(verb)]...)
}
