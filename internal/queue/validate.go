package queue

import (
	"fmt"
	"strings"
	"unicode"
)

// ValidateBranchName rejects branch names that git would refuse as refs.
// The rules cover the failure modes seen from generated branch names:
// path traversal sequences, reflog syntax, lock-file suffixes, and
// whitespace or control characters that break downstream tooling.
func ValidateBranchName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: branch name is required", ErrInvalidParameter)
	}
	if trimmed != name {
		return fmt.Errorf("%w: branch name %q has surrounding whitespace", ErrInvalidParameter, name)
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return fmt.Errorf("%w: branch name %q may not start or end with a slash", ErrInvalidParameter, name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: branch name %q may not contain \"..\"", ErrInvalidParameter, name)
	}
	if strings.Contains(name, "@{") {
		return fmt.Errorf("%w: branch name %q may not contain \"@{\"", ErrInvalidParameter, name)
	}
	if strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("%w: branch name %q may not end with \".lock\"", ErrInvalidParameter, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: branch name %q contains whitespace or control characters", ErrInvalidParameter, name)
		}
	}
	return nil
}
