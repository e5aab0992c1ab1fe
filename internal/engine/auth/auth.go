package auth

import (
	"fmt"
	"strings"
)

// Privileged actions checked against the allow-list.
const (
	ActionArchive          = "archive"
	ActionUnarchive        = "unarchive"
	ActionEdit             = "edit"
	ActionDelete           = "delete"
	ActionCreateInnovation = "create_innovation"
)

// ForbiddenError indicates the principal is not on the allow-list.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not authorized to %s", strings.ReplaceAll(e.Action, "_", " "))
}

// Gate is a static allow-list of email addresses. It is built once from
// configuration; a changed list takes effect on restart.
type Gate struct {
	emails map[string]struct{}
}

func NewGate(emails []string) Gate {
	g := Gate{emails: make(map[string]struct{}, len(emails))}
	for _, e := range emails {
		if n := normalize(e); n != "" {
			g.emails[n] = struct{}{}
		}
	}
	return g
}

// Allowed reports whether email is on the list. Comparison ignores case
// and surrounding whitespace; an empty email is never allowed.
func (g Gate) Allowed(email string) bool {
	n := normalize(email)
	if n == "" {
		return false
	}
	_, ok := g.emails[n]
	return ok
}

// Require returns ForbiddenError when email is not allowed to perform action.
func (g Gate) Require(email, action string) error {
	if !g.Allowed(email) {
		return ForbiddenError{Action: action}
	}
	return nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
