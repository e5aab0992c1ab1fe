package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"hubtrack/internal/domain"
	"hubtrack/internal/notify"
)

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func rowOf(cells ...any) table.Row {
	return table.Row(cells)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func assigneeNames(i domain.Issue) string {
	names := make([]string, 0, len(i.Assignees))
	for _, a := range i.Assignees {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

func ago(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return t.Local().Format(time.DateOnly)
}

// normalizeWord folds "In Progress", "in-progress" and "in_progress" together.
func normalizeWord(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
}

func parseIssueStatus(s string) (domain.IssueStatus, error) {
	for _, status := range domain.IssueStatuses {
		if normalizeWord(string(status)) == normalizeWord(s) {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown issue status %q (want open, in-progress or resolved)", s)
}

func parseInnovationStatus(s string) (domain.InnovationStatus, error) {
	for _, status := range domain.InnovationStatuses {
		if normalizeWord(string(status)) == normalizeWord(s) {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown innovation status %q (want unattended, in-progress, solved or completed)", s)
}

func parseCategory(s string) (domain.Category, error) {
	for _, c := range domain.Categories {
		if normalizeWord(string(c)) == normalizeWord(s) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

func principalFromFlags(uid, name, email string) domain.Principal {
	return domain.Principal{
		UID:         strings.TrimSpace(uid),
		DisplayName: strings.TrimSpace(name),
		Email:       strings.TrimSpace(email),
	}
}

func notifyMessage(action, user, details, emoji string) notify.Message {
	return notify.Message{
		Action:   strings.TrimSpace(action),
		UserName: strings.TrimSpace(user),
		Details:  details,
		Emoji:    emoji,
	}
}
