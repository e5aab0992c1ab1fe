// Package notify formats activity messages and delivers them to a chat
// incoming webhook. Delivery is best-effort throughout.
package notify

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultTimezone  = "Africa/Lagos"
	DefaultZoneLabel = "WAT"

	snippetRunes = 80
	timeLayout   = "1/2/2006, 3:04:05 PM"
)

// Message is one notification. It is also the JSON body accepted by Handler.
type Message struct {
	Action   string `json:"action"`
	UserName string `json:"userName"`
	Details  string `json:"details,omitempty"`
	Emoji    string `json:"emoji,omitempty"`
}

// Zone renders timestamps in a fixed location with a short label.
type Zone struct {
	Location *time.Location
	Label    string
}

// LoadZone resolves name, falling back to UTC+1 when the zone database
// has no entry for it.
func LoadZone(name, label string) Zone {
	if name == "" {
		name = DefaultTimezone
	}
	if label == "" {
		label = DefaultZoneLabel
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.FixedZone(label, 60*60)
	}
	return Zone{Location: loc, Label: label}
}

// Text renders the chat message body.
func (m Message) Text(at time.Time, zone Zone) string {
	if zone.Location == nil {
		zone = LoadZone("", zone.Label)
	}
	details := m.Details
	if strings.TrimSpace(details) == "" {
		details = "No details"
	}
	head := fmt.Sprintf("*%s* %s", m.UserName, m.Action)
	if m.Emoji != "" {
		head = m.Emoji + " " + head
	}
	return fmt.Sprintf("%s\n%s\n→ %s %s", head, details, at.In(zone.Location).Format(timeLayout), zone.Label)
}

func userOrAnonymous(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Anonymous"
	}
	return name
}

func titleCase(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func IssueCreated(userName, title, category string) Message {
	if category == "" {
		category = "Not specified"
	}
	return Message{
		Action:   "created new issue",
		UserName: userOrAnonymous(userName),
		Details:  fmt.Sprintf("Title: %s\nCategory: %s", title, category),
		Emoji:    "📝",
	}
}

func CardMoved(userName, title, from, to string) Message {
	return Message{
		Action:   fmt.Sprintf("moved issue from %s → %s", from, to),
		UserName: userOrAnonymous(userName),
		Details:  "Issue: " + title,
		Emoji:    "🔄",
	}
}

// Deleted announces a permanent delete of an item of kind ("issue", "innovation").
func Deleted(userName, title, kind string) Message {
	return Message{
		Action:   "permanently deleted " + kind,
		UserName: userOrAnonymous(userName),
		Details:  fmt.Sprintf("%s: %s", titleCase(kind), title),
		Emoji:    "🗑️",
	}
}

func CommentAdded(userName, title, comment string) Message {
	snippet := comment
	if utf8.RuneCountInString(comment) > snippetRunes {
		snippet = string([]rune(comment)[:snippetRunes]) + "..."
	}
	return Message{
		Action:   "added a comment",
		UserName: userOrAnonymous(userName),
		Details:  fmt.Sprintf("On: %s\n\"%s\"", title, snippet),
		Emoji:    "💬",
	}
}

func SolutionUpdated(userName, title string) Message {
	return Message{
		Action:   "updated solution/improvement",
		UserName: userOrAnonymous(userName),
		Details:  "Record: " + title,
		Emoji:    "🛠️",
	}
}

func Archived(userName, title, kind string) Message {
	return Message{
		Action:   "archived " + kind,
		UserName: userOrAnonymous(userName),
		Details:  fmt.Sprintf("%s: %s", titleCase(kind), title),
		Emoji:    "📦",
	}
}

func Unarchived(userName, title, kind string) Message {
	return Message{
		Action:   "unarchived " + kind,
		UserName: userOrAnonymous(userName),
		Details:  fmt.Sprintf("%s: %s", titleCase(kind), title),
		Emoji:    "♻️",
	}
}

// Joined announces a user joining an issue or innovation.
func Joined(userName, title, kind string) Message {
	return Message{
		Action:   "joined " + kind,
		UserName: userOrAnonymous(userName),
		Details:  fmt.Sprintf("%s: %s", titleCase(kind), title),
		Emoji:    "🙋",
	}
}

// InnovationCreated announces a new innovation record.
func InnovationCreated(userName, title string) Message {
	return Message{
		Action:   "recorded new innovation",
		UserName: userOrAnonymous(userName),
		Details:  "Record: " + title,
		Emoji:    "💡",
	}
}
