package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrNotPermitted is returned when a principal may not move or change a record.
// It is a UI state, not a failure: callers show a permission notice.
var ErrNotPermitted = errors.New("not permitted")

type IssueStatus string

const (
	IssueOpen       IssueStatus = "Open"
	IssueInProgress IssueStatus = "In Progress"
	IssueResolved   IssueStatus = "Resolved"
)

// IssueStatuses lists the board columns in display order.
var IssueStatuses = []IssueStatus{IssueOpen, IssueInProgress, IssueResolved}

func (s IssueStatus) Valid() bool {
	switch s {
	case IssueOpen, IssueInProgress, IssueResolved:
		return true
	}
	return false
}

type Category string

const (
	CategoryAcademy    Category = "Academy"
	CategoryManagement Category = "Management"
	CategoryHub        Category = "Hub"
	CategoryExternal   Category = "External"
	CategoryOther      Category = "Other"
)

var Categories = []Category{CategoryAcademy, CategoryManagement, CategoryHub, CategoryExternal, CategoryOther}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type InnovationStatus string

const (
	InnovationUnattended InnovationStatus = "Unattended"
	InnovationInProgress InnovationStatus = "In Progress"
	InnovationSolved     InnovationStatus = "Solved"
	InnovationCompleted  InnovationStatus = "Completed"
)

var InnovationStatuses = []InnovationStatus{InnovationUnattended, InnovationInProgress, InnovationSolved, InnovationCompleted}

func (s InnovationStatus) Valid() bool {
	switch s {
	case InnovationUnattended, InnovationInProgress, InnovationSolved, InnovationCompleted:
		return true
	}
	return false
}

type ParticipantRole string

const (
	RoleCreator     ParticipantRole = "creator"
	RoleParticipant ParticipantRole = "participant"
)

// Principal is the signed-in user as reported by the identity provider.
type Principal struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// DisplayLabel falls back from display name to the email local part.
func (p Principal) DisplayLabel() string {
	if name := strings.TrimSpace(p.DisplayName); name != "" {
		return name
	}
	if local, _, _ := strings.Cut(strings.TrimSpace(p.Email), "@"); local != "" {
		return local
	}
	return "Anonymous"
}

// Person is a lightweight reference to a user stored inside a record.
type Person struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type Assignee struct {
	UserID   string    `json:"userId"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt" format:"date-time"`
}

type Issue struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Category     Category    `json:"category" enum:"Academy,Management,Hub,External,Other"`
	Status       IssueStatus `json:"status" enum:"Open,In Progress,Resolved"`
	ReporterID   string      `json:"reporterId"`
	ReporterName string      `json:"reporterName"`
	Assignees    []Assignee  `json:"assignees"`
	IsArchived   bool        `json:"isArchived"`
	ArchivedAt   *time.Time  `json:"archivedAt,omitempty" format:"date-time"`
	CreatedAt    time.Time   `json:"createdAt" format:"date-time"`
	UpdatedAt    time.Time   `json:"updatedAt" format:"date-time"`
	ResolvedAt   *time.Time  `json:"resolvedAt,omitempty" format:"date-time"`
}

func (i Issue) HasAssignee(uid string) bool {
	for _, a := range i.Assignees {
		if a.UserID == uid {
			return true
		}
	}
	return false
}

// CanMove reports whether p may drag the issue to another column:
// only the reporter or a current assignee may.
func CanMove(p Principal, i Issue) bool {
	if p.UID == "" {
		return false
	}
	return i.ReporterID == p.UID || i.HasAssignee(p.UID)
}

type Participant struct {
	UserID string          `json:"userId"`
	Name   string          `json:"name"`
	Role   ParticipantRole `json:"role" enum:"creator,participant"`
}

// HistoryEntry is one superseded solution text.
type HistoryEntry struct {
	Text        string    `json:"text"`
	UpdatedBy   string    `json:"updatedBy"`
	UpdatedByID string    `json:"updatedById,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt" format:"date-time"`
}

type Innovation struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Problem           string           `json:"problem"`
	CurrentSolution   string           `json:"currentSolution"`
	Link              *string          `json:"link,omitempty"`
	Status            InnovationStatus `json:"status" enum:"Unattended,In Progress,Solved,Completed"`
	CreatedBy         Person           `json:"createdBy"`
	Solver            *Person          `json:"solver,omitempty"`
	Participants      []Participant    `json:"participants"`
	SolutionHistory   []HistoryEntry   `json:"solutionHistory"`
	SolutionUpdatedAt *time.Time       `json:"solutionUpdatedAt,omitempty" format:"date-time"`
	IsArchived        bool             `json:"isArchived"`
	ArchivedAt        *time.Time       `json:"archivedAt,omitempty" format:"date-time"`
	StartDate         time.Time        `json:"startDate" format:"date-time"`
	EndDate           *time.Time       `json:"endDate,omitempty" format:"date-time"`
	CreatedAt         time.Time        `json:"createdAt" format:"date-time"`
	UpdatedAt         time.Time        `json:"updatedAt" format:"date-time"`
}

func (in Innovation) HasParticipant(uid string) bool {
	for _, p := range in.Participants {
		if p.UserID == uid {
			return true
		}
	}
	return false
}

type Comment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	CreatedAt time.Time `json:"createdAt" format:"date-time"`
}

// IssueSnapshot is one authoritative push of an issue collection.
// Err is set when the stream failed; Issues is then empty.
type IssueSnapshot struct {
	Issues []Issue
	Err    error
}

// InnovationSnapshot is the innovation counterpart of IssueSnapshot.
type InnovationSnapshot struct {
	Innovations []Innovation
	Err         error
}
