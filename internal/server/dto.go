package server

import (
	"time"

	"hubtrack/internal/domain"
	"hubtrack/internal/events"
)

// Request payloads

type SessionRequest struct {
	Token string `json:"token"`
}

type DevLoginRequest struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

type CreateIssueRequest struct {
	Title       string          `json:"title" minLength:"1" maxLength:"200"`
	Description string          `json:"description,omitempty"`
	Category    domain.Category `json:"category,omitempty" enum:"Academy,Management,Hub,External,Other"`
}

type UpdateIssueRequest struct {
	Title       *string             `json:"title,omitempty"`
	Description *string             `json:"description,omitempty"`
	Category    *domain.Category    `json:"category,omitempty" enum:"Academy,Management,Hub,External,Other"`
	Status      *domain.IssueStatus `json:"status,omitempty" enum:"Open,In Progress,Resolved"`
}

func (r UpdateIssueRequest) patch() domain.IssuePatch {
	return domain.IssuePatch{
		Status:      r.Status,
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
	}
}

type IssueStatusRequest struct {
	Status domain.IssueStatus `json:"status" enum:"Open,In Progress,Resolved"`
}

type CreateInnovationRequest struct {
	Title           string                  `json:"title" minLength:"1" maxLength:"200"`
	Problem         string                  `json:"problem,omitempty"`
	CurrentSolution string                  `json:"currentSolution,omitempty"`
	Link            string                  `json:"link,omitempty"`
	Status          domain.InnovationStatus `json:"status,omitempty" enum:"Unattended,Completed"`
	StartDate       *time.Time              `json:"startDate,omitempty"`
	EndDate         *time.Time              `json:"endDate,omitempty"`
}

type InnovationStatusRequest struct {
	Status domain.InnovationStatus `json:"status" enum:"Unattended,In Progress,Solved,Completed"`
}

type SolutionRequest struct {
	Text string `json:"text" minLength:"1"`
}

type CommentRequest struct {
	Text string `json:"text" minLength:"1" maxLength:"4000"`
}

// Responses

type MeResponse struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	Label       string `json:"label"`
	Authorized  bool   `json:"authorized"`
	Source      string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type IssuesResponse struct {
	Items []domain.Issue `json:"items"`
}

type InnovationsResponse struct {
	Items []domain.Innovation `json:"items"`
}

type CommentsResponse struct {
	Items []domain.Comment `json:"items"`
}

type EventsResponse struct {
	Items []events.Event `json:"items"`
}
