package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"hubtrack/internal/domain"
	"hubtrack/internal/engine"
)

type issueOutput struct {
	Body domain.Issue `json:"body"`
}

type issuePath struct {
	ID string `path:"id"`
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-issue",
		Method:      http.MethodPost,
		Path:        "/issues",
		Summary:     "Report an issue",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateIssueRequest `json:"body"`
	}) (*issueOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.CreateIssue(ctx, principal.Principal, engine.IssueCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Category:    input.Body.Category,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &issueOutput{Body: issue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/issues",
		Summary:     "List issues by view",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		View string `query:"view" enum:"active,resolved,archived" default:"active"`
	}) (*struct {
		Body IssuesResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListIssues(ctx, engine.IssueView(input.View))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssuesResponse `json:"body"`
		}{Body: IssuesResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{id}",
		Summary:     "Get an issue",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *issuePath) (*issueOutput, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		issue, err := e.GetIssue(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueOutput{Body: issue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-issue",
		Method:      http.MethodPatch,
		Path:        "/issues/{id}",
		Summary:     "Edit issue fields",
		Description: "Editing title, description or category needs the allow-list.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateIssueRequest `json:"body"`
	}) (*issueOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.UpdateIssue(ctx, principal.Principal, input.ID, input.Body.patch())
		if err != nil {
			return nil, handleError(err)
		}
		return &issueOutput{Body: issue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-issue-status",
		Method:      http.MethodPut,
		Path:        "/issues/{id}/status",
		Summary:     "Select an issue status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body IssueStatusRequest `json:"body"`
	}) (*issueOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.SetIssueStatus(ctx, principal.Principal, input.ID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueOutput{Body: issue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/move",
		Summary:     "Move an issue to another board column",
		Description: "Only the reporter or a current assignee may move an issue.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body IssueStatusRequest `json:"body"`
	}) (*issueOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.MoveIssue(ctx, principal.Principal, input.ID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueOutput{Body: issue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "join-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/assignees",
		Summary:     "Join an issue as assignee",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*issueOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.JoinIssue(ctx, principal.Principal, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueOutput{Body: issue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-issue",
		Method:      http.MethodPost,
		Path:        "/issues/{id}/archive",
		Summary:     "Archive an issue",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*issueOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.ArchiveIssue(ctx, principal.Principal, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueOutput{Body: issue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unarchive-issue",
		Method:      http.MethodDelete,
		Path:        "/issues/{id}/archive",
		Summary:     "Unarchive an issue",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*issueOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.UnarchiveIssue(ctx, principal.Principal, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &issueOutput{Body: issue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-issue",
		Method:        http.MethodDelete,
		Path:          "/issues/{id}",
		Summary:       "Delete an issue permanently",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *issuePath) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteIssue(ctx, principal.Principal, input.ID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}
