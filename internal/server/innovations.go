package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"hubtrack/internal/domain"
	"hubtrack/internal/engine"
)

type innovationOutput struct {
	Body domain.Innovation `json:"body"`
}

type innovationPath struct {
	ID string `path:"id"`
}

func registerInnovations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-innovation",
		Method:      http.MethodPost,
		Path:        "/innovations",
		Summary:     "Record an innovation",
		Description: "The creator is added as a participant in a second write.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateInnovationRequest `json:"body"`
	}) (*innovationOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in, err := e.CreateInnovation(ctx, principal.Principal, engine.InnovationCreateOptions{
			Title:           input.Body.Title,
			Problem:         input.Body.Problem,
			CurrentSolution: input.Body.CurrentSolution,
			Link:            input.Body.Link,
			Status:          input.Body.Status,
			StartDate:       input.Body.StartDate,
			EndDate:         input.Body.EndDate,
		})
		if err != nil {
			if in.ID != "" {
				return nil, newAPIError(http.StatusInternalServerError, "partial_write", err.Error(), map[string]any{"id": in.ID})
			}
			return nil, handleError(err)
		}
		return &innovationOutput{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-innovations",
		Method:      http.MethodGet,
		Path:        "/innovations",
		Summary:     "List innovations, newest start first",
	}, func(ctx context.Context, input *struct {
		Archived bool `query:"archived"`
	}) (*struct {
		Body InnovationsResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListInnovations(ctx, input.Archived)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InnovationsResponse `json:"body"`
		}{Body: InnovationsResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-innovation",
		Method:      http.MethodGet,
		Path:        "/innovations/{id}",
		Summary:     "Get an innovation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *innovationPath) (*innovationOutput, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		in, err := e.GetInnovation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &innovationOutput{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-innovation-status",
		Method:      http.MethodPut,
		Path:        "/innovations/{id}/status",
		Summary:     "Set innovation status",
		Description: "Completed stamps endDate.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body InnovationStatusRequest `json:"body"`
	}) (*innovationOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in, err := e.SetInnovationStatus(ctx, principal.Principal, input.ID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &innovationOutput{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "join-innovation",
		Method:      http.MethodPost,
		Path:        "/innovations/{id}/participants",
		Summary:     "Join an innovation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *innovationPath) (*innovationOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in, err := e.JoinInnovation(ctx, principal.Principal, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &innovationOutput{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-solution",
		Method:      http.MethodPut,
		Path:        "/innovations/{id}/solution",
		Summary:     "Replace the current solution",
		Description: "The previous solution is kept in solutionHistory.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body SolutionRequest `json:"body"`
	}) (*innovationOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in, err := e.UpdateSolution(ctx, principal.Principal, input.ID, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &innovationOutput{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-innovation",
		Method:      http.MethodPost,
		Path:        "/innovations/{id}/archive",
		Summary:     "Archive an innovation",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *innovationPath) (*innovationOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in, err := e.ArchiveInnovation(ctx, principal.Principal, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &innovationOutput{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unarchive-innovation",
		Method:      http.MethodDelete,
		Path:        "/innovations/{id}/archive",
		Summary:     "Unarchive an innovation",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *innovationPath) (*innovationOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in, err := e.UnarchiveInnovation(ctx, principal.Principal, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &innovationOutput{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-innovation",
		Method:        http.MethodDelete,
		Path:          "/innovations/{id}",
		Summary:       "Delete an innovation and its comments",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *innovationPath) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteInnovation(ctx, principal.Principal, input.ID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/innovations/{id}/comments",
		Summary:     "List comments, oldest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *innovationPath) (*struct {
		Body CommentsResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListComments(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommentsResponse `json:"body"`
		}{Body: CommentsResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-comment",
		Method:      http.MethodPost,
		Path:        "/innovations/{id}/comments",
		Summary:     "Comment on an innovation",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body CommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, principal.Principal, input.ID, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})
}
