package hubtracksdk

import (
	"context"
	"fmt"

	"hubtrack/internal/domain"
)

// Backend performs board writes over HTTP. The actor is implied by the
// client's bearer token.
type Backend struct {
	Client *Client
}

func (b Backend) MoveIssue(ctx context.Context, _ domain.Principal, id string, status domain.IssueStatus) error {
	_, err := b.Client.MoveIssue(ctx, id, status)
	return translate(err)
}

func (b Backend) SetIssueStatus(ctx context.Context, _ domain.Principal, id string, status domain.IssueStatus) error {
	_, err := b.Client.SetIssueStatus(ctx, id, status)
	return translate(err)
}

// translate maps a server-side move denial onto domain.ErrNotPermitted.
func translate(err error) error {
	if IsNotPermitted(err) {
		return fmt.Errorf("%w: %v", domain.ErrNotPermitted, err)
	}
	return err
}
