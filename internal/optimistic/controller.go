package optimistic

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("record not in local state")

// Patch is a field-level change to a record of type R.
type Patch[R any, P any] interface {
	// Apply returns r with the patch's fields overwritten.
	Apply(r R) R
	// Inverse returns a patch restoring the values before held for exactly
	// the fields this patch touches.
	Inverse(before R) P
}

type NoticeKind int

const (
	// NoticeDenied means the pre-check refused the change; nothing was applied.
	NoticeDenied NoticeKind = iota
	// NoticeReverted means the remote write failed and the change was undone.
	NoticeReverted
)

// Notice is a user-visible outcome of a rejected or reverted change.
type Notice struct {
	Kind     NoticeKind
	RecordID string
	Err      error
}

// Controller applies patches to Records optimistically.
type Controller[R any, P Patch[R, P]] struct {
	Records *Collection[R]
	// Notify receives every denial and revert. It may be nil.
	Notify func(Notice)
}

// CheckFunc vets a change against the current local record.
type CheckFunc[R any] func(R) error

// CommitFunc performs the remote write.
type CommitFunc[P any] func(ctx context.Context, id string, patch P) error

// Apply mutates the local record, then commits. A failing check leaves
// the record untouched and skips the commit. A failing commit restores
// the touched fields on the current record. There is no retry, and
// concurrent Apply calls on one record are not serialized.
func (c *Controller[R, P]) Apply(ctx context.Context, id string, patch P, check CheckFunc[R], commit CommitFunc[P]) error {
	current, ok := c.Records.Get(id)
	if !ok {
		return ErrNotFound
	}
	if check != nil {
		if err := check(current); err != nil {
			c.notify(Notice{Kind: NoticeDenied, RecordID: id, Err: err})
			return err
		}
	}

	before, ok := c.Records.Update(id, patch.Apply)
	if !ok {
		return ErrNotFound
	}
	inverse := patch.Inverse(before)

	if err := commit(ctx, id, patch); err != nil {
		c.Records.Update(id, inverse.Apply)
		c.notify(Notice{Kind: NoticeReverted, RecordID: id, Err: err})
		return err
	}
	return nil
}

func (c *Controller[R, P]) notify(n Notice) {
	if c.Notify != nil {
		c.Notify(n)
	}
}
