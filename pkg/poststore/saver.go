package poststore

import (
	"context"

	"github.com/go-go-golems/scribe/pkg/autosave"
	"github.com/pkg/errors"
)

// Saver adapts a Store to autosave.Saver for one author. Missing posts and
// ownership or id errors are permanent, retrying cannot fix them.
type Saver struct {
	Store    Store
	AuthorID string
}

var _ autosave.Saver[Draft] = Saver{}

func (s Saver) Save(ctx context.Context, documentID string, draft Draft) error {
	if s.Store == nil {
		return autosave.Permanent(errors.New("post saver: no store"))
	}
	_, err := s.Store.Update(ctx, s.AuthorID, documentID, PatchFromDraft(draft))
	if err == nil {
		return nil
	}
	err = errors.Wrapf(err, "save post %s", documentID)
	if IsClientError(err) {
		return autosave.Permanent(err)
	}
	return err
}

// IsClientError reports whether err is caused by the request rather than the
// store: an unknown, foreign or malformed post id.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrInvalidID)
}
