package orchestrator

import (
	"context"
	"errors"

	"github.com/Nixie-Tech-LLC/chorus/internal/db"
	"github.com/Nixie-Tech-LLC/chorus/internal/model"
)

// Selection is the item a transition will hand to the node.
type Selection struct {
	ContentID int
	Path      *string
}

// ContentSelector decides what plays next for a resolved block. The
// production selector reads the block's direct content reference;
// richer selectors (candidate lists, external services) plug in here.
type ContentSelector interface {
	NextContent(ctx context.Context, node *model.Node, block model.CollapsedBlock) (Selection, error)
}

// DialogueGenerator produces the next spoken item for blocks that carry
// no direct content reference. Production implementations call out to
// the speech service; tests use deterministic stubs.
type DialogueGenerator interface {
	ProduceUtterance(ctx context.Context, node *model.Node, voiceProfileID *int) (Selection, error)
}

// HookRunner executes an authored lifecycle hook. The scripting sandbox
// lives outside this service; hook ids are carried opaquely.
type HookRunner interface {
	RunHook(ctx context.Context, hookID int, event string, nodeID int) error
}

// ErrNoContent is returned when a block carries neither a content
// reference nor anything a selector can work with.
var ErrNoContent = errors.New("block has no content to select")

// staticSelector resolves the block's own content id against the store.
type staticSelector struct {
	store db.Store
}

// NewStaticSelector returns the default production selector.
func NewStaticSelector(store db.Store) ContentSelector {
	return &staticSelector{store: store}
}

func (s *staticSelector) NextContent(_ context.Context, _ *model.Node, block model.CollapsedBlock) (Selection, error) {
	if block.ContentID == nil {
		return Selection{}, ErrNoContent
	}
	content, err := s.store.GetContentByID(*block.ContentID)
	if err != nil {
		return Selection{}, err
	}
	path := content.URL
	return Selection{ContentID: content.ID, Path: &path}, nil
}
