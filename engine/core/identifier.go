package core

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// DebugTag is a stable, human-readable identifier attached to a GPU
// object (memory chunk, sub-buffer, frame orchestrator instance) for
// validation-layer and log output. Replaces a linear-scan owner table
// with a map keyed by a short uuid so tags remain unique even as
// chunks and sub-buffers are created and released continuously.
type DebugTag struct {
	ID    uuid.UUID
	Label string
}

var (
	tagsMu sync.Mutex
	tags   = map[uuid.UUID]string{}
)

// NewDebugTag registers owner under a fresh uuid and returns the tag.
// owner is typically a short description ("chunk", "subbuffer:frame3").
func NewDebugTag(owner string) DebugTag {
	id := uuid.New()
	tagsMu.Lock()
	tags[id] = owner
	tagsMu.Unlock()
	return DebugTag{ID: id, Label: owner}
}

// ReleaseDebugTag forgets a tag previously returned by NewDebugTag.
func ReleaseDebugTag(t DebugTag) {
	tagsMu.Lock()
	delete(tags, t.ID)
	tagsMu.Unlock()
}

func (t DebugTag) String() string {
	return fmt.Sprintf("%s(%s)", t.Label, t.ID.String()[:8])
}
