// ABOUTME: ID generation for runs, nodes, edges, artifacts, decisions, and barriers.
// ABOUTME: Grounded on spec/core/ulid.go's crypto/rand-seeded ULID helper; google/uuid for run/request ids.
package engine

import (
	"crypto/rand"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewRunID returns a new random run identifier.
func NewRunID() string { return uuid.NewString() }

// NewNodeID returns a new random run-node identifier.
func NewNodeID() string { return uuid.NewString() }

// NewEdgeID returns a new random run-edge identifier.
func NewEdgeID() string { return uuid.NewString() }

// NewBarrierID returns a new lexically sortable join-barrier identifier, so
// that ordering barriers by id (FindBarrier) also orders them by creation.
func NewBarrierID() string { return NewSortableID() }

// NewSortableID returns a monotonic, lexically sortable identifier for rows
// that accumulate historically within a node (artifacts, routing
// decisions), so that "latest by id" and "latest by createdAt" agree.
func NewSortableID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
