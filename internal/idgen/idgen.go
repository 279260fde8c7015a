// Package idgen generates opaque, globally unique identifiers for engine
// entities (spec §4.2). It is a thin wrapper over google/uuid, the same
// id source the teacher's replication.Manager and cluster managers use
// for rule and node ids.
package idgen

import "github.com/google/uuid"

// Generator produces opaque string identifiers unique within a storage
// scope. Collision probability is the cryptographic negligibility uuid.v4
// provides; identifiers are never reused.
type Generator struct{}

// New returns a Generator. It holds no state; it exists so call sites can
// depend on an interface instead of a package-level function, which a
// test can replace with a deterministic fake id source.
func New() *Generator { return &Generator{} }

// ID returns a fresh identifier.
func (g *Generator) ID() string {
	return uuid.New().String()
}

// Source is the interface engine components depend on, so tests can
// inject predictable ids.
type Source interface {
	ID() string
}
