// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

// Package script holds compiled script artifacts: blocks, their dependency
// and mutation lists, the shared bytecode buffer and the term pool.
//
// The store is append-only. The compiler writes it; the runtime reads it
// through accessors that return capacity-clipped slices into the shared
// backing collections, so readers cannot grow them by accident.
package script

import (
	"errors"
	"fmt"
	"math"

	"nickandperla.net/herd/internal/value"
)

// BlockID identifies a compiled block.
type BlockID uint32

// NoBlock marks an absent block (no successor, no override).
const NoBlock BlockID = math.MaxUint32

// DocumentID identifies a compiled script document.
type DocumentID uint32

// ClassID identifies a class. Class 0 is the global class every object
// belongs to.
type ClassID uint32

// Global is the class whose roots apply to every object.
const Global ClassID = 0

// Range is a half-open index range into one of the store's collections.
type Range struct {
	Start uint32
	End   uint32
}

// Len returns the number of elements in the range.
func (r Range) Len() int { return int(r.End - r.Start) }

// Mutation is a named output of a block and the bytecode computing it. An
// empty name marks a mutation run only for its effects.
type Mutation struct {
	Name string
	Code Range
}

// Block is a compiled unit with declared dependencies and named mutations.
type Block struct {
	Dependencies Range
	Mutations    Range
	Next         BlockID
	Document     DocumentID
	// Root is the head block of the root chain this block belongs to.
	Root BlockID

	sealed bool
}

// Root is a block chain every object of Class runs.
type Root struct {
	Block BlockID
	Class ClassID
}

// Class is a registered class and the classes it extends.
type Class struct {
	Name    string
	Extends []ClassID
}

// Document is a compiled script document.
type Document struct {
	Name string
}

// BlockRef is the term pushed for object literals: a reference to a detached
// block chain.
type BlockRef struct {
	Block BlockID
}

func (r BlockRef) String() string { return fmt.Sprintf("{block %d}", r.Block) }

// Store errors.
var (
	ErrNoSuchBlock = errors.New("no such block")
	ErrSealed      = errors.New("block mutations already appended")
	ErrLinked      = errors.New("block already has a successor")
	ErrNoSuchClass = errors.New("no such class")
)

// Store is the append-only script artifact store.
type Store struct {
	deps      []string
	mutations []Mutation
	code      []byte
	blocks    []Block
	roots     []Root
	rootIndex map[BlockID]int
	classes   []Class
	classIDs  map[string]ClassID
	documents []Document
	terms     *value.Pool
}

// NewStore creates an empty store. The global class is pre-registered.
func NewStore() *Store {
	s := &Store{
		rootIndex: make(map[BlockID]int),
		classIDs:  make(map[string]ClassID),
		terms:     value.NewPool(),
	}
	s.classes = append(s.classes, Class{Name: ""})
	return s
}

// NewDocument registers a document and returns its id.
func (s *Store) NewDocument(name string) DocumentID {
	s.documents = append(s.documents, Document{Name: name})
	return DocumentID(len(s.documents) - 1)
}

// Document returns a registered document.
func (s *Store) Document(id DocumentID) (Document, bool) {
	if int(id) >= len(s.documents) {
		return Document{}, false
	}
	return s.documents[id], true
}

// CreateBlock reserves a new block with empty dependency and mutation ranges.
// Passing NoBlock as root makes the block the head of its own chain.
func (s *Store) CreateBlock(doc DocumentID, root BlockID) BlockID {
	id := BlockID(len(s.blocks))
	if root == NoBlock {
		root = id
	}
	end := uint32(len(s.deps))
	mend := uint32(len(s.mutations))
	s.blocks = append(s.blocks, Block{
		Dependencies: Range{Start: end, End: end},
		Mutations:    Range{Start: mend, End: mend},
		Next:         NoBlock,
		Document:     doc,
		Root:         root,
	})
	return id
}

func (s *Store) block(id BlockID) (*Block, error) {
	if int(id) >= len(s.blocks) {
		return nil, fmt.Errorf("block %d: %w", id, ErrNoSuchBlock)
	}
	return &s.blocks[id], nil
}

// AppendMutations sets a block's dependency and mutation lists. Each block
// accepts exactly one call; afterwards its mutation set is immutable.
func (s *Store) AppendMutations(id BlockID, deps []string, muts []Mutation) error {
	b, err := s.block(id)
	if err != nil {
		return err
	}
	if b.sealed {
		return fmt.Errorf("block %d: %w", id, ErrSealed)
	}
	start := uint32(len(s.deps))
	s.deps = append(s.deps, deps...)
	b.Dependencies = Range{Start: start, End: uint32(len(s.deps))}
	mstart := uint32(len(s.mutations))
	s.mutations = append(s.mutations, muts...)
	b.Mutations = Range{Start: mstart, End: uint32(len(s.mutations))}
	b.sealed = true
	return nil
}

// AppendProgram appends bytecode to the shared buffer and returns its range.
func (s *Store) AppendProgram(code []byte) Range {
	start := uint32(len(s.code))
	s.code = append(s.code, code...)
	return Range{Start: start, End: uint32(len(s.code))}
}

// LinkBlocks makes to the successor of from. A block has at most one
// successor.
func (s *Store) LinkBlocks(from, to BlockID) error {
	b, err := s.block(from)
	if err != nil {
		return err
	}
	if _, err := s.block(to); err != nil {
		return err
	}
	if b.Next != NoBlock && b.Next != to {
		return fmt.Errorf("link %d -> %d (already -> %d): %w", from, to, b.Next, ErrLinked)
	}
	b.Next = to
	return nil
}

// RequireTerm interns v in the term pool and returns its index.
func (s *Store) RequireTerm(v any) uint32 {
	return s.terms.Require(v)
}

// Terms returns the term pool.
func (s *Store) Terms() *value.Pool { return s.terms }

// Term returns the term at index i.
func (s *Store) Term(i uint32) (any, bool) { return s.terms.Term(i) }

// AddRoot registers a block chain for every object of a class. A block is
// registered at most once.
func (s *Store) AddRoot(block BlockID, class ClassID) error {
	if _, err := s.block(block); err != nil {
		return err
	}
	if int(class) >= len(s.classes) {
		return fmt.Errorf("class %d: %w", class, ErrNoSuchClass)
	}
	if _, ok := s.rootIndex[block]; ok {
		return nil
	}
	s.rootIndex[block] = len(s.roots)
	s.roots = append(s.roots, Root{Block: block, Class: class})
	return nil
}

// RootIndex returns the registration position of a root head block.
func (s *Store) RootIndex(block BlockID) (int, bool) {
	i, ok := s.rootIndex[block]
	return i, ok
}

// Roots returns every registered root in registration order.
func (s *Store) Roots() []Root { return s.roots[:len(s.roots):len(s.roots)] }

// RegisterClass returns the id of the named class, registering it on first
// use. Extends lists of repeated registrations are merged.
func (s *Store) RegisterClass(name string, extends []ClassID) (ClassID, error) {
	for _, e := range extends {
		if int(e) >= len(s.classes) {
			return 0, fmt.Errorf("class %s extends %d: %w", name, e, ErrNoSuchClass)
		}
	}
	id, ok := s.classIDs[name]
	if !ok {
		id = ClassID(len(s.classes))
		s.classes = append(s.classes, Class{Name: name})
		s.classIDs[name] = id
	}
	c := &s.classes[id]
	for _, e := range extends {
		if e == id || contains(c.Extends, e) {
			continue
		}
		c.Extends = append(c.Extends, e)
	}
	return id, nil
}

func contains(ids []ClassID, id ClassID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// ClassMark is a snapshot of the class table taken by MarkClasses.
type ClassMark struct {
	n       int
	extends []int
}

// MarkClasses snapshots the class table.
func (s *Store) MarkClasses() ClassMark {
	m := ClassMark{n: len(s.classes), extends: make([]int, len(s.classes))}
	for i, c := range s.classes {
		m.extends[i] = len(c.Extends)
	}
	return m
}

// RestoreClasses drops classes registered and extends recorded since m.
func (s *Store) RestoreClasses(m ClassMark) {
	for _, c := range s.classes[m.n:] {
		delete(s.classIDs, c.Name)
	}
	clear(s.classes[m.n:])
	s.classes = s.classes[:m.n]
	for i := range s.classes {
		s.classes[i].Extends = s.classes[i].Extends[:m.extends[i]]
	}
}

// ClassID looks up a class by name.
func (s *Store) ClassID(name string) (ClassID, bool) {
	id, ok := s.classIDs[name]
	return id, ok
}

// Class returns a registered class.
func (s *Store) Class(id ClassID) (Class, bool) {
	if int(id) >= len(s.classes) {
		return Class{}, false
	}
	return s.classes[id], true
}

// Lineage returns the set of classes whose roots apply to objects of class
// id: the global class, id itself and all its ancestors.
func (s *Store) Lineage(id ClassID) map[ClassID]bool {
	seen := map[ClassID]bool{Global: true}
	stack := []ClassID{id}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[c] || int(c) >= len(s.classes) {
			continue
		}
		seen[c] = true
		stack = append(stack, s.classes[c].Extends...)
	}
	return seen
}

// ClassRoots returns the root head blocks registered for a class.
func (s *Store) ClassRoots(id ClassID) []BlockID {
	var blocks []BlockID
	for _, r := range s.roots {
		if r.Class == id {
			blocks = append(blocks, r.Block)
		}
	}
	return blocks
}

// Block returns a block by id.
func (s *Store) Block(id BlockID) (Block, bool) {
	if int(id) >= len(s.blocks) {
		return Block{}, false
	}
	return s.blocks[id], true
}

// NumBlocks returns the number of blocks.
func (s *Store) NumBlocks() int { return len(s.blocks) }

// Dependencies returns the dependency names a block declares.
func (s *Store) Dependencies(id BlockID) []string {
	b, ok := s.Block(id)
	if !ok {
		return nil
	}
	return s.deps[b.Dependencies.Start:b.Dependencies.End:b.Dependencies.End]
}

// Mutations returns the mutations a block performs.
func (s *Store) Mutations(id BlockID) []Mutation {
	b, ok := s.Block(id)
	if !ok {
		return nil
	}
	return s.mutations[b.Mutations.Start:b.Mutations.End:b.Mutations.End]
}

// MutationIndex returns the position of the named mutation in a block.
func (s *Store) MutationIndex(id BlockID, name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	for i, m := range s.Mutations(id) {
		if m.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Program returns the bytecode of a range.
func (s *Store) Program(r Range) []byte {
	if int(r.End) > len(s.code) || r.Start > r.End {
		return nil
	}
	return s.code[r.Start:r.End:r.End]
}
