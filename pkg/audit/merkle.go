// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package audit

import (
	"crypto/sha256"
	"fmt"
	"sort"
)

// Direction tells the verifier which side a sibling hash sits on.
type Direction string

const (
	DirLeft  Direction = "left"
	DirRight Direction = "right"
)

// MerkleProof is an inclusion proof for one leaf. Folding EventHash with
// each sibling in order must reproduce RootHash.
type MerkleProof struct {
	EventHash  Hash        `json:"event_hash"`
	Siblings   []Hash      `json:"sibling_hashes"`
	Directions []Direction `json:"directions"`
	RootHash   Hash        `json:"root_hash"`
}

// MerkleTree is a binary hash tree over event hashes. Levels[0] holds the
// leaves; the last level holds the single root. Odd levels duplicate their
// final node (standard odd-node rule).
type MerkleTree struct {
	Levels [][]Hash
}

// LeavesForEvents returns event hashes in canonical leaf order:
// timestamp, then event ID.
func LeavesForEvents(events []*Event) []Hash {
	sorted := make([]*Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].EventID < sorted[j].EventID
	})
	leaves := make([]Hash, len(sorted))
	for i, e := range sorted {
		leaves[i] = e.Hash
	}
	return leaves
}

// NewMerkleTree builds a tree over the given leaves.
func NewMerkleTree(leaves []Hash) (*MerkleTree, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("merkle tree requires at least one leaf")
	}

	levels := [][]Hash{append([]Hash(nil), leaves...)}
	for len(levels[len(levels)-1]) > 1 {
		current := levels[len(levels)-1]
		next := make([]Hash, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			left := current[i]
			right := left // duplicate the last node on odd levels
			if i+1 < len(current) {
				right = current[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		levels = append(levels, next)
	}
	return &MerkleTree{Levels: levels}, nil
}

// Root returns the root hash. A single-leaf tree's root is the leaf itself.
func (t *MerkleTree) Root() Hash {
	return t.Levels[len(t.Levels)-1][0]
}

// LeafCount returns the number of leaves.
func (t *MerkleTree) LeafCount() int {
	return len(t.Levels[0])
}

// Proof builds the inclusion proof for the leaf equal to leafHash.
func (t *MerkleTree) Proof(leafHash Hash) (*MerkleProof, error) {
	idx := -1
	for i, leaf := range t.Levels[0] {
		if leaf == leafHash {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("leaf %s not in tree", leafHash)
	}
	return t.ProofForIndex(idx)
}

// ProofForIndex builds the inclusion proof for the leaf at index i.
func (t *MerkleTree) ProofForIndex(i int) (*MerkleProof, error) {
	if i < 0 || i >= len(t.Levels[0]) {
		return nil, fmt.Errorf("leaf index %d out of range [0,%d)", i, len(t.Levels[0]))
	}

	proof := &MerkleProof{
		EventHash: t.Levels[0][i],
		RootHash:  t.Root(),
	}

	idx := i
	for level := 0; level < len(t.Levels)-1; level++ {
		nodes := t.Levels[level]
		var sibling Hash
		var dir Direction
		if idx%2 == 0 {
			// Our node is the left child; sibling sits right (or is our own
			// duplicate at an odd tail).
			if idx+1 < len(nodes) {
				sibling = nodes[idx+1]
			} else {
				sibling = nodes[idx]
			}
			dir = DirRight
		} else {
			sibling = nodes[idx-1]
			dir = DirLeft
		}
		proof.Siblings = append(proof.Siblings, sibling)
		proof.Directions = append(proof.Directions, dir)
		idx /= 2
	}
	return proof, nil
}

// VerifyProof folds the proof and compares against root.
func VerifyProof(eventHash Hash, proof *MerkleProof, root Hash) bool {
	if proof == nil || len(proof.Siblings) != len(proof.Directions) {
		return false
	}
	acc := eventHash
	for i, sibling := range proof.Siblings {
		switch proof.Directions[i] {
		case DirLeft:
			acc = hashPair(sibling, acc)
		case DirRight:
			acc = hashPair(acc, sibling)
		default:
			return false
		}
	}
	return acc == root
}

func hashPair(left, right Hash) Hash {
	h := sha256.New()
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
