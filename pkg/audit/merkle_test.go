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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaves(n int) []Hash {
	out := make([]Hash, n)
	for i := range out {
		out[i] = sha256.Sum256([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return out
}

func TestMerkleTreeEmpty(t *testing.T) {
	_, err := NewMerkleTree(nil)
	require.Error(t, err)
}

func TestMerkleTreeSingleLeaf(t *testing.T) {
	ls := leaves(1)
	tree, err := NewMerkleTree(ls)
	require.NoError(t, err)

	assert.Equal(t, ls[0], tree.Root())

	proof, err := tree.ProofForIndex(0)
	require.NoError(t, err)
	assert.Empty(t, proof.Siblings)
	assert.Empty(t, proof.Directions)
	assert.True(t, VerifyProof(ls[0], proof, tree.Root()))
}

func TestMerkleTreeTwoLeaves(t *testing.T) {
	ls := leaves(2)
	tree, err := NewMerkleTree(ls)
	require.NoError(t, err)

	assert.Equal(t, hashPair(ls[0], ls[1]), tree.Root())

	for i, leaf := range ls {
		proof, err := tree.ProofForIndex(i)
		require.NoError(t, err)
		require.Len(t, proof.Siblings, 1)
		assert.True(t, VerifyProof(leaf, proof, tree.Root()))
	}
}

func TestMerkleTreeOddLeaves(t *testing.T) {
	for _, n := range []int{3, 5} {
		t.Run(fmt.Sprintf("%d_leaves", n), func(t *testing.T) {
			ls := leaves(n)
			tree, err := NewMerkleTree(ls)
			require.NoError(t, err)

			for i, leaf := range ls {
				proof, err := tree.ProofForIndex(i)
				require.NoError(t, err)
				assert.True(t, VerifyProof(leaf, proof, tree.Root()), "leaf %d", i)
			}
		})
	}
}

func TestMerkleTreeThreeLeafShape(t *testing.T) {
	// With 3 leaves the odd node is duplicated:
	// root = H(H(l0||l1) || H(l2||l2)).
	ls := leaves(3)
	tree, err := NewMerkleTree(ls)
	require.NoError(t, err)

	want := hashPair(hashPair(ls[0], ls[1]), hashPair(ls[2], ls[2]))
	assert.Equal(t, want, tree.Root())
}

func TestVerifyProofRejectsWrongRoot(t *testing.T) {
	ls := leaves(3)
	tree, err := NewMerkleTree(ls)
	require.NoError(t, err)

	proof, err := tree.ProofForIndex(1)
	require.NoError(t, err)
	require.True(t, VerifyProof(ls[1], proof, tree.Root()))

	assert.False(t, VerifyProof(ls[1], proof, ZeroHash))
}

func TestVerifyProofRejectsTamperedSibling(t *testing.T) {
	ls := leaves(5)
	tree, err := NewMerkleTree(ls)
	require.NoError(t, err)

	proof, err := tree.ProofForIndex(2)
	require.NoError(t, err)

	proof.Siblings[0][0] ^= 0xff
	assert.False(t, VerifyProof(ls[2], proof, tree.Root()))
}

func TestProofUnknownLeaf(t *testing.T) {
	tree, err := NewMerkleTree(leaves(4))
	require.NoError(t, err)

	_, err = tree.Proof(sha256.Sum256([]byte("stranger")))
	require.Error(t, err)
}
