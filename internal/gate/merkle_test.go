package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHashNormalizesLineEndings(t *testing.T) {
	assert.Equal(t, FileHash("a\nb\n"), FileHash("a\r\nb\r\n"))
}

func TestMerkleRootIsConcatenationOfSortedHashes(t *testing.T) {
	files := map[string]string{
		"b/second.go": "package b\n",
		"a/first.go":  "package a\n",
		"c/third.go":  "package c\n",
	}
	hashes := HashFiles(files)

	// Root must equal hash(h_a + h_b + h_c) in sorted path order.
	concat := hashes["a/first.go"] + hashes["b/second.go"] + hashes["c/third.go"]
	sum := sha256.Sum256([]byte(concat))
	want := hex.EncodeToString(sum[:])

	assert.Equal(t, want, MerkleRoot(hashes))
}

func TestMerkleRootSensitiveToSingleByte(t *testing.T) {
	files := map[string]string{
		"a.go": "package a\n",
		"b.go": "package b\n",
		"c.go": "package c\n",
	}
	before := MerkleRoot(HashFiles(files))

	files["b.go"] = "package b\n// touched\n"
	after := MerkleRoot(HashFiles(files))

	require.NotEqual(t, before, after, "editing one file must change the root")
}

func TestMerkleRootDeterministic(t *testing.T) {
	files := map[string]string{"x.go": "package x\n", "y.go": "package y\n"}
	assert.Equal(t, MerkleRoot(HashFiles(files)), MerkleRoot(HashFiles(files)))
}
