// Package seqid derives stable content identifiers from amino-acid sequences.
package seqid

import (
	"crypto/md5"
	"encoding/hex"
)

// ID returns a fixed-length alphanumeric digest of the sequence, used as
// the filesystem-safe key of the on-disk stores. Two distinct sequences are
// assumed not to collide; a 128-bit hash keeps that probability negligible
// for realistic corpora.
func ID(sequence string) string {
	sum := md5.Sum([]byte(sequence))
	return hex.EncodeToString(sum[:])
}
