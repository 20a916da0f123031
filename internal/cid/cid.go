// Package cid computes content identifiers for metadata documents published to
// the bulletin store. Identifiers are CIDv1 with the raw codec and a
// blake2b-256 multihash, rendered in lowercase base32 multibase form.
package cid

import (
	"encoding/base32"
	"encoding/binary"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	version     = 1
	codecRaw    = 0x55
	hashBlake2b = 0xb220
	multibase   = "b"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Compute returns the content identifier of data. The result is a pure
// function of the bytes, so a caller can compute it locally and compare it
// with the identifier a remote store reports.
func Compute(data []byte) string {
	digest := blake2b.Sum256(data)
	buf := make([]byte, 0, 8+len(digest))
	buf = binary.AppendUvarint(buf, version)
	buf = binary.AppendUvarint(buf, codecRaw)
	buf = binary.AppendUvarint(buf, hashBlake2b)
	buf = binary.AppendUvarint(buf, uint64(len(digest)))
	buf = append(buf, digest[:]...)
	return multibase + strings.ToLower(encoding.EncodeToString(buf))
}

// Valid reports whether s looks like an identifier produced by Compute.
func Valid(s string) bool {
	if !strings.HasPrefix(s, multibase) {
		return false
	}
	raw, err := encoding.DecodeString(strings.ToUpper(s[len(multibase):]))
	if err != nil {
		return false
	}
	prefix := []uint64{version, codecRaw, hashBlake2b, blake2b.Size256}
	for _, want := range prefix {
		got, n := binary.Uvarint(raw)
		if n <= 0 || got != want {
			return false
		}
		raw = raw[n:]
	}
	return len(raw) == blake2b.Size256
}
