package authn

import (
	"crypto/sha512"
	"fmt"
	"strings"
)

// sha512CryptVerify reports whether password matches an existing
// crypt(3) SHA-512 hash of the form "$6$rounds=N$salt$hash" or
// "$6$salt$hash" ($6$ is glibc's SHA-512-crypt identifier). There is
// no third-party crypt(3) implementation in the example pack (see
// DESIGN.md's authn stdlib justification) so this reimplements the
// published sha-crypt algorithm directly over stdlib crypto/sha512.
func sha512CryptVerify(password, encoded string) (bool, error) {
	if !strings.HasPrefix(encoded, "$6$") {
		return false, fmt.Errorf("authn: unsupported hash scheme in %q", truncate(encoded))
	}
	fields := strings.Split(encoded, "$")
	// fields: "", "6", [rounds=N,] salt, hash
	if len(fields) < 4 {
		return false, fmt.Errorf("authn: malformed sha512-crypt hash")
	}
	rounds := 5000
	idx := 2
	if strings.HasPrefix(fields[idx], "rounds=") {
		if _, err := fmt.Sscanf(fields[idx], "rounds=%d", &rounds); err != nil {
			return false, fmt.Errorf("authn: malformed rounds spec: %w", err)
		}
		idx++
	}
	if idx+1 >= len(fields) {
		return false, fmt.Errorf("authn: malformed sha512-crypt hash")
	}
	salt := fields[idx]
	wantHash := fields[idx+1]

	computed := sha512Crypt(password, salt, rounds)
	return computed == wantHash, nil
}

func truncate(s string) string {
	if len(s) > 8 {
		return s[:8] + "..."
	}
	return s
}

const sha512CryptB64 = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// sha512Crypt implements the published "sha-crypt" algorithm
// (Drepper) for the $6$ (SHA-512) scheme.
func sha512Crypt(password, salt string, rounds int) string {
	pw := []byte(password)
	s := []byte(salt)

	// Digest B: password + salt + password.
	hb := sha512.New()
	hb.Write(pw)
	hb.Write(s)
	hb.Write(pw)
	b := hb.Sum(nil)

	// Digest A: password, salt, then B repeated/truncated to len(pw).
	ha := sha512.New()
	ha.Write(pw)
	ha.Write(s)
	remaining := len(pw)
	for remaining > len(b) {
		ha.Write(b)
		remaining -= len(b)
	}
	ha.Write(b[:remaining])
	for count := len(pw); count > 0; count >>= 1 {
		if count&1 != 0 {
			ha.Write(b)
		} else {
			ha.Write(pw)
		}
	}
	a := ha.Sum(nil)

	// DP: password repeated len(pw) times, folded to len(pw) bytes.
	hdp := sha512.New()
	for i := 0; i < len(pw); i++ {
		hdp.Write(pw)
	}
	dp := hdp.Sum(nil)
	p := sequenceOf(dp, len(pw))

	// DS: salt repeated (16 + a[0]) times, folded to len(salt) bytes.
	hds := sha512.New()
	repeat := 16 + int(a[0])
	for i := 0; i < repeat; i++ {
		hds.Write(s)
	}
	ds := hds.Sum(nil)
	saltSeq := sequenceOf(ds, len(s))

	// Rounds.
	cur := a
	for round := 0; round < rounds; round++ {
		hc := sha512.New()
		if round%2 != 0 {
			hc.Write(p)
		} else {
			hc.Write(cur)
		}
		if round%3 != 0 {
			hc.Write(saltSeq)
		}
		if round%7 != 0 {
			hc.Write(p)
		}
		if round%2 != 0 {
			hc.Write(cur)
		} else {
			hc.Write(p)
		}
		cur = hc.Sum(nil)
	}

	return encodeSha512Crypt(cur)
}

// sequenceOf builds a byte slice of length n by repeating src.
func sequenceOf(src []byte, n int) []byte {
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = src[i%len(src)]
	}
	return out
}

// permutation of byte indices encoded together, per the sha-crypt spec.
var sha512CryptPermutation = [][]int{
	{0, 21, 42}, {22, 43, 1}, {44, 2, 23}, {3, 24, 45}, {25, 46, 4},
	{47, 5, 26}, {6, 27, 48}, {28, 49, 7}, {50, 8, 29}, {9, 30, 51},
	{31, 52, 10}, {53, 11, 32}, {12, 33, 54}, {34, 55, 13}, {56, 14, 35},
	{15, 36, 57}, {37, 58, 16}, {59, 17, 38}, {18, 39, 60}, {40, 61, 19},
	{62, 20, 41},
}

func encodeSha512Crypt(digest []byte) string {
	var sb strings.Builder
	for _, group := range sha512CryptPermutation {
		encodeGroup(&sb, digest[group[0]], digest[group[1]], digest[group[2]])
	}
	encodeTail(&sb, digest[63])
	return sb.String()
}

func encodeGroup(sb *strings.Builder, b2, b1, b0 byte) {
	v := int(b2)<<16 | int(b1)<<8 | int(b0)
	for i := 0; i < 4; i++ {
		sb.WriteByte(sha512CryptB64[v&0x3f])
		v >>= 6
	}
}

func encodeTail(sb *strings.Builder, b byte) {
	v := int(b)
	for i := 0; i < 2; i++ {
		sb.WriteByte(sha512CryptB64[v&0x3f])
		v >>= 6
	}
}
