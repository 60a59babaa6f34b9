package domain

import (
	"bytes"
	"encoding/hex"
	"errors"
	"sort"
)

// MemberHashSize is the fixed width of a member identifier.
const MemberHashSize = 32

var ErrInvalidMemberHash = errors.New("member hash must be 32 bytes of hex")

// MemberHash is the opaque identifier for a network member. It is derived
// externally (an HMAC of a real identity); the engine never sees cleartext
// identities. Equality and ordering are byte-wise.
type MemberHash [MemberHashSize]byte

// ParseMemberHash decodes a 64-character hex string into a MemberHash.
func ParseMemberHash(s string) (MemberHash, error) {
	var m MemberHash
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != MemberHashSize {
		return m, ErrInvalidMemberHash
	}
	copy(m[:], raw)
	return m, nil
}

// MemberHashFromBytes copies a 32-byte slice into a MemberHash.
func MemberHashFromBytes(b []byte) (MemberHash, error) {
	var m MemberHash
	if len(b) != MemberHashSize {
		return m, ErrInvalidMemberHash
	}
	copy(m[:], b)
	return m, nil
}

func (m MemberHash) String() string {
	return hex.EncodeToString(m[:])
}

// Short returns a truncated form for log output.
func (m MemberHash) Short() string {
	return hex.EncodeToString(m[:4])
}

// Compare orders two hashes byte-wise. Returns -1, 0, or 1.
func (m MemberHash) Compare(o MemberHash) int {
	return bytes.Compare(m[:], o[:])
}

// Less reports whether m sorts before o in byte order.
func (m MemberHash) Less(o MemberHash) bool {
	return bytes.Compare(m[:], o[:]) < 0
}

// MemberSet is a set of member hashes.
type MemberSet map[MemberHash]struct{}

func NewMemberSet(members ...MemberHash) MemberSet {
	s := make(MemberSet, len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

func (s MemberSet) Contains(m MemberHash) bool {
	_, ok := s[m]
	return ok
}

func (s MemberSet) Add(m MemberHash) {
	s[m] = struct{}{}
}

func (s MemberSet) Remove(m MemberHash) {
	delete(s, m)
}

// Clone returns an independent copy of the set.
func (s MemberSet) Clone() MemberSet {
	out := make(MemberSet, len(s))
	for m := range s {
		out[m] = struct{}{}
	}
	return out
}

// Sorted returns the set's members in ascending byte order.
func (s MemberSet) Sorted() []MemberHash {
	out := make([]MemberHash, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Intersect returns the members present in both sets.
func (s MemberSet) Intersect(other MemberSet) MemberSet {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(MemberSet)
	for m := range small {
		if large.Contains(m) {
			out[m] = struct{}{}
		}
	}
	return out
}

// Disjoint reports whether the two sets share no members.
func (s MemberSet) Disjoint(other MemberSet) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for m := range small {
		if large.Contains(m) {
			return false
		}
	}
	return true
}
