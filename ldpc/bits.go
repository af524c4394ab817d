package ldpc

import (
	"fmt"
	"sort"
	"strings"
)

// ParseBits packs a text bit string ("0101...") into MSB-first bytes holding
// k bits. Bits beyond the end of s are zero. k < 0 means len(s).
func ParseBits(s string, k int) ([]byte, error) {
	if k < 0 {
		k = len(s)
	}
	if len(s) > k {
		return nil, configError(RuleInvalidBlockLength, fmt.Sprintf("bit string of %d bits exceeds K=%d", len(s), k))
	}
	out := make([]byte, bytesForBits(k))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '0':
		case '1':
			out[i/8] |= 0x80 >> (i % 8)
		default:
			return nil, configError(RuleInvalidBlockLength, fmt.Sprintf("invalid bit %q at offset %d", s[i], i))
		}
	}
	return out, nil
}

// FormatBits renders the first k bits of b, MSB first.
func FormatBits(b []byte, k int) string {
	if limit := 8 * len(b); k > limit {
		k = limit
	}
	if k < 0 {
		k = 0
	}
	var sb strings.Builder
	sb.Grow(k)
	for i := 0; i < k; i++ {
		if b[i/8]&(0x80>>(i%8)) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// Vector is a reference input block used by the harness and the tests.
type Vector struct {
	Name string
	// Bits is the text bit string as published.
	Bits string
	// K is the block length in bits; Bits is zero-extended to K.
	K int
}

var vectors = map[string]Vector{
	"512": {Name: "512", K: 512, Bits: "00010010001000011001111100010101000001100010011110100101000010100101000001001100000101110101011110000001010011011001011000110010001101110001100010100101100111000010000101101111101101111000101001011011111011001001001111011001111011000001011101011100101000100011011011100000010101010010111011001001000100001110110000011110111111100100011011010110100001001111010101001010011100010011011001001111111111111011000001101010110100010011011000111111011001001011110001110001000100000010101100011011101101011011101000010110"},
	"128": {Name: "128", K: 128, Bits: "10110101010111010110100111011001000110011011111101001100110110011011101000100110111011001010011110010001010101000110111011011101"},
	// Published with 96 significant bits.
	"112": {Name: "112", K: 112, Bits: "101101100101110011011011011100010010110110110010111000100101101110010101111001001010111001110011"},
	"64a": {Name: "64a", K: 64, Bits: "1101101001110100101011110011010110100111010111101110000101101100"},
	"64b": {Name: "64b", K: 64, Bits: "1101010101100101001110111001101001100011010101011101110100101010"},
}

// FillerBits512 is the filler count for a 512-bit block on BG1 with Z=128 (Kb=22).
const FillerBits512 = 2304

// LookupVector returns the named reference vector.
func LookupVector(name string) (Vector, bool) {
	v, ok := vectors[name]
	return v, ok
}

// VectorNames lists the reference vectors, sorted.
func VectorNames() []string {
	out := make([]string, 0, len(vectors))
	for name := range vectors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Bytes packs the vector into ceil(K/8) bytes.
func (v Vector) Bytes() []byte {
	b, err := ParseBits(v.Bits, v.K)
	if err != nil {
		panic(fmt.Sprintf("ldpc: malformed reference vector %s: %v", v.Name, err))
	}
	return b
}
