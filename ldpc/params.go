// Package ldpc holds the job-parameter codec for the LDPC accelerator offload:
// block sizing rules, fixed-layout wire records and the error taxonomy shared
// by the rest of the module.
//
// Everything in this package is pure and synchronous.
package ldpc

import (
	"fmt"
	"sort"
)

// Protocol-fixed sizes of the accelerator's records.
const (
	// InputCapacity is the byte capacity of the request input (or LLR) block.
	InputCapacity = 6528
	// OutputCapacity is the byte capacity of the response output block.
	OutputCapacity = 1056
	// MaxMessageSize is the ceiling for a control message on the channel.
	MaxMessageSize = 4080
	// MaxExpansion is the largest lifting size (Zmax).
	MaxExpansion = 384
	// MaxLLRs bounds the LLR count the accelerator kernel accepts for one segment.
	MaxLLRs = 27000
)

// Graph selects one of the two base graphs.
type Graph uint8

const (
	BG1 Graph = 1
	BG2 Graph = 2
)

func (g Graph) String() string {
	switch g {
	case BG1:
		return "BG1"
	case BG2:
		return "BG2"
	default:
		return fmt.Sprintf("Graph(%d)", uint8(g))
	}
}

// Valid reports whether g is BG1 or BG2.
func (g Graph) Valid() bool { return g == BG1 || g == BG2 }

// Columns is the base-graph column count C(g): 68 for BG1, 52 for BG2.
// It returns 0 for an invalid graph.
func (g Graph) Columns() int {
	switch g {
	case BG1:
		return 68
	case BG2:
		return 52
	default:
		return 0
	}
}

// Rows is the base-graph row count: 46 for BG1, 42 for BG2.
func (g Graph) Rows() int {
	switch g {
	case BG1:
		return 46
	case BG2:
		return 42
	default:
		return 0
	}
}

// SystematicColumns is the upper bound Kb on information columns: 22 for BG1, 10 for BG2.
func (g Graph) SystematicColumns() int {
	switch g {
	case BG1:
		return 22
	case BG2:
		return 10
	default:
		return 0
	}
}

var liftingSizes = func() []int {
	var out []int
	for _, a := range []int{2, 3, 5, 7, 9, 11, 13, 15} {
		for z := a; z <= MaxExpansion; z *= 2 {
			out = append(out, z)
		}
	}
	sort.Ints(out)
	return out
}()

// LiftingSizes returns the valid expansion factors in ascending order.
func LiftingSizes() []int {
	return append([]int(nil), liftingSizes...)
}

// IsLiftingSize reports whether z is in the protocol's discrete expansion set.
func IsLiftingSize(z int) bool {
	i := sort.SearchInts(liftingSizes, z)
	return i < len(liftingSizes) && liftingSizes[i] == z
}

// DerivedLength returns N = C(graph) × expansion, the decoder input length.
func DerivedLength(g Graph, expansion int) (int, error) {
	if !g.Valid() {
		return 0, configError(RuleInvalidGraphSelector, fmt.Sprintf("invalid graph selector %d", uint8(g)))
	}
	if !IsLiftingSize(expansion) {
		return 0, configError(RuleInvalidExpansion, fmt.Sprintf("expansion %d is not a lifting size", expansion))
	}
	return g.Columns() * expansion, nil
}

// CodewordBits returns the transmitted codeword length (C(graph)-2) × expansion.
// The first two lifted columns are punctured.
func CodewordBits(g Graph, expansion int) (int, error) {
	n, err := DerivedLength(g, expansion)
	if err != nil {
		return 0, err
	}
	return n - 2*expansion, nil
}

func bytesForBits(bits int) int { return (bits + 7) / 8 }
