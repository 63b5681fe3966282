package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/thalesfsp/latentbo"
)

// motifPrefix introduces the motif-count builtin, e.g. "motif:RGD".
const motifPrefix = "motif:"

// hydrophobic residues on the Kyte-Doolittle scale.
const hydrophobic = "AILMFWV"

// errEmptySequence is returned by every builtin for "".
var errEmptySequence = errors.New("empty sequence")

// builtins maps ids to plain property functions.
var builtins = map[string]func(string) float64{
	"length":               func(s string) float64 { return float64(utf8.RuneCountInString(s)) },
	"hydrophobic-fraction": hydrophobicFraction,
	"charge":               netCharge,
}

// Builtin returns the builtin oracle named id.
//
// Available:
// - length: number of residues
// - hydrophobic-fraction: share of A, I, L, M, F, W, V residues
// - charge: net charge at neutral pH (K, R +1; D, E -1; H +0.1)
// - motif:<m>: non-overlapping occurrences of m
func Builtin(id string) (latentbo.Oracle, error) {
	if motif, ok := strings.CutPrefix(id, motifPrefix); ok {
		if motif == "" {
			return nil, fmt.Errorf("%w: empty motif in %q", latentbo.ErrInvalidConfig, id)
		}

		return property(func(s string) float64 { return float64(strings.Count(s, motif)) }), nil
	}

	fn, ok := builtins[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown oracle %q (builtins: %s)", latentbo.ErrInvalidConfig, id, strings.Join(Names(), ", "))
	}

	return property(fn), nil
}

// property adapts a property function, rejecting empty sequences.
func property(fn func(string) float64) latentbo.Oracle {
	return latentbo.OracleFunc(func(ctx context.Context, s string) (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		if s == "" {
			return 0, errEmptySequence
		}

		return fn(s), nil
	})
}

func hydrophobicFraction(s string) float64 {
	n, total := 0, 0

	for _, r := range s {
		total++

		if strings.ContainsRune(hydrophobic, r) {
			n++
		}
	}

	return float64(n) / float64(total)
}

func netCharge(s string) float64 {
	var q float64

	for _, r := range s {
		switch r {
		case 'K', 'R':
			q++
		case 'D', 'E':
			q--
		case 'H':
			q += 0.1
		}
	}

	return q
}
