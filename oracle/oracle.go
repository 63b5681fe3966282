// Package oracle provides latentbo.Oracle implementations: builtin sequence
// properties for demos and tests, an HTTP client for models served out of
// process, and the protein sanitizer applied before folding models.
package oracle

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/thalesfsp/latentbo"
	"github.com/thalesfsp/latentbo/execution"
)

// nonCanonical lists the non-standard residue codes and the gap symbol
// stripped before scoring with a folding model.
const nonCanonical = "-UXZOB"

var sanitizer = strings.NewReplacer(
	"-", "", "U", "", "X", "", "Z", "", "O", "", "B", "",
)

// SanitizeProtein removes gap symbols and non-canonical residue codes.
func SanitizeProtein(seq string) string {
	if !strings.ContainsAny(seq, nonCanonical) {
		return seq
	}

	return sanitizer.Replace(seq)
}

// Sanitized wraps o so that every sequence is passed through
// SanitizeProtein first. Batch capability is preserved.
func Sanitized(o latentbo.Oracle) latentbo.Oracle {
	if b, ok := o.(latentbo.BatchOracle); ok {
		return sanitizedBatch{sanitized{b}, b}
	}

	return sanitized{o}
}

type sanitized struct {
	inner latentbo.Oracle
}

func (s sanitized) Score(ctx context.Context, seq string) (float64, error) {
	return s.inner.Score(ctx, SanitizeProtein(seq))
}

type sanitizedBatch struct {
	sanitized

	batch latentbo.BatchOracle
}

func (s sanitizedBatch) ScoreBatch(ctx context.Context, seqs []string) ([]float64, []error) {
	clean := make([]string, len(seqs))
	for i, seq := range seqs {
		clean[i] = SanitizeProtein(seq)
	}

	return s.batch.ScoreBatch(ctx, clean)
}

// Resolve returns the oracle for id. An id with an endpoint is served over
// HTTP; otherwise it must name a builtin. Unknown ids wrap
// latentbo.ErrInvalidConfig.
func Resolve(ec *execution.Context, id string, endpoints map[string]string, settings HTTPSettings) (latentbo.Oracle, error) {
	if url, ok := endpoints[id]; ok {
		return NewHTTP(ec, id, url, settings)
	}

	return Builtin(id)
}

// ResolveSet resolves the objective and every constraint oracle. With
// sanitize set, every oracle is wrapped with Sanitized.
func ResolveSet(ec *execution.Context, objective string, constraintIDs []string, endpoints map[string]string, settings HTTPSettings, sanitize bool) (latentbo.OracleSet, error) {
	wrap := func(o latentbo.Oracle) latentbo.Oracle {
		if sanitize {
			return Sanitized(o)
		}

		return o
	}

	obj, err := Resolve(ec, objective, endpoints, settings)
	if err != nil {
		return latentbo.OracleSet{}, fmt.Errorf("objective: %w", err)
	}

	set := latentbo.OracleSet{
		Objective:   wrap(obj),
		Constraints: make(map[string]latentbo.Oracle, len(constraintIDs)),
	}

	for _, id := range constraintIDs {
		o, err := Resolve(ec, id, endpoints, settings)
		if err != nil {
			return latentbo.OracleSet{}, fmt.Errorf("constraint %q: %w", id, err)
		}

		set.Constraints[id] = wrap(o)
	}

	return set, nil
}

// Names lists the builtin oracle ids, sorted. Parameterized builtins are
// shown with their prefix.
func Names() []string {
	names := make([]string, 0, len(builtins)+1)
	for name := range builtins {
		names = append(names, name)
	}

	names = append(names, motifPrefix+"<motif>")
	sort.Strings(names)

	return names
}
