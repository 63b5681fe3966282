package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/thalesfsp/latentbo"
)

// errSeeds marks an unreadable seed table.
var errSeeds = errors.New("invalid seed table")

// LoadSeeds reads a seed table from a CSV file with an x (sequence) column
// and an optional y (objective) column. An empty y marks the objective as
// unknown. A header row naming x is skipped. limit > 0 keeps the first limit
// rows.
//
// Example:
//
//	x,y
//	MKTAYIAKQR,0.42
//	MKVLAAGIVG,
func LoadSeeds(path string, limit int) ([]latentbo.Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errSeeds, err)
	}
	defer f.Close()

	return readSeeds(f, limit)
}

func readSeeds(r io.Reader, limit int) ([]latentbo.Seed, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var seeds []latentbo.Seed

	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("%w: %v", errSeeds, err)
		}

		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "x") {
			continue
		}

		seed, err := parseSeed(record)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", errSeeds, line, err)
		}

		seeds = append(seeds, seed)

		if limit > 0 && len(seeds) == limit {
			break
		}
	}

	if len(seeds) == 0 {
		return nil, fmt.Errorf("%w: no rows", errSeeds)
	}

	return seeds, nil
}

func parseSeed(record []string) (latentbo.Seed, error) {
	if len(record) > 2 {
		return latentbo.Seed{}, fmt.Errorf("expected at most 2 columns, got %d", len(record))
	}

	seq := strings.TrimSpace(record[0])
	if seq == "" {
		return latentbo.Seed{}, errors.New("empty sequence")
	}

	seed := latentbo.Seed{Sequence: seq}

	if len(record) == 2 && strings.TrimSpace(record[1]) != "" {
		y, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return latentbo.Seed{}, fmt.Errorf("objective: %w", err)
		}

		if math.IsNaN(y) || math.IsInf(y, 0) {
			return latentbo.Seed{}, fmt.Errorf("objective must be finite, got %v", y)
		}

		seed.Objective = &y
	}

	return seed, nil
}
