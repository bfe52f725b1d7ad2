// Package wordcount counts word occurrences with a single map/reduce pass.
// Output lines have the form "word, count", sorted by word.
package wordcount

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"MRExchange/internal/exchange"
	"MRExchange/internal/mapreduce"
	"MRExchange/internal/types"
)

// maxLine bounds a single input line.
const maxLine = 1 << 20

// Map reads every line of in and handles the lines whose number is
// congruent to id modulo nmaps, so each map unit sees a disjoint share of
// an input every unit reads in full.
func Map(p mapreduce.Producer, in io.Reader, id, nmaps int) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	for lineNo := 0; scanner.Scan(); lineNo++ {
		if lineNo%nmaps != id {
			continue
		}
		for _, word := range Words(scanner.Text()) {
			if err := p.Produce(id, types.NewRecord(word, "1")); err != nil {
				return fmt.Errorf("failed to produce %q from line %d: %w", word, lineNo, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}

// Words splits line on every non-letter and lower-cases the pieces.
func Words(line string) []string {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}

// Reduce drains every map unit and writes the aggregated counts.
func Reduce(c mapreduce.Consumer, out io.Writer, nmaps int) error {
	counts := make(map[string]int)
	for {
		id, rec, res, err := c.NextAny()
		if err != nil {
			return err
		}
		if res == exchange.EndOfStream {
			break
		}
		n, err := strconv.Atoi(string(rec.Value))
		if err != nil {
			return fmt.Errorf("bad count %q for %q from map %d: %w", rec.Value, rec.Key, id, err)
		}
		counts[string(rec.Key)] += n
	}
	return WriteCounts(out, counts)
}

// WriteCounts writes counts as "word, count" lines sorted by word.
func WriteCounts(out io.Writer, counts map[string]int) error {
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Strings(words)

	bw := bufio.NewWriter(out)
	for _, w := range words {
		if _, err := fmt.Fprintf(bw, "%s, %d\n", w, counts[w]); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// Config returns a run configuration using the word-count units.
func Config(workers, bufferBytes int) mapreduce.Config {
	return mapreduce.Config{
		Mapper:      mapreduce.MapFunc(Map),
		Reducer:     mapreduce.ReduceFunc(Reduce),
		Workers:     workers,
		BufferBytes: bufferBytes,
	}
}
