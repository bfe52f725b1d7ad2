package wordcount

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

var errNoCount = errors.New("missing count column")

// Mismatch is a word both outputs contain with different counts.
type Mismatch struct {
	Word string
	A, B int
}

// Diff lists the differences between two word-count outputs.
type Diff struct {
	OnlyInA    []string
	OnlyInB    []string
	Mismatched []Mismatch
}

// Equal reports whether the outputs hold the same words with the same counts.
func (d Diff) Equal() bool {
	return len(d.OnlyInA) == 0 && len(d.OnlyInB) == 0 && len(d.Mismatched) == 0
}

// Write prints one line per difference, or a single equivalence line.
func (d Diff) Write(w io.Writer, nameA, nameB string) error {
	var b strings.Builder
	for _, word := range d.OnlyInA {
		fmt.Fprintf(&b, "%s is not found in %s\n", word, nameB)
	}
	for _, m := range d.Mismatched {
		fmt.Fprintf(&b, "%s counts differently as (%d, %d)\n", m.Word, m.A, m.B)
	}
	for _, word := range d.OnlyInB {
		fmt.Fprintf(&b, "%s is not found in %s\n", word, nameA)
	}
	if d.Equal() {
		b.WriteString("The two files are equivalent.\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Compare parses two "word, count" outputs and returns their differences.
// Order of lines does not matter.
func Compare(a, b io.Reader) (Diff, error) {
	ca, err := ReadCounts(a)
	if err != nil {
		return Diff{}, fmt.Errorf("failed to read first output: %w", err)
	}
	cb, err := ReadCounts(b)
	if err != nil {
		return Diff{}, fmt.Errorf("failed to read second output: %w", err)
	}

	var d Diff
	for word, na := range ca {
		nb, ok := cb[word]
		switch {
		case !ok:
			d.OnlyInA = append(d.OnlyInA, word)
		case na != nb:
			d.Mismatched = append(d.Mismatched, Mismatch{Word: word, A: na, B: nb})
		}
	}
	for word := range cb {
		if _, ok := ca[word]; !ok {
			d.OnlyInB = append(d.OnlyInB, word)
		}
	}

	sort.Strings(d.OnlyInA)
	sort.Strings(d.OnlyInB)
	sort.Slice(d.Mismatched, func(i, j int) bool { return d.Mismatched[i].Word < d.Mismatched[j].Word })
	return d, nil
}

// ReadCounts parses "word, count" lines. A repeated word keeps its last count.
func ReadCounts(r io.Reader) (map[string]int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	counts := make(map[string]int)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return counts, nil
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 2 {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, errNoCount)
		}
		n, err := strconv.Atoi(strings.TrimSpace(rec[1]))
		if err != nil {
			line, _ := cr.FieldPos(1)
			return nil, fmt.Errorf("line %d: bad count %q: %w", line, rec[1], err)
		}
		counts[rec[0]] = n
	}
}
