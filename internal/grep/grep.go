package grep

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"MRExchange/internal/exchange"
	"MRExchange/internal/mapreduce"
	"MRExchange/internal/types"
)

// maxLine bounds a single input line.
const maxLine = 1 << 20

// Grep finds the lines of an input matching a pattern using one map/reduce pass.
type Grep struct {
	pattern string
	regex   *regexp.Regexp
}

// New compiles pattern.
func New(pattern string) (*Grep, error) {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}

	return &Grep{
		pattern: pattern,
		regex:   regex,
	}, nil
}

func (g *Grep) Pattern() string {
	return g.pattern
}

// Map emits (line, line number) for every matching line assigned to id.
// Line numbers start at 1.
func (g *Grep) Map(p mapreduce.Producer, in io.Reader, id, nmaps int) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	for lineNo := 0; scanner.Scan(); lineNo++ {
		if lineNo%nmaps != id {
			continue
		}
		line := scanner.Text()
		if !g.regex.MatchString(line) {
			continue
		}
		rec := types.NewRecord(line, strconv.Itoa(lineNo+1))
		if err := p.Produce(id, rec); err != nil {
			return fmt.Errorf("failed to produce match on line %d: %w", lineNo+1, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}

// Reduce groups the locations of every matched line and writes one
// "line -> [n1, n2, ...]" entry per distinct line, sorted by line text.
func (g *Grep) Reduce(c mapreduce.Consumer, out io.Writer, nmaps int) error {
	locations := make(map[string][]int)
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
			return fmt.Errorf("bad line number %q from map %d: %w", rec.Value, id, err)
		}
		key := string(rec.Key)
		locations[key] = append(locations[key], n)
	}

	bw := bufio.NewWriter(out)
	for _, line := range sortedKeys(locations) {
		if _, err := io.WriteString(bw, Format(line, locations[line])+"\n"); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// Format renders one result entry. lines is sorted in place.
func Format(line string, lines []int) string {
	sort.Ints(lines)
	nums := make([]string, len(lines))
	for i, n := range lines {
		nums[i] = strconv.Itoa(n)
	}
	return fmt.Sprintf("%s -> [%s]", line, strings.Join(nums, ", "))
}

func sortedKeys(m map[string][]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Config returns a run configuration using g as both units.
func (g *Grep) Config(workers, bufferBytes int) mapreduce.Config {
	return mapreduce.Config{
		Mapper:      g,
		Reducer:     g,
		Workers:     workers,
		BufferBytes: bufferBytes,
	}
}
