package grep

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"MRExchange/internal/mapreduce"
	"MRExchange/internal/storage"
	"MRExchange/internal/types"
)

const logText = `INFO server started
ERROR disk full
INFO request served
ERROR disk full
WARN slow request
ERROR timeout talking to db
INFO request served
ERROR disk full
`

func TestNewRejectsBadPattern(t *testing.T) {
	if _, err := New("([a-z"); err == nil {
		t.Fatal("expected invalid pattern to be rejected")
	}
	g, err := New("^ERROR")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if g.Pattern() != "^ERROR" {
		t.Errorf("Pattern() = %q", g.Pattern())
	}
}

func TestFormatSortsLocations(t *testing.T) {
	got := Format("ERROR disk full", []int{8, 2, 4})
	if got != "ERROR disk full -> [2, 4, 8]" {
		t.Errorf("Format = %q", got)
	}
}

func TestDistributedGrep(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "app.log")
	if err := os.WriteFile(in, []byte(logText), 0644); err != nil {
		t.Fatal(err)
	}

	g, err := New("^ERROR")
	if err != nil {
		t.Fatal(err)
	}

	want := "ERROR disk full -> [2, 4, 8]\n" +
		"ERROR timeout talking to db -> [6]\n"

	for _, workers := range []int{1, 2, 3, 8} {
		out := filepath.Join(dir, "matches.txt")
		report, err := mapreduce.Run(g.Config(workers, 2*mapreduce.DefaultMaxRecordSize), storage.NewLocalClient(), in, out)
		if err != nil {
			t.Fatalf("workers=%d: run failed: %v", workers, err)
		}
		if report.Status != types.RunSucceeded {
			t.Fatalf("workers=%d: status %s", workers, report.Status)
		}
		if report.Stats.Produced != 4 || report.Stats.Consumed != 4 {
			t.Errorf("workers=%d: produced %d consumed %d, want 4/4",
				workers, report.Stats.Produced, report.Stats.Consumed)
		}

		got, err := os.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != want {
			t.Errorf("workers=%d: output\n%s\nwant\n%s", workers, got, want)
		}
		t.Logf("✓ workers=%d found %d matching lines", workers, strings.Count(string(got), "\n"))
	}
}

func TestNoMatchesWritesEmptyOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "app.log")
	out := filepath.Join(dir, "matches.txt")
	if err := os.WriteFile(in, []byte(logText), 0644); err != nil {
		t.Fatal(err)
	}

	g, _ := New("PANIC")
	if _, err := mapreduce.Run(g.Config(4, mapreduce.DefaultMaxRecordSize), storage.NewLocalClient(), in, out); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty output, got %q", got)
	}
}
