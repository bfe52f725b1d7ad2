package mapreduce

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"MRExchange/internal/exchange"
	"MRExchange/internal/types"
)

// memFS is an in-memory Opener with failure injection.
type memFS struct {
	mu       sync.Mutex
	files    map[string]string
	written  map[string]*bytes.Buffer
	opens    int
	failOpen int // fail the n-th read open (1-based), 0 disables
	failOut  bool
	failCl   bool
	closed   int32
}

func newMemFS(files map[string]string) *memFS {
	return &memFS{files: files, written: make(map[string]*bytes.Buffer)}
}

type trackedReader struct {
	io.Reader
	fs *memFS
}

func (r *trackedReader) Close() error {
	atomic.AddInt32(&r.fs.closed, 1)
	if r.fs.failCl {
		return errors.New("disk on fire")
	}
	return nil
}

type trackedWriter struct {
	*bytes.Buffer
	fs *memFS
}

func (w *trackedWriter) Close() error {
	atomic.AddInt32(&w.fs.closed, 1)
	return nil
}

func (m *memFS) OpenReadCloser(name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.failOpen > 0 && m.opens == m.failOpen {
		return nil, fmt.Errorf("open %s: permission denied", name)
	}
	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("open %s: no such file", name)
	}
	return &trackedReader{Reader: strings.NewReader(data), fs: m}, nil
}

func (m *memFS) OpenWriteCloser(name string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOut {
		return nil, fmt.Errorf("create %s: read-only filesystem", name)
	}
	buf := new(bytes.Buffer)
	m.written[name] = buf
	return &trackedWriter{Buffer: buf, fs: m}, nil
}

func (m *memFS) output(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.written[name]; ok {
		return b.String()
	}
	return ""
}

// lineMapper produces (line, id) for every line where lineNo%nmaps == id.
var lineMapper = MapFunc(func(p Producer, in io.Reader, id, nmaps int) error {
	sc := bufio.NewScanner(in)
	for n := 0; sc.Scan(); n++ {
		if n%nmaps != id {
			continue
		}
		if err := p.Produce(id, types.NewRecord(sc.Text(), strconv.Itoa(id))); err != nil {
			return err
		}
	}
	return sc.Err()
})

// collectReducer writes every record as "key=value" lines, sorted.
var collectReducer = ReduceFunc(func(c Consumer, out io.Writer, nmaps int) error {
	var lines []string
	for {
		_, rec, res, err := c.NextAny()
		if err != nil {
			return err
		}
		if res == exchange.EndOfStream {
			break
		}
		lines = append(lines, rec.String())
	}
	sort.Strings(lines)
	for _, l := range lines {
		if _, err := fmt.Fprintln(out, l); err != nil {
			return err
		}
	}
	return nil
})

func waitReport(t *testing.T, j *Job) Report {
	t.Helper()
	done := make(chan Report, 1)
	go func() { done <- j.Wait() }()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("Wait did not return for %s", j.ID)
		return Report{}
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{Mapper: lineMapper, Reducer: collectReducer, Workers: 2, BufferBytes: 64, MaxRecordSize: 16}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if base.Capacity() != 4 {
		t.Fatalf("Capacity() = %d, want 4", base.Capacity())
	}

	cases := map[string]func(c *Config){
		"no mapper":         func(c *Config) { c.Mapper = nil },
		"no reducer":        func(c *Config) { c.Reducer = nil },
		"zero workers":      func(c *Config) { c.Workers = 0 },
		"negative record":   func(c *Config) { c.MaxRecordSize = -1 },
		"buffer below slot": func(c *Config) { c.BufferBytes = 15 },
		"default slot size": func(c *Config) { c.MaxRecordSize = 0 },
	}
	for name, mutate := range cases {
		c := base
		mutate(&c)
		if _, err := New(c); !errors.Is(err, exchange.ErrConfigInvalid) {
			t.Errorf("%s: New error = %v, want ErrConfigInvalid", name, err)
		}
	}
}

func TestRunDeliversEveryLine(t *testing.T) {
	var input strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&input, "line%02d\n", i)
	}
	fs := newMemFS(map[string]string{"in": input.String()})

	j, err := New(Config{Mapper: lineMapper, Reducer: collectReducer, Workers: 4, BufferBytes: 2 * 32, MaxRecordSize: 32})
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if !strings.HasPrefix(j.ID, "run-") {
		t.Errorf("run id %q lacks run- prefix", j.ID)
	}
	if err := j.Start(fs, "in", "out"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	report := waitReport(t, j)
	if report.Status != types.RunSucceeded || report.Err != nil {
		t.Fatalf("run finished %s: %v", report.Status, report.Err)
	}

	lines := strings.Split(strings.TrimSpace(fs.output("out")), "\n")
	if len(lines) != 50 {
		t.Fatalf("got %d output lines, want 50", len(lines))
	}
	for i, l := range lines {
		want := fmt.Sprintf("line%02d=%d", i, i%4)
		if l != want {
			t.Fatalf("line %d = %q, want %q", i, l, want)
		}
	}
	if report.CompletedMaps != 4 || report.Stats.HighWater > 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := atomic.LoadInt32(&fs.closed); got != 5 {
		t.Fatalf("closed %d handles, want 5", got)
	}
	if err := j.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	t.Logf("✓ 50 lines through %d slots", report.Stats.Capacity)
}

// A map unit that never produces leaves the reducer with an immediate
// end-of-stream.
func TestMapWithoutOutput(t *testing.T) {
	idle := MapFunc(func(Producer, io.Reader, int, int) error { return nil })
	var first exchange.Result = exchange.Got
	reduce := ReduceFunc(func(c Consumer, out io.Writer, nmaps int) error {
		_, res, err := c.Next(0)
		first = res
		return err
	})

	report, err := Run(Config{Mapper: idle, Reducer: reduce, Workers: 1, BufferBytes: 64, MaxRecordSize: 64},
		newMemFS(map[string]string{"in": ""}), "in", "out")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if first != exchange.EndOfStream || report.Status != types.RunSucceeded {
		t.Fatalf("first consume = %v, status %s", first, report.Status)
	}
}

func TestInputOpenFailure(t *testing.T) {
	fs := newMemFS(map[string]string{"in": "a\n"})
	fs.failOpen = 3

	j, _ := New(Config{Mapper: lineMapper, Reducer: collectReducer, Workers: 4, BufferBytes: 64, MaxRecordSize: 16})
	err := j.Start(fs, "in", "out")
	if !errors.Is(err, exchange.ErrHandleOpen) {
		t.Fatalf("Start error = %v, want ErrHandleOpen", err)
	}
	report := waitReport(t, j)
	if report.Status != types.RunFailed || !errors.Is(report.Err, exchange.ErrHandleOpen) {
		t.Fatalf("report = %s %v", report.Status, report.Err)
	}
	if got := atomic.LoadInt32(&fs.closed); got != 2 {
		t.Fatalf("closed %d handles, want the 2 already opened", got)
	}
	if fs.output("out") != "" {
		t.Fatalf("output was opened after an input failure")
	}
}

func TestOutputOpenFailure(t *testing.T) {
	fs := newMemFS(map[string]string{"in": "a\n"})
	fs.failOut = true

	j, _ := New(Config{Mapper: lineMapper, Reducer: collectReducer, Workers: 3, BufferBytes: 64, MaxRecordSize: 16})
	if err := j.Start(fs, "in", "out"); !errors.Is(err, exchange.ErrHandleOpen) {
		t.Fatalf("Start error = %v, want ErrHandleOpen", err)
	}
	if r := waitReport(t, j); r.Status != types.RunFailed {
		t.Fatalf("status = %s, want failed", r.Status)
	}
	if got := atomic.LoadInt32(&fs.closed); got != 3 {
		t.Fatalf("closed %d handles, want 3", got)
	}
}

// failingSpawner starts executions normally until call failAt.
func failingSpawner(failAt int) func(func()) error {
	calls := 0
	return func(fn func()) error {
		calls++
		if calls == failAt {
			return errors.New("thread limit reached")
		}
		go fn()
		return nil
	}
}

// Whatever execution fails to spawn, Wait returns a failed report even
// though spawned maps are blocked on a full exchange.
func TestSpawnFailureNeverHangs(t *testing.T) {
	flood := MapFunc(func(p Producer, in io.Reader, id, nmaps int) error {
		for i := 0; ; i++ {
			if err := p.Produce(id, types.NewRecord("k", strconv.Itoa(i))); err != nil {
				return err
			}
		}
	})

	for workers := 1; workers <= 64; workers++ {
		for _, failAt := range []int{1, workers/2 + 1, workers + 1} {
			j, err := New(Config{Mapper: flood, Reducer: collectReducer, Workers: workers, BufferBytes: 16, MaxRecordSize: 16})
			if err != nil {
				t.Fatalf("workers=%d: New failed: %v", workers, err)
			}
			j.spawn = failingSpawner(failAt)

			fs := newMemFS(map[string]string{"in": ""})
			if err := j.Start(fs, "in", "out"); !errors.Is(err, exchange.ErrSpawn) {
				t.Fatalf("workers=%d failAt=%d: Start error = %v", workers, failAt, err)
			}
			report := waitReport(t, j)
			if report.Status != types.RunFailed || !errors.Is(report.Err, exchange.ErrSpawn) {
				t.Fatalf("workers=%d failAt=%d: report %s %v", workers, failAt, report.Status, report.Err)
			}
			if got := atomic.LoadInt32(&fs.closed); int(got) != workers+1 {
				t.Fatalf("workers=%d failAt=%d: closed %d handles", workers, failAt, got)
			}
			if err := j.Destroy(); err != nil {
				t.Fatalf("Destroy failed: %v", err)
			}
		}
	}
	t.Logf("✓ spawn failures unwind for 1..64 workers")
}

func TestReduceErrorFailsRunAndUnblocksMaps(t *testing.T) {
	flood := MapFunc(func(p Producer, in io.Reader, id, nmaps int) error {
		for {
			if err := p.Produce(id, types.NewRecord("k", "v")); err != nil {
				return err
			}
		}
	})
	boom := errors.New("reducer exploded")
	reduce := ReduceFunc(func(c Consumer, out io.Writer, nmaps int) error {
		c.NextAny()
		return boom
	})

	j, _ := New(Config{Mapper: flood, Reducer: reduce, Workers: 3, BufferBytes: 16, MaxRecordSize: 8})
	j.Start(newMemFS(map[string]string{"in": ""}), "in", "out")
	report := waitReport(t, j)

	if report.Status != types.RunFailed || !errors.Is(report.Err, boom) {
		t.Fatalf("report %s %v, want failed with reducer error", report.Status, report.Err)
	}
	for id, err := range report.MapErrors {
		if !errors.Is(err, exchange.ErrAborted) {
			t.Errorf("map %d error = %v, want ErrAborted", id, err)
		}
	}
}

// The reduce verdict decides the run even when a map unit fails.
func TestMapFailureRecordedNotFatal(t *testing.T) {
	bad := errors.New("bad input")
	mapper := MapFunc(func(p Producer, in io.Reader, id, nmaps int) error {
		switch id {
		case 0:
			return bad
		case 1:
			panic("index out of range")
		}
		return p.Produce(id, types.NewRecord("ok", strconv.Itoa(id)))
	})

	fs := newMemFS(map[string]string{"in": ""})
	report, err := Run(Config{Mapper: mapper, Reducer: collectReducer, Workers: 3, BufferBytes: 64, MaxRecordSize: 16}, fs, "in", "out")
	if err != nil || report.Status != types.RunSucceeded {
		t.Fatalf("Run = %s %v, want succeeded", report.Status, err)
	}
	if !errors.Is(report.MapErrors[0], bad) {
		t.Errorf("map 0 error = %v", report.MapErrors[0])
	}
	if report.MapErrors[1] == nil || !strings.Contains(report.MapErrors[1].Error(), "panicked") {
		t.Errorf("map 1 error = %v, want panic", report.MapErrors[1])
	}
	if report.MapErrors[2] != nil {
		t.Errorf("map 2 error = %v", report.MapErrors[2])
	}
	if got := fs.output("out"); got != "ok=2\n" {
		t.Errorf("output = %q", got)
	}
}

func TestReducePanicFailsRun(t *testing.T) {
	reduce := ReduceFunc(func(Consumer, io.Writer, int) error { panic("nil map write") })
	report, err := Run(Config{Mapper: lineMapper, Reducer: reduce, Workers: 2, BufferBytes: 64, MaxRecordSize: 16},
		newMemFS(map[string]string{"in": "a\nb\nc\n"}), "in", "out")
	if err == nil || report.Status != types.RunFailed {
		t.Fatalf("Run = %s %v, want failed", report.Status, err)
	}
}

func TestCloseFailureFailsRun(t *testing.T) {
	fs := newMemFS(map[string]string{"in": "a\n"})
	fs.failCl = true
	report, err := Run(Config{Mapper: lineMapper, Reducer: collectReducer, Workers: 2, BufferBytes: 64, MaxRecordSize: 16}, fs, "in", "out")
	if err == nil || report.Status != types.RunFailed {
		t.Fatalf("Run = %s %v, want failed on close", report.Status, err)
	}
	if !strings.Contains(err.Error(), "failed to close input") {
		t.Fatalf("error %q does not mention the close failure", err)
	}
}

func TestLifecycleMisuse(t *testing.T) {
	release := make(chan struct{})
	slow := MapFunc(func(p Producer, in io.Reader, id, nmaps int) error {
		<-release
		return nil
	})

	j, _ := New(Config{Mapper: slow, Reducer: collectReducer, Workers: 1, BufferBytes: 16, MaxRecordSize: 16})
	if j.Status() != types.RunIdle {
		t.Fatalf("status before Start = %s", j.Status())
	}
	fs := newMemFS(map[string]string{"in": ""})
	if err := j.Start(fs, "in", "out"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := j.Start(fs, "in", "out"); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start error = %v", err)
	}
	if err := j.Destroy(); !errors.Is(err, ErrStillRunning) {
		t.Fatalf("Destroy while running error = %v", err)
	}

	close(release)
	if r := waitReport(t, j); r.Status != types.RunSucceeded {
		t.Fatalf("status = %s", r.Status)
	}
	if err := j.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if err := j.Destroy(); err != nil {
		t.Fatalf("second Destroy failed: %v", err)
	}
}

// chaosMapper fails a random share of its produce loop, like a flaky disk.
type chaosMapper struct {
	rate     float64
	failures int32
	mu       sync.Mutex
	rng      *rand.Rand
}

func (c *chaosMapper) shouldFail() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Float64() < c.rate
}

func (c *chaosMapper) Map(p Producer, in io.Reader, id, nmaps int) error {
	for i := 0; i < 20; i++ {
		if c.shouldFail() {
			atomic.AddInt32(&c.failures, 1)
			return fmt.Errorf("[CHAOS] map %d failed at record %d", id, i)
		}
		if err := p.Produce(id, types.NewRecord(strconv.Itoa(id), strconv.Itoa(i))); err != nil {
			return err
		}
	}
	return nil
}

func TestChaosMappersStillComplete(t *testing.T) {
	for round := 0; round < 10; round++ {
		cm := &chaosMapper{rate: 0.05, rng: rand.New(rand.NewSource(int64(round)))}
		report, err := Run(Config{Mapper: cm, Reducer: collectReducer, Workers: 8, BufferBytes: 3 * 16, MaxRecordSize: 16},
			newMemFS(map[string]string{"in": ""}), "in", "out")
		if err != nil {
			t.Fatalf("round %d: Run failed: %v", round, err)
		}
		failed := 0
		for _, e := range report.MapErrors {
			if e != nil {
				failed++
			}
		}
		if failed != int(atomic.LoadInt32(&cm.failures)) {
			t.Fatalf("round %d: %d map errors reported, %d injected", round, failed, cm.failures)
		}
		if report.Stats.Produced != report.Stats.Consumed {
			t.Fatalf("round %d: produced %d consumed %d", round, report.Stats.Produced, report.Stats.Consumed)
		}
	}
}
