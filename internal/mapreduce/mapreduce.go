package mapreduce

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"MRExchange/internal/exchange"
	"MRExchange/internal/logger"
	"MRExchange/internal/types"
)

// DefaultMaxRecordSize is the slot size used when Config.MaxRecordSize is zero.
const DefaultMaxRecordSize = 4096

var (
	ErrAlreadyStarted = errors.New("run already started")
	ErrStillRunning   = errors.New("run still in progress")
	errReduceReturned = errors.New("reduce execution returned")
)

// Producer is the side of the exchange a map unit sees.
type Producer interface {
	Produce(id int, rec types.Record) error
}

// Consumer is the side of the exchange the reduce unit sees.
type Consumer interface {
	Consume(id int, dst *types.Record) (exchange.Result, error)
	Next(id int) (types.Record, exchange.Result, error)
	NextAny() (int, types.Record, exchange.Result, error)
}

// Mapper reads its exclusive input handle and produces records for id.
// It must not call Produce after returning.
type Mapper interface {
	Map(p Producer, in io.Reader, id, nmaps int) error
}

// Reducer consumes every producer until end-of-stream and writes out.
type Reducer interface {
	Reduce(c Consumer, out io.Writer, nmaps int) error
}

type MapFunc func(p Producer, in io.Reader, id, nmaps int) error

func (f MapFunc) Map(p Producer, in io.Reader, id, nmaps int) error {
	return f(p, in, id, nmaps)
}

type ReduceFunc func(c Consumer, out io.Writer, nmaps int) error

func (f ReduceFunc) Reduce(c Consumer, out io.Writer, nmaps int) error {
	return f(c, out, nmaps)
}

// Opener hands out independent input and output handles by name.
type Opener interface {
	OpenReadCloser(name string) (io.ReadCloser, error)
	OpenWriteCloser(name string) (io.WriteCloser, error)
}

type Config struct {
	Mapper  Mapper
	Reducer Reducer

	// Workers is the number of map executions.
	Workers int
	// BufferBytes is the byte budget of the shared slot pool.
	BufferBytes int
	// MaxRecordSize is the slot size; key plus value may not exceed it.
	MaxRecordSize int

	Logger *logger.Logger
}

func (c Config) slotSize() int {
	if c.MaxRecordSize == 0 {
		return DefaultMaxRecordSize
	}
	return c.MaxRecordSize
}

// Capacity is the number of slots the byte budget buys.
func (c Config) Capacity() int {
	size := c.slotSize()
	if size < 1 {
		return 0
	}
	return c.BufferBytes / size
}

func (c Config) Validate() error {
	switch {
	case c.Mapper == nil:
		return fmt.Errorf("%w: map unit is required", exchange.ErrConfigInvalid)
	case c.Reducer == nil:
		return fmt.Errorf("%w: reduce unit is required", exchange.ErrConfigInvalid)
	case c.Workers < 1:
		return fmt.Errorf("%w: worker count must be positive, got %d", exchange.ErrConfigInvalid, c.Workers)
	case c.slotSize() < 1:
		return fmt.Errorf("%w: record size must be positive, got %d", exchange.ErrConfigInvalid, c.MaxRecordSize)
	case c.Capacity() < 1:
		return fmt.Errorf("%w: buffer of %d bytes cannot hold one %d-byte record",
			exchange.ErrConfigInvalid, c.BufferBytes, c.slotSize())
	}
	return nil
}

// Report is the outcome of a finished run.
type Report struct {
	RunID         string
	Status        types.RunStatus
	Err           error
	MapErrors     []error // indexed by map id, nil on success
	CompletedMaps int
	Stats         exchange.Stats
}

// Job runs one map/reduce pass: Workers map executions and one reduce
// execution connected through a bounded exchange.
type Job struct {
	ID string

	cfg   Config
	x     *exchange.Exchange
	state *runState
	log   *logger.Logger

	// spawn starts an execution context; replaced in tests.
	spawn func(func()) error

	mu        sync.Mutex
	started   bool
	destroyed bool
	mapErrs   []error

	maps      sync.WaitGroup
	inputs    []io.ReadCloser
	output    io.WriteCloser
	closeOnce sync.Once
	closeErr  error
}

// New validates cfg and allocates the exchange. Nothing is allocated when
// the configuration is rejected.
func New(cfg Config) (*Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	x, err := exchange.New(cfg.Workers, cfg.Capacity(), cfg.slotSize())
	if err != nil {
		return nil, err
	}

	lg := cfg.Logger
	if lg == nil {
		lg = logger.Discard()
	}

	j := &Job{
		ID:      "run-" + uuid.New().String()[:8],
		cfg:     cfg,
		x:       x,
		state:   newRunState(),
		log:     lg.Named("mapreduce"),
		spawn:   goSpawn,
		mapErrs: make([]error, cfg.Workers),
	}
	j.log.Debug("Run created: run_id=%s workers=%d capacity=%d slot_size=%d",
		j.ID, cfg.Workers, x.Capacity(), x.SlotSize())
	return j, nil
}

func goSpawn(fn func()) error {
	go fn()
	return nil
}

// Exchange exposes the underlying exchange, mainly for inspection.
func (j *Job) Exchange() *exchange.Exchange {
	return j.x
}

// Status returns the current run status without blocking.
func (j *Job) Status() types.RunStatus {
	status, _, _ := j.state.snapshot()
	return status
}

// Start opens one input handle per map id and the output handle, then
// spawns the map executions and the reduce execution. On any failure the
// run is marked failed, blocked executions are woken, acquired handles are
// released and the error is returned; Wait still returns.
func (j *Job) Start(fs Opener, inPath, outPath string) error {
	j.mu.Lock()
	if j.started || j.destroyed {
		j.mu.Unlock()
		return ErrAlreadyStarted
	}
	j.started = true
	j.mu.Unlock()

	j.state.begin()
	j.log.Info("Run starting: run_id=%s workers=%d capacity=%d input=%s output=%s",
		j.ID, j.cfg.Workers, j.x.Capacity(), inPath, outPath)

	for id := 0; id < j.cfg.Workers; id++ {
		in, err := fs.OpenReadCloser(inPath)
		if err != nil {
			return j.abortStart(fmt.Errorf("%w: input %s for map %d: %v", exchange.ErrHandleOpen, inPath, id, err), 0)
		}
		j.inputs = append(j.inputs, in)
	}

	out, err := fs.OpenWriteCloser(outPath)
	if err != nil {
		return j.abortStart(fmt.Errorf("%w: output %s: %v", exchange.ErrHandleOpen, outPath, err), 0)
	}
	j.output = out

	for id := 0; id < j.cfg.Workers; id++ {
		id := id
		j.maps.Add(1)
		if err := j.spawn(func() { j.runMap(id) }); err != nil {
			j.maps.Done()
			return j.abortStart(fmt.Errorf("%w: map %d: %v", exchange.ErrSpawn, id, err), id)
		}
	}

	if err := j.spawn(j.runReduce); err != nil {
		return j.abortStart(fmt.Errorf("%w: reduce: %v", exchange.ErrSpawn, err), j.cfg.Workers)
	}
	return nil
}

// abortStart fails the run after spawned executions have been started.
// Executions already running are unblocked by aborting the exchange; the
// remaining teardown waits for them off the caller's goroutine.
func (j *Job) abortStart(err error, spawned int) error {
	j.log.Error("Run failed to start: run_id=%s err=%v", j.ID, err)
	j.x.Abort(err)

	// ids that never got an execution are finished by definition
	for id := spawned; id < j.cfg.Workers; id++ {
		j.x.MarkFinished(id)
	}

	if spawned == 0 {
		j.complete(err)
	} else {
		go j.complete(err)
	}
	return err
}

func (j *Job) runMap(id int) {
	defer j.maps.Done()

	err := j.invokeMap(id)
	j.x.MarkFinished(id)

	j.mu.Lock()
	j.mapErrs[id] = err
	j.mu.Unlock()
	j.state.mapDone()

	if err != nil {
		j.log.Warn("Map execution failed: run_id=%s id=%d err=%v", j.ID, id, err)
	} else {
		j.log.Debug("Map execution finished: run_id=%s id=%d", j.ID, id)
	}
}

func (j *Job) invokeMap(id int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("map %d panicked: %v", id, r)
		}
	}()
	return j.cfg.Mapper.Map(j.x, j.inputs[id], id, j.cfg.Workers)
}

func (j *Job) runReduce() {
	err := j.invokeReduce()
	if err != nil {
		j.log.Error("Reduce execution failed: run_id=%s err=%v", j.ID, err)
		j.x.Abort(err)
	} else {
		// maps still blocked here mean the reducer quit early
		j.x.Abort(errReduceReturned)
	}
	j.complete(err)
}

func (j *Job) invokeReduce() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reduce panicked: %v", r)
		}
	}()
	return j.cfg.Reducer.Reduce(j.x, j.output, j.cfg.Workers)
}

// complete waits for every map execution, closes all handles once and
// records the terminal status.
func (j *Job) complete(runErr error) {
	j.maps.Wait()

	err := errors.Join(runErr, j.closeHandles())
	status := types.RunSucceeded
	if err != nil {
		status = types.RunFailed
	}
	if j.state.finish(status, err) {
		j.log.Info("Run finished: run_id=%s status=%s", j.ID, status)
	}
}

func (j *Job) closeHandles() error {
	j.closeOnce.Do(func() {
		var errs []error
		for id, in := range j.inputs {
			if err := in.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close input of map %d: %w", id, err))
			}
		}
		if j.output != nil {
			if err := j.output.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close output: %w", err))
			}
		}
		j.closeErr = errors.Join(errs...)
	})
	return j.closeErr
}

// Wait blocks until the run is terminal. By then every execution has
// returned and every handle has been closed.
func (j *Job) Wait() Report {
	status, err := j.state.await()
	_, _, completed := j.state.snapshot()

	j.mu.Lock()
	mapErrs := append([]error(nil), j.mapErrs...)
	j.mu.Unlock()

	return Report{
		RunID:         j.ID,
		Status:        status,
		Err:           err,
		MapErrors:     mapErrs,
		CompletedMaps: completed,
		Stats:         j.x.Stats(),
	}
}

// Destroy releases the exchange. It fails with ErrStillRunning unless the
// run never started or Wait has observed a terminal status.
func (j *Job) Destroy() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.destroyed {
		return nil
	}
	if j.started && !j.Status().Terminal() {
		return ErrStillRunning
	}
	j.x.Release()
	j.destroyed = true
	j.log.Debug("Run destroyed: run_id=%s", j.ID)
	return nil
}

// Run is New, Start and Wait in one call.
func Run(cfg Config, fs Opener, inPath, outPath string) (Report, error) {
	j, err := New(cfg)
	if err != nil {
		return Report{Status: types.RunFailed, Err: err}, err
	}
	defer j.Destroy()

	j.Start(fs, inPath, outPath)
	report := j.Wait()
	return report, report.Err
}
