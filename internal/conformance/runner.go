package conformance

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandover/plasmite-go"
	"github.com/sandover/plasmite-go/pkg/log"
)

// PoolInfo is the pool summary checked by the pool_info op.
type PoolInfo struct {
	FileSize uint64
	RingSize uint64
	Oldest   *uint64
	Newest   *uint64
}

// Options configure a Runner.
//
// Feed and PoolInfo are backend hooks: when set, spawn_poke and
// pool_info run in-process against the hook instead of spawning the
// external plasmite binary. The native backend leaves them nil so
// concurrent writers really are separate processes.
type Options struct {
	// NewClient opens the backend client over the manifest workdir.
	NewClient func(dir string) (plasmite.Client, error)

	Logger log.Logger

	// BinPath locates the external plasmite binary for spawn_poke and
	// pool_info. The PLASMITE_BIN environment variable overrides it.
	BinPath string

	// TailTimeout bounds each underlying fetch during a tail step.
	// Zero means 500ms.
	TailTimeout time.Duration

	Feed     func(workdir, pool string, payload []byte, tags []string) error
	PoolInfo func(workdir, pool string) (*PoolInfo, error)
}

// Runner executes manifests. One Runner may execute several manifests;
// each Run opens its own client over the manifest's workdir.
type Runner struct {
	newClient   func(dir string) (plasmite.Client, error)
	logger      log.Logger
	binPath     string
	tailTimeout time.Duration
	feed        func(workdir, pool string, payload []byte, tags []string) error
	poolInfo    func(workdir, pool string) (*PoolInfo, error)
	runID       string
}

// tailDeadline bounds a whole tail step regardless of per-fetch
// timeouts, so a manifest expecting messages that never arrive still
// terminates.
const tailDeadline = 5 * time.Second

// NewRunner validates options and builds a runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.NewClient == nil {
		return nil, errors.New("conformance: NewClient is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	timeout := opts.TailTimeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Runner{
		newClient:   opts.NewClient,
		logger:      logger,
		binPath:     opts.BinPath,
		tailTimeout: timeout,
		feed:        opts.Feed,
		poolInfo:    opts.PoolInfo,
		runID:       uuid.NewString(),
	}, nil
}

// Run executes every step of manifest in order, fail-fast. baseDir is
// the directory the manifest's workdir is resolved against, normally
// the manifest file's own directory. The workdir is cleared before the
// first step.
func (r *Runner) Run(manifest *Manifest, baseDir string) error {
	workdir := filepath.Join(baseDir, manifest.Workdir)
	if err := resetWorkdir(workdir); err != nil {
		return err
	}

	client, err := r.newClient(workdir)
	if err != nil {
		return errors.New("client init failed: " + err.Error())
	}
	defer client.Close()

	r.logger.Info("conformance run starting",
		log.F("run_id", r.runID),
		log.F("workdir", workdir),
		log.F("steps", len(manifest.Steps)))

	for index, step := range manifest.Steps {
		r.logger.Debug("executing step",
			log.F("run_id", r.runID),
			log.F("index", index),
			log.F("op", step.Op),
			log.F("id", step.ID))
		if err := r.runStep(client, workdir, index, step); err != nil {
			r.logger.Error("step failed", log.F("run_id", r.runID), log.F("error", err))
			return err
		}
	}

	r.logger.Info("conformance run passed", log.F("run_id", r.runID))
	return nil
}

func (r *Runner) runStep(client plasmite.Client, workdir string, index int, step Step) error {
	switch step.Op {
	case "create_pool":
		return r.runCreatePool(client, index, step)
	case "append":
		return r.runAppend(client, index, step)
	case "fetch":
		return r.runFetch(client, index, step)
	case "tail":
		return r.runTail(client, index, step)
	case "list_pools":
		return r.runListPools(workdir, index, step)
	case "pool_info":
		return r.runPoolInfo(workdir, index, step)
	case "delete_pool":
		return r.runDeletePool(workdir, index, step)
	case "spawn_poke":
		return r.runSpawnPoke(workdir, index, step)
	case "corrupt_pool_header":
		return r.runCorruptPoolHeader(workdir, index, step)
	case "chmod_path":
		return r.runChmodPath(index, step)
	default:
		return stepErrorf(index, step.ID, "unknown op: %s", step.Op)
	}
}

func poolRefFromStep(index int, step Step) (plasmite.PoolRef, error) {
	if step.Pool == "" {
		return "", stepError(index, step.ID, "missing pool")
	}
	return plasmite.PoolRef(step.Pool), nil
}

func (r *Runner) runCreatePool(client plasmite.Client, index int, step Step) error {
	ref, err := poolRefFromStep(index, step)
	if err != nil {
		return err
	}
	var input struct {
		SizeBytes *uint64 `json:"size_bytes"`
	}
	if err := decodeInput(step.Input, &input); err != nil {
		return stepError(index, step.ID, err.Error())
	}
	sizeBytes := plasmite.DefaultPoolSizeBytes
	if input.SizeBytes != nil {
		sizeBytes = *input.SizeBytes
	}

	pool, opErr := client.CreatePool(ref, sizeBytes)
	if opErr == nil {
		pool.Close()
	}
	return checkExpectedError(index, step, opErr)
}

func (r *Runner) runAppend(client plasmite.Client, index int, step Step) error {
	ref, err := poolRefFromStep(index, step)
	if err != nil {
		return err
	}
	pool, opErr := client.OpenPool(ref)
	if opErr != nil {
		return checkExpectedError(index, step, opErr)
	}
	defer pool.Close()

	var input struct {
		Data       json.RawMessage `json:"data"`
		Tags       []string        `json:"tags"`
		Durability *string         `json:"durability"`
	}
	if step.Input == nil {
		return stepError(index, step.ID, "missing input")
	}
	if err := decodeInput(step.Input, &input); err != nil {
		return stepError(index, step.ID, err.Error())
	}
	if input.Data == nil {
		return stepError(index, step.ID, "missing input.data")
	}
	durability := plasmite.DurabilityFast
	if input.Durability != nil {
		switch *input.Durability {
		case "fast":
		case "flush":
			durability = plasmite.DurabilityFlush
		default:
			return stepErrorf(index, step.ID, "invalid input.durability: %s", *input.Durability)
		}
	}

	envelope, opErr := pool.AppendJSON(input.Data, input.Tags, durability)
	if opErr != nil {
		return checkExpectedError(index, step, opErr)
	}
	if err := checkExpectedError(index, step, nil); err != nil {
		return err
	}

	if step.Expect != nil && step.Expect.Seq != nil {
		msg, err := plasmite.DecodeMessage(envelope)
		if err != nil {
			return stepErrorf(index, step.ID, "failed to parse message: %v", err)
		}
		if msg.Seq != *step.Expect.Seq {
			return stepErrorf(index, step.ID, "expected seq %d, got %d", *step.Expect.Seq, msg.Seq)
		}
	}
	return nil
}

func (r *Runner) runFetch(client plasmite.Client, index int, step Step) error {
	ref, err := poolRefFromStep(index, step)
	if err != nil {
		return err
	}
	pool, opErr := client.OpenPool(ref)
	if opErr != nil {
		return checkExpectedError(index, step, opErr)
	}
	defer pool.Close()

	var input struct {
		Seq *uint64 `json:"seq"`
	}
	if step.Input == nil {
		return stepError(index, step.ID, "missing input")
	}
	if err := decodeInput(step.Input, &input); err != nil {
		return stepError(index, step.ID, err.Error())
	}
	if input.Seq == nil {
		return stepError(index, step.ID, "missing input.seq")
	}

	msg, opErr := pool.Get(*input.Seq)
	if opErr != nil {
		return checkExpectedError(index, step, opErr)
	}
	if err := checkExpectedError(index, step, nil); err != nil {
		return err
	}
	return checkFetchedMessage(index, step, msg)
}

func (r *Runner) runTail(client plasmite.Client, index int, step Step) error {
	ref, err := poolRefFromStep(index, step)
	if err != nil {
		return err
	}
	pool, opErr := client.OpenPool(ref)
	if opErr != nil {
		return checkExpectedError(index, step, opErr)
	}
	defer pool.Close()

	var input struct {
		SinceSeq *uint64  `json:"since_seq"`
		Max      *uint64  `json:"max"`
		Tags     []string `json:"tags"`
	}
	if err := decodeInput(step.Input, &input); err != nil {
		return stepError(index, step.ID, err.Error())
	}

	expected, ordered, err := expectedMessages(index, step)
	if err != nil {
		return err
	}
	max := input.Max
	if max == nil {
		val := uint64(len(expected))
		max = &val
	}

	tailer, opErr := plasmite.Tail(pool, plasmite.TailOptions{
		SinceSeq:    input.SinceSeq,
		MaxMessages: max,
		Tags:        input.Tags,
		Timeout:     r.tailTimeout,
	})
	if opErr != nil {
		return checkExpectedError(index, step, opErr)
	}
	defer tailer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), tailDeadline)
	defer cancel()

	var messages []*plasmite.Message
	for uint64(len(messages)) < *max {
		msg, err := tailer.Next(ctx)
		if errors.Is(err, io.EOF) {
			// The per-fetch timeout expired. Keep waiting until the
			// overall deadline; a slow writer may still deliver.
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if err != nil {
			return checkExpectedError(index, step, err)
		}
		messages = append(messages, msg)
	}

	if err := matchTailMessages(index, step, expected, ordered, messages); err != nil {
		return err
	}
	return checkExpectedError(index, step, nil)
}

func (r *Runner) runListPools(workdir string, index int, step Step) error {
	names, opErr := listPoolNames(workdir)
	if opErr != nil {
		return checkExpectedError(index, step, opErr)
	}
	if err := checkExpectedError(index, step, nil); err != nil {
		return err
	}
	return checkPoolNames(index, step, names)
}

func (r *Runner) runPoolInfo(workdir string, index int, step Step) error {
	if step.Pool == "" {
		return stepError(index, step.ID, "missing pool")
	}
	info, opErr := r.fetchPoolInfo(workdir, step.Pool)
	if opErr != nil {
		var perr *plasmite.Error
		if errors.As(opErr, &perr) {
			return checkExpectedError(index, step, perr)
		}
		return stepErrorf(index, step.ID, "pool info failed: %v", opErr)
	}
	if err := checkExpectedError(index, step, nil); err != nil {
		return err
	}
	return checkPoolInfo(index, step, info)
}

func (r *Runner) fetchPoolInfo(workdir, pool string) (*PoolInfo, error) {
	if r.poolInfo != nil {
		return r.poolInfo(workdir, pool)
	}
	return r.execPoolInfo(workdir, pool)
}

func (r *Runner) runSpawnPoke(workdir string, index int, step Step) error {
	if step.Pool == "" {
		return stepError(index, step.ID, "missing pool")
	}
	var input struct {
		Messages []struct {
			Data json.RawMessage `json:"data"`
			Tags []string        `json:"tags"`
		} `json:"messages"`
	}
	if step.Input == nil {
		return stepError(index, step.ID, "missing input")
	}
	if err := decodeInput(step.Input, &input); err != nil {
		return stepError(index, step.ID, err.Error())
	}
	if input.Messages == nil {
		return stepError(index, step.ID, "input.messages must be array")
	}
	for _, m := range input.Messages {
		if m.Data == nil {
			return stepError(index, step.ID, "message.data is required")
		}
	}

	feed := r.feed
	if feed == nil {
		feed = r.execFeed
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(input.Messages))
	for _, m := range input.Messages {
		wg.Add(1)
		go func(payload []byte, tags []string) {
			defer wg.Done()
			if err := feed(workdir, step.Pool, payload, tags); err != nil {
				errCh <- err
			}
		}(m.Data, m.Tags)
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return stepErrorf(index, step.ID, "feed process failed: %v", err)
	}
	return nil
}

// decodeInput tolerates a nil input block; required-field checks stay
// with each op.
func decodeInput(raw json.RawMessage, out any) error {
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.New("invalid input: " + err.Error())
	}
	return nil
}
