package scheduler

import (
	"context"
	"errors"
	"os"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/tokysnatcher/internal/chapter"
	"github.com/tanq16/tokysnatcher/internal/downloaders/hls"
	"github.com/tanq16/tokysnatcher/internal/progress"
	"github.com/tanq16/tokysnatcher/internal/utils"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultChapterWorkers = 2
	DefaultSegmentWorkers = 4
	DefaultRetries        = 2
)

var ErrAlreadyStarted = errors.New("run already started")

type Options struct {
	Folder    string
	Title     string
	Extension string
	// ChapterWorkers below 1 falls back to DefaultChapterWorkers.
	ChapterWorkers int
	// SegmentWorkers of 0 downloads each chapter sequentially, streaming to disk.
	SegmentWorkers    int
	MinFileSize       int64
	SkipExisting      bool
	Headers           map[string]string
	HTTPClientConfig  utils.HTTPClientConfig
	Client            utils.HTTPDoer
	PathHeader        string
	MediaFallback     hls.Fallback
	RequestsPerSecond float64
	Retries           int
	OnEvent           func(progress.Event)
	// AfterChapter runs after every successful chapter. Its error is logged
	// and never changes the chapter result.
	AfterChapter func(ctx context.Context, result utils.ChapterResult) error
}

func DefaultOptions() Options {
	return Options{
		ChapterWorkers: DefaultChapterWorkers,
		SegmentWorkers: DefaultSegmentWorkers,
		MinFileSize:    chapter.DefaultMinFileSize,
		SkipExisting:   true,
		PathHeader:     hls.DefaultPathHeader,
		Retries:        DefaultRetries,
	}
}

// Run is one download of a chapter list. It is single use.
type Run struct {
	id       string
	chapters []utils.ChapterSpec
	opts     Options
	signal   *utils.CancelSignal
	tracker  *progress.Tracker
	started  atomic.Bool
	logger   zerolog.Logger
}

// NewRun prepares a run over chapters. Each chapter's Index is replaced by its
// position in the list and opts.Headers are merged under its own headers.
func NewRun(chapters []utils.ChapterSpec, opts Options) *Run {
	if opts.ChapterWorkers < 1 {
		opts.ChapterWorkers = DefaultChapterWorkers
	}
	if opts.SegmentWorkers < 0 {
		opts.SegmentWorkers = 0
	}
	specs := make([]utils.ChapterSpec, len(chapters))
	for i, spec := range chapters {
		spec.Index = i
		spec.Headers = utils.CloneHeaders(opts.Headers, spec.Headers)
		specs[i] = spec
	}
	id := uuid.New().String()
	signal := utils.NewCancelSignal(context.Background())
	return &Run{
		id:       id,
		chapters: specs,
		opts:     opts,
		signal:   signal,
		tracker:  progress.NewTracker(len(specs), signal, opts.OnEvent),
		logger:   log.With().Str("op", "scheduler/scheduler").Str("run", id).Logger(),
	}
}

func (r *Run) ID() string {
	return r.id
}

// Cancel sets the run's cancellation signal. Safe to call at any time and
// more than once.
func (r *Run) Cancel() {
	r.signal.Set()
}

func (r *Run) Cancelled() bool {
	return r.signal.IsSet()
}

func (r *Run) OverallPercent() float64 {
	return r.tracker.OverallPercent()
}

func (r *Run) Snapshot() []progress.ChapterProgress {
	return r.tracker.Snapshot()
}

// Execute downloads every chapter and returns one result per chapter in input
// order. The error is non-nil only when the run could not start at all;
// chapter failures and cancellation are reported through the results.
func (r *Run) Execute(ctx context.Context) ([]utils.ChapterResult, error) {
	if !r.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	if len(r.chapters) == 0 {
		r.logger.Debug().Msg("No chapters, nothing to do")
		return []utils.ChapterResult{}, nil
	}
	if err := os.MkdirAll(r.opts.Folder, 0755); err != nil {
		return nil, &chapter.WriteError{Path: r.opts.Folder, Err: err}
	}

	stop := context.AfterFunc(ctx, func() {
		r.logger.Info().Msg("Interrupt received, cancelling run")
		r.signal.Set()
	})
	defer stop()
	defer r.signal.Release()
	runCtx := r.signal.Context()

	client := r.opts.Client
	if client == nil {
		client = utils.NewSnatchHTTPClient(r.opts.HTTPClientConfig)
	}
	assembler := chapter.NewAssembler(chapter.Config{
		Folder:         r.opts.Folder,
		Title:          r.opts.Title,
		Extension:      r.opts.Extension,
		SegmentWorkers: r.opts.SegmentWorkers,
		MinFileSize:    r.opts.MinFileSize,
		SkipExisting:   r.opts.SkipExisting,
		Resolver:       hls.NewResolver(client, r.opts.PathHeader).WithFallback(r.opts.MediaFallback),
		Fetcher: hls.NewFetcher(client, hls.FetcherConfig{
			PathHeader:        r.opts.PathHeader,
			Retries:           r.opts.Retries,
			RequestsPerSecond: r.opts.RequestsPerSecond,
			Fallback:          r.opts.MediaFallback,
		}),
		Tracker: r.tracker,
		Signal:  r.signal,
	})

	r.logger.Info().Msgf("Downloading %d chapters of %q into %s", len(r.chapters), r.opts.Title, r.opts.Folder)
	results := make([]utils.ChapterResult, len(r.chapters))
	dispatched := make([]bool, len(r.chapters))

	// Workers never return errors, so one chapter failing never stops its
	// siblings. Go blocks while C1 chapters are in flight.
	var g errgroup.Group
	g.SetLimit(r.opts.ChapterWorkers)
	for i, spec := range r.chapters {
		if r.signal.IsSet() {
			break
		}
		dispatched[i] = true
		g.Go(func() error {
			results[i] = assembler.Run(runCtx, spec)
			if results[i].Success && r.opts.AfterChapter != nil && !r.signal.IsSet() {
				if err := r.opts.AfterChapter(runCtx, results[i]); err != nil {
					r.logger.Warn().Err(err).Int("chapter", i).Msg("After-chapter hook failed")
				}
			}
			return nil
		})
	}
	g.Wait()

	for i, spec := range r.chapters {
		if dispatched[i] {
			continue
		}
		r.tracker.MarkCancelled(i)
		results[i] = utils.ChapterResult{
			Index: i,
			Name:  spec.Name,
			Path:  assembler.OutputPath(spec),
			State: string(chapter.PhaseCancelled),
		}
	}

	s := Summarize(results)
	r.logger.Info().Msgf("Run finished: %d saved, %d failed, %d cancelled", s.Succeeded, s.Failed, s.Cancelled)
	return results, nil
}

// Download is NewRun followed by Execute.
func Download(ctx context.Context, chapters []utils.ChapterSpec, opts Options) ([]utils.ChapterResult, error) {
	return NewRun(chapters, opts).Execute(ctx)
}

type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
}

func Summarize(results []utils.ChapterResult) Summary {
	s := Summary{Total: len(results)}
	for _, res := range results {
		switch {
		case res.Success:
			s.Succeeded++
		case res.State == string(chapter.PhaseCancelled):
			s.Cancelled++
		default:
			s.Failed++
		}
	}
	return s
}
