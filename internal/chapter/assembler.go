package chapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/tokysnatcher/internal/progress"
	"github.com/tanq16/tokysnatcher/internal/utils"
	"golang.org/x/sync/errgroup"
)

const DefaultMinFileSize = 1024

type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseResolving Phase = "resolving"
	PhaseFetching  Phase = "fetching"
	PhaseWriting   Phase = "writing"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

var ErrImplausibleSize = errors.New("output file is below the minimum plausible size")

// WriteError is a filesystem failure while creating the folder or a chapter file.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("error writing %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

type SegmentResolver interface {
	Resolve(ctx context.Context, sourceURI string, headers map[string]string) ([]string, error)
}

type SegmentFetcher interface {
	Fetch(ctx context.Context, segmentURI string, headers map[string]string) ([]byte, error)
}

type Config struct {
	Folder    string
	Title     string
	Extension string
	// SegmentWorkers of 0 streams segments one by one straight into the file.
	SegmentWorkers int
	MinFileSize    int64
	SkipExisting   bool
	Resolver       SegmentResolver
	Fetcher        SegmentFetcher
	// Tracker may be nil when nobody watches progress.
	Tracker *progress.Tracker
	Signal  *utils.CancelSignal
}

// Assembler turns one chapter into one file. It is safe to run several
// chapters on the same Assembler concurrently; per-chapter state lives on the
// stack of Run.
type Assembler struct {
	cfg Config
}

func NewAssembler(cfg Config) *Assembler {
	if cfg.SegmentWorkers < 0 {
		cfg.SegmentWorkers = 0
	}
	if cfg.MinFileSize < 0 {
		cfg.MinFileSize = 0
	}
	if cfg.Signal == nil {
		cfg.Signal = utils.NewCancelSignal(context.Background())
	}
	return &Assembler{cfg: cfg}
}

func (a *Assembler) OutputPath(spec utils.ChapterSpec) string {
	return filepath.Join(a.cfg.Folder, FileName(spec.Index, a.cfg.Title, a.cfg.Extension))
}

// Run drives the chapter through resolve, fetch and write. It never returns an
// error: every outcome is folded into the ChapterResult.
func (a *Assembler) Run(ctx context.Context, spec utils.ChapterSpec) utils.ChapterResult {
	finalPath := a.OutputPath(spec)
	partPath := finalPath + utils.PartSuffix
	result := utils.ChapterResult{Index: spec.Index, Name: spec.Name, Path: finalPath}
	logger := log.With().Str("op", "chapter/assembler").Int("chapter", spec.Index).Logger()

	phase := PhasePending
	enter := func(next Phase) {
		logger.Debug().Msgf("%s -> %s", phase, next)
		phase = next
	}
	fail := func(err error) utils.ChapterResult {
		if errors.Is(err, utils.ErrCancelled) || a.cancelled(ctx) {
			enter(PhaseCancelled)
			return a.finish(result, phase, nil)
		}
		enter(PhaseFailed)
		return a.finish(result, phase, err)
	}

	if a.cancelled(ctx) {
		enter(PhaseCancelled)
		return a.finish(result, phase, nil)
	}
	a.cfg.Tracker.MarkStarted(spec.Index)

	if a.cfg.SkipExisting {
		if info, err := os.Stat(finalPath); err == nil && info.Mode().IsRegular() && info.Size() > a.cfg.MinFileSize {
			logger.Info().Msgf("Skipping existing %s", filepath.Base(finalPath))
			enter(PhaseDone)
			return a.finish(result, phase, nil)
		}
	}

	enter(PhaseResolving)
	segments, err := a.cfg.Resolver.Resolve(ctx, spec.SourceURI, spec.Headers)
	if err != nil {
		return fail(err)
	}
	a.cfg.Tracker.SetSegments(spec.Index, len(segments))

	enter(PhaseFetching)
	if a.cfg.SegmentWorkers == 0 {
		err = a.streamSegments(ctx, spec, segments, partPath)
	} else {
		var buf *SegmentBuffer
		buf, err = a.fetchSegments(ctx, spec, segments)
		if err == nil {
			if a.cancelled(ctx) {
				err = utils.ErrCancelled
			} else {
				enter(PhaseWriting)
				err = writeBuffer(buf, partPath)
			}
		}
	}
	if err != nil {
		removeQuietly(partPath)
		return fail(err)
	}

	if phase != PhaseWriting {
		enter(PhaseWriting)
	}
	// finalPath is never removed here: promote creates it only by a successful
	// rename, and a file already there belongs to an earlier run.
	if err := a.promote(ctx, partPath, finalPath); err != nil {
		removeQuietly(partPath)
		return fail(err)
	}
	enter(PhaseDone)
	return a.finish(result, phase, nil)
}

// fetchSegments fills a SegmentBuffer using at most SegmentWorkers concurrent
// fetches. Go blocks while the pool is full, so dispatch never runs ahead.
func (a *Assembler) fetchSegments(ctx context.Context, spec utils.ChapterSpec, segments []string) (*SegmentBuffer, error) {
	buf := NewSegmentBuffer(len(segments))
	total := float64(len(segments))
	var completed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.SegmentWorkers)
	for i, segmentURL := range segments {
		if a.cancelled(ctx) || gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			data, err := a.cfg.Fetcher.Fetch(gctx, segmentURL, spec.Headers)
			if err != nil {
				return err
			}
			if err := buf.Put(i, data); err != nil {
				return err
			}
			done := completed.Add(1)
			a.cfg.Tracker.Update(spec.Index, 100*float64(done)/total)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !buf.Ready() {
		return nil, utils.ErrCancelled
	}
	return buf, nil
}

// streamSegments fetches strictly in order and appends each payload to the
// part file as soon as it arrives.
func (a *Assembler) streamSegments(ctx context.Context, spec utils.ChapterSpec, segments []string, partPath string) error {
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return &WriteError{Path: partPath, Err: err}
	}
	total := float64(len(segments))
	for i, segmentURL := range segments {
		if a.cancelled(ctx) {
			f.Close()
			return utils.ErrCancelled
		}
		data, err := a.cfg.Fetcher.Fetch(ctx, segmentURL, spec.Headers)
		if err != nil {
			f.Close()
			return err
		}
		if a.cancelled(ctx) {
			f.Close()
			return utils.ErrCancelled
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return &WriteError{Path: partPath, Err: err}
		}
		a.cfg.Tracker.Update(spec.Index, 100*float64(i+1)/total)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &WriteError{Path: partPath, Err: err}
	}
	if err := f.Close(); err != nil {
		return &WriteError{Path: partPath, Err: err}
	}
	return nil
}

func writeBuffer(buf *SegmentBuffer, partPath string) error {
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return &WriteError{Path: partPath, Err: err}
	}
	if _, err := buf.WriteTo(f); err != nil {
		f.Close()
		return &WriteError{Path: partPath, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &WriteError{Path: partPath, Err: err}
	}
	if err := f.Close(); err != nil {
		return &WriteError{Path: partPath, Err: err}
	}
	return nil
}

// promote moves a finished part file to its final name after a last
// cancellation check and the size plausibility check.
func (a *Assembler) promote(ctx context.Context, partPath, finalPath string) error {
	info, err := os.Stat(partPath)
	if err != nil {
		return &WriteError{Path: partPath, Err: err}
	}
	if info.Size() <= a.cfg.MinFileSize {
		return fmt.Errorf("%w: %s is %d bytes", ErrImplausibleSize, filepath.Base(finalPath), info.Size())
	}
	// A signal set between this check and the rename still lets the chapter
	// finish. The file holds only bytes fetched before the signal.
	if a.cancelled(ctx) {
		return utils.ErrCancelled
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		return &WriteError{Path: finalPath, Err: err}
	}
	log.Debug().Str("op", "chapter/assembler").Msgf("Wrote %s (%s)", filepath.Base(finalPath), utils.FormatBytes(uint64(info.Size())))
	return nil
}

func (a *Assembler) finish(result utils.ChapterResult, phase Phase, err error) utils.ChapterResult {
	result.State = string(phase)
	result.Err = err
	switch phase {
	case PhaseDone:
		result.Success = true
		a.cfg.Tracker.MarkComplete(result.Index, true)
		log.Info().Str("op", "chapter/assembler").Int("chapter", result.Index).Msgf("Saved %s", filepath.Base(result.Path))
	case PhaseCancelled:
		a.cfg.Tracker.MarkCancelled(result.Index)
		log.Debug().Str("op", "chapter/assembler").Int("chapter", result.Index).Msg("Chapter cancelled")
	default:
		a.cfg.Tracker.MarkFailed(result.Index, err)
		log.Error().Str("op", "chapter/assembler").Int("chapter", result.Index).Err(err).Msgf("Chapter %q failed", result.Name)
	}
	return result
}

func (a *Assembler) cancelled(ctx context.Context) bool {
	return a.cfg.Signal.IsSet() || ctx.Err() != nil
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Str("op", "chapter/assembler").Err(err).Msgf("Could not remove %s", path)
	}
}
