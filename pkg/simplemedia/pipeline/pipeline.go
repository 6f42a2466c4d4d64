// Package pipeline runs the staged transform of one content item: fetch raw
// sources into a staging directory, encode, upload the artifacts, persist the
// item and retire the raw objects.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/metrics"
	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
)

// Stage names used in StageError and metrics.
const (
	StageFetch   = "fetch"
	StageEncode  = "encode"
	StageUpload  = "upload"
	StagePersist = "persist"
	StageRetire  = "retire"
	StageCleanup = "cleanup"
)

// DefaultStagingRoot is used when Options.StagingRoot is empty.
const DefaultStagingRoot = "/tmp/simple-media"

// StageError records the stage a transform failed in.
type StageError struct {
	Stage     string
	ContentID string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s failed for content %s: %v", e.Stage, e.ContentID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type Options struct {
	StagingRoot string
	Keys        objectkey.Generator
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Pipeline is the category-independent part of a transform.
type Pipeline struct {
	store       simplemedia.ObjectStore
	keys        objectkey.Generator
	stagingRoot string
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func New(store simplemedia.ObjectStore, opts Options) *Pipeline {
	if opts.StagingRoot == "" {
		opts.StagingRoot = DefaultStagingRoot
	}
	if opts.Keys == nil {
		opts.Keys = objectkey.NewDefaultGenerator()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		store:       store,
		keys:        opts.Keys,
		stagingRoot: opts.StagingRoot,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With("component", "pipeline"),
	}
}

// StagingRoot returns the root of the staging directories
func (p *Pipeline) StagingRoot() string {
	return p.stagingRoot
}

// staging is the pair of directories owned by one run. Both are unique per run,
// so two runs of the same content item never share files.
type staging struct {
	input  string
	output string
}

func (p *Pipeline) newStaging(contentID string) (staging, error) {
	var s staging
	for _, d := range []struct {
		parent string
		dst    *string
	}{
		{filepath.Join(p.stagingRoot, "input"), &s.input},
		{filepath.Join(p.stagingRoot, "output"), &s.output},
	} {
		if err := os.MkdirAll(d.parent, 0o755); err != nil {
			return s, fmt.Errorf("create staging root: %w", err)
		}
		dir, err := os.MkdirTemp(d.parent, contentID+"-*")
		if err != nil {
			return s, fmt.Errorf("create staging dir: %w", err)
		}
		*d.dst = dir
	}
	return s, nil
}

// Run transforms item with h. On failure nothing is persisted, so the item keeps
// its raw_uploaded status and is picked up again by a later scan. Staging
// directories are removed on every path.
func (p *Pipeline) Run(ctx context.Context, h Handler, item *simplemedia.ContentItem) error {
	id := item.ID.String()
	logger := p.logger.With("content_id", id, "category", item.Category)

	if len(item.RawSourceURLs) == 0 {
		item.Status = simplemedia.StatusSuccessNoContent
		if err := p.stage(StagePersist, func() error { return h.Persist(ctx, item) }); err != nil {
			return &StageError{Stage: StagePersist, ContentID: id, Err: err}
		}
		logger.Info("content item has no raw sources")
		return nil
	}

	dirs, err := p.newStaging(id)
	defer p.cleanup(logger, dirs)
	if err != nil {
		return &StageError{Stage: StageFetch, ContentID: id, Err: err}
	}

	for i, uri := range item.RawSourceURLs {
		if err := p.processSource(ctx, h, item, dirs, i, uri); err != nil {
			return err
		}
	}

	item.Status = simplemedia.StatusProcessed
	if err := p.stage(StagePersist, func() error { return h.Persist(ctx, item) }); err != nil {
		return &StageError{Stage: StagePersist, ContentID: id, Err: err}
	}

	_ = p.stage(StageRetire, func() error {
		var firstErr error
		for _, uri := range item.RawSourceURLs {
			if err := p.store.MarkForExpiration(ctx, uri); err != nil {
				logger.Warn("failed to mark raw source for expiration", "uri", uri, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return firstErr
	})

	logger.Info("content item processed", "sources", len(item.RawSourceURLs))
	return nil
}

func (p *Pipeline) processSource(ctx context.Context, h Handler, item *simplemedia.ContentItem, dirs staging, index int, uri string) error {
	id := item.ID.String()
	source := strconv.Itoa(index)

	var inputPath string
	err := p.stage(StageFetch, func() error {
		_, key, err := objectkey.ParseURI(uri)
		if err != nil {
			return err
		}
		dir := filepath.Join(dirs.input, source)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create input dir: %w", err)
		}
		inputPath = filepath.Join(dir, baseName(key))
		return p.store.GetObject(ctx, uri, inputPath)
	})
	if err != nil {
		return &StageError{Stage: StageFetch, ContentID: id, Err: err}
	}

	outputDir := filepath.Join(dirs.output, source)
	if err := p.stage(StageEncode, func() error { return h.Encode(ctx, inputPath, outputDir) }); err != nil {
		return &StageError{Stage: StageEncode, ContentID: id, Err: err}
	}

	err = p.stage(StageUpload, func() error {
		// os.ReadDir returns entries sorted by file name.
		entries, err := os.ReadDir(outputDir)
		if err != nil {
			return fmt.Errorf("read output dir: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			key := p.keys.OutputKey(item, index, name)
			publicURL, err := p.store.PutObject(ctx, p.store.Bucket(), key, filepath.Join(outputDir, name), h.ContentTypeFor(name))
			if err != nil {
				return fmt.Errorf("upload %s: %w", name, err)
			}
			h.OnOutputProduced(item, name, publicURL)
		}
		return nil
	})
	if err != nil {
		return &StageError{Stage: StageUpload, ContentID: id, Err: err}
	}
	return nil
}

func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.ObserveStage(name, err, time.Since(start))
	return err
}

func (p *Pipeline) cleanup(logger *slog.Logger, dirs staging) {
	_ = p.stage(StageCleanup, func() error {
		var firstErr error
		for _, dir := range []string{dirs.input, dirs.output} {
			if dir == "" {
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				logger.Warn("failed to remove staging dir", "dir", dir, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return firstErr
	})
}

// SweepStaging removes staging leftovers of a previous process. It is meant
// to run before any worker starts.
func SweepStaging(root string) error {
	if root == "" {
		root = DefaultStagingRoot
	}
	for _, dir := range []string{filepath.Join(root, "input"), filepath.Join(root, "output")} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("sweep %s: %w", dir, err)
		}
	}
	return nil
}
