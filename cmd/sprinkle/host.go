package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/delaneyj/sprinkle/dom"
	"github.com/delaneyj/sprinkle/hydrate"
	"github.com/delaneyj/sprinkle/pkg/config"
	"github.com/delaneyj/sprinkle/schedule"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// maxFrames bounds how many frames settle runs, effects that keep
// scheduling flushes would otherwise never settle.
const maxFrames = 64

// host owns a hydrated document. Every access to the document goes through
// its lock, the frame loop included.
type host struct {
	sync.Mutex

	doc    *dom.Document
	hyd    *hydrate.Hydration
	frames *schedule.FrameQueue
	logger *zap.Logger

	errMu sync.Mutex
	errs  []error
}

func newHost(ctx context.Context, cfg *config.Config, logger *zap.Logger, markup io.Reader, scope map[string]any, opts ...hydrate.Option) (*host, error) {
	doc, err := dom.Parse(markup)
	if err != nil {
		return nil, err
	}
	h := &host{
		doc:    doc,
		frames: schedule.NewFrameQueue(),
		logger: logger,
	}

	opts = append(cfg.Options(logger), append(opts,
		hydrate.WithScheduler(h.frames),
		hydrate.WithOnError(h.fail),
	)...)
	h.hyd, err = hydrate.Hydrate(ctx, doc.Body(), scope, opts...)
	if err != nil {
		return nil, fmt.Errorf("hydrate: %w", err)
	}
	h.settle()
	return h, nil
}

func (h *host) fail(err error) {
	h.logger.Warn("scheduled work failed", zap.Error(err))
	h.errMu.Lock()
	h.errs = append(h.errs, err)
	h.errMu.Unlock()
}

// takeErrors returns and clears the errors raised by scheduled work.
func (h *host) takeErrors() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	err := errors.Join(h.errs...)
	h.errs = nil
	return err
}

// settle runs frames until nothing is queued. Callers hold the lock.
func (h *host) settle() {
	if n := h.frames.Drain(maxFrames); n == maxFrames {
		h.logger.Warn("frames did not settle", zap.Int("frames", n))
	}
}

func (h *host) dispatch(a action) error {
	h.Lock()
	defer h.Unlock()

	el := h.doc.ByID(a.Target)
	if el == nil {
		return fmt.Errorf("no element with id %q", a.Target)
	}
	el.Dispatch(&dom.Event{Type: a.Event, Value: a.Value})
	h.settle()
	return h.takeErrors()
}

func (h *host) render(w io.Writer) error {
	h.Lock()
	defer h.Unlock()
	return h.doc.Render(w)
}

// loadScope reads a YAML or JSON mapping. An empty path yields a nil scope.
func loadScope(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scope: %w", err)
	}
	scope := map[string]any{}
	if err := yaml.Unmarshal(data, &scope); err != nil {
		return nil, fmt.Errorf("failed to parse scope %s: %w", path, err)
	}
	return scope, nil
}
