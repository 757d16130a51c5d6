// Package extract drives a browser against the directory source and returns
// the listing rows exactly as rendered.
package extract

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/surgeon-pipeline/internal/model"
)

// Options configures an Extractor.
type Options struct {
	URL               string
	NavigationTimeout time.Duration
}

// Extractor loads the source page in a fresh browser session and applies a
// Strategy to it.
type Extractor struct {
	browser  Browser
	strategy Strategy
	opts     Options
}

// New creates an Extractor.
func New(browser Browser, strategy Strategy, opts Options) *Extractor {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = DefaultNavigationTimeout
	}
	return &Extractor{browser: browser, strategy: strategy, opts: opts}
}

// Run returns every listing row currently rendered by the source. It fails
// with ErrSourceUnavailable or ErrStructureChanged and never returns a
// partial result. The browser session is closed on every path.
func (e *Extractor) Run(ctx context.Context) ([]model.RawDirectoryEntry, error) {
	log := zap.L().With(
		zap.String("stage", string(model.StageExtract)),
		zap.String("strategy", e.strategy.Name()),
		zap.String("url", e.opts.URL),
	)
	start := time.Now()

	session, err := e.browser.Open(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "extract: open browser session")
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn("extract: close browser session", zap.Error(cerr))
		}
	}()

	navCtx, cancel := withWait(ctx, e.opts.NavigationTimeout, DefaultNavigationTimeout)
	err = session.Navigate(navCtx, e.opts.URL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "extract: navigate")
		}
		return nil, eris.Wrapf(ErrSourceUnavailable, "extract: navigate %s (%v)", e.opts.URL, err)
	}

	entries, err := e.strategy.Extract(ctx, session)
	if err != nil {
		log.Error("extract: failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, err
	}

	log.Info("extract: complete",
		zap.Int("entries", len(entries)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return entries, nil
}
