package extract

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
)

// Page is a document context inside a browser session. Every call honours
// the deadline and cancellation of the ctx it is given.
type Page interface {
	// Navigate loads url and waits for the document body to be ready.
	Navigate(ctx context.Context, url string) error
	// WaitReady blocks until selector matches an element in the document.
	WaitReady(ctx context.Context, selector string) error
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)
	// Frame returns the document of the first frame element matching selector.
	Frame(ctx context.Context, selector string) (Page, error)
}

// Session is one browser session. Close releases the browser process.
type Session interface {
	Page
	Close() error
}

// Browser opens browser sessions.
type Browser interface {
	Open(ctx context.Context) (Session, error)
}

// ChromeBrowser launches headless Chrome through the DevTools protocol.
type ChromeBrowser struct {
	Headless bool
	// ExecPath overrides the Chrome binary lookup when set.
	ExecPath string
}

// NewChromeBrowser creates a ChromeBrowser.
func NewChromeBrowser(headless bool) *ChromeBrowser {
	return &ChromeBrowser{Headless: headless}
}

// Open starts a browser process and a tab. The process lives until Close.
func (b *ChromeBrowser) Open(ctx context.Context) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.NoSandbox,
	)
	if b.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.ExecPath))
	}

	// The session outlives ctx; only Close tears the browser down.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, eris.Wrap(err, "extract: start browser")
	}

	return &chromeSession{
		chromePage: chromePage{tab: tabCtx},
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
	}, nil
}

type chromeSession struct {
	chromePage
	cancel func()
}

func (s *chromeSession) Close() error {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}

// chromePage scopes queries to root when set. root is an iframe node whose
// content document chromedp resolves through FromNode.
type chromePage struct {
	tab  context.Context
	root *cdp.Node
}

// run executes actions on the tab bounded by the caller's ctx.
func (p chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tab)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, dl)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p chromePage) queryOpts() []chromedp.QueryOption {
	opts := []chromedp.QueryOption{chromedp.ByQuery}
	if p.root != nil {
		opts = append(opts, chromedp.FromNode(p.root))
	}
	return opts
}

func (p chromePage) Navigate(ctx context.Context, url string) error {
	start := time.Now()
	err := p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return eris.Wrapf(err, "extract: navigate %s after %s", url, time.Since(start).Round(time.Millisecond))
	}
	return nil
}

func (p chromePage) WaitReady(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitReady(selector, p.queryOpts()...))
}

func (p chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, p.queryOpts()...)); err != nil {
		return "", eris.Wrap(err, "extract: read document html")
	}
	return html, nil
}

func (p chromePage) Frame(ctx context.Context, selector string) (Page, error) {
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(selector, &nodes, p.queryOpts()...)); err != nil {
		return nil, eris.Wrapf(err, "extract: locate frame %q", selector)
	}
	if len(nodes) == 0 {
		return nil, eris.Errorf("extract: frame %q not found", selector)
	}
	return chromePage{tab: p.tab, root: nodes[0]}, nil
}
