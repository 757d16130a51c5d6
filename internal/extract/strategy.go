package extract

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/surgeon-pipeline/internal/model"
)

// Strategy reads listing rows from a loaded page.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, page Page) ([]model.RawDirectoryEntry, error)
}

// Bounds used when a caller leaves a timeout unset.
const (
	DefaultWaitTimeout       = 30 * time.Second
	DefaultNavigationTimeout = 60 * time.Second
)

// Strategy names accepted by NewStrategy.
const (
	StrategyFlat   = "flat"
	StrategyFramed = "framed"
)

// NewStrategy returns the named strategy configured from profile.
func NewStrategy(name string, profile Profile, waitTimeout time.Duration) (Strategy, error) {
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	switch name {
	case StrategyFlat:
		return &FlatStrategy{Selectors: profile.Flat, Origin: profile.Origin, WaitTimeout: waitTimeout}, nil
	case StrategyFramed:
		return &FramedStrategy{Selectors: profile.Framed, Origin: profile.Origin, WaitTimeout: waitTimeout}, nil
	default:
		return nil, eris.Errorf("extract: unknown strategy %q", name)
	}
}

// FlatStrategy reads items rendered directly in the page DOM.
type FlatStrategy struct {
	Selectors   FlatSelectors
	Origin      string
	WaitTimeout time.Duration
}

func (s *FlatStrategy) Name() string { return StrategyFlat }

func (s *FlatStrategy) Extract(ctx context.Context, page Page) ([]model.RawDirectoryEntry, error) {
	if err := waitFor(ctx, page, s.Selectors.Container, s.WaitTimeout); err != nil {
		return nil, err
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return parseFlat(html, s.Selectors, s.Origin)
}

// FramedStrategy reads fixed-position table cells inside an embedded frame.
type FramedStrategy struct {
	Selectors   FramedSelectors
	Origin      string
	WaitTimeout time.Duration
}

func (s *FramedStrategy) Name() string { return StrategyFramed }

func (s *FramedStrategy) Extract(ctx context.Context, page Page) ([]model.RawDirectoryEntry, error) {
	if err := waitFor(ctx, page, s.Selectors.Frame, s.WaitTimeout); err != nil {
		return nil, err
	}

	frameCtx, cancel := withWait(ctx, s.WaitTimeout, DefaultWaitTimeout)
	frame, err := page.Frame(frameCtx, s.Selectors.Frame)
	cancel()
	if err != nil {
		return nil, unavailable(ctx, s.Selectors.Frame, err)
	}

	if err := waitFor(ctx, frame, s.Selectors.Row, s.WaitTimeout); err != nil {
		return nil, err
	}
	html, err := frame.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return parseFramed(html, s.Selectors, s.Origin)
}

// withWait never returns an unbounded context. A non-positive timeout falls
// back to fallback.
func withWait(ctx context.Context, timeout, fallback time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = fallback
	}
	return context.WithTimeout(ctx, timeout)
}

// waitFor bounds one selector wait. A wait that fails while the caller's ctx
// is still live is reported as ErrSourceUnavailable.
func waitFor(ctx context.Context, page Page, selector string, timeout time.Duration) error {
	waitCtx, cancel := withWait(ctx, timeout, DefaultWaitTimeout)
	defer cancel()
	if err := page.WaitReady(waitCtx, selector); err != nil {
		return unavailable(ctx, selector, err)
	}
	return nil
}

func unavailable(ctx context.Context, selector string, cause error) error {
	if ctx.Err() != nil {
		return eris.Wrapf(ctx.Err(), "extract: wait for %q", selector)
	}
	return eris.Wrapf(ErrSourceUnavailable, "extract: wait for %q (%v)", selector, cause)
}

func parseFlat(html string, sel FlatSelectors, origin string) ([]model.RawDirectoryEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse html")
	}

	items := doc.Find(sel.Container).Find(sel.Item)
	entries := make([]model.RawDirectoryEntry, 0, items.Length())
	located := 0
	items.Each(func(_ int, item *goquery.Selection) {
		nameSel := item.Find(sel.Name).First()
		clinicSel := item.Find(sel.Clinic).First()
		if nameSel.Length() > 0 || clinicSel.Length() > 0 {
			located++
		}
		entry := model.RawDirectoryEntry{
			Name:        cleanText(nameSel.Text()),
			ClinicLabel: cleanText(clinicSel.Text()),
			ContactBlob: cleanText(item.Text()),
		}
		if href, ok := item.Find(sel.Link).First().Attr("href"); ok {
			entry.ProfileURL = resolveURL(origin, href)
		}
		entries = append(entries, entry)
	})

	if located == 0 {
		return nil, eris.Wrapf(ErrStructureChanged, "extract: %d %q items under %q, none with %q or %q",
			items.Length(), sel.Item, sel.Container, sel.Name, sel.Clinic)
	}
	return entries, nil
}

func parseFramed(html string, sel FramedSelectors, origin string) ([]model.RawDirectoryEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse html")
	}

	rows := doc.Find(sel.Row)
	need := max(sel.NameCell, sel.ClinicCell) + 1
	entries := make([]model.RawDirectoryEntry, 0, rows.Length())
	located := 0
	rows.Each(func(_ int, row *goquery.Selection) {
		cells := row.Find(sel.Cell)
		if cells.Length() < need {
			entries = append(entries, model.RawDirectoryEntry{ContactBlob: cleanText(row.Text())})
			return
		}
		located++
		nameCell := cells.Eq(sel.NameCell)
		entry := model.RawDirectoryEntry{
			Name:        cleanText(nameCell.Text()),
			ClinicLabel: cleanText(cells.Eq(sel.ClinicCell).Text()),
			ContactBlob: cleanText(row.Text()),
		}
		if href, ok := nameCell.Find(sel.Link).First().Attr("href"); ok {
			entry.ProfileURL = resolveURL(origin, href)
		}
		entries = append(entries, entry)
	})

	if located == 0 {
		return nil, eris.Wrapf(ErrStructureChanged, "extract: %d %q rows, none with %d cells",
			rows.Length(), sel.Row, need)
	}
	return entries, nil
}

// cleanText composes Unicode (Turkish names arrive in mixed forms) and
// collapses whitespace runs.
func cleanText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// resolveURL makes href absolute against origin. Unparseable hrefs are
// returned trimmed as-is.
func resolveURL(origin, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() || origin == "" {
		return ref.String()
	}
	base, err := url.Parse(origin)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
