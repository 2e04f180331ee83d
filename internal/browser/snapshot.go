// File: internal/browser/snapshot.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
)

// mainTextMaxLen caps how much body text a snapshot carries. Pages routinely
// exceed this; the scoring functions only need a representative prefix.
const mainTextMaxLen = 20000

const defaultMaxLinks = 100

// snapshotPayload mirrors the object built by snapshotJS.
type snapshotPayload struct {
	MetaDescription string         `json:"metaDescription"`
	MainText        string         `json:"mainText"`
	Links           []schemas.Link `json:"links"`
	Headings        []string       `json:"headings"`
}

// snapshotJS collects the page facts the run core scores on. Formatted with
// the link cap and the text cap, in that order.
const snapshotJS = `(() => {
    const meta = document.querySelector('meta[name="description"]');
    const links = [];
    for (const a of document.querySelectorAll('a[href]')) {
        if (links.length >= %d) break;
        links.push({ href: a.getAttribute('href') || '', text: (a.innerText || '').trim().slice(0, 200) });
    }
    const headings = [];
    for (const h of document.querySelectorAll('h1, h2, h3')) {
        const text = (h.innerText || '').trim();
        if (text) headings.push(text.slice(0, 200));
        if (headings.length >= 50) break;
    }
    return {
        metaDescription: meta ? (meta.getAttribute('content') || '') : '',
        mainText: (document.body ? document.body.innerText : '').slice(0, %d),
        links: links,
        headings: headings,
    };
})()`

// ExtractSnapshot captures the tab's current DOM state: location, title,
// meta description, visible text, outbound links and headings.
func (c *Control) ExtractSnapshot(ctx context.Context, tabID int, timeout time.Duration) (*schemas.DomSnapshot, error) {
	t, err := c.lookupTab(tabID)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = c.cfg.SnapshotTimeout
	}

	maxLinks := c.cfg.MaxLinks
	if maxLinks <= 0 {
		maxLinks = defaultMaxLinks
	}

	runCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		location string
		title    string
		payload  snapshotPayload
	)
	err = chromedp.Run(runCtx,
		chromedp.Location(&location),
		chromedp.Title(&title),
		chromedp.Evaluate(fmt.Sprintf(snapshotJS, maxLinks, mainTextMaxLen), &payload),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot extraction failed: %w", err)
	}

	snap := &schemas.DomSnapshot{
		URL:             location,
		Title:           title,
		MetaDescription: payload.MetaDescription,
		MainText:        payload.MainText,
		Links:           payload.Links,
		Headings:        payload.Headings,
		CapturedAt:      time.Now(),
	}

	c.logger.Debug("extracted snapshot",
		zap.Int("tab_id", tabID),
		zap.String("url", location),
		zap.Int("links", len(snap.Links)))
	return snap, nil
}
