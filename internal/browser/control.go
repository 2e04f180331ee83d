// File: internal/browser/control.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
	"github.com/AGmitmanipal/MINDMESH/internal/config"
)

const launchVerifyTimeout = 30 * time.Second

// Control is the chromedp implementation of the BrowserControl collaborator.
// It owns one browser process; tabs are dedicated chromedp contexts addressed
// by small integer ids handed out in creation order.
type Control struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// allocatorCtx manages the browser process. Tab contexts derive from it.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	mu        sync.Mutex
	nextTabID int
	tabs      map[int]*tab
}

type tab struct {
	id     int
	ctx    context.Context
	cancel context.CancelFunc
}

var _ schemas.BrowserControl = (*Control)(nil)

// NewControl launches the browser process and verifies it responds before
// returning. The caller owns Shutdown.
func NewControl(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Control, error) {
	c := &Control{
		logger:    logger.Named("browser"),
		cfg:       cfg,
		nextTabID: 1,
		tabs:      make(map[int]*tab),
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, buildAllocatorOptions(cfg)...)
	c.allocatorCtx = allocCtx
	c.allocatorCancel = cancel

	// Confirm the browser starts and responds before handing the control out.
	testCtx, cancelTest := context.WithTimeout(allocCtx, launchVerifyTimeout)
	testCtx, cancelTestCtx := chromedp.NewContext(testCtx)
	defer cancelTestCtx()
	defer cancelTest()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		cancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	c.logger.Info("browser launched", zap.Bool("headless", cfg.Headless))
	return c, nil
}

// buildAllocatorOptions assembles launch flags from configuration, turning
// off the default enable-automation banner.
func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", cfg.Headless),
	)

	for _, arg := range cfg.Args {
		name, value, hasValue := parseBrowserArg(arg)
		if name == "" {
			continue
		}
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

// parseBrowserArg splits a config.yaml style argument ("--flag" or
// "--flag=value") into its flag name and optional value.
func parseBrowserArg(arg string) (name, value string, hasValue bool) {
	parts := strings.SplitN(arg, "=", 2)
	name = strings.TrimPrefix(strings.TrimSpace(parts[0]), "--")
	if len(parts) == 2 {
		return name, parts[1], true
	}
	return name, "", false
}

// EnsureTab resolves a usable tab id: the preferred id when it is alive, the
// fallback id otherwise, and a fresh tab when neither exists.
func (c *Control) EnsureTab(ctx context.Context, preferred, fallback int) (int, error) {
	c.mu.Lock()
	if t, ok := c.tabs[preferred]; ok {
		c.mu.Unlock()
		return t.id, nil
	}
	if t, ok := c.tabs[fallback]; ok {
		c.mu.Unlock()
		return t.id, nil
	}
	c.mu.Unlock()

	return c.newTab(ctx)
}

// newTab materializes a fresh browser tab and registers it.
func (c *Control) newTab(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	tabCtx, cancel := chromedp.NewContext(c.allocatorCtx)
	err := chromedp.Run(tabCtx,
		network.Enable(),
		emulation.SetDeviceMetricsOverride(1280, 800, 1.0, false),
		chromedp.Navigate("about:blank"),
	)
	if err != nil {
		cancel()
		return 0, fmt.Errorf("failed to open tab: %w", err)
	}

	c.mu.Lock()
	id := c.nextTabID
	c.nextTabID++
	c.tabs[id] = &tab{id: id, ctx: tabCtx, cancel: cancel}
	c.mu.Unlock()

	c.logger.Debug("opened tab", zap.Int("tab_id", id))
	return id, nil
}

// Navigate points the tab at a URL and waits for the document to be ready.
func (c *Control) Navigate(ctx context.Context, tabID int, url string, timeout time.Duration) error {
	t, err := c.lookupTab(tabID)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = c.cfg.NavigationTimeout
	}

	runCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err = chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	c.logger.Debug("navigated", zap.Int("tab_id", tabID), zap.String("url", url))
	return nil
}

// CloseTab closes a tab and releases its context. Closing an unknown tab is
// not an error.
func (c *Control) CloseTab(ctx context.Context, tabID int) error {
	c.mu.Lock()
	t, ok := c.tabs[tabID]
	if ok {
		delete(c.tabs, tabID)
	}
	c.mu.Unlock()

	if ok {
		t.cancel()
		c.logger.Debug("closed tab", zap.Int("tab_id", tabID))
	}
	return nil
}

// Shutdown terminates the browser process. Open tabs die with it.
func (c *Control) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	for id, t := range c.tabs {
		t.cancel()
		delete(c.tabs, id)
	}
	c.mu.Unlock()

	if c.allocatorCancel != nil {
		c.allocatorCancel()
		select {
		case <-c.allocatorCtx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.logger.Info("browser shut down")
	return nil
}

func (c *Control) lookupTab(tabID int) (*tab, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tabs[tabID]
	if !ok {
		return nil, fmt.Errorf("unknown tab id %d", tabID)
	}
	return t, nil
}
