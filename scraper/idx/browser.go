package idx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"idx-pipeline/models"
	"idx-pipeline/utils"
)

// Browser owns one headless Chrome process shared by all pages.
type Browser struct {
	ctx         context.Context
	cancelAlloc context.CancelFunc
	cancelCtx   context.CancelFunc
	logger      *utils.Logger
}

// NewBrowser launches headless Chrome. chromeBin may be empty to search the
// usual install locations.
func NewBrowser(ctx context.Context, chromeBin string, logger *utils.Logger) (*Browser, error) {
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	logger.Info("[browser] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	// Suppress chromedp log noise
	browserCtx, cancelCtx := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	if err := chromedp.Run(browserCtx); err != nil {
		cancelCtx()
		cancelAlloc()
		return nil, fmt.Errorf("browser: start: %w", err)
	}
	return &Browser{ctx: browserCtx, cancelAlloc: cancelAlloc, cancelCtx: cancelCtx, logger: logger}, nil
}

func (b *Browser) Close() {
	b.cancelCtx()
	b.cancelAlloc()
}

// PageOptions tune a single tab.
type PageOptions struct {
	Timeout      time.Duration // per snapshot / script
	PollInterval time.Duration // mutation counter polling
}

// Open navigates a new tab to pageURL and waits for the body to exist.
func (b *Browser) Open(ctx context.Context, pageURL string, opts PageOptions) (*Page, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}

	tabCtx, cancel := chromedp.NewContext(b.ctx)
	p := &Page{ctx: tabCtx, cancel: cancel, url: pageURL, opts: opts, logger: b.logger}

	if err := p.run(ctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("browser: open %s: %w", pageURL, err)
	}
	b.logger.Debug("[browser] opened %s", pageURL)
	return p, nil
}

// Page is one live tab. It is a SnapshotSource, a MutationStream and a
// Broadcaster that populates the in-page channels.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	url    string
	opts   PageOptions
	logger *utils.Logger
}

func (p *Page) Close() { p.cancel() }

// run executes actions in the tab, bounded by the page timeout and by ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(p.ctx, p.opts.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(tctx, actions...)
}

func (p *Page) Snapshot(ctx context.Context) (Snapshot, error) {
	var loc, html string
	if err := p.run(ctx,
		chromedp.Location(&loc),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return Snapshot{}, fmt.Errorf("browser: snapshot: %w", err)
	}
	return Snapshot{URL: loc, HTML: html}, nil
}

// observerJS installs a MutationObserver counting batches with added nodes
// and returns the counter. Re-running it after a navigation reinstalls it.
const observerJS = `(function() {
	if (!window.__idxObserver) {
		window.__idxMutations = 0;
		window.__idxObserver = new MutationObserver(function(list) {
			for (var i = 0; i < list.length; i++) {
				if (list[i].addedNodes && list[i].addedNodes.length) {
					window.__idxMutations++;
					return;
				}
			}
		});
		window.__idxObserver.observe(document.documentElement, {childList: true, subtree: true});
	}
	return window.__idxMutations | 0;
})()`

const disconnectJS = `(function() {
	if (window.__idxObserver) { window.__idxObserver.disconnect(); window.__idxObserver = null; }
	return true;
})()`

// Subscribe polls the in-page mutation counter and calls fn whenever it
// moves. A counter reset (the page navigated) also counts as a mutation.
func (p *Page) Subscribe(fn func()) func() {
	stop := make(chan struct{})
	var once sync.Once

	var last int
	if err := p.run(context.Background(), chromedp.Evaluate(observerJS, &last)); err != nil {
		p.logger.Warn("[browser] install mutation observer: %v", err)
	}

	go func() {
		ticker := time.NewTicker(p.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-p.ctx.Done():
				return
			case <-ticker.C:
			}
			var n int
			if err := p.run(context.Background(), chromedp.Evaluate(observerJS, &n)); err != nil {
				p.logger.Debug("[browser] poll mutations: %v", err)
				continue
			}
			if n != last {
				last = n
				fn()
			}
		}
	}()

	return func() {
		once.Do(func() {
			close(stop)
			if err := p.run(context.Background(), chromedp.Evaluate(disconnectJS, nil)); err != nil {
				p.logger.Debug("[browser] disconnect observer: %v", err)
			}
		})
	}
}

// broadcastJS sets window.idxPropertyData, sessionStorage, dispatches the
// CustomEvent and posts to the parent frame when embedded.
const broadcastJS = `(function(data) {
	window.idxPropertyData = data;
	try { sessionStorage.setItem('idxPropertyData', JSON.stringify(data)); } catch (e) {}
	window.dispatchEvent(new CustomEvent('propertyDataReady', {detail: data}));
	if (window.parent && window.parent !== window) {
		window.parent.postMessage({type: 'propertyDataReady', data: data}, '*');
	}
	return true;
})(%s)`

func (p *Page) Broadcast(ctx context.Context, _ string, rec *models.PropertyRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("browser: encode record: %w", err)
	}
	return p.run(ctx, chromedp.Evaluate(fmt.Sprintf(broadcastJS, b), nil))
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
