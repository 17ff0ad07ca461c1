package coretools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// RodFetcher renders pages in a headless Chrome so script-built pages have
// content. The browser is launched on first use.
type RodFetcher struct {
	logger  zerolog.Logger
	timeout time.Duration
	bin     string

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewRodFetcher creates a fetcher. bin may be empty to let rod find or
// download a browser.
func NewRodFetcher(bin string, timeout time.Duration, logger zerolog.Logger) *RodFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RodFetcher{logger: logger, timeout: timeout, bin: bin}
}

// FetchHTML navigates a fresh page to target and returns its HTML once loaded.
func (f *RodFetcher) FetchHTML(ctx context.Context, target string) (string, error) {
	browser, err := f.connect()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("failed to open page: %w", err)
	}
	defer func() { _ = page.Close() }()

	if err := page.Navigate(target); err != nil {
		return "", fmt.Errorf("failed to navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("page did not load: %w", err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to extract HTML: %w", err)
	}
	return html, nil
}

// Close shuts the browser down.
func (f *RodFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if f.browser != nil {
		err = f.browser.Close()
		f.browser = nil
	}
	if f.launcher != nil {
		f.launcher.Kill()
		f.launcher = nil
	}
	return err
}

func (f *RodFetcher) connect() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		return f.browser, nil
	}

	l := launcher.New().Headless(true).NoSandbox(true)
	if f.bin != "" {
		l = l.Bin(f.bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	f.logger.Info().Str("control_url", controlURL).Msg("Headless browser started")
	f.browser = browser
	f.launcher = l
	return browser, nil
}
