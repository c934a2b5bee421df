package crawler

import (
	"context"
	"fmt"
	"time"

	"hermes/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Browser is a shared headless Chromium. Pages opened from it are
// independent and may be used from different goroutines.
type Browser struct {
	browser *rod.Browser
	cfg     config.CrawlerConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// LaunchBrowser starts Chromium and connects to it.
func LaunchBrowser(cfg config.CrawlerConfig, logger *zap.Logger) (*Browser, error) {
	controlURL, err := launcher.New().
		Headless(cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", "1280,800").
		Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect browser: %w", err)
	}

	limit := rate.Inf
	if cfg.PolitenessDelay > 0 {
		limit = rate.Every(cfg.PolitenessDelay)
	}

	logger = logger.With(zap.String("component", "browser"))
	logger.Info("browser ready", zap.Bool("headless", cfg.Headless), zap.Bool("stealth", cfg.Stealth))
	return &Browser{
		browser: browser,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}, nil
}

// NewPage opens a tab. Close it when the job is done.
func (b *Browser) NewPage() (Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if b.cfg.Stealth {
		page, err = stealth.Page(b.browser)
	} else {
		page, err = b.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if b.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent}); err != nil {
			b.logger.Warn("failed to set user agent", zap.Error(err))
		}
	}
	return &rodPage{page: page, browser: b}, nil
}

func (b *Browser) Close() error {
	return b.browser.Close()
}

type rodPage struct {
	page    *rod.Page
	browser *Browser
}

// Navigate waits its turn on the shared limiter, then loads rawURL within
// the navigation timeout.
func (p *rodPage) Navigate(ctx context.Context, rawURL string) error {
	if err := p.browser.limiter.Wait(ctx); err != nil {
		return err
	}

	timeout := p.browser.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	page := p.page.Context(ctx).Timeout(timeout)
	defer page.CancelTimeout()
	if err := page.Navigate(rawURL); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	if err := page.WaitStable(300 * time.Millisecond); err != nil {
		// Ads keep some pages from ever settling; the DOM is usually there.
		p.browser.logger.Debug("page never settled", zap.String("url", rawURL), zap.Error(err))
	}
	return nil
}

func (p *rodPage) HTML() (string, error) {
	return p.page.HTML()
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
