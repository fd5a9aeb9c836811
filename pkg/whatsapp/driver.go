package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// DefaultUserDataDir keeps the WhatsApp Web login between runs.
const DefaultUserDataDir = "whatsapp_session"

// Driver is the browser surface the sender needs.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// WaitFor blocks until an element matching xpath is present.
	WaitFor(ctx context.Context, xpath string, timeout time.Duration) error
	// ClickWhenReady waits until the element is interactable and clicks it.
	ClickWhenReady(ctx context.Context, xpath string, timeout time.Duration) error
	Close() error
}

// DriverConfig configures a RodDriver.
type DriverConfig struct {
	Headless    bool
	UserDataDir string
	ChromePath  string
}

// RodDriver drives a single Chrome tab through go-rod. Chrome is launched
// on first use.
type RodDriver struct {
	cfg      DriverConfig
	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

// NewRodDriver creates a driver. Relative user data dirs resolve against the
// working directory.
func NewRodDriver(cfg DriverConfig) (*RodDriver, error) {
	if cfg.UserDataDir == "" {
		cfg.UserDataDir = DefaultUserDataDir
	}
	if !filepath.IsAbs(cfg.UserDataDir) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve user data dir: %w", err)
		}
		cfg.UserDataDir = filepath.Join(wd, cfg.UserDataDir)
	}
	return &RodDriver{cfg: cfg}, nil
}

func (d *RodDriver) ensurePage() (*rod.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.page != nil {
		return d.page, nil
	}

	if err := os.MkdirAll(d.cfg.UserDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create user data directory: %w", err)
	}

	l := launcher.New().
		Headless(d.cfg.Headless).
		UserDataDir(d.cfg.UserDataDir).
		NoSandbox(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("window-size", "1920,1080")
	if d.cfg.ChromePath != "" {
		l = l.Bin(d.cfg.ChromePath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch Chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to CDP: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	log.Info().
		Bool("headless", d.cfg.Headless).
		Str("user_data_dir", d.cfg.UserDataDir).
		Msg("Browser started")

	d.launcher = l
	d.browser = browser
	d.page = page
	return page, nil
}

func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	page, err := d.ensurePage()
	if err != nil {
		return err
	}
	p := page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for page load: %w", err)
	}
	return nil
}

func (d *RodDriver) WaitFor(ctx context.Context, xpath string, timeout time.Duration) error {
	page, err := d.ensurePage()
	if err != nil {
		return err
	}
	if _, err := page.Context(ctx).Timeout(timeout).ElementX(xpath); err != nil {
		return fmt.Errorf("element not found: %s: %w", xpath, err)
	}
	return nil
}

func (d *RodDriver) ClickWhenReady(ctx context.Context, xpath string, timeout time.Duration) error {
	page, err := d.ensurePage()
	if err != nil {
		return err
	}
	elem, err := page.Context(ctx).Timeout(timeout).ElementX(xpath)
	if err != nil {
		return fmt.Errorf("element not found: %s: %w", xpath, err)
	}
	if _, err := elem.WaitInteractable(); err != nil {
		return fmt.Errorf("element not clickable: %s: %w", xpath, err)
	}
	if err := elem.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click element: %w", err)
	}
	return nil
}

// Close shuts the browser down. The user data dir is left in place.
func (d *RodDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	if d.browser != nil {
		log.Info().Msg("Closing browser")
		err = d.browser.Close()
	}
	if d.launcher != nil {
		d.launcher.Kill()
	}
	d.launcher, d.browser, d.page = nil, nil, nil
	return err
}
