// Package capture renders the week page in headless Chromium and saves a
// PNG snapshot of it.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	appLog "schedcal/internal/log"
)

const (
	DefaultWidth   = 800
	DefaultHeight  = 480
	DefaultTimeout = 30 * time.Second
)

// Options defines one snapshot.
type Options struct {
	// BaseURL is where the server listens, e.g. "http://127.0.0.1:8080".
	BaseURL string
	// Token authenticates the page request as the snapshot user.
	Token string
	// Date selects the week; empty means the current week.
	Date string

	OutputPath string
	Width      int
	Height     int
	Timeout    time.Duration
}

// WeekURL builds the page address the browser is sent to.
func WeekURL(opts Options) (string, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("capture: invalid base URL %q", opts.BaseURL)
	}
	u.Path = "/week"
	q := url.Values{}
	if opts.Token != "" {
		q.Set("token", opts.Token)
	}
	if opts.Date != "" {
		q.Set("date", opts.Date)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (o *Options) normalize() error {
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// CaptureWeekPNG loads /week, waits for the page to mark itself with
// data-ready="true" and writes a screenshot to opts.OutputPath.
func CaptureWeekPNG(parentCtx context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}
	target, err := WeekURL(opts)
	if err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(target),
		chromedp.WaitVisible(`[data-ready="true"]`, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := writeFileAtomic(opts.OutputPath, png); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	appLog.Info("snapshot captured", "path", opts.OutputPath, "bytes", len(png))
	return nil
}

// writeFileAtomic keeps readers of /preview.png from seeing half a file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.png")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
