package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

const whatsappWebURL = "https://web.whatsapp.com"

// Client owns the browser session. Everything else talks to the page through
// it: navigation, JS evaluation and the protocol listeners hang off its context.
type Client struct {
	config      *Config
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

func NewClient(config *Config) *Client {
	return &Client{config: config}
}

func (c *Client) Context() context.Context {
	return c.ctx
}

func (c *Client) Initialize() error {
	Log("info", "Initializing browser automation...")

	Log("debug", "Checking network connectivity to WhatsApp Web...")
	if err := checkNetworkConnectivity(); err != nil {
		Logf("warn", "Network connectivity check failed: %v", err)
		Log("warn", "Proceeding anyway, but you may experience connection issues")
	}

	if c.config.Browser.ChromePath != "" {
		if _, err := os.Stat(c.config.Browser.ChromePath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("Chrome executable not found at: %s\nCheck chrome_path in the config or remove it to use auto-detection", c.config.Browser.ChromePath)
			}
			return fmt.Errorf("cannot access Chrome executable at %s: %w", c.config.Browser.ChromePath, err)
		}
		Logf("info", "Using Chrome at: %s", c.config.Browser.ChromePath)
	}

	if err := ensureUserDataDir(c.config.Browser.UserDataDir); err != nil {
		return fmt.Errorf("failed to create user data directory: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.config.Browser.Headless),
		chromedp.UserDataDir(c.config.Browser.UserDataDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.WindowSize(1200, 800),
	)
	if c.config.Browser.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(c.config.Browser.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	c.allocCancel = allocCancel
	c.ctx, c.cancel = chromedp.NewContext(allocCtx)

	Log("info", "Opening WhatsApp Web...")
	if err := chromedp.Run(c.ctx, chromedp.Navigate(whatsappWebURL)); err != nil {
		if strings.Contains(err.Error(), "chrome failed to start") {
			return fmt.Errorf("Chrome failed to start. Close all Chrome windows, delete the chrome-data folder, or check chrome_path.\nError: %w", err)
		}
		return fmt.Errorf("failed to navigate to WhatsApp Web: %w", err)
	}

	return c.waitForLogin()
}

// waitForLogin waits for either an existing session or a QR scan, surfacing
// progress while the operator scans.
func (c *Client) waitForLogin() error {
	qrTimeout := time.Duration(c.config.Browser.QRTimeoutSeconds) * time.Second
	Logf("info", "If you see a QR code, please scan it within %d seconds", c.config.Browser.QRTimeoutSeconds)

	timeoutCtx, timeoutCancel := context.WithTimeout(c.ctx, qrTimeout)
	defer timeoutCancel()

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(timeoutCtx,
			chromedp.WaitVisible(`//div[@id='side']`, chromedp.BySearch),
		)
	}()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	start := time.Now()

	var err error
waitLoop:
	for {
		select {
		case err = <-done:
			break waitLoop
		case <-ticker.C:
			remaining := qrTimeout - time.Since(start)
			if remaining > 0 {
				Logf("info", "Still waiting for WhatsApp Web to load... (%.0f seconds remaining)", remaining.Seconds())
			}
		}
	}

	if err != nil {
		if strings.Contains(err.Error(), "context deadline exceeded") {
			return fmt.Errorf("timeout waiting for WhatsApp Web login after %d seconds", c.config.Browser.QRTimeoutSeconds)
		}
		return fmt.Errorf("failed to load WhatsApp Web: %w", err)
	}

	Log("info", "WhatsApp Web loaded successfully!")
	time.Sleep(3 * time.Second)
	return nil
}

func (c *Client) Close() {
	if c.cancel != nil {
		Log("info", "Closing browser...")
		c.cancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
}

// Eval evaluates JS in the page and decodes the result into out (out may be nil).
func (c *Client) Eval(js string, out interface{}) error {
	return chromedp.Run(c.ctx, chromedp.Evaluate(js, out))
}

// EvalAsync evaluates JS that returns a promise, waiting for it to resolve.
func (c *Client) EvalAsync(js string, out interface{}) error {
	return chromedp.Run(c.ctx, chromedp.Evaluate(js, out,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		},
	))
}

// checkNetworkConnectivity verifies we can reach WhatsApp Web
func checkNetworkConnectivity() error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(whatsappWebURL)
	if err != nil {
		return fmt.Errorf("cannot reach WhatsApp Web: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("WhatsApp Web returned server error: %d", resp.StatusCode)
	}
	return nil
}

// ensureUserDataDir creates the user data directory if it doesn't exist and
// verifies Chrome will be able to write to it.
func ensureUserDataDir(dirPath string) error {
	if dirPath == "" {
		Log("info", "No user data directory specified, Chrome will use default")
		return nil
	}

	info, err := os.Stat(dirPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to check directory: %w", err)
		}
		Logf("info", "Creating user data directory: %s", dirPath)
		if err := os.MkdirAll(dirPath, 0777); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dirPath, err)
		}
	} else if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory: %s", dirPath)
	}

	testFile := filepath.Join(dirPath, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0666); err != nil {
		return fmt.Errorf("directory exists but is not writable: %s", dirPath)
	}
	os.Remove(testFile)
	return nil
}

// escapeJSString escapes a string for safe embedding in page JavaScript.
func escapeJSString(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, "`", "\\`")
	escaped = strings.ReplaceAll(escaped, "\n", "\\n")
	escaped = strings.ReplaceAll(escaped, "\r", "\\r")
	escaped = strings.ReplaceAll(escaped, "\t", "\\t")
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, `'`, `\'`)
	return `"` + escaped + `"`
}
