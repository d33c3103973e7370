package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// The host markup is not a contract: every UI interaction goes through an
// ordered list of fallback locators with a bounded wait. This file is the one
// place that loop lives.

func isXPathSelector(sel string) bool {
	return strings.HasPrefix(sel, "//") || strings.HasPrefix(sel, "(")
}

func runOnSelector(ctx context.Context, sel string, build func(sel string, opts ...chromedp.QueryOption) chromedp.QueryAction) error {
	if isXPathSelector(sel) {
		return chromedp.Run(ctx, build(sel, chromedp.BySearch))
	}
	return chromedp.Run(ctx, build(sel))
}

// waitForAnyVisible cycles through the candidate selectors, giving each a
// short probe, until one becomes visible or the overall timeout expires.
func waitForAnyVisible(ctx context.Context, selectors []string, timeout, probe time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		for _, sel := range selectors {
			tryCtx, cancel := context.WithTimeout(ctx, probe)
			err := runOnSelector(tryCtx, sel, func(s string, opts ...chromedp.QueryOption) chromedp.QueryAction {
				return chromedp.WaitVisible(s, opts...)
			})
			cancel()
			if err == nil {
				return sel, nil
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("no locator matched within %v (tried %d candidates)", timeout, len(selectors))
		}
	}
}

// clickAny clicks the first candidate that accepts the click.
func clickAny(ctx context.Context, selectors []string, probe time.Duration) (string, error) {
	for _, sel := range selectors {
		tryCtx, cancel := context.WithTimeout(ctx, probe)
		err := runOnSelector(tryCtx, sel, func(s string, opts ...chromedp.QueryOption) chromedp.QueryAction {
			return chromedp.Click(s, opts...)
		})
		cancel()
		if err == nil {
			return sel, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("no clickable locator among %d candidates", len(selectors))
}

// pollUntil runs probe at a fixed interval until it reports true or the
// timeout expires. Timeouts are definite failures, never indefinite hangs.
func pollUntil(timeout, interval time.Duration, probe func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if probe() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(interval)
	}
}
