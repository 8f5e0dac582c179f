// Package browser drives a controllable headless-browser runtime through
// the upstream login form, including an optional TOTP second factor, and
// extracts the resulting session cookie.
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/pquerna/otp/totp"
)

const (
	loginURL = "https://www.instagram.com/accounts/login/"
	homeURL  = "https://www.instagram.com/"
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// LoginFailedError wraps the reason a login attempt did not reach a
// logged-in state: wrong credentials, a challenge page, or a missing
// session cookie after the success URL was reached.
type LoginFailedError struct {
	Reason string
}

func (e *LoginFailedError) Error() string { return "login failed: " + e.Reason }

// TwoFactorRequiredError is returned when a second-factor page is reached
// but no TOTP shared secret is configured for the credential.
type TwoFactorRequiredError struct{}

func (e *TwoFactorRequiredError) Error() string {
	return "two-factor challenge reached but no TOTP secret is configured"
}

// Login is a Refresher (pkg/session.Refresher) implementation.
type Login struct {
	Headless          bool
	NavigationTimeout time.Duration
}

// stealthScript masks common headless-browser fingerprints before any page
// script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => false });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'platform', { get: () => 'Win32' });
`

// Login submits the login form with username/password, handles an optional
// TOTP challenge, and returns the extracted sessionid cookie value.
func (l *Login) Login(ctx context.Context, username, password, totpSecret string) (string, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", l.Headless),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.WindowSize(1920, 1080),
			chromedp.UserAgent(userAgent),
		)...,
	)
	defer cancelAlloc()

	timeout := l.NavigationTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()
	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, timeout)
	defer cancelTimeout()

	var reachedTwoFactor bool
	var loginErrorText string

	err := chromedp.Run(taskCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return chromedp.Evaluate(stealthScript, nil).Do(ctx)
		}),
		chromedp.Navigate(loginURL),
		humanDelay(1500, 2500),
		chromedp.WaitVisible(`input[name="username"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="username"]`, username, chromedp.ByQuery),
		humanDelay(400, 900),
		chromedp.SendKeys(`input[name="password"]`, password, chromedp.ByQuery),
		humanDelay(400, 900),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			// Give the page time to either redirect home, show a 2FA
			// challenge, or show an inline error.
			waitCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
			defer cancel()
			_ = chromedp.Run(waitCtx, chromedp.WaitVisible(`input[name="verificationCode"]`, chromedp.ByQuery))

			var location string
			_ = chromedp.Evaluate(`window.location.href`, &location).Do(ctx)
			reachedTwoFactor = containsTwoFactor(location)
			return nil
		}),
	)
	if err != nil {
		return "", &LoginFailedError{Reason: fmt.Sprintf("navigating login form: %v", err)}
	}

	if reachedTwoFactor {
		if totpSecret == "" {
			return "", &TwoFactorRequiredError{}
		}
		code, err := totp.GenerateCode(totpSecret, time.Now())
		if err != nil {
			return "", fmt.Errorf("generating totp code: %w", err)
		}
		err = chromedp.Run(taskCtx,
			humanDelay(800, 1500),
			chromedp.SendKeys(`input[name="verificationCode"]`, code, chromedp.ByQuery),
			humanDelay(400, 900),
			chromedp.Click(`button:contains("Confirm")`, chromedp.ByQuery),
		)
		if err != nil {
			return "", &LoginFailedError{Reason: fmt.Sprintf("submitting two-factor code: %v", err)}
		}
	}

	err = chromedp.Run(taskCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := chromedp.Run(waitCtx, waitForHome()); err != nil {
				_ = chromedp.Evaluate(loginErrorSelectorScript, &loginErrorText).Do(ctx)
				return err
			}
			return nil
		}),
		dismissDialog(`button:contains("Not Now")`),
		humanDelay(600, 1200),
		dismissDialog(`button:contains("Not Now")`),
	)
	if err != nil {
		if loginErrorText != "" {
			return "", &LoginFailedError{Reason: loginErrorText}
		}
		return "", &LoginFailedError{Reason: "timed out waiting for successful login redirect"}
	}

	cookies, err := network.GetCookies().Do(taskCtx)
	if err != nil {
		return "", fmt.Errorf("reading cookie jar: %w", err)
	}
	for _, c := range cookies {
		if c.Name == "sessionid" {
			return c.Value, nil
		}
	}
	return "", &LoginFailedError{Reason: "no sessionid cookie present after successful login"}
}

const loginErrorSelectorScript = `
(function() {
    var el = document.querySelector('div[role="alert"]') || document.querySelector('#slfErrorAlert');
    return el ? el.textContent : '';
})()
`

func containsTwoFactor(location string) bool {
	return len(location) > 0 && (contains(location, "two_factor") || contains(location, "challenge"))
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func humanDelay(minMS, maxMS int) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		d := time.Duration(minMS+rand.Intn(maxMS-minMS+1)) * time.Millisecond
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func dismissDialog(selector string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := chromedp.Run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
			return nil // dialog did not appear, nothing to dismiss
		}
		return chromedp.Click(selector, chromedp.ByQuery).Do(ctx)
	})
}

func waitForHome() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for {
			var location string
			if err := chromedp.Evaluate(`window.location.href`, &location).Do(ctx); err != nil {
				return err
			}
			if len(location) >= len(homeURL) && location[:len(homeURL)] == homeURL {
				return nil
			}
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}
