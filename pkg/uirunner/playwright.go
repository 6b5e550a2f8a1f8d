package uirunner

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"
)

// stepTimeoutMS bounds one Playwright action. Steps that legitimately take
// longer should be split with explicit wait_for steps.
const stepTimeoutMS = 30_000

// playwrightPage adapts a Playwright page to the step executor's driver
// contract. Playwright's Go API carries its own timeouts, so the context is
// only consulted between actions.
type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(stepTimeoutMS),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (p *playwrightPage) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Locator(selector).Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(stepTimeoutMS),
	})
}

func (p *playwrightPage) Fill(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Locator(selector).Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(stepTimeoutMS),
	})
}

func (p *playwrightPage) WaitFor(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Locator(selector).WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(stepTimeoutMS),
	})
}

func (p *playwrightPage) TextContent(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := p.page.Locator(selector).TextContent(playwright.LocatorTextContentOptions{
		Timeout: playwright.Float(stepTimeoutMS),
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (p *playwrightPage) Screenshot(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return err
}

// browserSession owns the Playwright driver and browser for one execution.
type browserSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
}

// openSession connects to the sandbox browser over CDP, or launches a local
// headless Chromium when no endpoint is available.
func openSession(wsEndpoint string, width, height int) (*browserSession, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright driver: %w", err)
	}

	var browser playwright.Browser
	if wsEndpoint != "" {
		browser, err = pw.Chromium.ConnectOverCDP(wsEndpoint)
	} else {
		browser, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(true),
		})
	}
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("open browser: %w", err)
	}

	// Reuse the sandbox profile's existing context when present; a fresh
	// context would bypass the fingerprint identity.
	var browserCtx playwright.BrowserContext
	if contexts := browser.Contexts(); len(contexts) > 0 {
		browserCtx = contexts[0]
	} else {
		browserCtx, err = browser.NewContext()
		if err != nil {
			_ = browser.Close()
			_ = pw.Stop()
			return nil, fmt.Errorf("create browser context: %w", err)
		}
	}

	var page playwright.Page
	if pages := browserCtx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = browserCtx.NewPage()
		if err != nil {
			_ = browser.Close()
			_ = pw.Stop()
			return nil, fmt.Errorf("open page: %w", err)
		}
	}

	// Sync the page viewport to the window's inner size so coordinates in
	// the test match what the tiled window shows.
	if width > 0 && height > 0 {
		if err := page.SetViewportSize(width, height); err != nil {
			_ = browser.Close()
			_ = pw.Stop()
			return nil, fmt.Errorf("set viewport: %w", err)
		}
	}

	return &browserSession{pw: pw, browser: browser, page: page}, nil
}

func (s *browserSession) close() {
	_ = s.browser.Close()
	_ = s.pw.Stop()
}
