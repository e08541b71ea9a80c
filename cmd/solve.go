package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/okto-sec/tiksolve/internal/browser/chromepage"
	"github.com/okto-sec/tiksolve/internal/browser/rodpage"
	"github.com/okto-sec/tiksolve/internal/captcha"
	"github.com/okto-sec/tiksolve/internal/config"
	"github.com/okto-sec/tiksolve/internal/fetch"
	"github.com/okto-sec/tiksolve/internal/observability"
	"github.com/okto-sec/tiksolve/internal/sadcaptcha"
	"github.com/okto-sec/tiksolve/internal/vision"
)

// newSolveCmd creates the `solve` command: open (or attach to) a browser,
// navigate to the target and clear whatever captcha shows up.
func newSolveCmd() *cobra.Command {
	solveCmd := &cobra.Command{
		Use:   "solve <url>",
		Short: "Navigates to a URL and solves any captcha that appears",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			target := args[0]

			applyFlagOverrides(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			fetcher, err := fetch.New(fetch.Options{
				Headers:  cfg.Fetch.Headers,
				ProxyURL: cfg.Fetch.Proxy,
				Timeout:  cfg.Fetch.Timeout,
			}, logger)
			if err != nil {
				return err
			}

			client := sadcaptcha.New(sadcaptcha.Options{
				APIKey:            cfg.Service.APIKey,
				BaseURL:           cfg.Service.BaseURL,
				Timeout:           cfg.Service.Timeout,
				RequestsPerMinute: cfg.Service.RequestsPerMinute,
			}, logger)

			page, cleanup, err := newPage(ctx, cfg.Browser, target, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			solver := captcha.New(page, client, fetcher, logger)
			if cfg.Vision.Enabled {
				visionClient, err := vision.Connect(vision.Options{
					URL:           cfg.Vision.URL,
					Subject:       cfg.Vision.Subject,
					Timeout:       cfg.Vision.Timeout,
					MinConfidence: cfg.Vision.MinConfidence,
				}, logger)
				if err != nil {
					return err
				}
				defer visionClient.Close()
				solver = solver.WithPuzzleSolver(visionClient)
			}

			start := time.Now()
			if err := solver.SolveIfPresent(ctx, cfg.Solver.DetectTimeout, cfg.Solver.MaxRetries); err != nil {
				return err
			}
			logger.Info("Solve run finished", zap.Duration("elapsed", time.Since(start)))
			return nil
		},
	}

	solveCmd.Flags().String("attach", "", "DevTools websocket URL of a running browser (e.g. ws://127.0.0.1:9222)")
	solveCmd.Flags().String("backend", "", "browser backend: chromedp or rod")
	solveCmd.Flags().Bool("headless", false, "run a locally launched browser headless")
	solveCmd.Flags().Duration("detect-timeout", 0, "how long to wait for a captcha to appear")
	solveCmd.Flags().Int("retries", 0, "maximum solve attempts")
	solveCmd.Flags().Bool("vision", false, "prefer the NATS vision solver for puzzle captchas")

	return solveCmd
}

// applyFlagOverrides folds explicitly set flags over the file/env config.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("attach") {
		cfg.Browser.ControlURL, _ = flags.GetString("attach")
	}
	if flags.Changed("backend") {
		cfg.Browser.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("headless") {
		cfg.Browser.Headless, _ = flags.GetBool("headless")
	}
	if flags.Changed("detect-timeout") {
		cfg.Solver.DetectTimeout, _ = flags.GetDuration("detect-timeout")
	}
	if flags.Changed("retries") {
		cfg.Solver.MaxRetries, _ = flags.GetInt("retries")
	}
	if flags.Changed("vision") {
		cfg.Vision.Enabled, _ = flags.GetBool("vision")
	}
}

// newPage builds the captcha.Page for the configured backend, navigated to
// target. The returned cleanup tears down whatever was created here; an
// attached browser itself is left running.
func newPage(ctx context.Context, bc config.BrowserConfig, target string, logger *zap.Logger) (captcha.Page, func(), error) {
	switch bc.Backend {
	case "chromedp":
		return newChromedpPage(ctx, bc, target, logger)
	case "rod":
		return newRodPage(bc, target, logger)
	default:
		return nil, nil, fmt.Errorf("unknown browser backend %q", bc.Backend)
	}
}

func newChromedpPage(ctx context.Context, bc config.BrowserConfig, target string, logger *zap.Logger) (captcha.Page, func(), error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if bc.ControlURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, bc.ControlURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", bc.Headless),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	cleanup := func() {
		tabCancel()
		allocCancel()
	}

	if err := chromedp.Run(tabCtx, chromedp.Navigate(target)); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("navigating to %s: %w", target, err)
	}
	return chromepage.New(tabCtx, logger), cleanup, nil
}

func newRodPage(bc config.BrowserConfig, target string, logger *zap.Logger) (captcha.Page, func(), error) {
	browser := rod.New()
	if bc.ControlURL != "" {
		browser = browser.ControlURL(bc.ControlURL)
	}
	if err := browser.Connect(); err != nil {
		return nil, nil, fmt.Errorf("connecting to browser: %w", err)
	}
	cleanup := func() { _ = browser.Close() }

	page, err := browser.Page(proto.TargetCreateTarget{URL: target})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("opening %s: %w", target, err)
	}
	return rodpage.New(page, logger), cleanup, nil
}
