// -- cmd/wait.go --
package cmd

import (
	"context"
	"fmt"
	"time"

	protocdp "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/lancet/internal/cdp"
	"github.com/xkilldash9x/lancet/internal/dom"
	"github.com/xkilldash9x/lancet/internal/observability"
	"github.com/xkilldash9x/lancet/internal/realm"
)

var (
	waitURL       string
	waitSelectors []string
	waitState     string
	waitPolling   string
	waitInterval  time.Duration
	waitTimeout   time.Duration
)

// waitResult is one selector's outcome in the JSON report.
type waitResult struct {
	Selector string `json:"selector"`
	State    string `json:"state"`
	OK       bool   `json:"ok"`
	Elapsed  string `json:"elapsed"`
	Error    string `json:"error,omitempty"`
}

type waitReport struct {
	URL     string       `json:"url"`
	Title   string       `json:"title,omitempty"`
	Results []waitResult `json:"results"`
}

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Navigate to a URL and wait until selectors reach a state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if waitURL == "" {
			return fmt.Errorf("--url is required")
		}
		if len(waitSelectors) == 0 {
			return fmt.Errorf("at least one --selector is required")
		}
		return runWait(cmd.Context())
	},
}

func init() {
	waitCmd.Flags().StringVar(&waitURL, "url", "", "page to navigate to")
	waitCmd.Flags().StringSliceVar(&waitSelectors, "selector", nil, "CSS selector to wait for (repeatable)")
	waitCmd.Flags().StringVar(&waitState, "for", string(dom.StateVisible), "state to wait for: attached, visible or hidden")
	waitCmd.Flags().StringVar(&waitPolling, "polling", "", "polling strategy: raf, mutation or interval")
	waitCmd.Flags().DurationVar(&waitInterval, "interval", 0, "re-evaluation period for interval polling")
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 0, "per-selector timeout (0 uses the configured default)")
	rootCmd.AddCommand(waitCmd)
}

func runWait(ctx context.Context) error {
	logger := observability.GetLogger()

	timeout := waitTimeout
	if timeout == 0 {
		timeout = cfg.Wait.DefaultTimeout
	}
	interval := waitInterval
	if interval == 0 {
		interval = cfg.Wait.DefaultInterval
	}
	polling := waitPolling
	if polling == "" {
		polling = cfg.Wait.DefaultPolling
	}

	allocOpts := chromedp.DefaultExecAllocatorOptions[:]
	if !cfg.Browser.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if cfg.Browser.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(cfg.Browser.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer allocCancel()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()

	// Materialize the target so the main frame id is known before the
	// lifecycle watcher subscribes.
	if err := chromedp.Run(tabCtx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	frameID := protocdp.FrameID(chromedp.FromContext(tabCtx).Target.TargetID)

	world := realm.NewWorld(tabCtx, string(frameID), logger)
	cdp.Attach(tabCtx, world, frameID, logger)

	logger.Info("Navigating", zap.String("url", waitURL))
	navCtx, navCancel := context.WithTimeout(tabCtx, cfg.Browser.NavigationTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx, chromedp.Navigate(waitURL)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", waitURL, err)
	}

	results := make([]waitResult, len(waitSelectors))
	g, gctx := errgroup.WithContext(tabCtx)
	for i, selector := range waitSelectors {
		g.Go(func() error {
			start := time.Now()
			h, err := dom.WaitForSelector(gctx, world, selector, dom.WaitForSelectorOptions{
				State:    dom.State(waitState),
				Polling:  realm.Polling(polling),
				Interval: interval,
				Timeout:  timeout,
			})
			res := waitResult{
				Selector: selector,
				State:    waitState,
				OK:       err == nil,
				Elapsed:  time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				res.Error = err.Error()
			}
			if h != nil {
				_ = h.Dispose(gctx)
			}
			results[i] = res
			return nil
		})
	}
	// Waits record their own failures; the group only propagates context
	// teardown.
	if err := g.Wait(); err != nil {
		return err
	}

	report := waitReport{URL: waitURL, Results: results}
	if title, err := dom.Title(tabCtx, world); err == nil {
		report.Title = title
	} else {
		logger.Debug("Failed to read document title.", zap.Error(err))
	}

	out, err := jsoniter.ConfigFastest.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
