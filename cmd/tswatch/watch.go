package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tswatch/internal/tswatch"
)

var (
	watchGitHub    bool
	watchTimeout   time.Duration
	watchNoPoll    bool
	watchRecompute bool
)

func init() {
	watchCmd.Flags().BoolVar(&watchGitHub, "github", false, "treat the page argument as a GitHub display path")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 0, "give up after this long (0 waits forever)")
	watchCmd.Flags().BoolVar(&watchNoPoll, "no-poll", false, "follow the event stream only")
	watchCmd.Flags().BoolVar(&watchRecompute, "recompute", false, "request a new execution before watching")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <page> [key=value...]",
	Short: "Follow a page execution until its HTML is ready",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(args[1:])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if watchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, watchTimeout)
			defer cancel()
		}

		page, err := resolvePage(ctx, args[0], watchGitHub)
		if err != nil {
			return errors.New(describeError(err))
		}
		fmt.Println(titleStyle.Render(page.Title) + " " + dimStyle.Render(page.Name))

		var last tswatch.ExecutionState = -1
		ctl := svc.NewController(page, tswatch.ControllerOptions{
			DisablePolling: watchNoPoll,
			OnChange: func(v tswatch.View) {
				if v.IsError && v.Err != nil {
					fmt.Printf("  %s %s\n", errStyle.Render("✗"), describeError(v.Err))
				}
				if v.State == last {
					return
				}
				last = v.State
				icon, s := stateStyle(v.State)
				line := fmt.Sprintf("  %s %s", s.Render(icon), v.State)
				if v.Event != nil && v.Event.DurationSeconds != nil {
					line += dimStyle.Render(fmt.Sprintf(" (%.1fs)", *v.Event.DurationSeconds))
				}
				fmt.Println(line)
			},
		})
		defer ctl.Close()

		ctl.SetParams(ctx, params)
		if watchRecompute {
			if err := ctl.Recompute(ctx); err != nil {
				return fmt.Errorf("recompute: %s", describeError(err))
			}
		}

		v, err := ctl.Wait(ctx)
		if err != nil {
			return fmt.Errorf("stopped while %s: %w", v.State, err)
		}
		fmt.Printf("%s %s\n", boldStyle.Render("html"), v.RenderToken)
		if v.ContentURL != "" {
			fmt.Println(dimStyle.Render(v.ContentURL))
		}
		if v.ChangedSinceLastSeen {
			fmt.Println(stateComplete.Render("content changed since last seen"))
		}
		return nil
	},
}

func resolvePage(ctx context.Context, arg string, github bool) (*tswatch.Page, error) {
	if github {
		return svc.GitHubPage(ctx, arg, false)
	}
	return svc.Page(ctx, arg, false)
}
