package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/ZanzyTHEbar/axion/axion/app"

	"github.com/spf13/cobra"
)

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the result caches",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.OpenCaches(ctx); err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "CACHE\tENTRIES\tCAPACITY\tTTL\tPERSISTED")
				for _, r := range a.CacheStats() {
					ttl := "-"
					if r.TTL > 0 {
						ttl = r.TTL.String()
					}
					fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%t\n", r.Name, r.Stats.Size, r.Stats.Capacity, ttl, r.Persisted)
				}
				return w.Flush()
			})
		},
	}

	flushCmd := &cobra.Command{
		Use:   "flush",
		Short: "Empty every cache and its snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.OpenCaches(ctx); err != nil {
					return err
				}
				if err := a.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All cache entries cleared.")
				return nil
			})
		},
	}

	cmd.AddCommand(statsCmd, flushCmd)
	return cmd
}
