package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/axion/axion/app"

	"github.com/spf13/cobra"
)

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "generate PROMPT [PROMPT...]",
		Short: "Generate text for one or more prompts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				gen, err := a.Generation(ctx)
				if err != nil {
					return err
				}
				out, err := gen.GenerateBatch(ctx, args)
				if err != nil {
					return err
				}
				for _, text := range out {
					fmt.Fprintln(cmd.OutOrStdout(), text)
				}
				return nil
			})
		},
	}
}

func newEmbedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "embed TEXT [TEXT...]",
		Short: "Print embeddings as JSON lines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				emb, err := a.Embedding(ctx)
				if err != nil {
					return err
				}
				vecs, err := emb.EmbedBatch(ctx, args)
				if err != nil {
					return err
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				for i, vec := range vecs {
					line := struct {
						Text      string    `json:"text"`
						Model     string    `json:"model"`
						Embedding []float32 `json:"embedding"`
					}{args[i], emb.ModelID(), vec}
					if err := enc.Encode(line); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newPlanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan COMMAND...",
		Short: "Decompose a natural-language command into Git subtasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				planner, err := a.Planner(ctx)
				if err != nil {
					return err
				}
				subtasks, err := planner.Decompose(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				for i, task := range subtasks {
					fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, task)
				}
				return nil
			})
		},
	}
}

func newReplanCmd(opts *rootOptions) *cobra.Command {
	var contextID string

	cmd := &cobra.Command{
		Use:   "replan ERROR...",
		Short: "Propose a recovery plan for a failed step",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				debug, err := a.Debug(ctx)
				if err != nil {
					return err
				}
				plan, err := debug.RePlan(ctx, strings.Join(args, " "), contextID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), plan)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&contextID, "context-id", "default", "context the failure happened in")
	return cmd
}
