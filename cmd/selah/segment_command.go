package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/selah-app/selah/engine/checkpoint"
	"github.com/selah-app/selah/engine/corpus"
	"github.com/selah-app/selah/engine/segment"
	"github.com/selah-app/selah/pkg/resilience"
)

func newSegmentCommand(ctx *commandContext) *cobra.Command {
	var workers int
	var reset bool

	cmd := &cobra.Command{
		Use:   "segment [book...]",
		Short: "Segment books into passages, resuming from checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			src, err := corpus.Open(cfg.Corpus.Path, cfg.Corpus.Translation)
			if err != nil {
				return err
			}
			defer src.Close()

			cp, err := checkpoint.Open(cfg.Segment.Backend, cfg.Segment.CheckpointDir)
			if err != nil {
				return err
			}
			defer cp.Close()

			if reset {
				for _, book := range args {
					if err := cp.Reset(cmd.Context(), book); err != nil {
						return err
					}
				}
			}

			if workers <= 0 {
				workers = cfg.Segment.Workers
			}
			oracle := segment.NewLLMOracle(ctx.llmClient(), nil).PerBook(func(book string) *resilience.Breaker {
				return ctx.breaker("llm", "book", book)
			})
			eng := segment.New(src, oracle, cp, segment.Options{
				Workers:     workers,
				BookTimeout: cfg.Segment.BookTimeout,
				Logger:      ctx.log(),
				Metrics:     ctx.metrics,
			})
			report, err := eng.Run(cmd.Context(), args)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(report.Results))
			for _, r := range report.Results {
				rows = append(rows, []string{
					r.Book,
					string(r.Status),
					strconv.Itoa(len(r.Passages)),
					strconv.Itoa(r.Attempts),
					r.Duration.Round(time.Second).String(),
				})
			}
			fmt.Fprintln(ctx.stdout, renderTable(
				[]string{"Book", "Status", "Passages", "Attempts", "Duration"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			return report.Err()
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Books segmented concurrently (default from config)")
	cmd.Flags().BoolVar(&reset, "reset", false, "Discard checkpoints of the named books first")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show segmentation progress per book",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			cp, err := checkpoint.Open(cfg.Segment.Backend, cfg.Segment.CheckpointDir)
			if err != nil {
				return err
			}
			defer cp.Close()

			statuses, err := cp.Books(cmd.Context())
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Fprintln(ctx.stdout, "No books segmented yet")
				return nil
			}
			fmt.Fprintln(ctx.stdout, renderTable(
				[]string{"Book", "Complete", "Chapters", "Passages", "Updated"},
				statusRows(statuses),
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func statusRows(statuses []checkpoint.Status) [][]string {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		complete := "no"
		if s.Complete {
			complete = "yes"
		}
		updated := "-"
		if !s.UpdatedAt.IsZero() {
			updated = s.UpdatedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{
			s.Book,
			complete,
			fmt.Sprintf("%d/%d", s.DoneChapters, s.Chapters),
			strconv.Itoa(s.Passages),
			updated,
		})
	}
	return rows
}
