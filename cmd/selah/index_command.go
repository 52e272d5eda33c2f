package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/selah-app/selah/engine/checkpoint"
	"github.com/selah-app/selah/engine/domain"
	"github.com/selah-app/selah/engine/indexer"
)

func newIndexCommand(ctx *commandContext) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "index [book...]",
		Short: "Index segmented books into the vector store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			cp, err := checkpoint.Open(cfg.Segment.Backend, cfg.Segment.CheckpointDir)
			if err != nil {
				return err
			}
			defer cp.Close()

			conn := ctx.connector(ctx.embedder(ctx.llmClient()))
			ix, err := conn.Connect(cmd.Context())
			if err != nil {
				return domain.NewIndexError("connect", err)
			}
			defer ix.Close()

			if reset {
				ctx.log().Info("deleting indexed passages", "tenant", cfg.Qdrant.Tenant)
				if err := ix.Store().DeleteByTenant(cmd.Context(), cfg.Qdrant.Tenant); err != nil {
					return domain.NewIndexError("reset", err)
				}
			}

			report, err := indexer.Run(cmd.Context(), indexer.Deps{
				Checkpoints: cp,
				Index:       ix,
				Tenant:      cfg.Qdrant.Tenant,
				BatchSize:   cfg.Segment.IndexBatch,
				Breaker:     ctx.breaker("qdrant"),
				Logger:      ctx.log(),
				Metrics:     ctx.metrics,
			}, args)

			rows := make([][]string, 0, len(report.Indexed)+len(report.Skipped))
			for _, b := range report.Indexed {
				rows = append(rows, []string{b.Book, strconv.Itoa(b.Documents), strconv.Itoa(b.Batches), "indexed"})
			}
			for _, b := range report.Skipped {
				rows = append(rows, []string{b, "0", "0", "incomplete"})
			}
			if len(rows) > 0 {
				fmt.Fprintln(ctx.stdout, renderTable(
					[]string{"Book", "Documents", "Batches", "Result"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
				))
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "Delete this tenant's points before indexing")
	return cmd
}
