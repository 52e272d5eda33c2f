package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/cobra"

	"github.com/selah-app/selah/engine/graph"
)

func newGraphCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Summarize the recommendation graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config.Store
			if cfg.Neo4jURL == "" {
				return errors.New("graph: store.neo4j_url is not configured")
			}
			driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
			if err != nil {
				return fmt.Errorf("neo4j driver: %w", err)
			}
			defer driver.Close(context.Background())
			gs := graph.New(driver, "")

			counts, err := gs.NodeCounts(cmd.Context())
			if err != nil {
				return err
			}
			var rows [][]string
			for _, label := range slices.Sorted(maps.Keys(counts)) {
				rows = append(rows, []string{label, strconv.FormatInt(counts[label], 10)})
			}
			fmt.Fprintln(ctx.stdout, renderTable([]string{"Label", "Nodes"}, rows, []columnAlignment{alignLeft, alignRight}))

			top, err := gs.TopPassages(cmd.Context(), limit)
			if err != nil {
				return err
			}
			rows = rows[:0]
			for _, p := range top {
				rows = append(rows, []string{p.Reference, strconv.FormatInt(p.Prayers, 10)})
			}
			fmt.Fprintln(ctx.stdout, renderTable([]string{"Passage", "Prayers"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of top passages to show")
	return cmd
}
