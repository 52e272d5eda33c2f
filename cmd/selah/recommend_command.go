package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/selah-app/selah/engine/domain"
)

func newRecommendCommand(ctx *commandContext) *cobra.Command {
	var prayerID string

	cmd := &cobra.Command{
		Use:   "recommend <prayer text>",
		Short: "Recommend verses for a prayer and store them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := ctx.recommendService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if prayerID == "" {
				prayerID = uuid.NewString()
			}
			recs, err := svc.Generate(cmd.Context(), domain.Prayer{ID: prayerID, Transcription: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			fmt.Fprintf(ctx.stdout, "Prayer %s: %d recommendation(s)\n", prayerID, len(recs))
			printRecommendations(ctx, recs)
			return nil
		},
	}
	cmd.Flags().StringVar(&prayerID, "prayer-id", "", "Prayer id to store recommendations under (default random)")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <prayer-id>",
		Short: "Show stored recommendations for a prayer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := ctx.recommendService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			recs, err := svc.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(ctx.stdout, "No recommendations stored")
				return nil
			}
			printRecommendations(ctx, recs)
			return nil
		},
	}
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <prayer-id>",
		Short: "Delete stored recommendations for a prayer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := ctx.recommendService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := svc.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(ctx.stdout, "Deleted %d recommendation(s)\n", n)
			return nil
		},
	}
}

func printRecommendations(ctx *commandContext, recs []domain.Recommendation) {
	if len(recs) == 0 {
		return
	}
	fmt.Fprintln(ctx.stdout, renderTable(
		[]string{"Reference", "Score", "Justification"},
		recommendationRows(recs),
		[]columnAlignment{alignLeft, alignRight, alignLeft},
	))
}

func recommendationRows(recs []domain.Recommendation) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{r.Reference(), strconv.FormatFloat(r.RelevanceScore, 'f', 3, 64), r.Justification})
	}
	return rows
}
