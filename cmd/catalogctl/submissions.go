package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/store"
)

func newSubmissionsCmd(cc *cliContext) *cobra.Command {
	var (
		sessionID string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "submissions [id]",
		Short: "List recorded submissions, or show one with its archived edits",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := store.Open(ctx, cc.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := store.ApplyMigrations(ctx, db, cc.cfg.MigrationsDir); err != nil {
				return err
			}
			audit := store.NewSQLStore(db)

			if len(args) == 1 {
				sub, err := audit.GetSubmission(ctx, args[0])
				if err != nil {
					return err
				}
				if err := cc.printTable(submissionHeaders, [][]string{submissionRow(sub)}, submissionAligns); err != nil {
					return err
				}
				edits, err := audit.ArchivedHistory(ctx, sub.ID, "", limit)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(edits))
				for _, edit := range edits {
					rows = append(rows, []string{
						edit.EditedAt.Local().Format("2006-01-02 15:04"),
						edit.ItemID,
						truncate(edit.ItemTitle, 40),
						catalog.Label(catalog.Field(edit.Field)),
						truncate(catalog.Stringify(edit.OldValue), 30),
						truncate(catalog.Stringify(edit.NewValue), 30),
					})
				}
				return cc.printTable([]string{"Edited", "Item", "Title", "Field", "Old", "New"}, rows, nil)
			}

			subs, err := audit.ListSubmissions(ctx, sessionID, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(subs))
			for _, sub := range subs {
				rows = append(rows, submissionRow(sub))
			}
			return cc.printTable(submissionHeaders, rows, submissionAligns)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "only list submissions from this editor session")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows to list")
	return cmd
}

var submissionHeaders = []string{"ID", "When", "Kind", "Outcome", "Items", "Fields", "Added", "PR", "Took"}

var submissionAligns = []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignRight}

func submissionRow(sub store.Submission) []string {
	pr := "-"
	if sub.PRNumber > 0 {
		pr = fmt.Sprintf("#%d", sub.PRNumber)
	}
	outcome := sub.Outcome
	if sub.Error != "" {
		outcome += ": " + truncate(sub.Error, 40)
	}
	return []string{
		sub.ID,
		sub.CreatedAt.Local().Format("2006-01-02 15:04"),
		sub.Kind,
		outcome,
		strconv.Itoa(sub.ChangesCount),
		strconv.Itoa(sub.FieldsChanged),
		strconv.Itoa(sub.ItemsAdded),
		pr,
		(time.Duration(sub.DurationMS) * time.Millisecond).String(),
	}
}
