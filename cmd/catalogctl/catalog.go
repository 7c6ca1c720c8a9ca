package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/export"
	"audiolibri/api/internal/ledger"
	"audiolibri/api/internal/search"
	"audiolibri/api/internal/selection"
)

func newFetchCmd(cc *cliContext) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the catalog and print its fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := cc.fetch(cmd.Context())
			if err != nil {
				return err
			}
			if raw {
				_, err := cc.out.Write(doc.Raw)
				return err
			}
			fp := doc.Fingerprint(time.Now())
			return cc.printTable(
				[]string{"Hash", "Items", "Bytes", "Fetched"},
				[][]string{{fp.Hash, strconv.Itoa(fp.ItemCount), strconv.Itoa(len(doc.Raw)), fp.Timestamp.Format(time.RFC3339)}},
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
			)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "write the raw document instead of the fingerprint")
	return cmd
}

func newSearchCmd(cc *cliContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Search the catalog by title, author, genre, narrator and tags",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := cc.fetch(cmd.Context())
			if err != nil {
				return err
			}
			ids := search.MatchSnapshot(doc.Snapshot, strings.Join(args, " "))
			total := len(ids)
			if limit > 0 && len(ids) > limit {
				ids = ids[:limit]
			}
			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				item, _ := doc.Snapshot.Item(id)
				rows = append(rows, itemRow(id, item))
			}
			if err := cc.printTable([]string{"ID", "Title", "Author", "Genre", "Processed"}, rows, nil); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cc.out, "%d of %d matches\n", len(ids), total)
			return err
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 25, "maximum rows to print (0 for all)")
	return cmd
}

func itemRow(id string, item *catalog.Item) []string {
	processed := "no"
	if v, ok := item.Value(catalog.FieldProcessed).(bool); ok && v {
		processed = "yes"
	}
	return []string{
		id,
		truncate(item.DisplayTitle("(senza titolo)"), 50),
		truncate(item.Text(catalog.FieldRealAuthor), 30),
		item.Text(catalog.FieldRealGenre),
		processed,
	}
}

func newGenresCmd(cc *cliContext) *cobra.Command {
	var suspiciousOnly bool
	cmd := &cobra.Command{
		Use:   "genres",
		Short: "Report genre usage and likely duplicates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := cc.fetch(cmd.Context())
			if err != nil {
				return err
			}
			stats := ledger.New(doc.Snapshot).Genres()
			names := make([]string, 0, len(stats))
			for _, stat := range stats {
				names = append(names, stat.Name)
			}
			suspicious := make(map[string]bool)
			flagged := catalog.SuspiciousGenres(names)
			for _, name := range flagged {
				suspicious[name] = true
			}

			rows := make([][]string, 0, len(stats))
			for _, stat := range stats {
				if suspiciousOnly && !suspicious[stat.Name] {
					continue
				}
				mark := ""
				if suspicious[stat.Name] {
					mark = "!"
				}
				rows = append(rows, []string{stat.Name, strconv.Itoa(stat.Count), mark})
			}
			if err := cc.printTable([]string{"Genre", "Items", "Similar"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft}); err != nil {
				return err
			}
			if len(flagged) > 0 {
				target := catalog.SuggestMergeTarget(stats, flagged)
				_, err = fmt.Fprintf(cc.out, "%d genres look like duplicates; most used: %s\n", len(flagged), target)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&suspiciousOnly, "suspicious", false, "only list genres that look like duplicates")
	return cmd
}

func newExportCmd(cc *cliContext) *cobra.Command {
	var (
		format string
		query  string
		status string
		output string
		upload bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the catalog as json, csv, xml, parquet or pdf",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			st, err := selection.ParseStatus(status)
			if err != nil {
				return err
			}
			doc, err := cc.fetch(cmd.Context())
			if err != nil {
				return err
			}

			scope := export.ScopeAll
			q := selection.Query{Text: query, Status: st}
			if q != (selection.Query{}) {
				scope = export.ScopeFiltered
			}
			rows := export.Collect(ledger.New(doc.Snapshot), scope, q)

			var archiver *export.Archiver
			if upload {
				archiver, err = export.NewArchiver(export.ArchiveConfig{
					Endpoint:  cc.cfg.MinioEndpoint,
					AccessKey: cc.cfg.MinioAccessKey,
					SecretKey: cc.cfg.MinioSecretKey,
					Bucket:    cc.cfg.MinioBucket,
					UseSSL:    cc.cfg.MinioUseSSL,
				})
				if err != nil {
					return err
				}
			}
			result, err := export.NewService(archiver).Export(cmd.Context(), export.Request{
				Format: f,
				Scope:  scope,
				Query:  q,
				Upload: upload,
			}, rows)
			if err != nil {
				return err
			}

			path := output
			if path == "" {
				path = result.Filename
			}
			if path == "-" {
				_, err = cc.out.Write(result.Data)
				return err
			}
			if err := os.WriteFile(path, result.Data, 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			cc.logger.Info("export written", "path", path, "items", result.ItemCount, "format", f)
			if result.ObjectKey != "" {
				cc.logger.Info("export archived", "bucket", cc.cfg.MinioBucket, "key", result.ObjectKey)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json, csv, xml, parquet or pdf")
	cmd.Flags().StringVarP(&query, "query", "q", "", "only export items matching this text")
	cmd.Flags().StringVar(&status, "status", "", "only export processed or pending items")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path, - for stdout (default: generated file name)")
	cmd.Flags().BoolVar(&upload, "upload", false, "also upload the export to the configured bucket")
	return cmd
}
