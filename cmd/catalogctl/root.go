package main

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"audiolibri/api/internal/catalog"
	"audiolibri/api/internal/config"
	"audiolibri/api/internal/gitrepo"
	"audiolibri/api/internal/reconcile"
	"audiolibri/api/internal/remote"
)

// cliContext is shared by every subcommand once the root pre-run has loaded
// the configuration.
type cliContext struct {
	cfg    config.Config
	logger *log.Logger
	out    io.Writer
}

func newRootCmd() *cobra.Command {
	cc := &cliContext{out: os.Stdout}
	var verbose bool

	cmd := &cobra.Command{
		Use:   "catalogctl",
		Short: "Inspect and maintain the audiolibri catalog",
		Long: `catalogctl reads the audiolibri catalog the same way the API does.

It can fingerprint and search the remote document, report genre usage,
export the catalog, list recorded submissions and manage the local git
backend used when CATALOG_BACKEND=git.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cc.cfg = cfg
			cc.logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
			if verbose {
				cc.logger.SetLevel(log.DebugLevel)
			}
			cc.out = cmd.OutOrStdout()
			return nil
		},
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newFetchCmd(cc),
		newSearchCmd(cc),
		newGenresCmd(cc),
		newExportCmd(cc),
		newSubmissionsCmd(cc),
		newRepoCmd(cc),
	)
	return cmd
}

// source returns the catalog source for the configured backend.
func (cc *cliContext) source() reconcile.Source {
	if cc.cfg.Backend == config.BackendGit {
		return cc.repo()
	}
	if cc.cfg.FetchVia == config.FetchAPI {
		return remote.NewGitHub(remote.GitHubConfig{
			Token:         cc.cfg.GitHubToken,
			Owner:         cc.cfg.RepoOwner,
			Repo:          cc.cfg.RepoName,
			FilePath:      cc.cfg.FilePath,
			BaseBranch:    cc.cfg.BaseBranch,
			RatePerMinute: cc.cfg.GitHubRatePerMinute,
		})
	}
	return remote.NewHTTPSource(cc.cfg.RemoteURL, nil)
}

func (cc *cliContext) repo() *gitrepo.Service {
	return gitrepo.New(gitrepo.Config{
		BaseDir:    cc.cfg.ReposDir,
		FilePath:   cc.cfg.FilePath,
		BaseBranch: cc.cfg.BaseBranch,
	})
}

func (cc *cliContext) fetch(ctx context.Context) (catalog.Document, error) {
	cc.logger.Debug("fetching catalog", "backend", cc.cfg.Backend, "url", cc.cfg.RemoteURL)
	doc, err := cc.source().Fetch(ctx)
	if err != nil {
		var fetchErr *catalog.RemoteFetchError
		if errors.As(err, &fetchErr) && fetchErr.Status != 0 {
			cc.logger.Error("remote returned an error", "status", fetchErr.Status)
		}
		return catalog.Document{}, err
	}
	cc.logger.Debug("catalog fetched", "items", doc.Snapshot.Len(), "bytes", len(doc.Raw))
	return doc, nil
}
