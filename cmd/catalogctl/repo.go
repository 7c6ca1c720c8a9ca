package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"audiolibri/api/internal/config"
	"audiolibri/api/internal/remote"
)

var errNotGitBackend = errors.New("repo commands need CATALOG_BACKEND=git")

func newRepoCmd(cc *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage the local catalog repository used by the git backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			if cc.cfg.Backend != config.BackendGit {
				return errNotGitBackend
			}
			return nil
		},
	}
	cmd.AddCommand(newRepoInitCmd(cc), newRepoPullsCmd(cc), newRepoMergeCmd(cc))
	return cmd
}

func newRepoInitCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the local repository from the remote catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := remote.NewHTTPSource(cc.cfg.RemoteURL, nil).Fetch(cmd.Context())
			if err != nil {
				return err
			}
			repo := cc.repo()
			if err := repo.EnsureRepo(doc.Raw); err != nil {
				return err
			}
			cc.logger.Info("repository ready", "path", repo.URL(), "items", doc.Snapshot.Len())
			return nil
		},
	}
}

func newRepoPullsCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pulls",
		Short: "List pull requests opened against the local repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pulls, err := cc.repo().PullRequests()
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(pulls))
			for _, pr := range pulls {
				rows = append(rows, []string{
					fmt.Sprintf("#%d", pr.Number),
					pr.State,
					truncate(pr.Title, 50),
					pr.Head,
					pr.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			return cc.printTable([]string{"PR", "State", "Title", "Branch", "Opened"}, rows, nil)
		},
	}
}

func newRepoMergeCmd(cc *cliContext) *cobra.Command {
	var author string
	cmd := &cobra.Command{
		Use:   "merge <number>",
		Short: "Merge a local pull request into the base branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[0])
			if err != nil || number <= 0 {
				return fmt.Errorf("invalid pull request number %q", args[0])
			}
			info, err := cc.repo().MergePullRequest(number, author)
			if err != nil {
				return err
			}
			cc.logger.Info("pull request merged", "number", number, "commit", info.Hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "merge commit author (default: repository author)")
	return cmd
}
