// cmd/repowiki/generate.go
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/julianshen/repowiki/internal/config"
	"github.com/julianshen/repowiki/internal/generate"
	"github.com/julianshen/repowiki/internal/job"
	"github.com/julianshen/repowiki/internal/wiki"
)

func generateCmd() *cobra.Command {
	var (
		typeFlag          string
		branchFlag        string
		languageFlag      string
		comprehensiveFlag bool
		providerFlag      string
		modelFlag         string
		tokenFlag         string
		formatFlag        string
		outputFlag        string
	)

	cmd := &cobra.Command{
		Use:   "generate <owner/repo | path>",
		Short: "Generate a wiki for one repository and write it to disk",
		Long: `Run the full generation pipeline once, without the server: fetch the
repository, generate the wiki structure and every page, and write the
result as markdown files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logger, closeLog := config.SetupLogger("", logLevel())
			defer closeLog()

			ref, err := parseTarget(args[0], typeFlag)
			if err != nil {
				return err
			}
			ref.Branch = branchFlag
			ref.Language = languageFlag
			ref.Comprehensive = comprehensiveFlag
			if tokenFlag == "" {
				tokenFlag = os.Getenv("REPOWIKI_TOKEN")
			}
			ref.Token = tokenFlag

			j := job.New("cli", ref, providerFlag, modelFlag)
			m := job.NewMachine(j, consoleSink{})

			runner := generate.NewRunner(cfg, nil, logger)
			if err := runner.Run(cmd.Context(), m); err != nil {
				return err
			}

			snap := j.Snapshot()
			if snap.Status != job.StatusCompleted && snap.Status != job.StatusPartiallyCompleted {
				return fmt.Errorf("generation %s: %s", snap.Status, snap.ErrorMessage)
			}

			renderCfg := wiki.RenderConfig{Format: formatFlag, OutputDir: outputFlag}
			if err := wiki.Render(j.Structure(), renderCfg); err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "Wiki written to %s (%d pages, %d failed)\n",
				outputFlag, snap.CompletedPages, snap.FailedPages)
			return nil
		},
	}

	cmd.Flags().StringVar(&typeFlag, "type", "github", "repository type: github, gitlab, bitbucket, local")
	cmd.Flags().StringVar(&branchFlag, "branch", "", "branch to document (default: main, then master)")
	cmd.Flags().StringVar(&languageFlag, "language", "en", "wiki language code")
	cmd.Flags().BoolVar(&comprehensiveFlag, "comprehensive", false, "generate a sectioned comprehensive wiki")
	cmd.Flags().StringVar(&providerFlag, "provider", "", "override provider name")
	cmd.Flags().StringVar(&modelFlag, "model", "", "override model name")
	cmd.Flags().StringVar(&tokenFlag, "token", "", "access token for private repositories")
	cmd.Flags().StringVar(&formatFlag, "format", "raw-md", "output format: raw-md, hugo, docusaurus")
	cmd.Flags().StringVar(&outputFlag, "output", "docs/wiki", "output directory")

	return cmd
}

// parseTarget turns the positional argument into a job ref: "owner/repo"
// for hosted repositories, a filesystem path for local ones.
func parseTarget(target, repoType string) (job.Ref, error) {
	if repoType == "local" {
		abs, err := filepath.Abs(target)
		if err != nil {
			return job.Ref{}, err
		}
		return job.Ref{
			RepoType: "local",
			Owner:    "local",
			Repo:     filepath.Base(abs),
			LocalDir: abs,
		}, nil
	}

	owner, repo, ok := strings.Cut(target, "/")
	if !ok || owner == "" || repo == "" {
		return job.Ref{}, fmt.Errorf("expected owner/repo, got %q", target)
	}
	return job.Ref{RepoType: repoType, Owner: owner, Repo: repo}, nil
}

// consoleSink prints progress to stderr for one-shot runs.
type consoleSink struct{}

func (consoleSink) JobEvent(snap job.Snapshot, msg string, page *job.Page) {
	if page != nil {
		fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", snap.ProgressPercent, msg)
		return
	}
	fmt.Fprintf(os.Stderr, "[%3d%%] %s (%s)\n", snap.ProgressPercent, msg, snap.Status)
}
