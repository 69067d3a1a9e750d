package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/debforge/debforge/config"
	"github.com/debforge/debforge/remote"
	"github.com/debforge/debforge/repo"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          "debforge",
})

func main() {
	// Secrets (signing key, S3 credentials, GITHUB_TOKEN) may come from a
	// local .env during development.
	godotenv.Load()

	var configPath string
	var verbose bool

	root := &cobra.Command{
		Use:           "debforge",
		Short:         "Declarative APT repository builder",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				logger.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "debforge.toml", "configuration file (.toml or .yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		buildCmd(&configPath),
		checkCmd(&configPath),
		syncCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func buildCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Build and publish the repository",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := repo.NewRunner(cfg, eventLogger).Run(ctx)
			if summary != nil {
				printSummary(summary)
			}
			if err != nil {
				return err
			}
			if summary.Failures() > 0 {
				// Published, but not everything made it in.
				os.Exit(2)
			}
			return nil
		},
	}
}

func checkCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and resolve sources without fetching",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger.Info("configuration valid", "sources", len(cfg.Sources))

			resolved, failures := repo.NewResolver(cfg, nil, eventLogger).Resolve(cmd.Context())
			for _, rs := range resolved {
				fmt.Printf("%-20s %-8s %-10s %d task(s)\n", rs.Name, rs.Kind, rs.Component, len(rs.Tasks))
			}
			for _, e := range failures {
				logger.Error("source failed to resolve", "source", e.Source, "err", e.Err)
			}
			if len(failures) > 0 {
				os.Exit(2)
			}
			return nil
		},
	}
}

func syncCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Mirror the live repository tree to S3",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.S3 == nil {
				return fmt.Errorf("no s3 section in %s", *configPath)
			}
			mirror, err := remote.NewMirror(cfg.S3)
			if err != nil {
				return err
			}
			uploaded, pruned, err := mirror.Sync(cmd.Context(), cfg.RepoRoot)
			if err != nil {
				return err
			}
			logger.Info("mirror synced", "uploaded", uploaded, "pruned", pruned)
			return nil
		},
	}
}

// eventLogger bridges pipeline events onto the CLI logger.
func eventLogger(e fmt.Stringer) {
	switch e.(type) {
	case repo.EventTaskFailed, repo.EventSigningFailed:
		logger.Warn(e.String())
	case repo.EventFetchRetry, repo.EventPackageSkipped:
		logger.Debug(e.String())
	default:
		logger.Info(e.String())
	}
}

func printSummary(s *repo.Summary) {
	for _, o := range s.Outcomes {
		line := fmt.Sprintf("%-20s %-8s %3d package(s)", o.Source, o.Status, o.Packages)
		if o.Status == "failed" {
			line += fmt.Sprintf("  [%s] %s", o.Kind, o.Reason)
		}
		fmt.Println(line)
	}
	fmt.Printf("%d packages, published=%v, took %s\n", s.Packages, s.Published, s.Duration.Round(time.Millisecond))
}
