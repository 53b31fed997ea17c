package main

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

const defaultBaseURL = "http://localhost:8080"

// rootOptions holds the flags every command shares.
type rootOptions struct {
	BaseURL   string
	TokenPath string
	Pretty    bool

	client *http.Client
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{client: &http.Client{Timeout: 15 * time.Second}}

	cmd := &cobra.Command{
		Use:           "mangasync",
		Short:         "Inspect and feed cross-source manga progress",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.BaseURL, "api", envOr("MANGASYNC_API", defaultBaseURL), "API base URL")
	cmd.PersistentFlags().StringVar(&opts.TokenPath, "token-file", defaultTokenPath(), "token file path")
	cmd.PersistentFlags().BoolVar(&opts.Pretty, "pretty", true, "pretty print JSON output")

	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newReportCommand(opts))
	cmd.AddCommand(newUnifiedCommand(opts))
	cmd.AddCommand(newResumeCommand(opts))
	cmd.AddCommand(newSeriesCommand(opts))
	cmd.AddCommand(newForgetCommand(opts))
	cmd.AddCommand(newPrefsCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newObserveCommand(opts))

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.mangasync-token.json"
	}
	return filepath.Join(home, ".mangasync", "token.json")
}
