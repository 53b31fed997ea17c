package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"mangasync/internal/adapter"
	"mangasync/internal/auth"
	"mangasync/internal/host"
	"mangasync/pkg/models"
	"mangasync/pkg/utils"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored bearer token",
	}

	var userID, username string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token with the local JWT secret and store it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := utils.LoadAuthConfig()
			tokens := auth.TokenService{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer, Duration: cfg.JWTDuration}
			token, exp, err := tokens.Sign(userID, username)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			if err := saveToken(opts.TokenPath, token); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token for %s saved to %s (expires %s)\n", userID, opts.TokenPath, exp.Format(time.RFC3339))
			return nil
		},
	}
	issue.Flags().StringVar(&userID, "user", "", "user id")
	issue.Flags().StringVar(&username, "username", "", "display name")
	_ = issue.MarkFlagRequired("user")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clearToken(opts.TokenPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "token removed")
			return nil
		},
	}

	cmd.AddCommand(issue, clearCmd)
	return cmd
}

type reportOptions struct {
	page     adapter.Page
	series   string
	chapter  float64
	percent  int
	platform string
	dryRun   bool
}

func newReportCommand(opts *rootOptions) *cobra.Command {
	ro := &reportOptions{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Observe a reader page and send its progress",
		Long: `Run the platform adapter for --url over the given page signals and post
the resulting event to the ingest endpoint. --series and --chapter skip
detection for pages the adapters cannot read.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := buildEvent(ro, cmd.Flags().Changed("percent"), time.Now())
			if err != nil {
				return err
			}
			if ro.dryRun {
				return printJSON(cmd.OutOrStdout(), ev, opts.Pretty)
			}

			token, err := mustToken(opts.TokenPath)
			if err != nil {
				return err
			}
			sink := host.NewHTTPSink(opts.BaseURL, token)
			sink.Client = opts.client
			res, err := sink.Send(cmd.Context(), "", ev)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"event":             ev,
				"syncedAt":          res.SyncedAt,
				"nextSyncInSeconds": int(res.NextSync / time.Second),
				"skipped":           res.Skipped,
			}, opts.Pretty)
		},
	}

	f := cmd.Flags()
	f.StringVar(&ro.page.URL, "url", "", "reader page url")
	f.StringVar(&ro.page.Title, "title", "", "document title")
	f.Float64Var(&ro.page.ScrollTop, "scroll-top", 0, "scroll offset in pixels")
	f.Float64Var(&ro.page.DocumentHeight, "document-height", 0, "document height in pixels")
	f.Float64Var(&ro.page.ViewportHeight, "viewport-height", 0, "viewport height in pixels")
	f.IntVar(&ro.page.PageIndex, "page", 0, "zero based page index for paged readers")
	f.IntVar(&ro.page.PageCount, "pages", 0, "page count for paged readers")
	f.StringVar(&ro.series, "series", "", "series title, skips detection")
	f.Float64Var(&ro.chapter, "chapter", 0, "chapter number, skips detection")
	f.IntVar(&ro.percent, "percent", 0, "position percent, overrides page signals")
	f.StringVar(&ro.platform, "platform", "", "platform id when --series is used")
	f.BoolVar(&ro.dryRun, "dry-run", false, "print the event instead of sending it")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

// buildEvent prefers explicit --series/--chapter over what the adapter reads
// from the page.
func buildEvent(ro *reportOptions, percentSet bool, now time.Time) (models.ProgressEvent, error) {
	var ev models.ProgressEvent
	if ro.series != "" && ro.chapter > 0 {
		platform := ro.platform
		if platform == "" {
			a, err := adapter.DefaultRegistry().ForURL(ro.page.URL)
			if err != nil {
				return ev, err
			}
			platform = a.Platform()
		}
		ev = models.ProgressEvent{
			SeriesKey:     ro.series,
			Platform:      platform,
			ChapterNumber: ro.chapter,
			ObservedAt:    now,
			SourceURL:     ro.page.URL,
		}
	} else {
		var err error
		ev, err = adapter.DefaultRegistry().Observe(ro.page, now)
		if err != nil {
			if errors.Is(err, adapter.ErrSeriesUndetected) || errors.Is(err, adapter.ErrChapterUndetected) {
				return ev, fmt.Errorf("%w; pass --series and --chapter", err)
			}
			return ev, err
		}
	}
	if percentSet {
		if ro.percent < 0 || ro.percent > 100 {
			return ev, fmt.Errorf("percent must be within 0..100, got %d", ro.percent)
		}
		ev.PositionPercent = ro.percent
	}
	return ev, nil
}

func newUnifiedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unified <series-id>",
		Short: "Show the unified progress of a series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := mustToken(opts.TokenPath)
			if err != nil {
				return err
			}
			var out *models.UnifiedProgress
			endpoint := opts.BaseURL + "/users/progress/" + url.PathEscape(args[0])
			if err := doJSON(cmd.Context(), opts.client, http.MethodGet, endpoint, token, nil, &out); err != nil {
				return err
			}
			if out == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no progress")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), out, opts.Pretty)
		},
	}
}

func newResumeCommand(opts *rootOptions) *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "resume <series-id>",
		Short: "Pick the url to continue a series from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := mustToken(opts.TokenPath)
			if err != nil {
				return err
			}
			endpoint := opts.BaseURL + "/users/progress/" + url.PathEscape(args[0]) + "/resume"
			if platform != "" {
				endpoint += "?platform=" + url.QueryEscape(platform)
			}
			var out map[string]any
			if err := doJSON(cmd.Context(), opts.client, http.MethodGet, endpoint, token, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out, opts.Pretty)
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "", "manual platform choice, remembered for next time")
	return cmd
}

func newSeriesCommand(opts *rootOptions) *cobra.Command {
	var (
		status        string
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:   "series",
		Short: "List tracked series",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := mustToken(opts.TokenPath)
			if err != nil {
				return err
			}
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))

			var out map[string]any
			endpoint := opts.BaseURL + "/users/series?" + q.Encode()
			if err := doJSON(cmd.Context(), opts.client, http.MethodGet, endpoint, token, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out, opts.Pretty)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "reading, completed, on_hold or dropped")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "offset")
	return cmd
}

func newForgetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <series-id> <platform>",
		Short: "Delete the progress a platform holds for a series",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := mustToken(opts.TokenPath)
			if err != nil {
				return err
			}
			endpoint := opts.BaseURL + "/users/progress/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1])
			if err := doJSON(cmd.Context(), opts.client, http.MethodDelete, endpoint, token, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forgot %s on %s\n", args[0], args[1])
			return nil
		},
	}
}

func newPrefsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or set preferred platforms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := mustToken(opts.TokenPath)
			if err != nil {
				return err
			}
			var out models.Preferences
			if err := doJSON(cmd.Context(), opts.client, http.MethodGet, opts.BaseURL+"/users/preferences", token, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out, opts.Pretty)
		},
	}

	set := &cobra.Command{
		Use:   "set <platform>...",
		Short: "Replace the preferred platform order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := mustToken(opts.TokenPath)
			if err != nil {
				return err
			}
			var platforms []string
			for _, a := range args {
				for _, p := range strings.Split(a, ",") {
					if p = strings.TrimSpace(p); p != "" {
						platforms = append(platforms, p)
					}
				}
			}
			payload := map[string][]string{"preferred_platforms": platforms}
			var out models.Preferences
			if err := doJSON(cmd.Context(), opts.client, http.MethodPut, opts.BaseURL+"/users/preferences", token, payload, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out, opts.Pretty)
		},
	}

	cmd.AddCommand(set)
	return cmd
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream change events over the websocket feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := mustToken(opts.TokenPath)
			if err != nil {
				return err
			}
			wsURL, err := websocketURL(opts.BaseURL, "/ws")
			if err != nil {
				return err
			}
			header := http.Header{}
			header.Set("Authorization", "Bearer "+token)

			conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), wsURL, header)
			if err != nil {
				return fmt.Errorf("dial %s: %w", wsURL, err)
			}
			defer conn.Close()

			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(msg))
			}
		},
	}
}
