package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"mangasync/internal/adapter"
	"mangasync/internal/auth"
	"mangasync/internal/host"
)

const busTimeout = 2 * time.Second

func newObserveCommand(opts *rootOptions) *cobra.Command {
	var (
		file     string
		quiet    time.Duration
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Feed page snapshots through the extension host",
		Long: `Read JSON page snapshots (one per line, fields of adapter.Page) from
--file or stdin. Each page goes through the platform adapters and the host,
which coalesces and throttles before sending. At end of input the host is
flushed with a manual sync and its popup state is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := mustToken(opts.TokenPath)
			if err != nil {
				return err
			}
			uid, err := userFromToken(token)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			sink := host.NewHTTPSink(opts.BaseURL, token)
			sink.Client = opts.client
			h := host.NewHost(sink, quiet, interval, log.New(cmd.ErrOrStderr(), "", log.LstdFlags))
			bus := host.NewBus()
			bus.Register(h)
			defer bus.Unregister()

			return observe(cmd, bus, h, uid, in, opts.Pretty)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "page snapshots file, - or empty for stdin")
	cmd.Flags().DurationVar(&quiet, "quiet", 2*time.Second, "quiet window before an update is sent")
	cmd.Flags().DurationVar(&interval, "min-interval", 5*time.Second, "minimum time between sends per series")
	return cmd
}

func observe(cmd *cobra.Command, bus *host.Bus, h *host.Host, uid string, in io.Reader, pretty bool) error {
	ctx := cmd.Context()
	if _, outcome := host.Request(ctx, bus, host.Message{Type: host.SetUserID, UserID: uid}, busTimeout); outcome != host.Installed {
		return fmt.Errorf("set user: host %s", outcome)
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(runCtx, 250*time.Millisecond)
	}()

	registry := adapter.DefaultRegistry()
	sc := bufio.NewScanner(in)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var p adapter.Page
		if err := json.Unmarshal(sc.Bytes(), &p); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "line %d: invalid page: %v\n", line, err)
			continue
		}
		ev, err := registry.Observe(p, time.Now())
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "line %d: %v\n", line, err)
			continue
		}
		resp, outcome := host.Request(ctx, bus, host.Message{Type: host.ProgressUpdate, Event: &ev}, busTimeout)
		if outcome != host.Installed {
			fmt.Fprintf(cmd.ErrOrStderr(), "line %d: host %s\n", line, outcome)
		} else if resp.Error != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "line %d: %s\n", line, resp.Error)
		}
	}
	stop()
	<-done
	if err := sc.Err(); err != nil {
		return err
	}

	resp, outcome := host.Request(ctx, bus, host.Message{Type: host.ManualSync}, 30*time.Second)
	if outcome != host.Installed {
		return fmt.Errorf("manual sync: host %s", outcome)
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}

	state, outcome := host.Request(ctx, bus, host.Message{Type: host.GetPopupState}, busTimeout)
	if outcome != host.Installed || state.State == nil {
		return fmt.Errorf("popup state: host %s", outcome)
	}
	return printJSON(cmd.OutOrStdout(), state.State, pretty)
}

// userFromToken reads the user id without verifying the signature; the
// server verifies the same token on every send.
func userFromToken(raw string) (string, error) {
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if claims.UserID == "" {
		return "", errors.New("token has no user id")
	}
	return claims.UserID, nil
}
