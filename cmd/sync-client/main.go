package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	synchub "mangasync/internal/sync"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9090", "TCP sync server address")
	user := flag.String("user", "", "user id to follow (servers that trust user ids)")
	token := flag.String("token", os.Getenv("MANGASYNC_TOKEN"), "bearer token")
	deletePolicy := flag.String("delete-policy", "ignore", "how DELETE events touch local state: ignore or demote")
	pretty := flag.Bool("pretty", true, "pretty print unified progress")
	flag.Parse()

	if *user == "" && *token == "" {
		log.Fatal("[sync-client] -user or -token is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// one mirror across reconnects; merges are order independent
	mirror := synchub.NewMirror(synchub.ParseDeletePolicy(*deletePolicy))
	defer mirror.Close()

	client := synchub.NewClient(mirror)
	sub := synchub.SubscribeMessage{UserID: *user, Token: *token}

	for {
		err := run(ctx, client, *addr, sub, *pretty)
		if ctx.Err() != nil {
			log.Printf("[sync-client] stopped")
			return
		}
		log.Printf("[sync-client] disconnected: %v", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second): // auto reconnect
		}
	}
}

func run(ctx context.Context, client *synchub.Client, addr string, sub synchub.SubscribeMessage, pretty bool) error {
	if err := client.Subscribe(ctx, addr, sub); err != nil {
		return err
	}
	log.Printf("[sync-client] subscribed to %s", addr)

	err := client.Run(ctx, func(cu synchub.ConflictUpdate) {
		printUnified(client.Mirror, cu, pretty)
	})
	if err == nil {
		return errors.New("server closed the connection")
	}
	return err
}

func printUnified(m *synchub.Mirror, cu synchub.ConflictUpdate, pretty bool) {
	u := m.Unified(cu.SeriesID)
	if u == nil {
		fmt.Printf("%s: no progress\n", cu.SeriesID)
		return
	}

	var (
		b   []byte
		err error
	)
	if pretty {
		b, err = json.MarshalIndent(u, "", "  ")
	} else {
		b, err = json.Marshal(u)
	}
	if err != nil {
		log.Printf("[sync-client] encode: %v", err)
		return
	}
	fmt.Println(string(b))
}
