package host

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mangasync/pkg/models"
)

type SendResult struct {
	SyncedAt time.Time
	NextSync time.Duration
	Skipped  bool
}

// Sink delivers one event for a user.
type Sink interface {
	Send(ctx context.Context, userID string, ev models.ProgressEvent) (SendResult, error)
}

// HTTPSink posts events to the ingest endpoint, POST <BaseURL>/sync/progress.
type HTTPSink struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPSink(baseURL, token string) *HTTPSink {
	return &HTTPSink{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type reportBody struct {
	SeriesTitle    string  `json:"seriesTitle"`
	Chapter        float64 `json:"chapter"`
	ScrollPosition int     `json:"scrollPosition"`
	Timestamp      int64   `json:"timestamp"`
	Platform       string  `json:"platform,omitempty"`
	UserID         string  `json:"userId,omitempty"`
	URL            string  `json:"url,omitempty"`
}

type reportReply struct {
	Success           bool      `json:"success"`
	SyncedAt          time.Time `json:"syncedAt"`
	NextSyncInSeconds int       `json:"nextSyncInSeconds"`
	Skipped           bool      `json:"skipped"`
	Error             string    `json:"error"`
}

func (s *HTTPSink) Send(ctx context.Context, userID string, ev models.ProgressEvent) (SendResult, error) {
	b, err := json.Marshal(reportBody{
		SeriesTitle:    ev.SeriesKey,
		Chapter:        ev.ChapterNumber,
		ScrollPosition: ev.PositionPercent,
		Timestamp:      ev.ObservedAt.UnixMilli(),
		Platform:       ev.Platform,
		UserID:         userID,
		URL:            ev.SourceURL,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("encode report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/sync/progress", strings.NewReader(string(b)))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("send report: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return SendResult{}, fmt.Errorf("read reply: %w", err)
	}
	var reply reportReply
	_ = json.Unmarshal(data, &reply)
	if resp.StatusCode >= 300 || !reply.Success {
		msg := reply.Error
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return SendResult{}, fmt.Errorf("report rejected (%d): %s", resp.StatusCode, msg)
	}
	return SendResult{
		SyncedAt: reply.SyncedAt,
		NextSync: time.Duration(reply.NextSyncInSeconds) * time.Second,
		Skipped:  reply.Skipped,
	}, nil
}
