package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/austindbirch/tml_hook/internal/config"
	"github.com/austindbirch/tml_hook/internal/logging"
	"github.com/austindbirch/tml_hook/internal/metrics"
)

type nsqStats struct {
	Topics []struct {
		Name     string `json:"topic_name"`
		Depth    int64  `json:"depth"`
		Channels []struct {
			Name  string `json:"channel_name"`
			Depth int64  `json:"depth"`
		} `json:"channels"`
	} `json:"topics"`
}

// backlogMonitor polls nsqd /stats and exports the worker channel depth.
type backlogMonitor struct {
	statsURL string
	topic    string
	channel  string
	client   *http.Client
	logger   *logging.Logger
}

func newBacklogMonitor(cfg config.Config, logger *logging.Logger) *backlogMonitor {
	base := strings.TrimRight(cfg.NSQ.NsqdHTTPAddr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &backlogMonitor{
		statsURL: base + "/stats?format=json&topic=" + url.QueryEscape(cfg.NSQ.EventsTopic),
		topic:    cfg.NSQ.EventsTopic,
		channel:  cfg.NSQ.WorkerChannel,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

func (m *backlogMonitor) run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := m.depth(ctx)
			if err != nil {
				m.logger.Plain().WithError(err).Warn("failed to read NSQ backlog")
				continue
			}
			metrics.UpdateEventsBacklog(float64(depth))
		}
	}
}

// depth is the worker channel's depth, or the topic depth before the
// channel exists.
func (m *backlogMonitor) depth(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.statsURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("nsqd stats returned status %d", resp.StatusCode)
	}

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0, fmt.Errorf("decode nsqd stats: %w", err)
	}

	for _, topic := range stats.Topics {
		if topic.Name != m.topic {
			continue
		}
		for _, ch := range topic.Channels {
			if ch.Name == m.channel {
				return ch.Depth, nil
			}
		}
		return topic.Depth, nil
	}
	return 0, nil
}
