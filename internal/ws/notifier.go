package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/scorelend/backend/internal/domain/score"
)

type ScoreFeed interface {
	ListSince(ctx context.Context, lastID int64, limit int32) ([]score.Entry, error)
	LatestID(ctx context.Context) (int64, error)
}

// rescanWindow is how many ids behind the newest delivered entry each poll
// looks again. Ids are taken at insert, not at commit, so a slow transaction
// can make a lower id visible after a higher one was already pushed.
const rescanWindow = 256

// Notifier tails score_entries and pushes each committed change to the owner.
// It starts from the newest entry, so history is not replayed on restart. An
// entry committed more than rescanWindow ids late is not pushed; clients still
// see it in the score history.
type Notifier struct {
	feed         ScoreFeed
	hub          *Hub
	pollInterval time.Duration
	logger       *slog.Logger
	lastID       int64
	floor        int64
	seen         map[int64]struct{}
}

func NewNotifier(feed ScoreFeed, hub *Hub, pollInterval time.Duration, logger *slog.Logger) *Notifier {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{feed: feed, hub: hub, pollInterval: pollInterval, logger: logger, seen: map[int64]struct{}{}}
}

type scoreChangedEvent struct {
	Event string      `json:"event"`
	Data  score.Entry `json:"data"`
}

func (n *Notifier) Run(ctx context.Context) error {
	lastID, err := n.feed.LatestID(ctx)
	if err != nil {
		return err
	}
	n.lastID = lastID
	n.floor = lastID

	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := n.tick(ctx); err != nil && ctx.Err() == nil {
				n.logger.Warn("score notifier poll failed", "last_id", n.lastID, "err", err)
			}
		}
	}
}

func (n *Notifier) tick(ctx context.Context) error {
	from := max(n.lastID-rescanWindow, n.floor)
	entries, err := n.feed.ListSince(ctx, from, rescanWindow+100)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, dup := n.seen[e.ID]; dup {
			continue
		}
		payload, err := json.Marshal(scoreChangedEvent{Event: "score_changed", Data: e})
		if err != nil {
			return err
		}
		n.hub.Publish(ScoreChannel(e.UserID), payload)
		n.seen[e.ID] = struct{}{}
		if e.ID > n.lastID {
			n.lastID = e.ID
		}
	}
	for id := range n.seen {
		if id <= n.lastID-rescanWindow {
			delete(n.seen, id)
		}
	}
	return nil
}
