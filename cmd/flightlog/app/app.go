// Package app replays flight recorder databases for post-mission review.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/skysurvey/companion/internal/recorder"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := recorder.NewStore(config.DBPath)
	defer store.Close()

	if config.List {
		return listSessions(ctx, store)
	}

	return replaySession(ctx, store, config, logger)
}

func listSessions(ctx context.Context, store *recorder.Store) error {
	sessions, err := store.Sessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no recorded sessions")
		return nil
	}

	for _, session := range sessions {
		fmt.Printf("%4d  %s  (%s)\n", session.ID,
			session.StartedAt.Local().Format(time.DateTime),
			humanize.Time(session.StartedAt))
	}
	return nil
}

func replaySession(ctx context.Context, store *recorder.Store, config *Config, logger *slog.Logger) error {
	session, err := store.Session(ctx, config.SessionID)
	if err != nil {
		return fmt.Errorf("loading session %d: %w", config.SessionID, err)
	}

	events, err := store.Events(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("loading events: %w", err)
	}

	logger.Info("replaying session",
		slog.Int64("session", session.ID),
		slog.String("started", session.StartedAt.Local().Format(time.DateTime)),
		slog.Int("events", len(events)))

	var shown int
	for _, ev := range events {
		if config.Topic != "" && ev.Topic != config.Topic {
			continue
		}
		fmt.Printf("%s  %-16s %s\n", ev.Timestamp.Local().Format("15:04:05.000"), ev.Topic, ev.Payload)
		shown++
	}

	if config.Topic != "" {
		logger.Info("topic filter applied", slog.String("topic", config.Topic), slog.Int("kept", shown))
	}
	return nil
}
