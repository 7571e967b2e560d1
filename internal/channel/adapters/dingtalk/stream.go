package dingtalk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lobsterai/im-gateway/internal/syncq"
)

// cardStream renders one reply incrementally inside an AI card.
//
// State flow: the card is created and delivered by open; the first Push
// switches it to the typing state exactly once, then every snapshot runs
// through a serialized chain so updates reach the platform in submission
// order; Finalize flips a monotonic flag, drains the chain and issues the
// terminal update. Pushes racing with or arriving after Finalize are
// dropped.
type cardStream struct {
	api        cardAPI
	outTrackID string
	logger     *slog.Logger

	inputing   sync.Once
	chain      syncq.Chain
	finalizing atomic.Bool
}

func newCardStream(api cardAPI, logger *slog.Logger) *cardStream {
	return &cardStream{
		api:        api,
		outTrackID: newOutTrackID(),
		logger:     logger,
	}
}

// open creates the card instance and delivers it into the conversation.
// Any error here aborts card mode; the caller falls back to markdown.
func (s *cardStream) open(ctx context.Context, addr replyAddress) error {
	if err := s.api.Create(ctx, s.outTrackID); err != nil {
		return fmt.Errorf("create card failed: %w", err)
	}
	if err := s.api.Deliver(ctx, s.outTrackID, addr); err != nil {
		return fmt.Errorf("deliver card failed: %w", err)
	}
	return nil
}

// Push appends one cumulative content snapshot. Update errors are logged
// and swallowed so one failed snapshot never breaks the stream; the next
// snapshot carries the full content anyway.
func (s *cardStream) Push(ctx context.Context, content string) error {
	if s.finalizing.Load() {
		return nil
	}
	// Concurrent first pushes block here until the typing transition has
	// completed, so no snapshot overtakes it.
	s.inputing.Do(func() {
		if err := s.api.StartInputing(ctx, s.outTrackID); err != nil && s.logger != nil {
			s.logger.Warn("card typing transition failed",
				slog.String("out_track_id", s.outTrackID),
				slog.Any("error", err),
			)
		}
	})
	return s.chain.Do(func() error {
		if s.finalizing.Load() {
			return nil
		}
		if err := s.api.StreamUpdate(ctx, s.outTrackID, content, false); err != nil && s.logger != nil {
			s.logger.Warn("card stream update failed",
				slog.String("out_track_id", s.outTrackID),
				slog.Any("error", err),
			)
		}
		return nil
	})
}

// Finalize drains pending updates and writes the terminal snapshot. It is
// monotonic: once called, no further snapshot reaches the card. Errors on
// the terminal update are logged and swallowed; the content already
// rendered stays visible.
func (s *cardStream) Finalize(ctx context.Context, content string) {
	if s.finalizing.Swap(true) {
		return
	}
	s.chain.Wait()
	if err := s.api.StreamUpdate(ctx, s.outTrackID, content, true); err != nil && s.logger != nil {
		s.logger.Warn("card finalize failed",
			slog.String("out_track_id", s.outTrackID),
			slog.Any("error", err),
		)
	}
}
