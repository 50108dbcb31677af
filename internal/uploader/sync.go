package uploader

import (
	"context"
	"time"

	"github.com/NamanBalaji/duld/internal/drive"
	"github.com/NamanBalaji/duld/internal/errors"
	"github.com/NamanBalaji/duld/internal/logger"
)

// ChangeNotifier is told about nodes a sync created or updated.
type ChangeNotifier interface {
	UpdateSearchCache(ctx context.Context, nodes []drive.Node) error
}

// SyncGate serializes drive syncs process-wide. Callers queue on a single
// slot; the holder waits delay before reconciling so bursts of requests
// land in one pass.
type SyncGate struct {
	drive     drive.Drive
	delay     time.Duration
	notifiers []ChangeNotifier

	slot chan struct{}
}

func NewSyncGate(d drive.Drive, delay time.Duration, notifiers ...ChangeNotifier) *SyncGate {
	return &SyncGate{
		drive:     d,
		delay:     delay,
		notifiers: notifiers,
		slot:      make(chan struct{}, 1),
	}
}

// Sync reconciles the drive cache. It returns early if ctx is done while
// waiting for the slot or the delay.
func (g *SyncGate) Sync(ctx context.Context) error {
	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return errors.NewContextError(ctx.Err(), "sync")
	}
	defer func() { <-g.slot }()

	if g.delay > 0 {
		timer := time.NewTimer(g.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errors.NewContextError(ctx.Err(), "sync")
		}
	}

	var (
		count   int
		changed []drive.Node
	)
	for change, err := range g.drive.Sync(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return errors.NewContextError(ctx.Err(), "sync")
			}
			return errors.NewTransientError(err, "sync")
		}

		count++
		if !change.Removed {
			changed = append(changed, change.Node)
		}
	}

	logger.Infof("sync %d", count)

	if len(changed) == 0 {
		return nil
	}

	for _, n := range g.notifiers {
		if err := n.UpdateSearchCache(ctx, changed); err != nil {
			logger.Warnf("Failed to report %d synced node(s): %v", len(changed), err)
		}
	}

	return nil
}
