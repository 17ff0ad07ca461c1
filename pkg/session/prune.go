package session

import (
	"context"
	"fmt"
	"os"
	"time"
)

// PruneOptions selects what Prune removes. Zero values disable a rule.
type PruneOptions struct {
	// OlderThan deletes sessions not modified within this window.
	OlderThan time.Duration
	// MaxMessages trims longer sessions to their most recent messages.
	MaxMessages int
	// Now is the reference time. Zero means time.Now().
	Now time.Time
}

// PruneStats reports what Prune did.
type PruneStats struct {
	Deleted []string `json:"deleted"`
	Trimmed []string `json:"trimmed"`
}

// Prune deletes stale sessions and trims oversized ones.
func (m *Manager) Prune(ctx context.Context, opts PruneOptions) (PruneStats, error) {
	stats := PruneStats{Deleted: []string{}, Trimmed: []string{}}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	names, err := m.List()
	if err != nil {
		return stats, err
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		stat, err := os.Stat(m.path(name))
		if err != nil {
			m.logger.Warn().Err(err).Str("session", name).Msg("Failed to stat session")
			continue
		}

		if opts.OlderThan > 0 && now.Sub(stat.ModTime()) > opts.OlderThan {
			if err := m.Delete(ctx, name); err != nil {
				return stats, fmt.Errorf("failed to delete %s: %w", name, err)
			}
			stats.Deleted = append(stats.Deleted, name)
			continue
		}

		if opts.MaxMessages <= 0 {
			continue
		}
		conv, err := m.Load(ctx, name)
		if err != nil {
			m.logger.Warn().Err(err).Str("session", name).Msg("Failed to load session for pruning")
			continue
		}
		if len(conv) <= opts.MaxMessages {
			continue
		}
		if err := m.Save(ctx, name, conv[len(conv)-opts.MaxMessages:]); err != nil {
			return stats, fmt.Errorf("failed to trim %s: %w", name, err)
		}
		stats.Trimmed = append(stats.Trimmed, name)
	}

	m.logger.Info().
		Int("deleted", len(stats.Deleted)).
		Int("trimmed", len(stats.Trimmed)).
		Msg("Sessions pruned")
	return stats, nil
}
