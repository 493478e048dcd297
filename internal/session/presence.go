package session

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	onlineSetKey       = "nova:online"
	leaderboardKeyStem = "nova:leaderboard:"
)

// PresenceStore mirrors session liveness and performance rankings into redis
// so sibling services can read them without holding a registry reference.
// Mirror failures are logged and swallowed; the in-memory registry stays
// authoritative.
type PresenceStore struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewPresenceStore returns a presence mirror backed by the given client.
func NewPresenceStore(client *redis.Client, logger *zap.SugaredLogger) *PresenceStore {
	return &PresenceStore{client: client, logger: logger}
}

// SetOnline records the player as connected.
func (s *PresenceStore) SetOnline(ctx context.Context, p *Player) {
	if err := s.client.SAdd(ctx, onlineSetKey, p.ID).Err(); err != nil {
		s.logger.Warnf("mirroring %s online: %v", p, err)
	}
}

// SetOffline clears the player's connected marker.
func (s *PresenceStore) SetOffline(ctx context.Context, p *Player) {
	if err := s.client.SRem(ctx, onlineSetKey, p.ID).Err(); err != nil {
		s.logger.Warnf("mirroring %s offline: %v", p, err)
	}
}

// OnlineCount returns the number of mirrored online players.
func (s *PresenceStore) OnlineCount(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, onlineSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("reading online count: %w", err)
	}
	return count, nil
}

// UpdateRanking writes the player's performance score into the per-mode
// leaderboard.
func (s *PresenceStore) UpdateRanking(ctx context.Context, p *Player, mode GameMode, pp int32) {
	key := leaderboardKey(mode)
	member := fmt.Sprint(p.ID)
	if err := s.client.ZAdd(ctx, key, redis.Z{Score: float64(pp), Member: member}).Err(); err != nil {
		s.logger.Warnf("mirroring ranking for %s: %v", p, err)
	}
}

// GlobalRank returns the player's 1-based position on the per-mode
// leaderboard. Players without a leaderboard entry rank zero.
func (s *PresenceStore) GlobalRank(ctx context.Context, p *Player, mode GameMode) int32 {
	key := leaderboardKey(mode)
	member := fmt.Sprint(p.ID)
	position, err := s.client.ZRevRank(ctx, key, member).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warnf("reading rank for %s: %v", p, err)
		}
		return 0
	}
	return int32(position) + 1
}

// RefreshRanks mirrors the player's performance onto the per-mode
// leaderboards and rewrites each loaded mode's rank from its board position.
// Restricted players only read: their entries were dropped on restriction and
// stay off the boards, so their rank resolves to zero.
func (p *Player) RefreshRanks(ctx context.Context, store *PresenceStore) {
	restricted := p.IsRestricted()

	p.mu.Lock()
	performance := make(map[GameMode]int32, len(p.stats))
	for mode, stats := range p.stats {
		performance[mode] = stats.PP
	}
	p.mu.Unlock()

	ranks := make(map[GameMode]int32, len(performance))
	for mode, pp := range performance {
		if !restricted {
			store.UpdateRanking(ctx, p, mode, pp)
		}
		ranks[mode] = store.GlobalRank(ctx, p, mode)
	}

	p.mu.Lock()
	for mode, rank := range ranks {
		if stats, ok := p.stats[mode]; ok {
			stats.Rank = rank
		}
	}
	p.mu.Unlock()
}

// RemoveRanking drops the player from every mode's leaderboard, used when an
// account is restricted.
func (s *PresenceStore) RemoveRanking(ctx context.Context, p *Player) {
	member := fmt.Sprint(p.ID)
	for mode := ModeOsu; mode <= ModeMania; mode++ {
		if err := s.client.ZRem(ctx, leaderboardKey(mode), member).Err(); err != nil {
			s.logger.Warnf("dropping ranking for %s: %v", p, err)
		}
	}
}

func leaderboardKey(mode GameMode) string {
	return fmt.Sprintf("%s%d", leaderboardKeyStem, mode.Vanilla())
}
