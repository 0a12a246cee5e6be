package source

import (
	"context"
	"slices"

	"github.com/gotd/td/tg"

	"github.com/xeptore/tgmd/log"
)

const (
	albumWindow   = 50
	albumPageSize = 100
)

// ResolveBatch extends seed to every message of its album, ordered by ascending id.
// Album lookup is best effort: on any failure only the seed is returned.
func (r *Resolver) ResolveBatch(ctx context.Context, seed Seed) []*tg.Message {
	groupID, ok := seed.Message.GetGroupedID()
	if !ok || groupID == 0 {
		return []*tg.Message{seed.Message}
	}

	q := HistoryQuery{
		MinID: max(seed.Message.ID-albumWindow-1, 0),
		MaxID: seed.Message.ID + albumWindow + 1,
		Limit: albumPageSize,
	}
	history, err := r.client.GetHistory(ctx, seed.Peer, q)
	if nil != err {
		r.logger.Warn().Func(log.Flaw(err)).Int("message_id", seed.Message.ID).Int64("grouped_id", groupID).Msg("Failed to fetch album neighbors, downloading the seed message only")
		return []*tg.Message{seed.Message}
	}

	out := make([]*tg.Message, 0, 10)
	seen := false
	for _, m := range history {
		if id, ok := m.GetGroupedID(); !ok || id != groupID {
			continue
		}
		if slices.ContainsFunc(out, func(o *tg.Message) bool { return o.ID == m.ID }) {
			continue
		}
		if m.ID == seed.Message.ID {
			seen = true
		}
		out = append(out, m)
	}
	if !seen {
		out = append(out, seed.Message)
	}

	slices.SortFunc(out, func(a, b *tg.Message) int { return a.ID - b.ID })
	return out
}
