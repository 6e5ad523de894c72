package usecase

import (
	"context"
	"sync"

	"github.com/forPelevin/clipper/internal/domain/metadata"
	"github.com/forPelevin/clipper/internal/types"
)

type pendingMeta struct {
	wg  sync.WaitGroup
	out []metadata.Meta
}

func (p *pendingMeta) wait() []metadata.Meta {
	p.wg.Wait()
	return p.out
}

// generateMetadata starts one metadata request per selected chunk and
// returns without waiting, so rendering is never blocked on it.
func (r *run) generateMetadata(ctx context.Context, selected []types.ScoredChunk) *pendingMeta {
	var gen metadata.Completer
	if r.u.d.Text != nil {
		gen = r.u.d.Text
	}
	g := metadata.New(gen)
	p := &pendingMeta{out: make([]metadata.Meta, len(selected))}
	for i, sc := range selected {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			m, err := g.Generate(ctx, sc, i+1)
			if err != nil && ctx.Err() == nil && gen != nil {
				r.log.Warn().Err(err).Int("chunk", sc.ID).Msg("metadata fallback")
				r.u.d.Metrics.Degraded("metadata")
			}
			p.out[i] = m
		}()
	}
	return p
}
