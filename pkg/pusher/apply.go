package pusher

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-pusher-service/internal/metrics"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

// chunkCall issues the gateway request for one chunk.
type chunkCall[T any] func(ctx context.Context, chunk []T) (*gateway.Response, error)

// runChunks issues one call per chunk, at most p.maxConcurrency at a time.
// Every chunk is attempted regardless of the others; each result is kept at
// the chunk's own index. The returned failures are ordered by index, offset
// by base.
func runChunks[T any](ctx context.Context, p *Pusher, op string, base int, chunks [][]T, call chunkCall[T]) ([]*gateway.Response, []gateway.ChunkFailure) {
	responses := make([]*gateway.Response, len(chunks))
	errs := make([]error, len(chunks))

	var g errgroup.Group
	g.SetLimit(p.maxConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			resp, err := call(ctx, chunk)
			responses[i] = resp
			errs[i] = gateway.Check(op, resp, err)
			return nil
		})
	}
	_ = g.Wait()

	var failures []gateway.ChunkFailure
	for i, err := range errs {
		if err == nil {
			metrics.ObserveChunk(op, metrics.OutcomeOK)
			continue
		}
		metrics.ObserveChunk(op, metrics.OutcomeError)
		p.logger.Warn("Gateway chunk failed", "op", op, "chunk", base+i, "size", len(chunks[i]), "err", err)
		failures = append(failures, gateway.ChunkFailure{Index: base + i, Size: len(chunks[i]), Err: err})
	}
	return responses, failures
}

// batchError folds chunk failures into one *gateway.BatchError, or nil.
func batchError(op string, total int, failures []gateway.ChunkFailure) error {
	if len(failures) == 0 {
		return nil
	}
	return &gateway.BatchError{Op: op, Total: total, Failures: failures}
}

// applyPairs sends pairs through call in chunks of gateway.MaxTagPairsPerCall.
func (p *Pusher) applyPairs(ctx context.Context, op string, pairs []gateway.TagTokenPair, call chunkCall[gateway.TagTokenPair]) error {
	chunks := chunkPairs(pairs)
	_, failures := runChunks(ctx, p, op, 0, chunks, call)
	return batchError(op, len(chunks), failures)
}

// applyPlan adds then removes. Both phases are always issued; failures of
// either are reported together, remove chunks indexed after the add chunks.
func (p *Pusher) applyPlan(ctx context.Context, op string, add, remove []gateway.TagTokenPair) error {
	addChunks, removeChunks := chunkPairs(add), chunkPairs(remove)

	_, failures := runChunks(ctx, p, op, 0, addChunks, p.gw.BatchSetTag)
	_, removeFailures := runChunks(ctx, p, op, len(addChunks), removeChunks, p.gw.BatchRemoveTag)
	failures = append(failures, removeFailures...)

	return batchError(op, len(addChunks)+len(removeChunks), failures)
}
