package tags

// Chunk partitions items into consecutive runs of at most maxSize, keeping
// order. Empty input yields no chunks; maxSize <= 0 yields a single chunk.
// Chunks share the backing array of items.
func Chunk[T any](items []T, maxSize int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if maxSize <= 0 || len(items) <= maxSize {
		return [][]T{items}
	}
	chunks := make([][]T, 0, (len(items)+maxSize-1)/maxSize)
	for start := 0; start < len(items); start += maxSize {
		end := min(start+maxSize, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}
