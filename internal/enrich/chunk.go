package enrich

import "github.com/jackzampolin/enrich/internal/types"

// Chunk is one ordered slice of the input sent as a single request.
type Chunk struct {
	Index int
	Items []types.Item
}

// IDs returns the item IDs of the chunk in order.
func (c Chunk) IDs() []string {
	ids := make([]string, len(c.Items))
	for i, item := range c.Items {
		ids[i] = item.ID
	}
	return ids
}

// ChunkItems splits items into consecutive chunks of at most batchSize.
// A batch size below 1 is treated as 1. Concatenating the chunks reproduces
// items.
func ChunkItems(items []types.Item, batchSize int) []Chunk {
	if batchSize < 1 {
		batchSize = 1
	}
	if len(items) == 0 {
		return nil
	}

	chunks := make([]Chunk, 0, (len(items)+batchSize-1)/batchSize)
	for start := 0; start < len(items); start += batchSize {
		end := min(start+batchSize, len(items))
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Items: items[start:end:end],
		})
	}
	return chunks
}

// waves groups chunks into consecutive waves of at most concurrency chunks.
func waves(chunks []Chunk, concurrency int) [][]Chunk {
	if concurrency < 1 {
		concurrency = 1
	}
	var out [][]Chunk
	for start := 0; start < len(chunks); start += concurrency {
		end := min(start+concurrency, len(chunks))
		out = append(out, chunks[start:end])
	}
	return out
}
