package domain

import "encoding/json"

// BatchOp is one write inside an atomic batch commit. Only plain document
// mutations may appear in a batch.
type BatchOp struct {
	Kind       OpKind          `json:"kind"`
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ChunkBatch splits ops into chunks of at most limit entries. The remote
// service commits each chunk atomically; the caller is responsible for
// chunking because the service caps batch size.
func ChunkBatch(ops []BatchOp, limit int) [][]BatchOp {
	if limit <= 0 || len(ops) == 0 {
		if len(ops) == 0 {
			return nil
		}
		return [][]BatchOp{ops}
	}
	chunks := make([][]BatchOp, 0, (len(ops)+limit-1)/limit)
	for len(ops) > limit {
		chunks = append(chunks, ops[:limit])
		ops = ops[limit:]
	}
	return append(chunks, ops)
}
