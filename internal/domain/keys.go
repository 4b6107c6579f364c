package domain

// Storage key namespaces. Cache entries, the live queue (one key per
// operation kind), the dead list, and pending uploads each live under a
// distinct prefix in the durable local store.
const (
	CacheKeyPrefix  = "cache:"
	QueueKeyPrefix  = "queue:"
	DeadQueueKey    = "queue:dead"
	UploadsQueueKey = "queue:uploads"
	DeadUploadsKey  = "queue:uploads:dead"
)

// CacheKey builds the storage key for a cached record.
func CacheKey(collection, id string) string {
	return CacheKeyPrefix + collection + ":" + id
}

// CacheCollectionPrefix builds the eviction prefix for a whole collection.
func CacheCollectionPrefix(collection string) string {
	return CacheKeyPrefix + collection + ":"
}

// QueueKey builds the storage key for one operation kind's live queue.
func QueueKey(kind OpKind) string {
	return QueueKeyPrefix + string(kind)
}
