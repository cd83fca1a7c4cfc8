// Package tracker implements the authoritative document↔chunk registry
// (C4): a Redis-backed store under the "archive:doc:*" namespace, with
// full-metadata hashes and set-based filter indexes, all mutated through
// MULTI/EXEC transactions per spec §4.3.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lifearchivist/core/internal/archerr"
	"github.com/lifearchivist/core/internal/bm25"
)

const (
	keyPrefix    = "archive:doc:"
	keyAllIndex  = keyPrefix + "index:all"
	keyCount     = keyPrefix + "count"
)

func nodesKey(id string) string { return keyPrefix + "nodes:" + id }
func metaKey(id string) string  { return keyPrefix + "meta:" + id }
func lockKey(hash string) string { return keyPrefix + "lock:" + hash }
func filterIndexKey(field, value string) string {
	return fmt.Sprintf("%sindex:%s:%s", keyPrefix, field, value)
}

// indexableFields are the metadata fields that get a set-based filter index,
// per spec §4.3. file_hash is indexed in addition to the spec's named
// fields so the ingestion pipeline's duplicate check (spec §4.6 step 3) can
// look up an existing document by content hash without a full scan.
var indexableFields = []string{"theme", "mime_type", "status", "file_hash"}

// listValuedFields merge instead of overwrite on UpdateFullMetadata, per
// spec §4.3 (tags set-unioned, others appended).
var listValuedFields = map[string]struct{}{
	"tags":          {},
	"content_dates": {},
	"provenance":    {},
}

// UpdateMode controls how UpdateFullMetadata combines list-valued fields.
type UpdateMode string

const (
	UpdateModeUpdate  UpdateMode = "update"
	UpdateModeReplace UpdateMode = "replace"
)

// ClearStats summarizes a ClearAll call.
type ClearStats struct {
	KeysDeleted int
}

// Tracker is the Redis-backed document registry.
type Tracker struct {
	client *redis.Client
}

// New wraps a Redis client as a Tracker.
func New(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

// Add registers a new document with its chunk node-ids, per spec §4.3 "add".
func (t *Tracker) Add(ctx context.Context, documentID string, nodeIDs []string) error {
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(nodeIDs) > 0 {
			args := make([]any, len(nodeIDs))
			for i, n := range nodeIDs {
				args[i] = n
			}
			pipe.RPush(ctx, nodesKey(documentID), args...)
		}
		pipe.SAdd(ctx, keyAllIndex, documentID)
		pipe.Incr(ctx, keyCount)
		return nil
	})
	if err != nil {
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "tracker add", err)
	}
	return nil
}

// Remove deletes a document's node list, metadata, and all index
// memberships previously established by its metadata, per spec §4.3 "remove".
func (t *Tracker) Remove(ctx context.Context, documentID string) error {
	meta, err := t.readMetaRaw(ctx, documentID)
	if err != nil {
		return err
	}

	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, nodesKey(documentID))
		pipe.Del(ctx, metaKey(documentID))
		pipe.SRem(ctx, keyAllIndex, documentID)
		pipe.Decr(ctx, keyCount)

		for _, field := range indexableFields {
			if raw, ok := meta[field]; ok {
				var value string
				if err := json.Unmarshal([]byte(raw), &value); err == nil && value != "" {
					pipe.SRem(ctx, filterIndexKey(field, value), documentID)
				}
			}
		}
		return nil
	})
	if err != nil {
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "tracker remove", err)
	}
	return nil
}

// NodeIDs returns a document's chunk node-ids in order.
func (t *Tracker) NodeIDs(ctx context.Context, documentID string) ([]string, error) {
	ids, err := t.client.LRange(ctx, nodesKey(documentID), 0, -1).Result()
	if err != nil {
		return nil, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "tracker node ids", err)
	}
	return ids, nil
}

// StoreFullMetadata writes a document's complete metadata hash and
// populates filter indexes for indexable fields, per spec §4.3.
func (t *Tracker) StoreFullMetadata(ctx context.Context, documentID string, metadata map[string]any) error {
	encoded, err := encodeMetadata(metadata)
	if err != nil {
		return archerr.ValidationError("encode document metadata", err)
	}

	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(encoded) > 0 {
			fields := make(map[string]any, len(encoded))
			for k, v := range encoded {
				fields[k] = v
			}
			pipe.HSet(ctx, metaKey(documentID), fields)
		}
		for _, field := range indexableFields {
			if value, ok := metadata[field]; ok {
				if s, ok := value.(string); ok && s != "" {
					pipe.SAdd(ctx, filterIndexKey(field, s), documentID)
				}
			}
		}
		return nil
	})
	if err != nil {
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "tracker store metadata", err)
	}
	return nil
}

// UpdateFullMetadata merges updates into a document's metadata. List-valued
// fields (tags, content_dates, provenance) merge (tags set-unioned, others
// appended) in UpdateModeUpdate, or are replaced outright in
// UpdateModeReplace; scalar fields are always overwritten. Index deltas are
// computed from old->new indexable field values.
func (t *Tracker) UpdateFullMetadata(ctx context.Context, documentID string, updates map[string]any, mode UpdateMode) error {
	current, err := t.GetFullMetadata(ctx, documentID)
	if err != nil {
		return err
	}

	merged := make(map[string]any, len(current)+len(updates))
	for k, v := range current {
		merged[k] = v
	}

	for k, newVal := range updates {
		if _, isList := listValuedFields[k]; isList && mode == UpdateModeUpdate {
			merged[k] = mergeListField(k, current[k], newVal)
			continue
		}
		merged[k] = newVal
	}

	encoded, err := encodeMetadata(merged)
	if err != nil {
		return archerr.ValidationError("encode document metadata update", err)
	}

	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(encoded) > 0 {
			fields := make(map[string]any, len(encoded))
			for k, v := range encoded {
				fields[k] = v
			}
			pipe.HSet(ctx, metaKey(documentID), fields)
		}
		for _, field := range indexableFields {
			oldVal, _ := current[field].(string)
			newVal, _ := merged[field].(string)
			if oldVal == newVal {
				continue
			}
			if oldVal != "" {
				pipe.SRem(ctx, filterIndexKey(field, oldVal), documentID)
			}
			if newVal != "" {
				pipe.SAdd(ctx, filterIndexKey(field, newVal), documentID)
			}
		}
		return nil
	})
	if err != nil {
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "tracker update metadata", err)
	}
	return nil
}

func mergeListField(field string, old, next any) any {
	if field == "tags" {
		set := map[string]struct{}{}
		for _, v := range toStringSlice(old) {
			set[v] = struct{}{}
		}
		for _, v := range toStringSlice(next) {
			set[v] = struct{}{}
		}
		out := make([]string, 0, len(set))
		for v := range set {
			out = append(out, v)
		}
		sort.Strings(out)
		return out
	}

	oldSlice := toAnySlice(old)
	nextSlice := toAnySlice(next)
	return append(oldSlice, nextSlice...)
}

func toStringSlice(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toAnySlice(v any) []any {
	switch val := v.(type) {
	case []any:
		return val
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	default:
		if v == nil {
			return nil
		}
		return []any{v}
	}
}

// GetFullMetadata returns a document's decoded metadata hash.
func (t *Tracker) GetFullMetadata(ctx context.Context, documentID string) (map[string]any, error) {
	raw, err := t.readMetaRaw(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return decodeMetadata(raw)
}

func (t *Tracker) readMetaRaw(ctx context.Context, documentID string) (map[string]string, error) {
	raw, err := t.client.HGetAll(ctx, metaKey(documentID)).Result()
	if err != nil {
		return nil, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "tracker read metadata", err)
	}
	return raw, nil
}

// QueryByFilters returns document IDs matching an equality-filter set via
// set intersection of the relevant filter indexes; an empty filter returns
// every document. This only covers the indexed fields (indexableFields) and
// equality comparisons - it is the cheap membership pre-filter spec §4.3
// describes. The richer operator grammar ($gte/$lte/$gt/$lt/$in/$nin/$ne)
// lives in internal/filter and is evaluated by the caller against full
// metadata (see internal/search.Service, which applies it directly rather
// than routing through this set-intersection path).
func (t *Tracker) QueryByFilters(ctx context.Context, filters map[string]string) ([]string, error) {
	if len(filters) == 0 {
		ids, err := t.client.SMembers(ctx, keyAllIndex).Result()
		if err != nil {
			return nil, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "tracker query all", err)
		}
		return ids, nil
	}

	keys := make([]string, 0, len(filters))
	for field, value := range filters {
		keys = append(keys, filterIndexKey(field, value))
	}

	ids, err := t.client.SInter(ctx, keys...).Result()
	if err != nil {
		return nil, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "tracker query filters", err)
	}
	return ids, nil
}

// AcquireLock takes the short-lived "archive:doc:lock:{hash}" lock guarding
// the duplicate-check-then-commit window of spec §9 open question 2: two
// concurrent imports of the same file content must not both observe "not a
// duplicate" and each write a document row. It does not block; false means
// another ingest already holds the lock for this hash. The lock expires
// after ttl even if never released, so a crashed holder can't wedge it
// forever.
func (t *Tracker) AcquireLock(ctx context.Context, hash string, ttl time.Duration) (bool, error) {
	ok, err := t.client.SetNX(ctx, lockKey(hash), 1, ttl).Result()
	if err != nil {
		return false, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "acquire document lock", err)
	}
	return ok, nil
}

// ReleaseLock releases a previously acquired document lock. Safe to call
// even if the lock already expired.
func (t *Tracker) ReleaseLock(ctx context.Context, hash string) error {
	if err := t.client.Del(ctx, lockKey(hash)).Err(); err != nil {
		return archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "release document lock", err)
	}
	return nil
}

// Exists reports whether documentID has a tracked metadata hash.
func (t *Tracker) Exists(ctx context.Context, documentID string) (bool, error) {
	n, err := t.client.Exists(ctx, metaKey(documentID)).Result()
	if err != nil {
		return false, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "tracker exists", err)
	}
	return n > 0, nil
}

// ReconcileStats summarizes a Reconcile sweep.
type ReconcileStats struct {
	OrphansRemoved int
}

// Reconcile resolves BM25/tracker drift after a crash (spec §9 open
// question 1): any document present in bm25Index but missing from this
// tracker is a BM25 orphan (a process crashed between indexing the BM25
// row and committing the tracker row, or the reverse delete ordering was
// interrupted) and is removed from the BM25 corpus. Intended to run once at
// startup, before serving any search traffic.
func (t *Tracker) Reconcile(ctx context.Context, bm25Index *bm25.Index) (ReconcileStats, error) {
	stats := ReconcileStats{}
	for _, documentID := range bm25Index.DocumentIDs() {
		ok, err := t.Exists(ctx, documentID)
		if err != nil {
			return stats, err
		}
		if ok {
			continue
		}
		if err := bm25Index.Remove(ctx, documentID); err != nil {
			return stats, err
		}
		stats.OrphansRemoved++
	}
	return stats, nil
}

// Count returns the tracked document count.
func (t *Tracker) Count(ctx context.Context) (int64, error) {
	n, err := t.client.Get(ctx, keyCount).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "tracker count", err)
	}
	return n, nil
}

// ClearAll deletes every key under the archive:doc:* namespace via SCAN,
// batched 100 keys per DEL, per spec §4.3.
func (t *Tracker) ClearAll(ctx context.Context) (ClearStats, error) {
	stats := ClearStats{}
	var cursor uint64
	const batchSize = 100

	for {
		keys, next, err := t.client.Scan(ctx, cursor, keyPrefix+"*", batchSize).Result()
		if err != nil {
			return stats, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "tracker clear scan", err)
		}
		if len(keys) > 0 {
			if err := t.client.Del(ctx, keys...).Err(); err != nil {
				return stats, archerr.ServiceUnavailableError(archerr.CodeUnavailableRedis, "tracker clear del", err)
			}
			stats.KeysDeleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return stats, nil
}

func encodeMetadata(m map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		out[k] = string(data)
	}
	return out, nil
}

func decodeMetadata(raw map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			out[k] = v
			continue
		}
		out[k] = decoded
	}
	return out, nil
}

// Timestamp is a small helper mirroring the JSON encoding used for
// time.Time fields stored in the metadata hash.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
