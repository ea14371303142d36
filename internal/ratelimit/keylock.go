package ratelimit

import (
	"hash/fnv"
	"sync"
)

const defaultKeyLockShards = 64

// keyLock serializes evaluation per scope key so a concurrent check and
// increment against the same key cannot over-admit past a limit. Distinct
// keys map onto shards and proceed in parallel.
type keyLock struct {
	shards []sync.Mutex
}

func newKeyLock(shards int) *keyLock {
	if shards <= 0 {
		shards = defaultKeyLockShards
	}
	return &keyLock{shards: make([]sync.Mutex, shards)}
}

// Lock acquires the shard for key and returns its unlock func.
func (k *keyLock) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	shard := &k.shards[int(h.Sum32())%len(k.shards)]
	shard.Lock()
	return shard.Unlock
}

// scopeKey builds the canonical admission key for a request.
func scopeKey(systemID string, scope ScopeKind, scopeValue, resourceType string) string {
	return systemID + "\x1f" + string(scope) + "\x1f" + scopeValue + "\x1f" + resourceType
}
