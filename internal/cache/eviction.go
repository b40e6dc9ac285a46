package cache

import (
	"sort"

	"github.com/edgegate/gateway-core/internal/config"
)

// evictionOrder returns keys from entries ordered from "evict first" to
// "evict last" under the given policy. LRU orders by LastAccess, LFU by
// HitCount, FIFO by CreatedAt.
func evictionOrder(entries map[string]*Entry, policy config.EvictionPolicy) []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		a, b := entries[keys[i]], entries[keys[j]]
		switch policy {
		case config.EvictionLFU:
			return a.HitCount < b.HitCount
		case config.EvictionFIFO:
			return a.CreatedAt.Before(b.CreatedAt)
		default: // EvictionLRU
			return a.LastAccess.Before(b.LastAccess)
		}
	})
	return keys
}
