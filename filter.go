package mikrator

import (
	"sort"
	"strings"
)

// filterExcept returns a new slice containing all items whose key
// does not exist in except. Keys are compared case insensitively.
func filterExcept[T any](items []T, except []string, key func(T) string) []T {
	set := make(map[string]bool, len(except))
	for _, ex := range except {
		set[strings.ToLower(ex)] = true
	}
	return filter(items, func(v T) bool {
		return !set[strings.ToLower(key(v))]
	})
}

// filter returns a new slice containing all items in the slice that satisfy the predicate f.
func filter[T any](items []T, f func(T) bool) []T {
	filtered := []T{}
	for _, v := range items {
		if f(v) {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
