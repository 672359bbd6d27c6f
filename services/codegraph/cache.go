// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codegraph

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// responseCache holds computed responses keyed by repository, generation,
// operation and arguments. A commit bumps the generation, so stale entries
// are never hit again and age out of the LRU.
//
// Cached values are shared between callers and must be treated as
// read-only. A nil *responseCache is a disabled cache.
type responseCache struct {
	lru *lru.Cache[string, any]
}

// newResponseCache creates a cache holding size entries. Size 0 disables
// caching.
func newResponseCache(size int) (*responseCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[string, any](size)
	if err != nil {
		return nil, fmt.Errorf("create response cache: %w", err)
	}
	return &responseCache{lru: c}, nil
}

func (c *responseCache) get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

func (c *responseCache) add(key string, v any) {
	if c == nil {
		return
	}
	c.lru.Add(key, v)
}

// purge drops every entry of repo. Used when a session closes, since a
// reopened session may restore an older checkpoint with the same
// generation number.
func (c *responseCache) purge(repo string) int {
	if c == nil {
		return 0
	}
	prefix := repo + "\x00"
	n := 0
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
			n++
		}
	}
	return n
}

func (c *responseCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// cacheKey builds the lookup key. ok is false when args cannot be
// serialized, in which case the response is not cached.
func cacheKey(repo string, generation uint64, op string, args any) (string, bool) {
	b, err := json.Marshal(args)
	if err != nil {
		return "", false
	}
	var sb strings.Builder
	sb.Grow(len(repo) + len(op) + len(b) + 24)
	sb.WriteString(repo)
	sb.WriteByte(0)
	sb.WriteString(strconv.FormatUint(generation, 10))
	sb.WriteByte(0)
	sb.WriteString(op)
	sb.WriteByte(0)
	sb.Write(b)
	return sb.String(), true
}
