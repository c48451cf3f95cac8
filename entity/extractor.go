// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package entity

import (
	"sort"

	"github.com/poiesic/finrag/core"
)

// Extractor finds financial entities in text using an ordered list of matchers.
// It holds no mutable state and is safe for concurrent use.
type Extractor struct {
	matchers []Matcher
}

// New creates an Extractor. With no matchers it uses DefaultMatchers.
// The order of matchers is their priority when two matches tie.
func New(matchers ...Matcher) *Extractor {
	if len(matchers) == 0 {
		matchers = DefaultMatchers()
	}
	return &Extractor{matchers: matchers}
}

var defaultExtractor = New()

// Extract finds entities in text with the default matchers.
func Extract(text string) []core.ExtractedEntity {
	return defaultExtractor.Extract(text)
}

type candidate struct {
	entity   core.ExtractedEntity
	priority int
}

// Extract returns the non-overlapping entities in text, ordered by span start.
// When matches overlap the longest wins, then the earliest, then the one
// found by the higher priority matcher.
func (x *Extractor) Extract(text string) []core.ExtractedEntity {
	var candidates []candidate
	for priority, m := range x.matchers {
		for _, e := range m.find(text) {
			candidates = append(candidates, candidate{entity: e, priority: priority})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.entity.Span.Len() != b.entity.Span.Len() {
			return a.entity.Span.Len() > b.entity.Span.Len()
		}
		if a.entity.Span.Start != b.entity.Span.Start {
			return a.entity.Span.Start < b.entity.Span.Start
		}
		return a.priority < b.priority
	})

	selected := make([]core.ExtractedEntity, 0, len(candidates))
	for _, c := range candidates {
		if overlapsAny(c.entity.Span, selected) {
			continue
		}
		selected = append(selected, c.entity)
	}

	sort.Slice(selected, func(i, j int) bool {
		return selected[i].Span.Start < selected[j].Span.Start
	})
	return selected
}

func overlapsAny(span core.Span, selected []core.ExtractedEntity) bool {
	for _, s := range selected {
		if span.Overlaps(s.Span) {
			return true
		}
	}
	return false
}

// Keys returns the distinct entity keys of entities, preserving first occurrence order.
func Keys(entities []core.ExtractedEntity) []string {
	seen := make(map[string]struct{}, len(entities))
	keys := make([]string, 0, len(entities))
	for _, e := range entities {
		k := e.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
