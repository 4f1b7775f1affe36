// Copyright 2022 The servicefabrik.io Authors
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

package set

import (
	"cmp"
	"sort"
)

// Set is a collection of distinct ordered values.
type Set[T cmp.Ordered] struct {
	elems []T
	maps  map[T]struct{}
}

func NewSet[T cmp.Ordered](vals ...T) *Set[T] {
	s := &Set[T]{
		elems: []T{},
		maps:  map[T]struct{}{},
	}
	s.Append(vals...)
	return s
}

func (s *Set[T]) Append(vals ...T) {
	for _, val := range vals {
		if _, ok := s.maps[val]; ok {
			continue
		}
		s.elems = append(s.elems, val)
		s.maps[val] = struct{}{}
	}
}

func (s *Set[T]) Has(val T) bool {
	_, ok := s.maps[val]
	return ok
}

// Slice returns the values in ascending order.
func (s *Set[T]) Slice() []T {
	sort.Slice(s.elems, func(i, j int) bool {
		return s.elems[i] < s.elems[j]
	})
	return s.elems
}

func (s *Set[T]) Len() int {
	return len(s.elems)
}
