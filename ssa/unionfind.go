/*
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ssa

// _UnionFind is a disjoint-set forest with path compression over dense
// integer keys. Union always keeps the smaller key as the representative, so
// merging a range of ordered items preserves the position of the earliest
// one.
type _UnionFind struct {
    up []int
}

func newUnionFind(n int) *_UnionFind {
    up := make([]int, n)
    for i := range up {
        up[i] = i
    }
    return &_UnionFind { up: up }
}

func (self *_UnionFind) find(i int) int {
    for self.up[i] != i {
        self.up[i] = self.up[self.up[i]]
        i = self.up[i]
    }
    return i
}

func (self *_UnionFind) union(i int, j int) {
    p := self.find(i)
    q := self.find(j)

    /* keep the smaller representative */
    if p < q {
        self.up[q] = p
    } else if q < p {
        self.up[p] = q
    }
}

func (self *_UnionFind) joined() bool {
    for i, p := range self.up {
        if p != i {
            return true
        }
    }
    return false
}
