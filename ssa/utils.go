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

func minint(a int, b int) int {
    if a < b {
        return a
    } else {
        return b
    }
}

func regsliceref(v []Reg) (r []*Reg) {
    r = make([]*Reg, len(v))
    for i := range v { r[i] = &v[i] }
    return
}

func blockreverse(s []*BasicBlock) {
    for i, j := 0, len(s) - 1; i < j; i, j = i + 1, j - 1 {
        s[i], s[j] = s[j], s[i]
    }
}

// usages returns the use references of an instruction, or nil if it has none.
func usages(v IrNode) []*Reg {
    if u, ok := v.(IrUsages); ok {
        return u.Usages()
    } else {
        return nil
    }
}

// definitions returns the def references of an instruction, or nil if it has
// none.
func definitions(v IrNode) []*Reg {
    if d, ok := v.(IrDefinitions); ok {
        return d.Definitions()
    } else {
        return nil
    }
}
