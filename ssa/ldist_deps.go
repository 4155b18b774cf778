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

type _MemoryDep struct {
    ins   IrNode
    delta int
}

// _MemoryDeps records, for every memory instruction of the loop in program
// order, the number of unsafe dependences that start at it minus the number
// that end at it. Accumulating the deltas left to right tells whether an
// unsafe dependence spans any given program point, which is the only signal
// partition building needs; the dependence analysis is never queried again
// after this table is built.
type _MemoryDeps struct {
    deps []_MemoryDep
}

func newMemoryDeps(insts []IrNode, deps []Dependence) *_MemoryDeps {
    md := new(_MemoryDeps)
    md.deps = make([]_MemoryDep, len(insts))

    /* one entry per memory instruction */
    for i, v := range insts {
        md.deps[i].ins = v
    }

    /* source and destination follow program order, the source always comes
     * textually first; the direction of the dependence lives in the flag */
    for _, d := range deps {
        if d.PossiblyBackward {
            md.deps[d.Source].delta++
            md.deps[d.Destination].delta--
        }
    }

    /* all done */
    return md
}
