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

// Dependence is a data dependence between two memory instructions,
// identified by their indexes into the program-ordered memory instruction
// list. The source always textually precedes the destination; the
// PossiblyBackward flag marks dependences whose direction relative to the
// iteration order cannot be proven forward-only.
type Dependence struct {
    Source           int
    Destination      int
    PossiblyBackward bool
}

// RuntimePointerCheck lists the pointers of a loop that runtime
// disambiguation could be emitted for, parallel arrays of pointer register
// and access direction.
type RuntimePointerCheck struct {
    Ptrs    []Reg
    IsWrite []bool
}

// LoopAccessInfo is the memory access analysis of a single innermost loop.
// It is an external collaborator of the distribution pass: the pass only
// consumes its classification and asks it to materialize check conditions,
// it never re-derives dependence information itself.
type LoopAccessInfo interface {
    // CanVectorizeMemory reports whether the memory operations of the loop
    // are already safe to vectorize, in which case distribution is useless.
    CanVectorizeMemory() bool

    // InterestingDependences returns the dependences worth inspecting, or
    // nil if the analysis could not classify the loop.
    InterestingDependences() []Dependence

    // MemoryInstructions returns every load and store of the loop in
    // program order. Dependence indexes refer to this list.
    MemoryInstructions() []IrNode

    // RuntimePointerCheck returns the runtime checkable pointers.
    RuntimePointerCheck() *RuntimePointerCheck

    // InstructionsForAccess returns the memory instructions accessing ptr
    // in the given direction.
    InstructionsForAccess(ptr Reg, write bool) []IrNode

    // EmitRuntimeCheck appends the no-overlap computation for the given
    // pointer index pairs to bb and returns the condition register: 1 means
    // all ranges are disjoint and the specialized path may run.
    EmitRuntimeCheck(cfg *CFG, bb *BasicBlock, pairs [][2]int) Reg
}

// AccessAnalysis hands out LoopAccessInfo per loop. A nil result skips the
// loop.
type AccessAnalysis interface {
    Info(lp *Loop) LoopAccessInfo
}

// StaticAccessInfo is a table-driven LoopAccessInfo for tests and tools:
// every answer is scripted up front.
type StaticAccessInfo struct {
    VectorizeMemory bool
    Dependences     []Dependence
    MemInstructions []IrNode
    PointerCheck    RuntimePointerCheck
    AccessLists     map[Reg][2][]IrNode
}

func (self *StaticAccessInfo) CanVectorizeMemory() bool {
    return self.VectorizeMemory
}

func (self *StaticAccessInfo) InterestingDependences() []Dependence {
    return self.Dependences
}

func (self *StaticAccessInfo) MemoryInstructions() []IrNode {
    return self.MemInstructions
}

func (self *StaticAccessInfo) RuntimePointerCheck() *RuntimePointerCheck {
    return &self.PointerCheck
}

func (self *StaticAccessInfo) InstructionsForAccess(ptr Reg, write bool) []IrNode {
    if write {
        return self.AccessLists[ptr][1]
    } else {
        return self.AccessLists[ptr][0]
    }
}

// EmitRuntimeCheck emits a pairwise pointer inequality check. Real
// implementations compare access ranges; comparing the bases is enough for
// the unit-stride cases the tests build.
func (self *StaticAccessInfo) EmitRuntimeCheck(cfg *CFG, bb *BasicBlock, pairs [][2]int) Reg {
    var ok Reg
    pc := &self.PointerCheck

    /* compare each pair of pointers */
    for _, p := range pairs {
        r := cfg.CreateRegister(false)
        bb.Ins = append(bb.Ins, &IrBinaryExpr {
            R  : r,
            X  : pc.Ptrs[p[0]],
            Y  : pc.Ptrs[p[1]],
            Op : OpCmpNe,
        })

        /* accumulate the conjunction */
        if ok == 0 {
            ok = r
        } else {
            v := cfg.CreateRegister(false)
            bb.Ins = append(bb.Ins, &IrBinaryExpr { R: v, X: ok, Y: r, Op: OpAnd })
            ok = v
        }
    }

    /* no pairs at all, the check trivially passes */
    if ok == 0 {
        ok = cfg.CreateRegister(false)
        bb.Ins = append(bb.Ins, &IrConstInt { R: ok, V: 1 })
    }
    return ok
}
