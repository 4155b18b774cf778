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

import (
    `fmt`
    `strings`

    `github.com/oleiade/lane`
)

// _InstSet is an instruction set that remembers insertion order, so that
// every enumeration of a partition is reproducible.
type _InstSet struct {
    m map[IrNode]struct{}
    s []IrNode
}

func newInstSet() *_InstSet {
    return &_InstSet {
        m: make(map[IrNode]struct{}),
    }
}

func (self *_InstSet) add(v IrNode) bool {
    if _, ok := self.m[v]; ok {
        return false
    } else {
        self.m[v] = struct{}{}
        self.s = append(self.s, v)
        return true
    }
}

func (self *_InstSet) has(v IrNode) bool {
    _, ok := self.m[v]
    return ok
}

func (self *_InstSet) size() int {
    return len(self.m)
}

func (self *_InstSet) each(action func(v IrNode)) {
    for _, v := range self.s {
        if _, ok := self.m[v]; ok {
            action(v)
        }
    }
}

// _InstPartition is the set of loop instructions that becomes one
// distributed sub-loop. Before cloning it only holds the set; after cloning
// it also owns the cloned loop and the remapping table.
type _InstPartition struct {
    set    *_InstSet
    cycle  bool
    loop   *Loop
    clone  *Loop
    nph    *BasicBlock
    vm     *_ValueMap
    blocks []*BasicBlock
}

func newInstPartition(v IrNode, lp *Loop, cycle bool) *_InstPartition {
    p := &_InstPartition {
        set   : newInstSet(),
        loop  : lp,
        cycle : cycle,
    }
    p.set.add(v)
    return p
}

func (self *_InstPartition) add(v IrNode) {
    self.set.add(v)
}

// moveTo merges this partition into other, leaving this one empty.
func (self *_InstPartition) moveTo(other *_InstPartition) {
    self.set.each(func(v IrNode) { other.set.add(v) })
    self.set = newInstSet()
    other.cycle = other.cycle || self.cycle
}

// populateUsedSet grows the seed set into a self-contained sub-loop body:
// every terminator of the loop, plus the transitive use-def closure of the
// seeds over loop-internal definitions.
func (self *_InstPartition) populateUsedSet(defs map[Reg]IrNode) {
    st := lane.NewStack()

    /* all the terminators stay, the later cleanup passes sort out the
     * control flow that ends up redundant */
    for _, bb := range self.loop.Blocks {
        self.set.add(bb.Term)
    }

    /* seed the worklist */
    self.set.each(func(v IrNode) { st.Push(v) })

    /* standard use-def closure */
    for !st.Empty() {
        v := st.Pop().(IrNode)
        for _, u := range usages(v) {
            if d, ok := defs[*u]; ok && self.set.add(d) {
                st.Push(d)
            }
        }
    }
}

// cloneLoop clones the original loop for this partition, redirecting the
// loop exit into top (the head of the already built chain).
func (self *_InstPartition) cloneLoop(cfg *CFG, nest *LoopNest, top *BasicBlock, domBB *BasicBlock, exit *BasicBlock) {
    self.vm = newValueMap()
    self.vm.blks[exit] = top
    self.clone, self.blocks = cloneLoopWithPreheader(cfg, nest, self.loop, domBB, self.vm)
    self.nph = self.blocks[0]
}

func (self *_InstPartition) preheader(orig *BasicBlock) *BasicBlock {
    if self.clone != nil {
        return self.nph
    } else {
        return orig
    }
}

func (self *_InstPartition) exitingBlock(orig *BasicBlock) *BasicBlock {
    if self.clone != nil {
        return self.vm.blks[orig]
    } else {
        return orig
    }
}

// newInstr returns the clone of v in this partition, or v itself for the
// anchor partition (and before cloning).
func (self *_InstPartition) newInstr(v IrNode) IrNode {
    if self.vm != nil {
        return self.vm.instr(v)
    } else {
        return v
    }
}

// removeUnusedInsts deletes, from this partition's distributed loop, every
// instruction whose original is not a member of the partition. Uses of the
// deleted definitions are first replaced with the zero register of the
// matching class. Deletion walks each block in reverse to keep the def-use
// churn low. Terminators are never deleted, they were all marked used when
// the set was populated.
func (self *_InstPartition) removeUnusedInsts(orig *Loop) {
    dead := make(map[Reg]struct{})

    /* delete per block, in reverse instruction order */
    for _, bb := range orig.Blocks {
        nb := bb
        if self.clone != nil {
            nb = self.vm.blks[bb]
        }

        /* instructions */
        for i := len(bb.Ins) - 1; i >= 0; i-- {
            if !self.set.has(bb.Ins[i]) {
                for _, d := range definitions(nb.Ins[i]) {
                    dead[*d] = struct{}{}
                }
                nb.Ins = append(nb.Ins[:i], nb.Ins[i + 1:]...)
            }
        }

        /* Phi nodes */
        for i := len(bb.Phi) - 1; i >= 0; i-- {
            if !self.set.has(bb.Phi[i]) {
                dead[nb.Phi[i].R] = struct{}{}
                nb.Phi = append(nb.Phi[:i], nb.Phi[i + 1:]...)
            }
        }
    }

    /* nothing was deleted */
    if len(dead) == 0 {
        return
    }

    /* replace the dangling uses with zero registers */
    for _, bb := range self.distributedBlocks(orig) {
        for _, p := range bb.Phi {
            scrubdead(p, dead)
        }
        for _, p := range bb.Ins {
            scrubdead(p, dead)
        }
        scrubdead(bb.Term, dead)
    }
}

func (self *_InstPartition) distributedBlocks(orig *Loop) []*BasicBlock {
    if self.clone != nil {
        return self.blocks
    } else {
        return orig.Blocks
    }
}

func scrubdead(v IrNode, dead map[Reg]struct{}) {
    for _, u := range usages(v) {
        if _, ok := dead[*u]; ok {
            *u = u.Zero()
        }
    }
}

// annotateNoAlias marks the forwarding loads of this partition no-alias
// against the unrelated stores, which get the matching alias scope. The
// claim is one-directional: the load is disjoint from the scoped stores,
// the stores say nothing about each other.
func (self *_InstPartition) annotateNoAlias(scope *AliasScope, fwd *_InstSet) {
    self.set.each(func(v IrNode) {
        switch p := self.newInstr(v).(type) {
            case *IrLoad: {
                if fwd.has(v) {
                    p.NoAlias = append(p.NoAlias, scope)
                }
            }
            case *IrStore: {
                if !fwd.has(v) {
                    p.AliasScope = append(p.AliasScope, scope)
                }
            }
        }
    })
}

func (self *_InstPartition) String() string {
    var buf []string
    if self.cycle {
        buf = append(buf, "  (cycle)")
    }
    self.set.each(func(v IrNode) {
        buf = append(buf, "  " + v.String())
    })
    return strings.Join(buf, "\n")
}

// _InstPartitionContainer owns the ordered partition sequence: it seeds the
// partitions, merges them, populates them and finally clones the loops. The
// order is significant, it is both the program order of the dependences and
// the execution order of the distributed chain; merge passes only ever
// collapse ranges, they never reorder.
type _InstPartitionContainer struct {
    cfg   *CFG
    nest  *LoopNest
    loop  *Loop
    parts []*_InstPartition
    ids   map[IrNode]int
}

func newInstPartitionContainer(cfg *CFG, nest *LoopNest, lp *Loop) *_InstPartitionContainer {
    return &_InstPartitionContainer {
        cfg  : cfg,
        nest : nest,
        loop : lp,
        ids  : make(map[IrNode]int),
    }
}

func (self *_InstPartitionContainer) size() int {
    return len(self.parts)
}

// addToCyclicPartition appends v to the current cyclic partition, starting
// one if the last partition is not cyclic.
func (self *_InstPartitionContainer) addToCyclicPartition(v IrNode) {
    if n := len(self.parts); n == 0 || !self.parts[n - 1].cycle {
        self.parts = append(self.parts, newInstPartition(v, self.loop, true))
    } else {
        self.parts[n - 1].add(v)
    }
}

// addToNewNonCyclicPartition isolates v into its own partition; the merge
// heuristics may collapse it back later.
func (self *_InstPartitionContainer) addToNewNonCyclicPartition(v IrNode) {
    self.parts = append(self.parts, newInstPartition(v, self.loop, false))
}

// mergeAdjacentIf merges every maximal run of consecutive partitions
// satisfying pred into the first one of the run.
func (self *_InstPartitionContainer) mergeAdjacentIf(pred func(p *_InstPartition) bool) {
    i := 0
    for i < len(self.parts) {
        if !pred(self.parts[i]) {
            i++
            continue
        }

        /* merge the run into the first member */
        j := i + 1
        for j < len(self.parts) && pred(self.parts[j]) {
            self.parts[j].moveTo(self.parts[i])
            self.parts = append(self.parts[:j], self.parts[j + 1:]...)
        }

        /* the partition at j, if any, already failed the predicate */
        i = j + 1
    }
}

func (self *_InstPartitionContainer) mergeAdjacentNonCyclic() {
    self.mergeAdjacentIf(func(p *_InstPartition) bool {
        return !p.cycle
    })
}

// mergeNonIfConvertible merges acyclic partitions whose stores all execute
// under a branch into the neighbouring cyclic partition: a conditional-only
// store region cannot be vectorized standalone, keeping it separate buys
// nothing.
func (self *_InstPartitionContainer) mergeNonIfConvertible() {
    homes := self.instructionHomes()
    latch := self.loop.Latch()

    /* no latch means no predication information, leave everything alone */
    if latch == nil {
        return
    }

    /* cyclic partitions always participate so the conditional stores can
     * fold into them */
    self.mergeAdjacentIf(func(p *_InstPartition) bool {
        if p.cycle {
            return true
        }

        /* check that every store is predicated */
        seen := false
        conv := true
        p.set.each(func(v IrNode) {
            if _, ok := v.(*IrStore); ok {
                seen = true
                if self.cfg.Dominates(homes[v], latch) {
                    conv = false
                }
            }
        })
        return seen && conv
    })
}

func (self *_InstPartitionContainer) mergeBeforePopulating(nonIfConvertible bool) {
    self.mergeAdjacentNonCyclic()
    if !nonIfConvertible {
        self.mergeNonIfConvertible()
    }
}

// mergeToAvoidDuplicatedLoads merges partitions so that no load is
// duplicated: cloning a load into two loops could reorder it relative to
// other memory operations, and the dependence analysis answered under the
// promise that the order is preserved. Whenever a load is found in two
// partitions, everything between them collapses into one equivalence class.
// Reports whether anything was merged.
func (self *_InstPartitionContainer) mergeToAvoidDuplicatedLoads() bool {
    uf := newUnionFind(len(self.parts))
    l2p := make(map[IrNode]int)

    /* scan partitions left to right */
    for i, p := range self.parts {
        p.set.each(func(v IrNode) {
            if _, ok := v.(*IrLoad); ok {
                if j, dup := l2p[v]; !dup {
                    l2p[v] = i
                } else {
                    for k := j; k <= i; k++ {
                        uf.union(j, k)
                    }
                }
            }
        })
    }

    /* nothing to merge */
    if !uf.joined() {
        return false
    }

    /* fold each class into its representative, which is the earliest
     * member, so the sequence order is preserved */
    for i, p := range self.parts {
        if r := uf.find(i); r != i {
            p.moveTo(self.parts[r])
        }
    }

    /* drop the emptied partitions */
    parts := self.parts[:0]
    for _, p := range self.parts {
        if p.set.size() != 0 {
            parts = append(parts, p)
        }
    }
    self.parts = parts
    return true
}

// setupPartitionIdOnInstructions builds the final instruction to partition
// map. Instructions duplicated across partitions (the terminators) map to
// the ambiguous marker -1.
func (self *_InstPartitionContainer) setupPartitionIdOnInstructions() {
    for i, p := range self.parts {
        p.set.each(func(v IrNode) {
            if _, ok := self.ids[v]; ok {
                self.ids[v] = -1
            } else {
                self.ids[v] = i
            }
        })
    }
}

func (self *_InstPartitionContainer) populateUsedSet() {
    defs := make(map[Reg]IrNode)

    /* index every loop-internal definition */
    for _, bb := range self.loop.Blocks {
        for _, v := range bb.Phi {
            defs[v.R] = v
        }
        for _, v := range bb.Ins {
            for _, d := range definitions(v) {
                defs[*d] = v
            }
        }
    }

    /* grow each partition to a self-contained body */
    for _, p := range self.parts {
        p.populateUsedSet(defs)
    }
}

func (self *_InstPartitionContainer) instructionHomes() map[IrNode]*BasicBlock {
    homes := make(map[IrNode]*BasicBlock)
    for _, bb := range self.loop.Blocks {
        for _, v := range bb.Phi {
            homes[v] = bb
        }
        for _, v := range bb.Ins {
            homes[v] = bb
        }
        homes[bb.Term] = bb
    }
    return homes
}

// cloneLoops is the main structural step: every partition except the last
// gets its own clone of the loop, the original loop is repurposed for the
// last one (the anchor). Clones are created in reverse sequence order and
// chained through their preheaders, then a forward pass re-parents each
// preheader under the exiting block of the previous distributed loop: the
// loops now execute strictly in sequence.
func (self *_InstPartitionContainer) cloneLoops() {
    ph := self.loop.Preheader()
    if ph == nil {
        panic("ssa: distributing a loop without a preheader")
    }
    if len(ph.Phi) != 0 || len(ph.Ins) != 0 {
        panic("ssa: preheader not empty")
    }
    if len(ph.Pred) != 1 {
        panic("ssa: preheader does not have a single predecessor")
    }

    pred := ph.Pred[0]
    exit := self.loop.ExitBlock()
    exiting := self.loop.ExitingBlock()

    if exit == nil || exiting == nil {
        panic("ssa: distributing a loop without a single exit")
    }

    /* clone in reverse order, hooking each clone's exit to the head of the
     * chain built so far */
    top := ph
    for i := len(self.parts) - 2; i >= 0; i-- {
        p := self.parts[i]
        p.cloneLoop(self.cfg, self.nest, top, pred, exit)
        top = p.nph
    }

    /* enter the chain through the first partition */
    if top != ph {
        pred.replaceSuccessor(ph, top)
    }

    /* the preheader of every loop but the first is now dominated by the
     * exiting block of the loop before it */
    for i := 1; i < len(self.parts); i++ {
        self.cfg.ChangeIDom(
            self.parts[i].preheader(ph),
            self.parts[i - 1].exitingBlock(exiting),
        )
    }
}

func (self *_InstPartitionContainer) removeUnusedInsts() {
    for _, p := range self.parts {
        p.removeUnusedInsts(self.loop)
    }
}

// computePartitionSetForPointers maps every runtime checkable pointer to
// the partition its accesses live in: -1 if the accesses span partitions.
// A pointer resolving to no partition at all is an upstream analysis bug.
func (self *_InstPartitionContainer) computePartitionSetForPointers(lai LoopAccessInfo) []int {
    rt := lai.RuntimePointerCheck()
    pp := make([]int, len(rt.Ptrs))

    /* resolve pointer -> access -> instruction -> partition */
    for i, ptr := range rt.Ptrs {
        part := -2
        for _, ins := range lai.InstructionsForAccess(ptr, rt.IsWrite[i]) {
            this, ok := self.ids[ins]
            if !ok {
                panic(fmt.Sprintf("ssa: memory instruction outside every partition: %s", ins))
            }
            if part == -2 {
                part = this
            } else if part == -1 {
                break
            } else if part != this {
                part = -1
            }
        }

        /* the analysis handed us a pointer it never saw an access for */
        if part == -2 {
            panic(fmt.Sprintf("ssa: pointer %s not belonging to any partition", ptr))
        }
        pp[i] = part
    }
    return pp
}

// annotateNoAlias attaches one shared scope to the store-to-load forwarding
// loads and the unrelated stores of every cyclic partition. Only valid when
// the emitted runtime checks cover the forwarding pointers.
func (self *_InstPartitionContainer) annotateNoAlias(fwd *_InstSet) {
    dom := NewAliasScopeDomain("memcheck")
    scope := dom.NewScope("ldist")
    for _, p := range self.parts {
        if p.cycle {
            p.annotateNoAlias(scope, fwd)
        }
    }
}

func (self *_InstPartitionContainer) String() string {
    var buf []string
    for i, p := range self.parts {
        buf = append(buf, fmt.Sprintf("Partition %d:", i))
        buf = append(buf, p.String())
    }
    return strings.Join(buf, "\n")
}
