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
    `strings`
)

type CFG struct {
    Root              *BasicBlock
    Depth             map[int]int
    DominatedBy       map[int]*BasicBlock
    DominatorOf       map[int][]*BasicBlock
    maxblock          int
    maxreg            int
}

func CreateCFG(root *BasicBlock) *CFG {
    ret := &CFG {
        Root        : root,
        Depth       : make(map[int]int),
        DominatedBy : make(map[int]*BasicBlock),
        DominatorOf : make(map[int][]*BasicBlock),
    }
    ret.maxblock = root.Id
    ret.Rebuild()
    return ret
}

// CreateBlock allocates an empty basic block with a fresh ID.
func (self *CFG) CreateBlock() (r *BasicBlock) {
    self.maxblock++
    r = new(BasicBlock)
    r.Id = self.maxblock
    return
}

// CreateRegister allocates a fresh SSA register.
func (self *CFG) CreateRegister(ptr bool) Reg {
    self.maxreg++
    if ptr {
        return mkreg(1, self.maxreg)
    } else {
        return mkreg(0, self.maxreg)
    }
}

func (self *CFG) MaxBlock() int {
    return self.maxblock
}

// NoteBlock makes sure subsequently created blocks and registers do not clash
// with bb and its instructions. Needed when the graph is assembled by hand.
func (self *CFG) NoteBlock(bb *BasicBlock) {
    if bb.Id > self.maxblock {
        self.maxblock = bb.Id
    }
    for _, v := range bb.Phi {
        self.noteregs(v)
    }
    for _, v := range bb.Ins {
        self.noteregs(v)
    }
    if bb.Term != nil {
        self.noteregs(bb.Term)
    }
}

func (self *CFG) noteregs(v IrNode) {
    for _, d := range definitions(v) {
        self.notereg(*d)
    }
    for _, u := range usages(v) {
        self.notereg(*u)
    }
}

func (self *CFG) notereg(r Reg) {
    if r.kind() == _K_norm && r.Index() > self.maxreg {
        self.maxreg = r.Index()
    }
}

// Rebuild recomputes the dominator tree and the dominator depth of every
// reachable block. Incremental updates performed by the transformation
// passes keep these structures valid between rebuilds.
func (self *CFG) Rebuild() {
    buildDominatorTree(self)
    self.rebuildDepth()
}

func (self *CFG) rebuildDepth() {
    self.Depth = make(map[int]int)
    self.depthof(self.Root, 0)
}

func (self *CFG) depthof(bb *BasicBlock, d int) {
    self.Depth[bb.Id] = d
    for _, p := range self.DominatorOf[bb.Id] {
        self.depthof(p, d + 1)
    }
}

func (self *CFG) PostOrder() *BasicBlockIter {
    return newBasicBlockIter(self)
}

// Dominates checks whether bb dominates rr, walking the immediate dominator
// chain upwards from rr.
func (self *CFG) Dominates(bb *BasicBlock, rr *BasicBlock) bool {
    for p := rr; p != nil; p = self.DominatedBy[p.Id] {
        if p == bb {
            return true
        }
    }
    return false
}

// AddDomNode registers a freshly created block bb with idom as its immediate
// dominator.
func (self *CFG) AddDomNode(idom *BasicBlock, bb *BasicBlock) {
    self.DominatedBy[bb.Id] = idom
    self.DominatorOf[idom.Id] = append(self.DominatorOf[idom.Id], bb)
}

// ChangeIDom moves bb under a new immediate dominator.
func (self *CFG) ChangeIDom(bb *BasicBlock, idom *BasicBlock) {
    old := self.DominatedBy[bb.Id]

    /* already there */
    if old == idom {
        return
    }

    /* unlink from the old parent, if any */
    if old != nil {
        pp := self.DominatorOf[old.Id]
        for i, p := range pp {
            if p == bb {
                self.DominatorOf[old.Id] = append(pp[:i], pp[i + 1:]...)
                break
            }
        }
    }

    /* link to the new one */
    self.DominatedBy[bb.Id] = idom
    self.DominatorOf[idom.Id] = append(self.DominatorOf[idom.Id], bb)
}

// SplitBlock splits bb before its terminator: a new block takes over the
// terminator while bb falls through into it. Dominator information is
// maintained incrementally. The new block is returned.
func (self *CFG) SplitBlock(bb *BasicBlock) (r *BasicBlock) {
    r = self.CreateBlock()
    r.Term = bb.Term

    /* successors now hang off the new block */
    for it := r.Term.Successors(); it.Next(); {
        sb := it.Block()
        sb.replacePred(bb, r)

        /* re-key the Phi nodes of the successors */
        for _, p := range sb.Phi {
            if v, ok := p.V[bb]; ok {
                p.V[r] = v
                delete(p.V, bb)
            }
        }
    }

    /* fall through from bb */
    bb.Term = nil
    bb.termBranch(r)

    /* every former dominator child of bb is now reached through r */
    for _, c := range self.DominatorOf[bb.Id] {
        self.DominatedBy[c.Id] = r
        self.DominatorOf[r.Id] = append(self.DominatorOf[r.Id], c)
    }

    /* bb now only dominates r directly */
    self.DominatorOf[bb.Id] = []*BasicBlock { r }
    self.DominatedBy[r.Id] = bb
    return
}

func (self *CFG) String() string {
    var buf []string

    /* dump blocks in dominance order for a stable output */
    for _, bb := range self.PostOrder().Reversed() {
        buf = append(buf, bb.String())
    }

    /* join them together */
    return strings.Join(buf, "\n")
}
