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

// _RuntimeCheckEmitter versions a loop under a runtime memory check: the
// original loop becomes the checked path that distribution then specializes,
// an unmodified clone becomes the fallback that runs when the pointer ranges
// might overlap.
type _RuntimeCheckEmitter struct {
    cfg  *CFG
    nest *LoopNest
    loop *Loop
    lai  LoopAccessInfo
    vm   *_ValueMap
}

func newRuntimeCheckEmitter(cfg *CFG, nest *LoopNest, lp *Loop, lai LoopAccessInfo) *_RuntimeCheckEmitter {
    return &_RuntimeCheckEmitter {
        cfg  : cfg,
        nest : nest,
        loop : lp,
        lai  : lai,
    }
}

// needsRuntimeChecks selects the pointer pairs that must be checked at
// runtime: at least one side writes, and either the two pointers land in
// different (or ambiguous) partitions, or one of them feeds a
// store-to-load forwarding pair whose distance the distribution would
// otherwise stretch.
func (self *_RuntimeCheckEmitter) needsRuntimeChecks(pp []int, fwd *_InstSet) [][2]int {
    var ret [][2]int
    pc := self.lai.RuntimePointerCheck()

    /* precompute which pointers touch the forwarding set */
    fp := make([]bool, len(pc.Ptrs))
    for i, ptr := range pc.Ptrs {
        for _, ins := range self.lai.InstructionsForAccess(ptr, pc.IsWrite[i]) {
            if fwd.has(ins) {
                fp[i] = true
                break
            }
        }
    }

    /* enumerate the pairs in index order */
    for i := 0; i < len(pc.Ptrs); i++ {
        for j := i + 1; j < len(pc.Ptrs); j++ {
            if !pc.IsWrite[i] && !pc.IsWrite[j] {
                continue
            }
            if pp[i] == -1 || pp[j] == -1 || pp[i] != pp[j] || fp[i] || fp[j] {
                ret = append(ret, [2]int { i, j })
            }
        }
    }
    return ret
}

// versionLoop emits the runtime check into the preheader, clones the loop as
// the fallback path, and rewires the preheader into a guard: condition true
// enters the (to be distributed) original loop, false enters the fallback.
// defs lists the loop definitions with uses outside the loop, each gets a
// merge Phi in the exit block.
func (self *_RuntimeCheckEmitter) versionLoop(pairs [][2]int, defs []IrNode) {
    ph := self.loop.Preheader()
    if ph == nil {
        panic("ssa: versioning a loop without a preheader")
    }

    /* split off a fresh preheader for the checked path; the split moves the
     * loop under it in the dominator tree and re-keys the header Phi nodes */
    dph := self.cfg.SplitBlock(ph)
    self.nest.AddBlockToParents(dph, self.loop)

    /* clone the fallback path off the still empty new preheader, dominated
     * by the check block */
    self.vm = newValueMap()
    _, blocks := cloneLoopWithPreheader(self.cfg, self.nest, self.loop, ph, self.vm)
    fph := blocks[0]

    /* the check lives in the old preheader */
    cond := self.lai.EmitRuntimeCheck(self.cfg, ph, pairs)

    /* the guard: 1 means the ranges are disjoint */
    ph.Term = &IrSwitch {
        V  : cond,
        Ln : fph,
        Br : map[int64]*BasicBlock { 1: dph },
    }
    fph.addPred(ph)

    /* the exit now joins the two paths, it moves under the check block */
    self.cfg.ChangeIDom(self.loop.ExitBlock(), ph)

    /* merge the values flowing out of the two versions */
    self.addPHINodes(defs)
}

// addPHINodes inserts, for every externally used definition of the loop, a
// Phi in the exit block merging the original register with its fallback
// clone, and repoints the external uses at it.
func (self *_RuntimeCheckEmitter) addPHINodes(defs []IrNode) {
    exit := self.loop.ExitBlock()
    exiting := self.loop.ExitingBlock()
    fexiting := self.vm.blks[exiting]

    /* blocks belonging to either version */
    inner := make(map[*BasicBlock]struct{})
    for _, bb := range self.loop.Blocks {
        inner[bb] = struct{}{}
        inner[self.vm.blks[bb]] = struct{}{}
    }

    for _, def := range defs {
        for _, d := range definitions(def) {
            r := *d
            f := self.vm.reg(r)

            /* collect the external uses before inserting the Phi, the Phi
             * itself uses the very register it replaces */
            var uses []*Reg
            for it := self.cfg.PostOrder(); it.Next(); {
                bb := it.Block()
                if _, ok := inner[bb]; ok {
                    continue
                }
                for _, p := range bb.Phi {
                    uses = collectuses(uses, p, r)
                }
                for _, p := range bb.Ins {
                    uses = collectuses(uses, p, r)
                }
                uses = collectuses(uses, bb.Term, r)
            }

            /* dead outside the loop after all, no Phi needed */
            if len(uses) == 0 {
                continue
            }

            /* merge the two versions */
            a := new(Reg)
            b := new(Reg)
            m := self.cfg.CreateRegister(r.Ptr())
            *a = r
            *b = f
            exit.Phi = append(exit.Phi, &IrPhi {
                R: m,
                V: map[*BasicBlock]*Reg { exiting: a, fexiting: b },
            })

            /* repoint the users */
            for _, u := range uses {
                *u = m
            }
        }
    }
}

func collectuses(buf []*Reg, v IrNode, r Reg) []*Reg {
    for _, u := range usages(v) {
        if *u == r {
            buf = append(buf, u)
        }
    }
    return buf
}

// findDefsUsedOutsideOfLoop returns the instructions of lp defining a
// register that is used by some block outside of lp, in program order.
func findDefsUsedOutsideOfLoop(cfg *CFG, lp *Loop) []IrNode {
    var ret []IrNode

    /* index the definitions of the loop */
    defs := make(map[Reg]IrNode)
    for _, bb := range lp.Blocks {
        for _, p := range bb.Phi {
            defs[p.R] = p
        }
        for _, p := range bb.Ins {
            for _, d := range definitions(p) {
                defs[*d] = p
            }
        }
    }

    /* scan every block outside the loop for uses */
    seen := make(map[IrNode]struct{})
    for it := cfg.PostOrder(); it.Next(); {
        bb := it.Block()
        if lp.Contains(bb) {
            continue
        }
        scanexternal(bb, defs, seen)
    }

    /* keep the program order, not the discovery order */
    for _, bb := range lp.Blocks {
        for _, p := range bb.Phi {
            if _, ok := seen[p]; ok {
                ret = append(ret, p)
            }
        }
        for _, p := range bb.Ins {
            if _, ok := seen[p]; ok {
                ret = append(ret, p)
            }
        }
    }
    return ret
}

func scanexternal(bb *BasicBlock, defs map[Reg]IrNode, seen map[IrNode]struct{}) {
    mark := func(v IrNode) {
        for _, u := range usages(v) {
            if d, ok := defs[*u]; ok {
                seen[d] = struct{}{}
            }
        }
    }
    for _, p := range bb.Phi {
        mark(p)
    }
    for _, p := range bb.Ins {
        mark(p)
    }
    mark(bb.Term)
}
