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

// _ValueMap is the remapping table of a single clone operation: old register
// to new register, old block to new block, old instruction to new
// instruction. It is discarded once remapping completes.
type _ValueMap struct {
    regs map[Reg]Reg
    blks map[*BasicBlock]*BasicBlock
    ins  map[IrNode]IrNode
}

func newValueMap() *_ValueMap {
    return &_ValueMap {
        regs: make(map[Reg]Reg),
        blks: make(map[*BasicBlock]*BasicBlock),
        ins : make(map[IrNode]IrNode),
    }
}

func (self *_ValueMap) reg(r Reg) Reg {
    if v, ok := self.regs[r]; ok {
        return v
    } else {
        return r
    }
}

func (self *_ValueMap) block(bb *BasicBlock) *BasicBlock {
    if v, ok := self.blks[bb]; ok {
        return v
    } else {
        return bb
    }
}

// instr returns the cloned counterpart of v, or v itself if it was never
// cloned.
func (self *_ValueMap) instr(v IrNode) IrNode {
    if p, ok := self.ins[v]; ok {
        return p
    } else {
        return v
    }
}

// cloneBlock copies bb with fresh defined registers. Register uses still
// refer to the originals, remapBlock rewrites them once every block of the
// clone operation has been copied.
func cloneBlock(cfg *CFG, bb *BasicBlock, vm *_ValueMap) (r *BasicBlock) {
    r = cfg.CreateBlock()

    /* clone the Phi nodes */
    for _, p := range bb.Phi {
        q := p.Clone().(*IrPhi)
        vm.ins[p] = q
        r.Phi = append(r.Phi, q)
    }

    /* clone the instructions */
    for _, p := range bb.Ins {
        q := p.Clone()
        vm.ins[p] = q
        r.Ins = append(r.Ins, q)
    }

    /* clone the terminator */
    t := bb.Term.Clone().(IrTerminator)
    vm.ins[bb.Term] = t
    r.Term = t

    /* allocate fresh registers for every definition */
    for _, p := range r.Phi {
        renamedefs(cfg, p, vm)
    }
    for _, p := range r.Ins {
        renamedefs(cfg, p, vm)
    }

    /* all done */
    return
}

func renamedefs(cfg *CFG, v IrNode, vm *_ValueMap) {
    for _, d := range definitions(v) {
        if d.kind() != _K_zero {
            r := cfg.CreateRegister(d.Ptr())
            vm.regs[*d] = r
            *d = r
        }
    }
}

// remapBlock rewrites every register use and block reference of a cloned
// block through the value map.
func remapBlock(bb *BasicBlock, vm *_ValueMap) {
    /* remap the Phi nodes, both paths and values */
    for _, p := range bb.Phi {
        vv := make(map[*BasicBlock]*Reg, len(p.V))
        for b, v := range p.V {
            *v = vm.reg(*v)
            vv[vm.block(b)] = v
        }
        p.V = vv
    }

    /* remap the instruction uses */
    for _, p := range bb.Ins {
        for _, u := range usages(p) {
            *u = vm.reg(*u)
        }
    }

    /* remap the terminator uses and targets */
    for _, u := range usages(bb.Term) {
        *u = vm.reg(*u)
    }
    for it := bb.Term.Successors(); it.Next(); {
        if nb, ok := vm.blks[it.Block()]; ok {
            it.UpdateBlock(nb)
        }
    }
}

// cloneLoopWithPreheader clones orig including its preheader, assuming the
// clone will be dominated by domBB. The value map may be pre-seeded, e.g. to
// redirect the loop exit into another block. Dominator tree and loop nest
// are maintained incrementally; the new preheader is left unreachable, the
// caller is responsible for hooking it up.
func cloneLoopWithPreheader(cfg *CFG, nest *LoopNest, orig *Loop, domBB *BasicBlock, vm *_ValueMap) (*Loop, []*BasicBlock) {
    ph := orig.Preheader()
    if ph == nil {
        panic("ssa: loop has no preheader to clone")
    }

    /* clone the preheader first */
    nph := cloneBlock(cfg, ph, vm)
    vm.blks[ph] = nph

    /* clone every loop block */
    blocks := make([]*BasicBlock, 0, len(orig.Blocks) + 1)
    blocks = append(blocks, nph)
    for _, bb := range orig.Blocks {
        nb := cloneBlock(cfg, bb, vm)
        vm.blks[bb] = nb
        blocks = append(blocks, nb)
    }

    /* rewrite the clones to refer to themselves */
    news := make(map[*BasicBlock]struct{}, len(blocks))
    for _, bb := range blocks {
        news[bb] = struct{}{}
        remapBlock(bb, vm)
    }

    /* predecessors: internal edges map over, external targets gain an edge */
    for i, bb := range blocks {
        var src *BasicBlock
        if i == 0 {
            src = ph
        } else {
            src = orig.Blocks[i - 1]
        }
        for _, p := range src.Pred {
            if np, ok := vm.blks[p]; ok {
                bb.Pred = append(bb.Pred, np)
            }
        }
    }
    for _, bb := range blocks {
        for it := bb.Term.Successors(); it.Next(); {
            if sb := it.Block(); sb != nil {
                if _, ok := news[sb]; !ok {
                    sb.addPred(bb)
                }
            }
        }
    }

    /* update the dominator tree: the preheader hangs off domBB, each clone
     * off the clone of its original immediate dominator */
    cfg.AddDomNode(domBB, nph)
    for _, bb := range orig.Blocks {
        cfg.AddDomNode(vm.block(cfg.DominatedBy[bb.Id]), vm.blks[bb])
    }

    /* update the loop nest */
    nl := newLoop(vm.blks[orig.Header])
    for _, bb := range orig.Blocks[1:] {
        nl.addBlock(vm.blks[bb])
    }
    nest.AddLoop(nl, orig)
    for _, bb := range nl.Blocks {
        nest.AddBlockToLoop(bb, nl)
    }
    nest.AddBlockToParents(nph, nl)

    /* all done */
    return nl, blocks
}
