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
)

type BasicBlock struct {
    Id   int
    Phi  []*IrPhi
    Ins  []IrNode
    Term IrTerminator
    Pred []*BasicBlock
}

func (self *BasicBlock) String() string {
    buf := []string { fmt.Sprintf("bb_%d:", self.Id) }

    /* dump the Phi nodes */
    for _, v := range self.Phi {
        buf = append(buf, "    " + v.String())
    }

    /* dump the instructions */
    for _, v := range self.Ins {
        buf = append(buf, "    " + v.String())
    }

    /* dump the terminator */
    buf = append(buf, "    " + self.Term.String())
    return strings.Join(buf, "\n")
}

func (self *BasicBlock) termBranch(to *BasicBlock) {
    self.Term = &IrSwitch { Ln: to }
    to.Pred = append(to.Pred, self)
}

func (self *BasicBlock) termCondition(v Reg, t *BasicBlock, f *BasicBlock) {
    self.Term = &IrSwitch { V: v, Ln: f, Br: map[int64]*BasicBlock { 1: t } }
    t.Pred = append(t.Pred, self)
    f.Pred = append(f.Pred, self)
}

func (self *BasicBlock) termReturn(rr ...Reg) {
    self.Term = &IrReturn { R: rr }
}

func (self *BasicBlock) addPred(bb *BasicBlock) {
    self.Pred = append(self.Pred, bb)
}

func (self *BasicBlock) delPred(bb *BasicBlock) {
    for i, p := range self.Pred {
        if p == bb {
            self.Pred = append(self.Pred[:i], self.Pred[i + 1:]...)
            return
        }
    }
}

func (self *BasicBlock) replacePred(old *BasicBlock, new *BasicBlock) {
    for i, p := range self.Pred {
        if p == old {
            self.Pred[i] = new
        }
    }
}

// replaceSuccessor retargets every outgoing edge of old to new, updating the
// predecessor list of both targets.
func (self *BasicBlock) replaceSuccessor(old *BasicBlock, new *BasicBlock) {
    rt := false

    /* update the branch targets */
    for it := self.Term.Successors(); it.Next(); {
        if it.Block() == old {
            it.UpdateBlock(new)
            rt = true
        }
    }

    /* move the predecessor edge along */
    if rt {
        old.delPred(self)
        new.addPred(self)
    }
}
