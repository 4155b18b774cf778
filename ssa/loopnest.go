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
    `sort`

    `github.com/oleiade/lane`
)

// Loop is a natural loop: a dominator back edge target (the header) plus
// every block that can reach the back edge source without passing through
// the header.
type Loop struct {
    Header   *BasicBlock
    Parent   *Loop
    Children []*Loop
    Blocks   []*BasicBlock
    in       map[int]struct{}
}

func newLoop(header *BasicBlock) *Loop {
    return &Loop {
        Header : header,
        Blocks : []*BasicBlock { header },
        in     : map[int]struct{} { header.Id: {} },
    }
}

func (self *Loop) Contains(bb *BasicBlock) bool {
    _, ok := self.in[bb.Id]
    return ok
}

func (self *Loop) AddChildLoop(p *Loop) {
    p.Parent = self
    self.Children = append(self.Children, p)
}

func (self *Loop) addBlock(bb *BasicBlock) {
    if !self.Contains(bb) {
        self.in[bb.Id] = struct{}{}
        self.Blocks = append(self.Blocks, bb)
    }
}

// Preheader returns the unique out-of-loop predecessor of the header, if it
// branches to the header unconditionally, otherwise nil.
func (self *Loop) Preheader() (r *BasicBlock) {
    for _, p := range self.Header.Pred {
        if !self.Contains(p) {
            if r != nil {
                return nil
            } else {
                r = p
            }
        }
    }

    /* the preheader must have the header as its only successor */
    if r != nil {
        it := r.Term.Successors()
        if !it.Next() || it.Block() != self.Header {
            return nil
        }
        if it.Next() {
            return nil
        }
    }

    /* all checks passed */
    return
}

// Latch returns the unique in-loop predecessor of the header, otherwise nil.
func (self *Loop) Latch() (r *BasicBlock) {
    for _, p := range self.Header.Pred {
        if self.Contains(p) {
            if r != nil {
                return nil
            } else {
                r = p
            }
        }
    }
    return
}

// ExitingBlock returns the unique block inside the loop with a successor
// outside of it, otherwise nil.
func (self *Loop) ExitingBlock() (r *BasicBlock) {
    for _, bb := range self.Blocks {
        for it := bb.Term.Successors(); it.Next(); {
            if !self.Contains(it.Block()) {
                if r != nil && r != bb {
                    return nil
                } else {
                    r = bb
                }
            }
        }
    }
    return
}

// ExitBlock returns the unique block outside the loop that loop blocks
// branch to, otherwise nil.
func (self *Loop) ExitBlock() (r *BasicBlock) {
    for _, bb := range self.Blocks {
        for it := bb.Term.Successors(); it.Next(); {
            if sb := it.Block(); !self.Contains(sb) {
                if r != nil && r != sb {
                    return nil
                } else {
                    r = sb
                }
            }
        }
    }
    return
}

type LoopNest struct {
    cfg   *CFG
    Top   []*Loop
    Loops []*Loop
    b2l   map[int]*Loop
}

// BuildLoopNest discovers every natural loop of the graph from the dominator
// back edges and arranges them into a nesting forest.
func BuildLoopNest(cfg *CFG) *LoopNest {
    loops := make(map[int]*Loop)
    order := cfg.PostOrder().Reversed()

    /* find all the back edges, grouped by header */
    for _, bb := range order {
        for it := bb.Term.Successors(); it.Next(); {
            hh := it.Block()

            /* not a back edge */
            if !cfg.Dominates(hh, bb) {
                continue
            }

            /* get or create the loop */
            lp, ok := loops[hh.Id]
            if !ok {
                lp = newLoop(hh)
                loops[hh.Id] = lp
            }

            /* grow the natural loop from the latch */
            q := lane.NewQueue()
            q.Enqueue(bb)

            /* standard worklist algorithm over the predecessors */
            for !q.Empty() {
                p := q.Dequeue().(*BasicBlock)
                if !lp.Contains(p) {
                    lp.addBlock(p)
                    for _, pp := range p.Pred {
                        q.Enqueue(pp)
                    }
                }
            }
        }
    }

    /* collect the loops, smallest first, ties broken by header ID */
    ret := &LoopNest { cfg: cfg, b2l: make(map[int]*Loop) }
    for _, lp := range loops {
        ret.Loops = append(ret.Loops, lp)
    }
    sort.Slice(ret.Loops, func(i int, j int) bool {
        a, b := ret.Loops[i], ret.Loops[j]
        if len(a.Blocks) != len(b.Blocks) {
            return len(a.Blocks) < len(b.Blocks)
        } else {
            return a.Header.Id < b.Header.Id
        }
    })

    /* keep the block order inside each loop reproducible */
    for _, lp := range ret.Loops {
        sort.Slice(lp.Blocks[1:], func(i int, j int) bool {
            return lp.Blocks[i + 1].Id < lp.Blocks[j + 1].Id
        })
    }

    /* the parent is the smallest strictly larger loop containing the header */
    for i, lp := range ret.Loops {
        for _, pp := range ret.Loops[i + 1:] {
            if pp != lp && len(pp.Blocks) > len(lp.Blocks) && pp.Contains(lp.Header) {
                pp.AddChildLoop(lp)
                break
            }
        }
    }

    /* top level loops are the ones without parents */
    for _, lp := range ret.Loops {
        if lp.Parent == nil {
            ret.Top = append(ret.Top, lp)
        }
    }

    /* map each block to its innermost loop */
    for _, lp := range ret.Loops {
        for _, bb := range lp.Blocks {
            if _, ok := ret.b2l[bb.Id]; !ok {
                ret.b2l[bb.Id] = lp
            }
        }
    }

    /* all done */
    return ret
}

// LoopOf returns the innermost loop containing bb, or nil.
func (self *LoopNest) LoopOf(bb *BasicBlock) *Loop {
    return self.b2l[bb.Id]
}

// Innermost returns every loop without child loops, ordered by header ID.
func (self *LoopNest) Innermost() (r []*Loop) {
    for _, lp := range self.Loops {
        if len(lp.Children) == 0 {
            r = append(r, lp)
        }
    }
    sort.Slice(r, func(i int, j int) bool {
        return r[i].Header.Id < r[j].Header.Id
    })
    return
}

func (self *LoopNest) AddTopLevelLoop(lp *Loop) {
    self.Top = append(self.Top, lp)
    self.Loops = append(self.Loops, lp)
}

// AddLoop registers a freshly created loop as a sibling of ref: a child of
// ref's parent, or a top level loop if ref has none.
func (self *LoopNest) AddLoop(lp *Loop, ref *Loop) {
    if ref.Parent != nil {
        ref.Parent.AddChildLoop(lp)
        self.Loops = append(self.Loops, lp)
    } else {
        self.AddTopLevelLoop(lp)
    }
}

// AddBlockToLoop registers bb with lp and every enclosing loop of lp.
func (self *LoopNest) AddBlockToLoop(bb *BasicBlock, lp *Loop) {
    if _, ok := self.b2l[bb.Id]; !ok {
        self.b2l[bb.Id] = lp
    }
    for p := lp; p != nil; p = p.Parent {
        p.addBlock(bb)
    }
}

// AddBlockToParents registers bb with every loop enclosing lp but not with
// lp itself, e.g. for preheaders of new loops.
func (self *LoopNest) AddBlockToParents(bb *BasicBlock, lp *Loop) {
    if lp.Parent != nil {
        self.AddBlockToLoop(bb, lp.Parent)
    }
}
