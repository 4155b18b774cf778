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

    `github.com/pkg/errors`
    `gonum.org/v1/gonum/graph/flow`
    `gonum.org/v1/gonum/graph/simple`
)

// Verify checks the structural consistency of cfg: edge symmetry between
// terminators and predecessor lists, Phi paths matching the predecessors,
// and the incrementally maintained dominator tree against an independent
// recomputation. It walks the graph edges directly so a corrupted dominator
// tree cannot hide blocks from it.
func Verify(cfg *CFG) error {
    blocks := reachable(cfg)

    /* pass 1: edge symmetry and Phi paths */
    for _, bb := range blocks {
        if bb.Term == nil {
            return errors.Errorf("block bb_%d has no terminator", bb.Id)
        }

        /* every successor must list bb as a predecessor exactly once */
        for it := bb.Term.Successors(); it.Next(); {
            sb := it.Block()
            if n := countpred(sb, bb); n != 1 {
                return errors.Errorf("bb_%d appears %d times in the predecessors of bb_%d", bb.Id, n, sb.Id)
            }
        }

        /* every predecessor must branch to bb */
        for _, p := range bb.Pred {
            ok := false
            for it := p.Term.Successors(); it.Next(); {
                if it.Block() == bb {
                    ok = true
                }
            }
            if !ok {
                return errors.Errorf("bb_%d does not branch to its successor bb_%d", p.Id, bb.Id)
            }
        }

        /* Phi nodes must carry one value per predecessor */
        for _, p := range bb.Phi {
            if len(p.V) != len(bb.Pred) {
                return errors.Errorf("Phi node %s of bb_%d does not match its %d predecessors", p, bb.Id, len(bb.Pred))
            }
            for _, q := range bb.Pred {
                if _, ok := p.V[q]; !ok {
                    return errors.Errorf("Phi node %s of bb_%d misses the path from bb_%d", p, bb.Id, q.Id)
                }
            }
        }
    }

    /* pass 2: rebuild the dominator tree independently */
    g := simple.NewDirectedGraph()
    for _, bb := range blocks {
        g.AddNode(simple.Node(bb.Id))
    }
    for _, bb := range blocks {
        for it := bb.Term.Successors(); it.Next(); {
            /* self loops never affect dominance */
            if sb := it.Block(); sb != bb {
                g.SetEdge(g.NewEdge(simple.Node(bb.Id), simple.Node(sb.Id)))
            }
        }
    }

    /* compare against the maintained tree */
    dt := flow.Dominators(simple.Node(cfg.Root.Id), g)
    for _, bb := range blocks {
        if bb == cfg.Root {
            continue
        }
        want := dt.DominatorOf(int64(bb.Id))
        have := cfg.DominatedBy[bb.Id]
        if want == nil {
            return errors.Errorf("no dominator for reachable block bb_%d", bb.Id)
        }
        if have == nil {
            return errors.Errorf("missing immediate dominator of bb_%d: want bb_%d", bb.Id, want.ID())
        }
        if int64(have.Id) != want.ID() {
            return errors.Errorf("wrong immediate dominator of bb_%d: have bb_%d, want bb_%d", bb.Id, have.Id, want.ID())
        }
    }
    return nil
}

// VerifyLoopNest checks the incrementally maintained loop nest against cfg:
// every loop header must dominate all of its blocks, every loop must still
// have a back edge into its header, and child loops must be contained in
// their parents.
func VerifyLoopNest(cfg *CFG, nest *LoopNest) error {
    for _, lp := range nest.Loops {
        latched := false
        for _, bb := range lp.Blocks {
            if !cfg.Dominates(lp.Header, bb) {
                return errors.Errorf("bb_%d of the loop at bb_%d escapes its header", bb.Id, lp.Header.Id)
            }
            for it := bb.Term.Successors(); it.Next(); {
                if it.Block() == lp.Header {
                    latched = true
                }
            }
        }
        if !latched {
            return errors.Errorf("the loop at bb_%d has no back edge", lp.Header.Id)
        }
        for _, ch := range lp.Children {
            for _, bb := range ch.Blocks {
                if !lp.Contains(bb) {
                    return errors.Errorf("bb_%d of the loop at bb_%d is missing from the parent at bb_%d", bb.Id, ch.Header.Id, lp.Header.Id)
                }
            }
        }
    }
    return nil
}

func assertWellFormed(cfg *CFG) {
    if err := Verify(cfg); err != nil {
        panic("ssa: " + err.Error())
    }
}

func assertNestWellFormed(cfg *CFG, nest *LoopNest) {
    if err := VerifyLoopNest(cfg, nest); err != nil {
        panic("ssa: " + err.Error())
    }
}

func countpred(bb *BasicBlock, p *BasicBlock) (n int) {
    for _, q := range bb.Pred {
        if q == p {
            n++
        }
    }
    return
}

// reachable walks the branch targets from the root, returning every reachable
// block ordered by ID.
func reachable(cfg *CFG) []*BasicBlock {
    ret := []*BasicBlock { cfg.Root }
    seen := map[int]struct{} { cfg.Root.Id: {} }

    /* breadth first scan */
    for i := 0; i < len(ret); i++ {
        for it := ret[i].Term.Successors(); it.Next(); {
            if sb := it.Block(); sb != nil {
                if _, ok := seen[sb.Id]; !ok {
                    seen[sb.Id] = struct{}{}
                    ret = append(ret, sb)
                }
            }
        }
    }

    /* stable output order */
    sort.Slice(ret, func(i int, j int) bool {
        return ret[i].Id < ret[j].Id
    })
    return ret
}
