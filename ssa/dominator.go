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

/** This is an implementation of the Lengauer-Tarjan algorithm described in
 *  https://doi.org/10.1145%2F357062.357071
 */

package ssa

import (
    `sort`

    `github.com/oleiade/lane`
)

type _LtNode struct {
    semi     int
    node     *BasicBlock
    dom      *_LtNode
    label    *_LtNode
    parent   *_LtNode
    ancestor *_LtNode
    pred     []*_LtNode
    bucket   map[*_LtNode]struct{}
}

type _LengauerTarjan struct {
    nodes  []*_LtNode
    vertex map[int]int
}

func newLengauerTarjan() *_LengauerTarjan {
    return &_LengauerTarjan {
        vertex: make(map[int]int),
    }
}

type _LtDfsEdge struct {
    to   *BasicBlock
    from *_LtNode
}

func (self *_LengauerTarjan) dfs(bb *BasicBlock) {
    st := lane.NewStack()
    st.Push(_LtDfsEdge { to: bb })

    /* iterative DFS, the graphs we transform can nest deeply */
    for !st.Empty() {
        e := st.Pop().(_LtDfsEdge)
        i, ok := self.vertex[e.to.Id]

        /* already numbered, just record the edge */
        if ok {
            self.nodes[i].pred = append(self.nodes[i].pred, e.from)
            continue
        }

        /* number the vertex */
        i = len(self.nodes)
        self.vertex[e.to.Id] = i

        /* create a new node, the edge that numbers a vertex is its tree edge */
        q := &_LtNode {
            semi   : i,
            node   : e.to,
            parent : e.from,
            bucket : make(map[*_LtNode]struct{}),
        }

        /* add to node list */
        q.label = q
        self.nodes = append(self.nodes, q)

        /* the tree edge is also a graph edge */
        if e.from != nil {
            q.pred = append(q.pred, e.from)
        }

        /* dump the successors */
        tr := e.to.Term.Successors()
        ss := make([]*BasicBlock, 0, 2)
        for tr.Next() {
            ss = append(ss, tr.Block())
        }

        /* push in reverse, so they are visited in order */
        for j := len(ss) - 1; j >= 0; j-- {
            st.Push(_LtDfsEdge { to: ss[j], from: q })
        }
    }
}

func (self *_LengauerTarjan) eval(p *_LtNode) *_LtNode {
    if p.ancestor == nil {
        return p
    } else {
        self.compress(p)
        return p.label
    }
}

func (self *_LengauerTarjan) link(p *_LtNode, q *_LtNode) {
    q.ancestor = p
}

func (self *_LengauerTarjan) compress(p *_LtNode) {
    if p.ancestor.ancestor != nil {
        self.compress(p.ancestor)
        if p.label.semi > p.ancestor.label.semi { p.label = p.ancestor.label }
        p.ancestor = p.ancestor.ancestor
    }
}

func buildDominatorTree(cfg *CFG) {
    domby := make(map[int]*BasicBlock)
    domof := make(map[int][]*BasicBlock)

    /* Step 1: Carry out a depth-first search of the problem graph. Number the vertices
     * from 1 to n as they are reached during the search. Initialize the variables used
     * in succeeding steps. */
    lt := newLengauerTarjan()
    lt.dfs(cfg.Root)

    /* perform Step 2 and Step 3 simultaneously */
    for i := len(lt.nodes) - 1; i > 0; i-- {
        p := lt.nodes[i]
        q := (*_LtNode)(nil)

        /* Step 2: Compute the semidominators of all vertices by applying Theorem 4.
         * Carry out the computation vertex by vertex in decreasing order by number. */
        for _, v := range p.pred {
            q = lt.eval(v)
            p.semi = minint(p.semi, q.semi)
        }

        /* link the ancestor */
        lt.link(p.parent, p)
        lt.nodes[p.semi].bucket[p] = struct{}{}

        /* Step 3: Implicitly define the immediate dominator of each vertex by applying Corollary 1 */
        for v := range p.parent.bucket {
            if q = lt.eval(v); q.semi < v.semi {
                v.dom = q
            } else {
                v.dom = p.parent
            }
        }

        /* clear the bucket */
        for v := range p.parent.bucket {
            delete(p.parent.bucket, v)
        }
    }

    /* Step 4: Explicitly define the immediate dominator of each vertex, carrying out the
     * computation vertex by vertex in increasing order by number. */
    for _, p := range lt.nodes[1:] {
        if p.dom.node.Id != lt.nodes[p.semi].node.Id {
            p.dom = p.dom.dom
        }
    }

    /* map the dominator relations */
    for _, p := range lt.nodes[1:] {
        domby[p.node.Id] = p.dom.node
        domof[p.dom.node.Id] = append(domof[p.dom.node.Id], p.node)
    }

    /* sort the children by block ID, the iteration order must be reproducible */
    for _, v := range domof {
        sort.Slice(v, func(i int, j int) bool {
            return v[i].Id < v[j].Id
        })
    }

    /* replace the dominator maps */
    cfg.DominatedBy = domby
    cfg.DominatorOf = domof
}
