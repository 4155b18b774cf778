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
    `testing`

    `github.com/stretchr/testify/require`
)

// buildDiamondLoop builds a diamond inside a loop:
//
//     b0 -> b1 -> {b2, b3} -> b4 -> {b1, b5}
//
func buildDiamondLoop() (*CFG, []*BasicBlock) {
    b0 := &BasicBlock { Id: 0 }
    b1 := &BasicBlock { Id: 1 }
    b2 := &BasicBlock { Id: 2 }
    b3 := &BasicBlock { Id: 3 }
    b4 := &BasicBlock { Id: 4 }
    b5 := &BasicBlock { Id: 5 }

    c1 := mkreg(0, 1)
    c2 := mkreg(0, 2)

    b0.termBranch(b1)
    b1.termCondition(c1, b2, b3)
    b2.termBranch(b4)
    b3.termBranch(b4)
    b4.termCondition(c2, b1, b5)
    b5.termReturn()

    cfg := CreateCFG(b0)
    for _, bb := range []*BasicBlock { b0, b1, b2, b3, b4, b5 } {
        cfg.NoteBlock(bb)
    }
    return cfg, []*BasicBlock { b0, b1, b2, b3, b4, b5 }
}

func TestDominator_TreeConstruction(t *testing.T) {
    cfg, bb := buildDiamondLoop()

    require.Equal(t, bb[0], cfg.DominatedBy[1])
    require.Equal(t, bb[1], cfg.DominatedBy[2])
    require.Equal(t, bb[1], cfg.DominatedBy[3])
    require.Equal(t, bb[1], cfg.DominatedBy[4])
    require.Equal(t, bb[4], cfg.DominatedBy[5])

    require.True(t, cfg.Dominates(bb[1], bb[5]))
    require.True(t, cfg.Dominates(bb[4], bb[4]))
    require.False(t, cfg.Dominates(bb[2], bb[4]))

    /* the independent recomputation must agree */
    require.NoError(t, Verify(cfg))
}

func TestDominator_PostOrder(t *testing.T) {
    cfg, bb := buildDiamondLoop()
    rpo := cfg.PostOrder().Reversed()

    require.Len(t, rpo, 6)
    require.Equal(t, bb[0], rpo[0])
    require.Equal(t, bb[1], rpo[1])

    /* every block after the one dominating it */
    pos := make(map[int]int)
    for i, p := range rpo {
        pos[p.Id] = i
    }
    for _, p := range bb[1:] {
        require.Less(t, pos[cfg.DominatedBy[p.Id].Id], pos[p.Id])
    }
}

func TestDominator_IncrementalUpdates(t *testing.T) {
    cfg, bb := buildDiamondLoop()

    /* ChangeIDom must keep Dominates consistent */
    nb := cfg.CreateBlock()
    nb.termBranch(bb[5])
    cfg.AddDomNode(bb[4], nb)
    require.True(t, cfg.Dominates(bb[4], nb))

    cfg.ChangeIDom(nb, bb[0])
    require.True(t, cfg.Dominates(bb[0], nb))
    require.False(t, cfg.Dominates(bb[4], nb))
}
