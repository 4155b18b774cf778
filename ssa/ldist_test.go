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

    `github.com/brianvoe/gofakeit/v6`
    `github.com/google/go-cmp/cmp`
    `github.com/stretchr/testify/require`
)

func rr(r Reg) *Reg {
    p := new(Reg)
    *p = r
    return p
}

// _DualLoop is the canonical distribution candidate:
//
//     for i in 0..n {
//         A[i+1] = A[i] + B[i]    // dependence cycle on A
//         C[i]   = D[i] * E[i]    // independently vectorizable
//     }
//
// built as one single-block loop with a preheader and a return block.
type _DualLoop struct {
    cfg   *CFG
    entry *BasicBlock
    ph    *BasicBlock
    body  *BasicBlock
    exit  *BasicBlock
    regA  Reg
    regC  Reg
    loadA *IrLoad
    loadB *IrLoad
    loadD *IrLoad
    loadE *IrLoad
    stA   *IrStore
    stC   *IrStore
    lai   *StaticAccessInfo
}

type _StaticAnalysis struct {
    lai *StaticAccessInfo
}

func (self _StaticAnalysis) Info(_ *Loop) LoopAccessInfo {
    if self.lai == nil {
        return nil
    } else {
        return self.lai
    }
}

func buildDualLoop() *_DualLoop {
    regA := mkreg(1, 1)
    regB := mkreg(1, 2)
    regC := mkreg(1, 3)
    regD := mkreg(1, 4)
    regE := mkreg(1, 5)
    n    := mkreg(0, 6)
    i0   := mkreg(0, 7)
    one  := mkreg(0, 8)
    i    := mkreg(0, 9)
    pa   := mkreg(1, 10)
    v0   := mkreg(0, 11)
    pb   := mkreg(1, 12)
    v1   := mkreg(0, 13)
    v2   := mkreg(0, 14)
    pa1  := mkreg(1, 15)
    pd   := mkreg(1, 16)
    v3   := mkreg(0, 17)
    pe   := mkreg(1, 18)
    v4   := mkreg(0, 19)
    v5   := mkreg(0, 20)
    pc   := mkreg(1, 21)
    i2   := mkreg(0, 22)
    cc   := mkreg(0, 23)

    entry := &BasicBlock { Id: 0 }
    ph    := &BasicBlock { Id: 1 }
    body  := &BasicBlock { Id: 2 }
    exit  := &BasicBlock { Id: 3 }

    entry.Ins = []IrNode {
        &IrLoadArg { R: regA, Id: 0 },
        &IrLoadArg { R: regB, Id: 1 },
        &IrLoadArg { R: regC, Id: 2 },
        &IrLoadArg { R: regD, Id: 3 },
        &IrLoadArg { R: regE, Id: 4 },
        &IrLoadArg { R: n, Id: 5 },
        &IrConstInt { R: i0, V: 0 },
        &IrConstInt { R: one, V: 1 },
    }
    entry.termBranch(ph)
    ph.termBranch(body)

    loadA := &IrLoad { R: v0, Mem: pa, Size: 8 }
    loadB := &IrLoad { R: v1, Mem: pb, Size: 8 }
    loadD := &IrLoad { R: v3, Mem: pd, Size: 8 }
    loadE := &IrLoad { R: v4, Mem: pe, Size: 8 }
    stA   := &IrStore { R: v2, Mem: pa1, Size: 8 }
    stC   := &IrStore { R: v5, Mem: pc, Size: 8 }

    body.Phi = []*IrPhi {
        { R: i, V: map[*BasicBlock]*Reg { ph: rr(i0), body: rr(i2) } },
    }
    body.Ins = []IrNode {
        &IrLEA { R: pa, Mem: regA, Off: i },
        loadA,
        &IrLEA { R: pb, Mem: regB, Off: i },
        loadB,
        &IrBinaryExpr { R: v2, X: v0, Y: v1, Op: OpAdd },
        &IrLEA { R: pa1, Mem: regA, Off: i, Disp: 8 },
        stA,
        &IrLEA { R: pd, Mem: regD, Off: i },
        loadD,
        &IrLEA { R: pe, Mem: regE, Off: i },
        loadE,
        &IrBinaryExpr { R: v5, X: v3, Y: v4, Op: OpMul },
        &IrLEA { R: pc, Mem: regC, Off: i },
        stC,
        &IrBinaryExpr { R: i2, X: i, Y: one, Op: OpAdd },
        &IrBinaryExpr { R: cc, X: i2, Y: n, Op: OpCmpLt },
    }
    body.termCondition(cc, body, exit)
    exit.termReturn(i2)

    cfg := CreateCFG(entry)
    cfg.NoteBlock(entry)
    cfg.NoteBlock(ph)
    cfg.NoteBlock(body)
    cfg.NoteBlock(exit)

    lai := &StaticAccessInfo {
        Dependences: []Dependence {
            { Source: 0, Destination: 2, PossiblyBackward: true },
        },
        MemInstructions: []IrNode { loadA, loadB, stA, loadD, loadE, stC },
    }

    return &_DualLoop {
        cfg   : cfg,
        entry : entry,
        ph    : ph,
        body  : body,
        exit  : exit,
        regA  : regA,
        regC  : regC,
        loadA : loadA,
        loadB : loadB,
        loadD : loadD,
        loadE : loadE,
        stA   : stA,
        stC   : stC,
        lai   : lai,
    }
}

func countStores(lp *Loop) (n int) {
    for _, bb := range lp.Blocks {
        for _, v := range bb.Ins {
            if _, ok := v.(*IrStore); ok {
                n++
            }
        }
    }
    return
}

func countLoads(lp *Loop) (n int) {
    for _, bb := range lp.Blocks {
        for _, v := range bb.Ins {
            if _, ok := v.(*IrLoad); ok {
                n++
            }
        }
    }
    return
}

func TestLoopDistribute_SplitsIndependentComputations(t *testing.T) {
    dl := buildDualLoop()
    before := NumLoopsDistributed()

    pass := LoopDistribute {
        Access  : _StaticAnalysis { lai: dl.lai },
        Options : Options { Verify: true },
    }
    pass.Apply(dl.cfg)

    require.NoError(t, Verify(dl.cfg))
    require.Equal(t, before + 1, NumLoopsDistributed())

    /* the candidate became two sequential loops */
    nest := BuildLoopNest(dl.cfg)
    loops := nest.Innermost()
    require.Len(t, loops, 2)
    require.Len(t, nest.Top, 2)

    /* the original block anchors the last partition: the independent
     * computation stays, the cycle moved into the clone */
    anchor := nest.LoopOf(dl.body)
    require.NotNil(t, anchor)
    require.Contains(t, dl.body.Ins, dl.stC)
    require.NotContains(t, dl.body.Ins, dl.stA)
    require.NotContains(t, dl.body.Ins, dl.loadA)
    require.NotContains(t, dl.body.Ins, dl.loadB)
    require.Equal(t, 1, countStores(anchor))
    require.Equal(t, 2, countLoads(anchor))

    /* the clone carries the dependence cycle */
    var clone *Loop
    for _, lp := range loops {
        if lp != anchor {
            clone = lp
        }
    }
    require.NotNil(t, clone)
    require.Equal(t, 1, countStores(clone))
    require.Equal(t, 2, countLoads(clone))

    /* the cloned loop runs first: the entry now branches into its
     * preheader, and its exit continues into the anchor's preheader */
    sw, ok := dl.entry.Term.(*IrSwitch)
    require.True(t, ok)
    require.Equal(t, clone.Preheader(), sw.Ln)

    ex := clone.ExitingBlock()
    require.NotNil(t, ex)
    found := false
    for it := ex.Term.Successors(); it.Next(); {
        if it.Block() == dl.ph {
            found = true
        }
    }
    require.True(t, found)
}

func TestLoopDistribute_KeepsSingleCycleLoopsIntact(t *testing.T) {
    dl := buildDualLoop()

    /* every memory instruction sits under the same dependence cycle, there
     * is nothing to isolate */
    dl.lai.Dependences = []Dependence {
        { Source: 0, Destination: 5, PossiblyBackward: true },
    }
    dl.exit.Term = &IrReturn{}

    before := dl.cfg.String()
    pass := LoopDistribute { Access: _StaticAnalysis { lai: dl.lai } }
    pass.Apply(dl.cfg)

    if diff := cmp.Diff(before, dl.cfg.String()); diff != "" {
        t.Fatalf("graph modified without distributing (-before +after):\n%s", diff)
    }
}

func TestLoopDistribute_SkipsVectorizableLoops(t *testing.T) {
    dl := buildDualLoop()
    dl.lai.VectorizeMemory = true

    before := dl.cfg.String()
    pass := LoopDistribute { Access: _StaticAnalysis { lai: dl.lai } }
    pass.Apply(dl.cfg)

    require.Equal(t, before, dl.cfg.String())
}

func TestLoopDistribute_SkipsUnanalyzableLoops(t *testing.T) {
    dl := buildDualLoop()

    before := dl.cfg.String()
    pass := LoopDistribute { Access: _StaticAnalysis{} }
    pass.Apply(dl.cfg)

    require.Equal(t, before, dl.cfg.String())
}

func TestLoopDistribute_VersionsUnderRuntimeChecks(t *testing.T) {
    dl := buildDualLoop()

    /* the accesses through A and C cannot be proven disjoint statically */
    dl.lai.PointerCheck = RuntimePointerCheck {
        Ptrs    : []Reg { dl.regA, dl.regC },
        IsWrite : []bool { true, true },
    }
    dl.lai.AccessLists = map[Reg][2][]IrNode {
        dl.regA: { { dl.loadA }, { dl.stA } },
        dl.regC: { nil, { dl.stC } },
    }

    pass := LoopDistribute {
        Access  : _StaticAnalysis { lai: dl.lai },
        Options : Options { Verify: true },
    }
    pass.Apply(dl.cfg)
    require.NoError(t, Verify(dl.cfg))

    /* two distributed loops plus the fallback */
    nest := BuildLoopNest(dl.cfg)
    require.Len(t, nest.Innermost(), 3)

    /* the old preheader turned into the guard: condition true enters the
     * distributed chain, false enters the fallback */
    guard, ok := dl.ph.Term.(*IrSwitch)
    require.True(t, ok)
    require.Len(t, guard.Br, 1)
    require.NotEqual(t, Rz, guard.V)

    /* the check itself was emitted into the guard block */
    require.NotEmpty(t, dl.ph.Ins)

    /* the induction variable flowing into the return merges the two
     * versions through a Phi in the exit block */
    require.Len(t, dl.exit.Phi, 1)
    ret, ok := dl.exit.Term.(*IrReturn)
    require.True(t, ok)
    require.Equal(t, dl.exit.Phi[0].R, ret.R[0])
}

// _ForwardingLoop extends the dual loop with a store-to-load forwarding pair
// inside the dependence cycle:
//
//     for i in 0..n {
//         A[i+1] = A[i] + 1      // cycle on A
//         B[i]   = A[i+2] + 1    // forwarded from the store above
//         C[i+1] = C[i] * C[i]   // independently vectorizable
//     }
//
type _ForwardingLoop struct {
    cfg    *CFG
    entry  *BasicBlock
    ph     *BasicBlock
    body   *BasicBlock
    exit   *BasicBlock
    loadA2 *IrLoad
    stA    *IrStore
    stB    *IrStore
    lai    *StaticAccessInfo
}

func buildForwardingLoop() *_ForwardingLoop {
    regA := mkreg(1, 1)
    regB := mkreg(1, 2)
    regC := mkreg(1, 3)
    n    := mkreg(0, 4)
    i0   := mkreg(0, 5)
    one  := mkreg(0, 6)
    i    := mkreg(0, 7)
    pa   := mkreg(1, 8)
    v0   := mkreg(0, 9)
    v1   := mkreg(0, 10)
    pa1  := mkreg(1, 11)
    pa2  := mkreg(1, 12)
    v2   := mkreg(0, 13)
    v3   := mkreg(0, 14)
    pb   := mkreg(1, 15)
    pcc  := mkreg(1, 16)
    v4   := mkreg(0, 17)
    v5   := mkreg(0, 18)
    pc2  := mkreg(1, 19)
    i2   := mkreg(0, 20)
    cc   := mkreg(0, 21)

    entry := &BasicBlock { Id: 0 }
    ph    := &BasicBlock { Id: 1 }
    body  := &BasicBlock { Id: 2 }
    exit  := &BasicBlock { Id: 3 }

    entry.Ins = []IrNode {
        &IrLoadArg { R: regA, Id: 0 },
        &IrLoadArg { R: regB, Id: 1 },
        &IrLoadArg { R: regC, Id: 2 },
        &IrLoadArg { R: n, Id: 3 },
        &IrConstInt { R: i0, V: 0 },
        &IrConstInt { R: one, V: 1 },
    }
    entry.termBranch(ph)
    ph.termBranch(body)

    loadA  := &IrLoad { R: v0, Mem: pa, Size: 8 }
    stA    := &IrStore { R: v1, Mem: pa1, Size: 8 }
    loadA2 := &IrLoad { R: v2, Mem: pa2, Size: 8 }
    stB    := &IrStore { R: v3, Mem: pb, Size: 8 }
    loadC  := &IrLoad { R: v4, Mem: pcc, Size: 8 }
    stC    := &IrStore { R: v5, Mem: pc2, Size: 8 }

    body.Phi = []*IrPhi {
        { R: i, V: map[*BasicBlock]*Reg { ph: rr(i0), body: rr(i2) } },
    }
    body.Ins = []IrNode {
        &IrLEA { R: pa, Mem: regA, Off: i },
        loadA,
        &IrBinaryExpr { R: v1, X: v0, Y: one, Op: OpAdd },
        &IrLEA { R: pa1, Mem: regA, Off: i, Disp: 8 },
        stA,
        &IrLEA { R: pa2, Mem: regA, Off: i, Disp: 16 },
        loadA2,
        &IrBinaryExpr { R: v3, X: v2, Y: one, Op: OpAdd },
        &IrLEA { R: pb, Mem: regB, Off: i },
        stB,
        &IrLEA { R: pcc, Mem: regC, Off: i },
        loadC,
        &IrBinaryExpr { R: v5, X: v4, Y: v4, Op: OpMul },
        &IrLEA { R: pc2, Mem: regC, Off: i, Disp: 8 },
        stC,
        &IrBinaryExpr { R: i2, X: i, Y: one, Op: OpAdd },
        &IrBinaryExpr { R: cc, X: i2, Y: n, Op: OpCmpLt },
    }
    body.termCondition(cc, body, exit)
    exit.termReturn(i2)

    cfg := CreateCFG(entry)
    cfg.NoteBlock(entry)
    cfg.NoteBlock(ph)
    cfg.NoteBlock(body)
    cfg.NoteBlock(exit)

    lai := &StaticAccessInfo {
        Dependences: []Dependence {
            { Source: 0, Destination: 1, PossiblyBackward: true },
            { Source: 1, Destination: 2 },
            { Source: 2, Destination: 3, PossiblyBackward: true },
        },
        MemInstructions: []IrNode { loadA, stA, loadA2, stB, loadC, stC },
        PointerCheck: RuntimePointerCheck {
            Ptrs    : []Reg { regA, regB, regC },
            IsWrite : []bool { true, true, true },
        },
        AccessLists: map[Reg][2][]IrNode {
            regA: { { loadA, loadA2 }, { stA } },
            regB: { nil, { stB } },
            regC: { { loadC }, { stC } },
        },
    }

    return &_ForwardingLoop {
        cfg    : cfg,
        entry  : entry,
        ph     : ph,
        body   : body,
        exit   : exit,
        loadA2 : loadA2,
        stA    : stA,
        stB    : stB,
        lai    : lai,
    }
}

func TestLoopDistribute_AnnotatesForwardingCandidates(t *testing.T) {
    fl := buildForwardingLoop()

    pass := LoopDistribute {
        Access  : _StaticAnalysis { lai: fl.lai },
        Options : Options { Verify: true, CheckStoreToLoadForwarding: true },
    }
    pass.Apply(fl.cfg)
    require.NoError(t, Verify(fl.cfg))

    /* two distributed loops plus the fallback */
    nest := BuildLoopNest(fl.cfg)
    require.Len(t, nest.Innermost(), 3)

    /* identify the fallback loop behind the guard's false edge */
    guard, ok := fl.ph.Term.(*IrSwitch)
    require.True(t, ok)

    var fallback *Loop
    for _, lp := range nest.Innermost() {
        if lp.Preheader() == guard.Ln {
            fallback = lp
        }
    }
    require.NotNil(t, fallback)

    /* the fallback was cloned before annotating, it stays clean */
    for _, bb := range fallback.Blocks {
        for _, v := range bb.Ins {
            switch p := v.(type) {
                case *IrLoad  : require.Empty(t, p.NoAlias); require.Empty(t, p.AliasScope)
                case *IrStore : require.Empty(t, p.NoAlias); require.Empty(t, p.AliasScope)
            }
        }
    }

    /* exactly the forwarded load carries the no-alias scope and exactly the
     * unrelated store of the cycle carries the matching alias scope; the
     * forwarding store itself and everything acyclic stay unannotated */
    loads, stores := 0, 0
    for _, lp := range nest.Innermost() {
        for _, bb := range lp.Blocks {
            for _, v := range bb.Ins {
                switch p := v.(type) {
                    case *IrLoad: {
                        require.Empty(t, p.AliasScope)
                        if len(p.NoAlias) != 0 {
                            loads++
                        }
                    }
                    case *IrStore: {
                        require.Empty(t, p.NoAlias)
                        if len(p.AliasScope) != 0 {
                            stores++
                        }
                    }
                }
            }
        }
    }
    require.Equal(t, 1, loads)
    require.Equal(t, 1, stores)
}

func TestLoopDistribute_SkipsAnnotationWithoutForwarding(t *testing.T) {
    dl := buildDualLoop()
    dl.lai.PointerCheck = RuntimePointerCheck {
        Ptrs    : []Reg { dl.regA, dl.regC },
        IsWrite : []bool { true, true },
    }
    dl.lai.AccessLists = map[Reg][2][]IrNode {
        dl.regA: { { dl.loadA }, { dl.stA } },
        dl.regC: { nil, { dl.stC } },
    }

    pass := LoopDistribute {
        Access  : _StaticAnalysis { lai: dl.lai },
        Options : Options { Verify: true },
    }
    pass.Apply(dl.cfg)
    require.NoError(t, Verify(dl.cfg))

    /* the checks only separate the partitions, they prove nothing about the
     * instructions within one: no scope may appear anywhere */
    for it := dl.cfg.PostOrder(); it.Next(); {
        for _, v := range it.Block().Ins {
            switch p := v.(type) {
                case *IrLoad  : require.Empty(t, p.NoAlias); require.Empty(t, p.AliasScope)
                case *IrStore : require.Empty(t, p.NoAlias); require.Empty(t, p.AliasScope)
            }
        }
    }
}

func TestLoopDistribute_RequiresDedicatedExit(t *testing.T) {
    dl := buildDualLoop()
    before := NumLoopsDistributed()

    /* side path around the loop, straight into the exit block */
    c0 := mkreg(0, 30)
    side := &BasicBlock { Id: 4 }
    dl.entry.Term = &IrSwitch { V: c0, Ln: dl.ph, Br: map[int64]*BasicBlock { 1: side } }
    side.addPred(dl.entry)
    side.termBranch(dl.exit)
    dl.cfg.NoteBlock(dl.entry)
    dl.cfg.NoteBlock(side)
    dl.cfg.Rebuild()
    require.NoError(t, Verify(dl.cfg))

    dl.lai.PointerCheck = RuntimePointerCheck {
        Ptrs    : []Reg { dl.regA, dl.regC },
        IsWrite : []bool { true, true },
    }
    dl.lai.AccessLists = map[Reg][2][]IrNode {
        dl.regA: { { dl.loadA }, { dl.stA } },
        dl.regC: { nil, { dl.stC } },
    }

    /* the exit keeps a path from outside the loop, nothing may change */
    snapshot := dl.cfg.String()
    pass := LoopDistribute {
        Access  : _StaticAnalysis { lai: dl.lai },
        Options : Options { Verify: true },
    }
    pass.Apply(dl.cfg)

    require.Equal(t, before, NumLoopsDistributed())
    if diff := cmp.Diff(snapshot, dl.cfg.String()); diff != "" {
        t.Fatalf("graph modified without distributing (-before +after):\n%s", diff)
    }
}

func TestLoopDistribute_MergesPartitionsSharingLoads(t *testing.T) {
    regX := mkreg(1, 1)
    regA := mkreg(1, 2)
    regC := mkreg(1, 3)
    regY := mkreg(1, 4)
    regB := mkreg(1, 5)
    n    := mkreg(0, 6)
    i0   := mkreg(0, 7)
    one  := mkreg(0, 8)
    i    := mkreg(0, 9)
    px   := mkreg(1, 10)
    v0   := mkreg(0, 11)
    v1   := mkreg(0, 12)
    pa   := mkreg(1, 13)
    pcx  := mkreg(1, 14)
    py   := mkreg(1, 15)
    v3   := mkreg(0, 16)
    v4   := mkreg(0, 17)
    pb   := mkreg(1, 18)
    i2   := mkreg(0, 19)
    cc   := mkreg(0, 20)

    entry := &BasicBlock { Id: 0 }
    ph    := &BasicBlock { Id: 1 }
    body  := &BasicBlock { Id: 2 }
    exit  := &BasicBlock { Id: 3 }

    entry.Ins = []IrNode {
        &IrLoadArg { R: regX, Id: 0 },
        &IrLoadArg { R: regA, Id: 1 },
        &IrLoadArg { R: regC, Id: 2 },
        &IrLoadArg { R: regY, Id: 3 },
        &IrLoadArg { R: regB, Id: 4 },
        &IrLoadArg { R: n, Id: 5 },
        &IrConstInt { R: i0, V: 0 },
        &IrConstInt { R: one, V: 1 },
    }
    entry.termBranch(ph)
    ph.termBranch(body)

    /* X[i] feeds both the A cycle and the independent C store, the Y cycle
     * has a load of its own:
     *
     *     A[i+1] = X[i] + 1
     *     C[i]   = X[i]
     *     B[i+1] = Y[i] + 1
     */
    loadX := &IrLoad { R: v0, Mem: px, Size: 8 }
    stA   := &IrStore { R: v1, Mem: pa, Size: 8 }
    stC   := &IrStore { R: v0, Mem: pcx, Size: 8 }
    loadY := &IrLoad { R: v3, Mem: py, Size: 8 }
    stB   := &IrStore { R: v4, Mem: pb, Size: 8 }

    body.Phi = []*IrPhi {
        { R: i, V: map[*BasicBlock]*Reg { ph: rr(i0), body: rr(i2) } },
    }
    body.Ins = []IrNode {
        &IrLEA { R: px, Mem: regX, Off: i },
        loadX,
        &IrBinaryExpr { R: v1, X: v0, Y: one, Op: OpAdd },
        &IrLEA { R: pa, Mem: regA, Off: i, Disp: 8 },
        stA,
        &IrLEA { R: pcx, Mem: regC, Off: i },
        stC,
        &IrLEA { R: py, Mem: regY, Off: i },
        loadY,
        &IrBinaryExpr { R: v4, X: v3, Y: one, Op: OpAdd },
        &IrLEA { R: pb, Mem: regB, Off: i, Disp: 8 },
        stB,
        &IrBinaryExpr { R: i2, X: i, Y: one, Op: OpAdd },
        &IrBinaryExpr { R: cc, X: i2, Y: n, Op: OpCmpLt },
    }
    body.termCondition(cc, body, exit)
    exit.termReturn(i2)

    cfg := CreateCFG(entry)
    cfg.NoteBlock(entry)
    cfg.NoteBlock(ph)
    cfg.NoteBlock(body)
    cfg.NoteBlock(exit)

    lai := &StaticAccessInfo {
        Dependences: []Dependence {
            { Source: 0, Destination: 1, PossiblyBackward: true },
            { Source: 3, Destination: 4, PossiblyBackward: true },
        },
        MemInstructions: []IrNode { loadX, stA, stC, loadY, stB },
    }

    before := NumLoopsDistributed()
    pass := LoopDistribute {
        Access  : _StaticAnalysis { lai: lai },
        Options : Options { Verify: true },
    }
    pass.Apply(cfg)
    require.NoError(t, Verify(cfg))
    require.Equal(t, before + 1, NumLoopsDistributed())

    /* the C store pulls X[i] into its closure, so its partition must fold
     * into the A cycle instead of duplicating the load */
    nest := BuildLoopNest(cfg)
    loops := nest.Innermost()
    require.Len(t, loops, 3)

    /* every load lives in exactly one distributed loop */
    nl, ns := 0, 0
    sizes := make(map[int]int)
    for _, lp := range loops {
        nl += countLoads(lp)
        ns += countStores(lp)
        sizes[countStores(lp)]++
    }
    require.Equal(t, 2, nl)
    require.Equal(t, 3, ns)

    /* one loop carries both the A and C stores, one the B store, and the
     * anchor keeps only the escaping induction value */
    require.Equal(t, map[int]int { 0: 1, 1: 1, 2: 1 }, sizes)
}

func TestLoopDistribute_FoldsConditionalStores(t *testing.T) {
    build := func() (*CFG, *StaticAccessInfo) {
        regA := mkreg(1, 1)
        regC := mkreg(1, 2)
        k    := mkreg(0, 3)
        cf   := mkreg(0, 4)
        n    := mkreg(0, 5)
        i0   := mkreg(0, 6)
        one  := mkreg(0, 7)
        i    := mkreg(0, 8)
        pa   := mkreg(1, 9)
        v0   := mkreg(0, 10)
        v1   := mkreg(0, 11)
        pa1  := mkreg(1, 12)
        pcc  := mkreg(1, 13)
        i2   := mkreg(0, 14)
        cc   := mkreg(0, 15)

        entry := &BasicBlock { Id: 0 }
        ph    := &BasicBlock { Id: 1 }
        hh    := &BasicBlock { Id: 2 }
        tt    := &BasicBlock { Id: 3 }
        ll    := &BasicBlock { Id: 4 }
        exit  := &BasicBlock { Id: 5 }

        entry.Ins = []IrNode {
            &IrLoadArg { R: regA, Id: 0 },
            &IrLoadArg { R: regC, Id: 1 },
            &IrLoadArg { R: k, Id: 2 },
            &IrLoadArg { R: cf, Id: 3 },
            &IrLoadArg { R: n, Id: 4 },
            &IrConstInt { R: i0, V: 0 },
            &IrConstInt { R: one, V: 1 },
        }
        entry.termBranch(ph)
        ph.termBranch(hh)

        /* the A cycle runs unconditionally, the C store only under the flag:
         *
         *     A[i+1] = A[i] + 1
         *     if flag { C[i] = k }
         */
        loadA := &IrLoad { R: v0, Mem: pa, Size: 8 }
        stA   := &IrStore { R: v1, Mem: pa1, Size: 8 }
        stC   := &IrStore { R: k, Mem: pcc, Size: 8 }

        hh.Phi = []*IrPhi {
            { R: i, V: map[*BasicBlock]*Reg { ph: rr(i0), ll: rr(i2) } },
        }
        hh.Ins = []IrNode {
            &IrLEA { R: pa, Mem: regA, Off: i },
            loadA,
            &IrBinaryExpr { R: v1, X: v0, Y: one, Op: OpAdd },
            &IrLEA { R: pa1, Mem: regA, Off: i, Disp: 8 },
            stA,
        }
        hh.termCondition(cf, tt, ll)

        tt.Ins = []IrNode {
            &IrLEA { R: pcc, Mem: regC, Off: i },
            stC,
        }
        tt.termBranch(ll)

        ll.Ins = []IrNode {
            &IrBinaryExpr { R: i2, X: i, Y: one, Op: OpAdd },
            &IrBinaryExpr { R: cc, X: i2, Y: n, Op: OpCmpLt },
        }
        ll.termCondition(cc, hh, exit)
        exit.termReturn(i2)

        cfg := CreateCFG(entry)
        for _, bb := range []*BasicBlock { entry, ph, hh, tt, ll, exit } {
            cfg.NoteBlock(bb)
        }

        lai := &StaticAccessInfo {
            Dependences: []Dependence {
                { Source: 0, Destination: 1, PossiblyBackward: true },
            },
            MemInstructions: []IrNode { loadA, stA, stC },
        }
        return cfg, lai
    }

    /* by default the predicated store folds back into the cycle, leaving a
     * single partition and nothing to distribute */
    cfg, lai := build()
    before := NumLoopsDistributed()
    snapshot := cfg.String()

    pass := LoopDistribute { Access: _StaticAnalysis { lai: lai } }
    pass.Apply(cfg)
    require.Equal(t, before, NumLoopsDistributed())
    if diff := cmp.Diff(snapshot, cfg.String()); diff != "" {
        t.Fatalf("graph modified without distributing (-before +after):\n%s", diff)
    }

    /* with the fold suppressed the conditional store becomes its own loop */
    cfg, lai = build()
    pass = LoopDistribute {
        Access  : _StaticAnalysis { lai: lai },
        Options : Options { Verify: true, DistributeNonIfConvertible: true },
    }
    pass.Apply(cfg)
    require.NoError(t, Verify(cfg))
    require.Equal(t, before + 1, NumLoopsDistributed())

    nest := BuildLoopNest(cfg)
    loops := nest.Innermost()
    require.Len(t, loops, 2)

    /* the cycle keeps its load and store, the predicated store runs alone */
    for _, lp := range loops {
        require.Equal(t, 1, countStores(lp))
        if countLoads(lp) == 0 {
            require.Len(t, lp.Blocks, 3)
        } else {
            require.Equal(t, 1, countLoads(lp))
        }
    }
}

func TestRuntimeChecks_PairSelection(t *testing.T) {
    p1 := mkreg(1, 1)
    p2 := mkreg(1, 2)
    p3 := mkreg(1, 3)
    st := &IrStore { R: mkreg(0, 4), Mem: p1, Size: 8 }
    ld := &IrLoad { R: mkreg(0, 5), Mem: p2, Size: 8 }

    lai := &StaticAccessInfo {
        PointerCheck: RuntimePointerCheck {
            Ptrs    : []Reg { p1, p2, p3 },
            IsWrite : []bool { true, false, false },
        },
        AccessLists: map[Reg][2][]IrNode {
            p1: { nil, { st } },
            p2: { { ld }, nil },
        },
    }

    /* p1 and p2 share a partition, p3 sits elsewhere: only the write pair
     * crossing partitions needs a check */
    em := newRuntimeCheckEmitter(nil, nil, nil, lai)
    pairs := em.needsRuntimeChecks([]int { 0, 0, 1 }, newInstSet())
    require.Equal(t, [][2]int { { 0, 2 } }, pairs)

    /* a forwarding sensitive pointer forces the check even within one
     * partition */
    fwd := newInstSet()
    fwd.add(ld)
    pairs = em.needsRuntimeChecks([]int { 0, 0, 1 }, fwd)
    require.Equal(t, [][2]int { { 0, 1 }, { 0, 2 } }, pairs)
}

func TestPartitioning_RandomDependenceStreams(t *testing.T) {
    gofakeit.Seed(12345)

    for trial := 0; trial < 100; trial++ {
        nb := gofakeit.Number(2, 16)
        insts := make([]IrNode, nb)
        for i := range insts {
            if gofakeit.Bool() {
                insts[i] = &IrLoad { R: mkreg(0, i + 1), Mem: mkreg(1, 100 + i), Size: 8 }
            } else {
                insts[i] = &IrStore { R: mkreg(0, i + 1), Mem: mkreg(1, 100 + i), Size: 8 }
            }
        }

        /* random dependence set, sources precede destinations */
        var deps []Dependence
        for i := 0; i < gofakeit.Number(0, nb); i++ {
            s := gofakeit.Number(0, nb - 2)
            d := gofakeit.Number(s + 1, nb - 1)
            deps = append(deps, Dependence { Source: s, Destination: d, PossiblyBackward: gofakeit.Bool() })
        }

        /* seed the partitions the way the pass does */
        pc := newInstPartitionContainer(nil, nil, nil)
        active := 0
        cyclic := make([]bool, nb)
        for i, v := range newMemoryDeps(insts, deps).deps {
            cyclic[i] = active > 0 || v.delta > 0
            if cyclic[i] {
                pc.addToCyclicPartition(v.ins)
            } else {
                pc.addToNewNonCyclicPartition(v.ins)
            }
            active += v.delta
        }
        require.Zero(t, active)

        /* every instruction lands in exactly one partition, in order */
        idx := 0
        for _, p := range pc.parts {
            p.set.each(func(v IrNode) {
                require.Less(t, idx, nb)
                require.Equal(t, insts[idx], v)
                require.Equal(t, cyclic[idx], p.cycle)
                idx++
            })
        }
        require.Equal(t, nb, idx)

        /* merging never leaves two acyclic partitions adjacent */
        pc.mergeAdjacentNonCyclic()
        for i := 1; i < len(pc.parts); i++ {
            require.True(t, pc.parts[i].cycle || pc.parts[i - 1].cycle)
        }

        /* and keeps the order intact */
        idx = 0
        for _, p := range pc.parts {
            p.set.each(func(v IrNode) {
                require.Equal(t, insts[idx], v)
                idx++
            })
        }
        require.Equal(t, nb, idx)
    }
}

func TestMemoryDeps_DeltaAccumulation(t *testing.T) {
    a := &IrLoad { R: mkreg(0, 1), Mem: mkreg(1, 2), Size: 8 }
    b := &IrLoad { R: mkreg(0, 3), Mem: mkreg(1, 4), Size: 8 }
    c := &IrStore { R: mkreg(0, 1), Mem: mkreg(1, 5), Size: 8 }

    md := newMemoryDeps(
        []IrNode { a, b, c },
        []Dependence {
            { Source: 0, Destination: 2, PossiblyBackward: true },
            { Source: 1, Destination: 2 },
        },
    )

    require.Equal(t, 1, md.deps[0].delta)
    require.Equal(t, 0, md.deps[1].delta)
    require.Equal(t, -1, md.deps[2].delta)
    require.Equal(t, a, md.deps[0].ins)
}
