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
    `github.com/klauspost/cpuid/v2`
    `go.uber.org/atomic`
    `go.uber.org/zap`
)

// Options controls the behaviour of the loop distribution pass.
type Options struct {
    // Verify recomputes the dominator tree after every distributed loop and
    // cross-checks it against the incrementally maintained one.
    Verify bool

    // DistributeNonIfConvertible keeps acyclic partitions whose stores only
    // execute conditionally as separate loops instead of folding them back
    // into their cyclic neighbours.
    DistributeNonIfConvertible bool

    // CheckStoreToLoadForwarding protects store-to-load forwarding pairs
    // with runtime checks and alias scopes.
    CheckStoreToLoadForwarding bool

    // RequireVectorISA skips distribution entirely on hosts without vector
    // extensions, where the isolated loops would not vectorize anyway.
    RequireVectorISA bool

    // Logger receives the per-loop decision trace. Nil disables it.
    Logger *zap.Logger
}

var numLoopsDistributed = atomic.NewInt64(0)

// NumLoopsDistributed reports how many loops were distributed since process
// start.
func NumLoopsDistributed() int64 {
    return numLoopsDistributed.Load()
}

// LoopDistribute splits innermost loops into a sequence of loops, isolating
// the dependence cycles from the parts that can vectorize on their own. When
// static analysis cannot prove the accessed ranges disjoint the distributed
// chain runs under a runtime check, with the unmodified loop as fallback.
type LoopDistribute struct {
    Access  AccessAnalysis
    Options Options
}

func (self LoopDistribute) Apply(cfg *CFG) {
    log := self.Options.Logger
    if log == nil {
        log = zap.NewNop()
    }

    /* distribution only pays off if the isolated loops vectorize */
    if self.Options.RequireVectorISA && !cpuid.CPU.Supports(cpuid.AVX2) {
        log.Debug("skipping loop distribution, no vector ISA on this host")
        return
    }

    /* no analysis, no distribution */
    if self.Access == nil {
        return
    }

    /* collect the candidates up front, distribution adds new loops that
     * must not be revisited */
    nest := BuildLoopNest(cfg)
    loops := nest.Innermost()

    /* process every innermost loop */
    for _, lp := range loops {
        d := _LoopDistributor {
            cfg    : cfg,
            log    : log,
            nest   : nest,
            opts   : &self.Options,
            access : self.Access,
        }
        if d.processLoop(lp) {
            numLoopsDistributed.Inc()
            if self.Options.Verify {
                assertWellFormed(cfg)
                assertNestWellFormed(cfg, nest)
            }
        }
    }
}

type _LoopDistributor struct {
    cfg    *CFG
    log    *zap.Logger
    nest   *LoopNest
    opts   *Options
    access AccessAnalysis
}

func (self *_LoopDistributor) fail(lp *Loop, why string) bool {
    self.log.Debug("not distributing loop",
        zap.Int("header", lp.Header.Id),
        zap.String("reason", why))
    return false
}

func (self *_LoopDistributor) processLoop(lp *Loop) bool {
    self.log.Debug("considering loop for distribution", zap.Int("header", lp.Header.Id))

    /* the rewiring relies on the canonical shape */
    if lp.Preheader() == nil {
        return self.fail(lp, "loop does not have a preheader")
    }
    if lp.ExitingBlock() == nil || lp.ExitBlock() == nil {
        return self.fail(lp, "loop does not have a single exit")
    }

    /* the exit must be dedicated: versioning and distribution add edges
     * into it and only ever rewrite Phi paths coming from the loop */
    for _, p := range lp.ExitBlock().Pred {
        if !lp.Contains(p) {
            return self.fail(lp, "loop exit is not dedicated")
        }
    }

    /* consult the access analysis */
    lai := self.access.Info(lp)
    if lai == nil {
        return self.fail(lp, "no memory access information")
    }
    if lai.CanVectorizeMemory() {
        return self.fail(lp, "memory operations are already safe for vectorization")
    }

    /* unclassified dependences make every split unsound */
    deps := lai.InterestingDependences()
    if deps == nil {
        return self.fail(lp, "cannot classify the memory dependences")
    }

    /* values live across the loop boundary are pinned into their own
     * partitions so the merge heuristics see them */
    insts := lai.MemoryInstructions()
    outs := findDefsUsedOutsideOfLoop(self.cfg, lp)

    /* seed the partitions from the dependence stream: instructions under an
     * active unsafe dependence share a cyclic partition, the rest start out
     * alone */
    pc := newInstPartitionContainer(self.cfg, self.nest, lp)
    active := 0
    for _, d := range newMemoryDeps(insts, deps).deps {
        if active > 0 || d.delta > 0 {
            pc.addToCyclicPartition(d.ins)
        } else {
            pc.addToNewNonCyclicPartition(d.ins)
        }
        active += d.delta
    }
    for _, v := range outs {
        pc.addToNewNonCyclicPartition(v)
    }

    self.log.Debug("seed partitions",
        zap.Int("count", pc.size()),
        zap.String("table", pc.String()))
    if pc.size() < 2 {
        return self.fail(lp, "cannot isolate unsafe dependences")
    }

    /* run the merge heuristics on the seeds */
    pc.mergeBeforePopulating(self.opts.DistributeNonIfConvertible)
    self.log.Debug("merged partitions", zap.Int("count", pc.size()))
    if pc.size() < 2 {
        return self.fail(lp, "single partition after merging")
    }

    /* grow each partition into a self-contained loop body */
    pc.populateUsedSet()

    /* cloning a load into two loops would let it move across the other
     * memory operations, merge until every load is unique */
    if pc.mergeToAvoidDuplicatedLoads() {
        self.log.Debug("merged to keep loads unique", zap.Int("count", pc.size()))
        if pc.size() < 2 {
            return self.fail(lp, "single partition after load deduplication")
        }
    }

    /* the pointer to partition map needs the final assignment */
    pc.setupPartitionIdOnInstructions()

    /* make sure the preheader is empty and has a single predecessor, the
     * cloned chain splices in right before it */
    ph := lp.Preheader()
    if len(ph.Phi) != 0 || len(ph.Ins) != 0 || len(ph.Pred) != 1 {
        ph = self.cfg.SplitBlock(ph)
        self.nest.AddBlockToParents(ph, lp)
    }

    /* store-to-load forwarding pairs whose distance distribution would
     * stretch, protected by checks and scopes when enabled */
    fwd := newInstSet()
    if self.opts.CheckStoreToLoadForwarding {
        for _, d := range deps {
            if !d.PossiblyBackward {
                if _, st := insts[d.Source].(*IrStore); st {
                    if _, ld := insts[d.Destination].(*IrLoad); ld {
                        fwd.add(insts[d.Source])
                        fwd.add(insts[d.Destination])
                    }
                }
            }
        }
    }

    /* version the loop under a runtime check if the partitioning is not
     * provably safe statically */
    if rt := lai.RuntimePointerCheck(); rt != nil && len(rt.Ptrs) != 0 {
        em := newRuntimeCheckEmitter(self.cfg, self.nest, lp, lai)
        pp := pc.computePartitionSetForPointers(lai)

        if pairs := em.needsRuntimeChecks(pp, fwd); len(pairs) != 0 {
            self.log.Debug("versioning loop under runtime checks", zap.Int("pairs", len(pairs)))
            em.versionLoop(pairs, outs)

            /* forwarding pointers are covered by the checks now, mark them
             * before cloning so the scopes propagate into every distributed
             * loop; without forwarding candidates there is nothing the
             * checks would prove about instructions of one partition */
            if fwd.size() != 0 {
                pc.annotateNoAlias(fwd)
            }
        }
    }

    /* the structural rewrite: one loop per partition, executed in sequence,
     * each stripped down to its own instruction set */
    pc.cloneLoops()
    pc.removeUnusedInsts()

    self.log.Debug("distributed loop",
        zap.Int("header", lp.Header.Id),
        zap.Int("loops", pc.size()))
    return true
}
