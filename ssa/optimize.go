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

type Pass interface {
    Apply(*CFG)
}

type PassDescriptor struct {
    Pass Pass
    Name string
}

// Passes builds the optimization pipeline: distribution first, then the
// cleanup passes that sweep up the code it leaves behind.
func Passes(access AccessAnalysis, opts Options) []PassDescriptor {
    return []PassDescriptor {
        { Name: "Loop Distribution"              , Pass: LoopDistribute { Access: access, Options: opts } },
        { Name: "Trivial Dead Code Elimination"  , Pass: new(TDCE) },
        { Name: "Intermediate Block Merging"     , Pass: new(BlockMerge) },
    }
}

// Optimize runs the full pipeline over cfg.
func Optimize(cfg *CFG, access AccessAnalysis, opts Options) {
    for _, p := range Passes(access, opts) {
        p.Pass.Apply(cfg)
    }
}
