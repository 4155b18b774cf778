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

// TDCE removes trivial dead-code such as unused register definations from CFG.
type TDCE struct{}

func (TDCE) Apply(cfg *CFG) {
    for {
        done := true
        decl := make(map[Reg]struct{})

        /* Phase 1: Mark all the definations */
        cfg.PostOrder().ForEach(func(bb *BasicBlock) {
            for _, v := range bb.Phi {
                for _, r := range v.Definitions() {
                    decl[*r] = struct{}{}
                }
            }
            for _, v := range bb.Ins {
                for _, r := range definitions(v) {
                    decl[*r] = struct{}{}
                }
            }
            for _, r := range definitions(bb.Term) {
                decl[*r] = struct{}{}
            }
        })

        /* Phase 2: Find all register usages */
        cfg.PostOrder().ForEach(func(bb *BasicBlock) {
            for _, v := range bb.Phi {
                for _, r := range v.Usages() {
                    delete(decl, *r)
                }
            }
            for _, v := range bb.Ins {
                for _, r := range usages(v) {
                    delete(decl, *r)
                }
            }
            for _, r := range usages(bb.Term) {
                delete(decl, *r)
            }
        })

        /* Phase 3: Replace all unused declarations with zero registers */
        cfg.PostOrder().ForEach(func(bb *BasicBlock) {
            var ok bool

            /* replace unused Phi assigments with zero registers */
            for _, v := range bb.Phi {
                for _, r := range v.Definitions() {
                    if _, ok = decl[*r]; ok && r.kind() != _K_zero {
                        *r, done = r.Zero(), false
                    }
                }
            }

            /* replace unused instruction assigments with zero registers */
            for _, v := range bb.Ins {
                for _, r := range definitions(v) {
                    if _, ok = decl[*r]; ok && r.kind() != _K_zero {
                        *r, done = r.Zero(), false
                    }
                }
            }

            /* replace unused terminator assigments with zero registers */
            for _, r := range definitions(bb.Term) {
                if _, ok = decl[*r]; ok && r.kind() != _K_zero {
                    *r, done = r.Zero(), false
                }
            }
        })

        /* Phase 4: Remove the entire defination if it's all zeros */
        cfg.PostOrder().ForEach(func(bb *BasicBlock) {
            phi, ins := bb.Phi, bb.Ins
            bb.Phi, bb.Ins = bb.Phi[:0], bb.Ins[:0]

            /* remove Phi nodes that don't have any effects */
            for _, v := range phi {
                for _, r := range v.Definitions() {
                    if r.kind() != _K_zero {
                        bb.Phi = append(bb.Phi, v)
                        break
                    }
                }
            }

            /* remove instructions that don't have any effects */
            for _, v := range ins {
                if _, ok := v.(IrImpure); ok {
                    bb.Ins = append(bb.Ins, v)
                } else if d, ok := v.(IrDefinitions); !ok {
                    bb.Ins = append(bb.Ins, v)
                } else {
                    for _, r := range d.Definitions() {
                        if r.kind() != _K_zero {
                            bb.Ins = append(bb.Ins, v)
                            break
                        }
                    }
                }
            }
        })

        /* no more modifications */
        if done {
            break
        }
    }
}
