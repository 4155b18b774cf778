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

// Package ldist splits innermost loops into sequences of simpler loops,
// isolating memory dependence cycles from computations that can vectorize on
// their own. When static analysis cannot prove the split safe, the
// distributed chain runs behind a runtime memory check with the original
// loop as fallback.
package ldist

import (
	"github.com/cloudwego/ldist/ssa"
)

// Optimize runs the distribution pipeline over cfg, using access to answer
// memory dependence queries per loop. The cleanup passes that sweep up the
// code distribution leaves behind run as part of the pipeline.
func Optimize(cfg *ssa.CFG, access ssa.AccessAnalysis, options ...Option) {
	var o ssa.Options
	for _, f := range options {
		f(&o)
	}
	ssa.Optimize(cfg, access, o)
}

// Distributed reports how many loops have been distributed since process
// start.
func Distributed() int64 {
	return ssa.NumLoopsDistributed()
}
