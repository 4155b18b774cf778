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

package ldist

import (
	"go.uber.org/zap"

	"github.com/cloudwego/ldist/ssa"
)

// Option is the property setter function for ssa.Options.
type Option func(*ssa.Options)

// WithVerify re-checks the graph invariants after every distributed loop:
// edge symmetry, Phi paths, and the incrementally maintained dominator tree
// against an independent recomputation.
//
// Verification is meant for debugging, it recomputes the dominator tree from
// scratch every time.
func WithVerify(v bool) Option {
	return func(o *ssa.Options) { o.Verify = v }
}

// WithLogger routes the per-loop decision trace to log. Distribution logs
// why each candidate loop was or was not distributed at debug level.
func WithLogger(log *zap.Logger) Option {
	return func(o *ssa.Options) { o.Logger = log }
}

// WithNonIfConvertibleDistribution keeps loops whose stores only execute
// conditionally as separate partitions instead of merging them back into
// their cyclic neighbours.
//
// Such loops cannot be if-converted and therefore do not vectorize, so
// isolating them is usually not profitable. The default is off.
func WithNonIfConvertibleDistribution(v bool) Option {
	return func(o *ssa.Options) { o.DistributeNonIfConvertible = v }
}

// WithStoreToLoadChecks protects store-to-load forwarding pairs with runtime
// checks and scoped no-alias annotations. Distribution can stretch the
// distance between such pairs, defeating the forwarding; the checks make the
// annotation sound so later passes may still eliminate the load.
func WithStoreToLoadChecks(v bool) Option {
	return func(o *ssa.Options) { o.CheckStoreToLoadForwarding = v }
}

// WithVectorISARequired skips distribution entirely on hosts without vector
// extensions, where the isolated loops would not vectorize anyway.
func WithVectorISARequired(v bool) Option {
	return func(o *ssa.Options) { o.RequireVectorISA = v }
}
