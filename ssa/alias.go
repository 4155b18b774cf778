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
    `fmt`
    `strings`
)

// AliasScopeDomain groups a set of alias scopes that were established by the
// same disambiguation mechanism, e.g. one batch of runtime pointer checks.
type AliasScopeDomain struct {
    Name string
}

// AliasScope is a scoped no-alias annotation. A memory instruction carrying a
// scope S in its NoAlias list is known not to alias any instruction carrying
// S in its AliasScope list, provided the checks that created the domain hold.
type AliasScope struct {
    Name   string
    Domain *AliasScopeDomain
}

func NewAliasScopeDomain(name string) *AliasScopeDomain {
    return &AliasScopeDomain { Name: name }
}

func (self *AliasScopeDomain) NewScope(name string) *AliasScope {
    return &AliasScope { Name: name, Domain: self }
}

func (self *AliasScope) String() string {
    return fmt.Sprintf("%s.%s", self.Domain.Name, self.Name)
}

func scopesuffix(noalias []*AliasScope, scopes []*AliasScope) string {
    var buf []string

    /* no annotations at all */
    if len(noalias) == 0 && len(scopes) == 0 {
        return ""
    }

    /* dump the no-alias scopes */
    for _, v := range noalias {
        buf = append(buf, "!noalias " + v.String())
    }

    /* dump the alias scopes */
    for _, v := range scopes {
        buf = append(buf, "!scope " + v.String())
    }

    /* join them together */
    return " ; " + strings.Join(buf, ", ")
}
