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
    `sort`
    `strings`
)

type Reg uint64

const (
    _B_ptr  = 63
    _B_kind = 59
)

const (
    _M_ptr  = 1
    _M_kind = 0x0f
)

const (
    _R_ptr   = _M_ptr << _B_ptr
    _R_kind  = _M_kind << _B_kind
    _R_index = (1 << _B_kind) - 1
)

const (
    _K_zero = 13
    _K_norm = 15
)

const (
    Rz Reg = (0 << _B_ptr) | (_K_zero << _B_kind)
    Pn Reg = (1 << _B_ptr) | (_K_zero << _B_kind)
)

func mkreg(ptr uint64, index int) Reg {
    return Reg(((ptr & _M_ptr) << _B_ptr) | (_K_norm << _B_kind) | (uint64(index) & _R_index))
}

// MakeReg constructs a register by class and index, for assembling graphs by
// hand. Pass the result to CFG.NoteBlock so fresh registers do not clash.
func MakeReg(ptr bool, index int) Reg {
    if ptr {
        return mkreg(1, index)
    } else {
        return mkreg(0, index)
    }
}

func (self Reg) Ptr() bool {
    return self & _R_ptr != 0
}

func (self Reg) Index() int {
    return int(self & _R_index)
}

func (self Reg) Zero() Reg {
    if self.Ptr() {
        return Pn
    } else {
        return Rz
    }
}

func (self Reg) kind() uint8 {
    return uint8((self & _R_kind) >> _B_kind)
}

func (self Reg) String() string {
    switch self.kind() {
        default: {
            if self.Ptr() {
                return fmt.Sprintf("%%p%d", self.Index())
            } else {
                return fmt.Sprintf("%%r%d", self.Index())
            }
        }

        /* zero registers */
        case _K_zero: {
            if self.Ptr() {
                return "nil"
            } else {
                return "$0"
            }
        }
    }
}

type IrNode interface {
    fmt.Stringer
    Clone() IrNode
    irnode()
}

func (*IrPhi)        irnode() {}
func (*IrSwitch)     irnode() {}
func (*IrReturn)     irnode() {}
func (*IrLoad)       irnode() {}
func (*IrStore)      irnode() {}
func (*IrLoadArg)    irnode() {}
func (*IrConstInt)   irnode() {}
func (*IrLEA)        irnode() {}
func (*IrUnaryExpr)  irnode() {}
func (*IrBinaryExpr) irnode() {}

type IrUsages interface {
    IrNode
    Usages() []*Reg
}

type IrDefinitions interface {
    IrNode
    Definitions() []*Reg
}

// IrImpure marks instructions with side effects beyond their register
// definitions. They are never removed by dead code elimination.
type IrImpure interface {
    IrNode
    irimpure()
}

func (*IrStore) irimpure() {}

type IrPhi struct {
    R Reg
    V map[*BasicBlock]*Reg
}

func (self *IrPhi) Clone() IrNode {
    r := new(IrPhi)
    r.R = self.R
    r.V = make(map[*BasicBlock]*Reg, len(self.V))

    /* copy all the path values */
    for b, v := range self.V {
        p := new(Reg)
        *p = *v
        r.V[b] = p
    }

    /* all done */
    return r
}

func (self *IrPhi) String() string {
    nb := len(self.V)
    ret := make([]string, 0, nb)
    phi := make([]struct{b int; r Reg}, 0, nb)

    /* add each path */
    for bb, reg := range self.V {
        phi = append(phi, struct{b int; r Reg}{b: bb.Id, r: *reg})
    }

    /* sort by basic block ID */
    sort.Slice(phi, func(i int, j int) bool {
        return phi[i].b < phi[j].b
    })

    /* dump as string */
    for _, p := range phi {
        ret = append(ret, fmt.Sprintf("bb_%d: %s", p.b, p.r))
    }

    /* join them together */
    return fmt.Sprintf(
        "%s = φ(%s)",
        self.R,
        strings.Join(ret, ", "),
    )
}

func (self *IrPhi) Usages() (r []*Reg) {
    nb := len(self.V)
    bb := make([]struct{b int; r *Reg}, 0, nb)

    /* sort paths by block ID for deterministic enumeration */
    for b, v := range self.V {
        bb = append(bb, struct{b int; r *Reg}{b: b.Id, r: v})
    }
    sort.Slice(bb, func(i int, j int) bool { return bb[i].b < bb[j].b })

    /* dump the register references */
    for _, p := range bb {
        r = append(r, p.r)
    }
    return
}

func (self *IrPhi) Definitions() []*Reg {
    return []*Reg { &self.R }
}

type IrSuccessors interface {
    Next() bool
    Block() *BasicBlock
    Value() (int64, bool)
    UpdateBlock(bb *BasicBlock)
}

type IrTerminator interface {
    IrNode
    Successors() IrSuccessors
    irterminator()
}

func (*IrSwitch) irterminator() {}
func (*IrReturn) irterminator() {}

type _SwitchTarget struct {
    i int64
    b *BasicBlock
}

type _SwitchSuccessors struct {
    i  int
    sw *IrSwitch
    tr []_SwitchTarget
}

func (self *_SwitchSuccessors) Next() bool {
    self.i++
    return self.i < len(self.tr)
}

func (self *_SwitchSuccessors) Block() *BasicBlock {
    return self.tr[self.i].b
}

func (self *_SwitchSuccessors) Value() (int64, bool) {
    if self.tr[self.i].i == -1 {
        return 0, false
    } else {
        return self.tr[self.i].i, true
    }
}

func (self *_SwitchSuccessors) UpdateBlock(bb *BasicBlock) {
    t := &self.tr[self.i]
    if t.i == -1 {
        self.sw.Ln = bb
    } else {
        self.sw.Br[t.i] = bb
    }
    t.b = bb
}

// IrSwitch is the only branching terminator. An empty branch table makes it
// an unconditional jump to Ln, otherwise V selects the branch and Ln is the
// default target.
type IrSwitch struct {
    V  Reg
    Ln *BasicBlock
    Br map[int64]*BasicBlock
}

func (self *IrSwitch) Clone() IrNode {
    r := new(IrSwitch)
    r.V = self.V
    r.Ln = self.Ln
    r.Br = make(map[int64]*BasicBlock, len(self.Br))

    /* copy the branch table */
    for i, b := range self.Br {
        r.Br[i] = b
    }

    /* all done */
    return r
}

func (self *IrSwitch) String() string {
    nb := len(self.Br)
    ret := make([]string, 0, nb)

    /* unconditional jump */
    if nb == 0 {
        return fmt.Sprintf("jmp bb_%d", self.Ln.Id)
    }

    /* sort branches by value */
    val := make([]int64, 0, nb)
    for i := range self.Br {
        val = append(val, i)
    }
    sort.Slice(val, func(i int, j int) bool { return val[i] < val[j] })

    /* dump each branch */
    for _, i := range val {
        ret = append(ret, fmt.Sprintf("%d => bb_%d", i, self.Br[i].Id))
    }

    /* join them together */
    return fmt.Sprintf(
        "switch %s { %s, _ => bb_%d }",
        self.V,
        strings.Join(ret, ", "),
        self.Ln.Id,
    )
}

func (self *IrSwitch) Usages() []*Reg {
    if len(self.Br) == 0 {
        return nil
    } else {
        return []*Reg { &self.V }
    }
}

func (self *IrSwitch) Successors() IrSuccessors {
    nb := len(self.Br)
    tr := make([]_SwitchTarget, 0, nb + 1)

    /* add the conditional branches, sorted by value */
    for i, b := range self.Br {
        tr = append(tr, _SwitchTarget { i: i, b: b })
    }
    sort.Slice(tr, func(i int, j int) bool { return tr[i].i < tr[j].i })

    /* add the default branch, -1 marks "no value" */
    tr = append(tr, _SwitchTarget { i: -1, b: self.Ln })
    return &_SwitchSuccessors { i: -1, sw: self, tr: tr }
}

type _EmptySuccessors struct{}

func (_EmptySuccessors) Next() bool                 { return false }
func (_EmptySuccessors) Block() *BasicBlock         { return nil }
func (_EmptySuccessors) Value() (int64, bool)       { return 0, false }
func (_EmptySuccessors) UpdateBlock(_ *BasicBlock)  { panic("empty successors") }

type IrReturn struct {
    R []Reg
}

func (self *IrReturn) Clone() IrNode {
    r := new(IrReturn)
    r.R = make([]Reg, len(self.R))
    copy(r.R, self.R)
    return r
}

func (self *IrReturn) String() string {
    nb := len(self.R)
    ret := make([]string, 0, nb)
    for _, r := range self.R {
        ret = append(ret, r.String())
    }
    return fmt.Sprintf("ret {%s}", strings.Join(ret, ", "))
}

func (self *IrReturn) Usages() []*Reg {
    return regsliceref(self.R)
}

func (self *IrReturn) Successors() IrSuccessors {
    return _EmptySuccessors{}
}

type IrLoadArg struct {
    R  Reg
    Id int
}

func (self *IrLoadArg) Clone() IrNode {
    r := *self
    return &r
}

func (self *IrLoadArg) String() string {
    return fmt.Sprintf("%s = arg #%d", self.R, self.Id)
}

func (self *IrLoadArg) Definitions() []*Reg {
    return []*Reg { &self.R }
}

type IrConstInt struct {
    R Reg
    V int64
}

func (self *IrConstInt) Clone() IrNode {
    r := *self
    return &r
}

func (self *IrConstInt) String() string {
    return fmt.Sprintf("%s = $%d", self.R, self.V)
}

func (self *IrConstInt) Definitions() []*Reg {
    return []*Reg { &self.R }
}

// IrLEA computes R = Mem + Off + Disp without touching memory.
type IrLEA struct {
    R    Reg
    Mem  Reg
    Off  Reg
    Disp int64
}

func (self *IrLEA) Clone() IrNode {
    r := *self
    return &r
}

func (self *IrLEA) String() string {
    return fmt.Sprintf("%s = &(%s + %s + $%d)", self.R, self.Mem, self.Off, self.Disp)
}

func (self *IrLEA) Usages() []*Reg {
    return []*Reg { &self.Mem, &self.Off }
}

func (self *IrLEA) Definitions() []*Reg {
    return []*Reg { &self.R }
}

type IrLoad struct {
    R          Reg
    Mem        Reg
    Size       uint8
    NoAlias    []*AliasScope
    AliasScope []*AliasScope
}

func (self *IrLoad) Clone() IrNode {
    r := new(IrLoad)
    r.R = self.R
    r.Mem = self.Mem
    r.Size = self.Size
    r.NoAlias = append([]*AliasScope(nil), self.NoAlias...)
    r.AliasScope = append([]*AliasScope(nil), self.AliasScope...)
    return r
}

func (self *IrLoad) String() string {
    return fmt.Sprintf("%s = *%s.u%d%s", self.R, self.Mem, self.Size * 8, scopesuffix(self.NoAlias, self.AliasScope))
}

func (self *IrLoad) Usages() []*Reg {
    return []*Reg { &self.Mem }
}

func (self *IrLoad) Definitions() []*Reg {
    return []*Reg { &self.R }
}

type IrStore struct {
    R          Reg
    Mem        Reg
    Size       uint8
    NoAlias    []*AliasScope
    AliasScope []*AliasScope
}

func (self *IrStore) Clone() IrNode {
    r := new(IrStore)
    r.R = self.R
    r.Mem = self.Mem
    r.Size = self.Size
    r.NoAlias = append([]*AliasScope(nil), self.NoAlias...)
    r.AliasScope = append([]*AliasScope(nil), self.AliasScope...)
    return r
}

func (self *IrStore) String() string {
    return fmt.Sprintf("*%s.u%d = %s%s", self.Mem, self.Size * 8, self.R, scopesuffix(self.NoAlias, self.AliasScope))
}

func (self *IrStore) Usages() []*Reg {
    return []*Reg { &self.R, &self.Mem }
}

type IrUnaryOp uint8

const (
    OpNeg IrUnaryOp = iota
    OpNot
)

func (self IrUnaryOp) String() string {
    switch self {
        case OpNeg : return "-"
        case OpNot : return "~"
        default    : panic("unreachable")
    }
}

type IrUnaryExpr struct {
    R  Reg
    V  Reg
    Op IrUnaryOp
}

func (self *IrUnaryExpr) Clone() IrNode {
    r := *self
    return &r
}

func (self *IrUnaryExpr) String() string {
    return fmt.Sprintf("%s = %s%s", self.R, self.Op, self.V)
}

func (self *IrUnaryExpr) Usages() []*Reg {
    return []*Reg { &self.V }
}

func (self *IrUnaryExpr) Definitions() []*Reg {
    return []*Reg { &self.R }
}

type IrBinaryOp uint8

const (
    OpAdd IrBinaryOp = iota
    OpSub
    OpMul
    OpAnd
    OpOr
    OpXor
    OpShr
    OpCmpEq
    OpCmpNe
    OpCmpLt
    OpCmpGe
)

func (self IrBinaryOp) String() string {
    switch self {
        case OpAdd   : return "+"
        case OpSub   : return "-"
        case OpMul   : return "*"
        case OpAnd   : return "&"
        case OpOr    : return "|"
        case OpXor   : return "^"
        case OpShr   : return ">>"
        case OpCmpEq : return "=="
        case OpCmpNe : return "!="
        case OpCmpLt : return "<"
        case OpCmpGe : return ">="
        default      : panic("unreachable")
    }
}

type IrBinaryExpr struct {
    R  Reg
    X  Reg
    Y  Reg
    Op IrBinaryOp
}

func (self *IrBinaryExpr) Clone() IrNode {
    r := *self
    return &r
}

func (self *IrBinaryExpr) String() string {
    return fmt.Sprintf("%s = %s %s %s", self.R, self.X, self.Op, self.Y)
}

func (self *IrBinaryExpr) Usages() []*Reg {
    return []*Reg { &self.X, &self.Y }
}

func (self *IrBinaryExpr) Definitions() []*Reg {
    return []*Reg { &self.R }
}
