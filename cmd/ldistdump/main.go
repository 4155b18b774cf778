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

// ldistdump builds a classic distribution candidate, runs the pipeline over
// it and prints the graph before and after:
//
//	for i in 0..n {
//	    A[i+1] = A[i] + B[i]    // dependence cycle on A
//	    C[i]   = D[i] * E[i]    // independently vectorizable
//	}
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/cloudwego/ldist"
	"github.com/cloudwego/ldist/ssa"
)

var (
	fChecks  = flag.Bool("checks", false, "pretend the A and C ranges cannot be proven disjoint, forcing runtime checks")
	fVerify  = flag.Bool("verify", true, "verify the graph invariants after distribution")
	fVerbose = flag.Bool("v", false, "print the decision trace and the analysis tables")
)

type staticAnalysis struct {
	lai *ssa.StaticAccessInfo
}

func (self staticAnalysis) Info(_ *ssa.Loop) ssa.LoopAccessInfo {
	return self.lai
}

type example struct {
	cfg *ssa.CFG
	lai *ssa.StaticAccessInfo
}

func buildExample(checks bool) *example {
	regA := ssa.MakeReg(true, 1)
	regB := ssa.MakeReg(true, 2)
	regC := ssa.MakeReg(true, 3)
	regD := ssa.MakeReg(true, 4)
	regE := ssa.MakeReg(true, 5)
	n := ssa.MakeReg(false, 6)
	i0 := ssa.MakeReg(false, 7)
	one := ssa.MakeReg(false, 8)
	i := ssa.MakeReg(false, 9)
	pa := ssa.MakeReg(true, 10)
	v0 := ssa.MakeReg(false, 11)
	pb := ssa.MakeReg(true, 12)
	v1 := ssa.MakeReg(false, 13)
	v2 := ssa.MakeReg(false, 14)
	pa1 := ssa.MakeReg(true, 15)
	pd := ssa.MakeReg(true, 16)
	v3 := ssa.MakeReg(false, 17)
	pe := ssa.MakeReg(true, 18)
	v4 := ssa.MakeReg(false, 19)
	v5 := ssa.MakeReg(false, 20)
	pc := ssa.MakeReg(true, 21)
	i2 := ssa.MakeReg(false, 22)
	cc := ssa.MakeReg(false, 23)

	entry := &ssa.BasicBlock{Id: 0}
	ph := &ssa.BasicBlock{Id: 1}
	body := &ssa.BasicBlock{Id: 2}
	exit := &ssa.BasicBlock{Id: 3}

	entry.Ins = []ssa.IrNode{
		&ssa.IrLoadArg{R: regA, Id: 0},
		&ssa.IrLoadArg{R: regB, Id: 1},
		&ssa.IrLoadArg{R: regC, Id: 2},
		&ssa.IrLoadArg{R: regD, Id: 3},
		&ssa.IrLoadArg{R: regE, Id: 4},
		&ssa.IrLoadArg{R: n, Id: 5},
		&ssa.IrConstInt{R: i0, V: 0},
		&ssa.IrConstInt{R: one, V: 1},
	}
	entry.Term = &ssa.IrSwitch{Ln: ph}
	ph.Pred = []*ssa.BasicBlock{entry}
	ph.Term = &ssa.IrSwitch{Ln: body}

	loadA := &ssa.IrLoad{R: v0, Mem: pa, Size: 8}
	loadB := &ssa.IrLoad{R: v1, Mem: pb, Size: 8}
	loadD := &ssa.IrLoad{R: v3, Mem: pd, Size: 8}
	loadE := &ssa.IrLoad{R: v4, Mem: pe, Size: 8}
	stA := &ssa.IrStore{R: v2, Mem: pa1, Size: 8}
	stC := &ssa.IrStore{R: v5, Mem: pc, Size: 8}

	vi0, vi2 := i0, i2
	body.Phi = []*ssa.IrPhi{
		{R: i, V: map[*ssa.BasicBlock]*ssa.Reg{ph: &vi0, body: &vi2}},
	}
	body.Ins = []ssa.IrNode{
		&ssa.IrLEA{R: pa, Mem: regA, Off: i},
		loadA,
		&ssa.IrLEA{R: pb, Mem: regB, Off: i},
		loadB,
		&ssa.IrBinaryExpr{R: v2, X: v0, Y: v1, Op: ssa.OpAdd},
		&ssa.IrLEA{R: pa1, Mem: regA, Off: i, Disp: 8},
		stA,
		&ssa.IrLEA{R: pd, Mem: regD, Off: i},
		loadD,
		&ssa.IrLEA{R: pe, Mem: regE, Off: i},
		loadE,
		&ssa.IrBinaryExpr{R: v5, X: v3, Y: v4, Op: ssa.OpMul},
		&ssa.IrLEA{R: pc, Mem: regC, Off: i},
		stC,
		&ssa.IrBinaryExpr{R: i2, X: i, Y: one, Op: ssa.OpAdd},
		&ssa.IrBinaryExpr{R: cc, X: i2, Y: n, Op: ssa.OpCmpLt},
	}
	body.Term = &ssa.IrSwitch{V: cc, Ln: exit, Br: map[int64]*ssa.BasicBlock{1: body}}
	body.Pred = []*ssa.BasicBlock{ph, body}
	exit.Pred = []*ssa.BasicBlock{body}
	exit.Term = &ssa.IrReturn{R: []ssa.Reg{i2}}

	cfg := ssa.CreateCFG(entry)
	for _, bb := range []*ssa.BasicBlock{entry, ph, body, exit} {
		cfg.NoteBlock(bb)
	}

	lai := &ssa.StaticAccessInfo{
		Dependences: []ssa.Dependence{
			{Source: 0, Destination: 2, PossiblyBackward: true},
		},
		MemInstructions: []ssa.IrNode{loadA, loadB, stA, loadD, loadE, stC},
	}
	if checks {
		lai.PointerCheck = ssa.RuntimePointerCheck{
			Ptrs:    []ssa.Reg{regA, regC},
			IsWrite: []bool{true, true},
		}
		lai.AccessLists = map[ssa.Reg][2][]ssa.IrNode{
			regA: {{loadA}, {stA}},
			regC: {nil, {stC}},
		}
	}
	return &example{cfg: cfg, lai: lai}
}

func main() {
	flag.Parse()
	ex := buildExample(*fChecks)

	head := color.New(color.FgHiGreen, color.Bold)
	head.Println("== before distribution ==")
	fmt.Println(ex.cfg)
	fmt.Println()

	if *fVerbose {
		head.Println("== access analysis ==")
		spew.Fdump(os.Stdout, ex.lai.Dependences)
		spew.Fdump(os.Stdout, ex.lai.PointerCheck)
		fmt.Println()
	}

	opts := []ldist.Option{
		ldist.WithVerify(*fVerify),
	}
	if *fVerbose {
		log, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintln(os.Stderr, "ldistdump:", err)
			os.Exit(1)
		}
		opts = append(opts, ldist.WithLogger(log))
	}
	ldist.Optimize(ex.cfg, staticAnalysis{lai: ex.lai}, opts...)

	head.Println("== after distribution ==")
	fmt.Println(ex.cfg)
	fmt.Println()

	head.Printf("loops distributed: %d\n", ldist.Distributed())
}
