// Package dce removes dead code from a module: trivially dead
// instructions, code following calls that never return, and basic blocks
// unreachable from the function entry.
package dce

import (
	"context"

	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/mirlang/mir/compiler/ir"
	"github.com/mirlang/mir/compiler/set"
)

type (
	// Stats counts what a single run removed. Diagnostic only, never
	// used for control decisions.
	Stats struct {
		InstrsRemoved int `tlog:"instrs_removed"`
		BlocksRemoved int `tlog:"blocks_removed"`
	}

	deleter struct {
		f  *ir.Func
		st *Stats
	}
)

// Run eliminates dead code from the module in place.
//
// It is a single pass: each block gets one terminator rewrite attempt,
// each function one reachability sweep. Running it again on its own
// output removes nothing more; a global fixed point is the pass
// manager's business.
func Run(ctx context.Context, m *ir.Module) (st Stats) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "dce", "path", m.Path)
	defer tr.Finish()

	for _, f := range m.Funcs {
		fst := runFunc(ctx, m, f)

		st.InstrsRemoved += fst.InstrsRemoved
		st.BlocksRemoved += fst.BlocksRemoved
	}

	tr.Printw("module done", "stats", st)

	return st
}

func runFunc(ctx context.Context, m *ir.Module, f *ir.Func) (st Stats) {
	tr := tlog.SpanFromContext(ctx)

	d := deleter{f: f, st: &st}

	for _, b := range f.Blocks {
		if foldConstantTerminator(f, &d, b) {
			// the new successor graph is resolved by the sweep below
			tr.Printw("fold terminator", "func", f.Name, "block", f.Block(b).Name, "from", loc.Callers(1, 2))
			continue
		}

		if truncateNoReturnCalls(m, f, &d, b) {
			tr.Printw("truncate noreturn tail", "func", f.Name, "block", f.Block(b).Name)
		}
	}

	removeUnreachableBlocks(f, &d)

	tr.Printw("func done", "func", f.Name, "stats", st)

	return st
}

// isTriviallyDead examines only the instruction itself: not a
// terminator, no uses, no side effects.
func isTriviallyDead(f *ir.Func, id ir.InstrID) bool {
	in := f.Instr(id)

	if in.Op == ir.None || in.Op.IsTerminator() {
		return false
	}

	if in.Res != ir.Nowhere && len(f.Value(in.Res).Uses) != 0 {
		return false
	}

	return !in.Op.HasSideEffects()
}

// deleteIfTriviallyDead deletes a dead instruction along with operand
// definitions that die with it. Worklist, not recursion: deletion chains
// grow with program size.
func (d *deleter) deleteIfTriviallyDead(id ir.InstrID) bool {
	if id == ir.NoInstr || !isTriviallyDead(d.f, id) {
		return false
	}

	work := []ir.InstrID{id}

	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]

		for _, v := range d.f.Operands(id) {
			d.f.DropUse(v, id)

			// the definition is pushed when its last use is dropped,
			// so duplicate operands can not enqueue it twice
			def := d.f.Value(v).Def
			if def != ir.NoInstr && isTriviallyDead(d.f, def) {
				work = append(work, def)
			}
		}

		d.detach(id)
	}

	return true
}

// eraseAndCleanup deletes a set the caller proved unreachable or unused
// by construction. Two phases: first sever all outgoing edges, recording
// definitions outside the set that may die, then delete those that did.
// The set itself is detached unconditionally.
//
// Reports whether anything beyond the set was deleted. Candidates get a
// single pass, not a fixed point.
func (d *deleter) eraseAndCleanup(dead map[ir.InstrID]struct{}) bool {
	possiblyDead := make(map[ir.InstrID]struct{})

	for id := range dead {
		for _, v := range d.f.Operands(id) {
			def := d.f.Value(v).Def
			if def == ir.NoInstr {
				continue
			}

			if _, ok := dead[def]; !ok {
				possiblyDead[def] = struct{}{}
			}
		}

		d.f.DropRefs(id)
	}

	more := false

	for id := range possiblyDead {
		if d.deleteIfTriviallyDead(id) {
			more = true
		}
	}

	for id := range dead {
		d.detach(id)
	}

	return more
}

func (d *deleter) eraseAndCleanupOne(id ir.InstrID) bool {
	return d.eraseAndCleanup(map[ir.InstrID]struct{}{id: {}})
}

func (d *deleter) detach(id ir.InstrID) {
	// the candidate pass may have cascaded into a set member already
	if d.f.Instr(id).Op == ir.None {
		return
	}

	d.f.Detach(id)
	d.st.InstrsRemoved++
}

// foldConstantTerminator rewrites a conditional branch on a 1-bit
// literal into an unconditional branch to the taken successor.
func foldConstantTerminator(f *ir.Func, d *deleter, b ir.BlockID) bool {
	t := f.Term(b)
	if t == ir.NoInstr {
		panic(b)
	}

	in := f.Instr(t)
	if in.Op != ir.CondBr {
		return false
	}

	def := f.Value(in.Args[0]).Def
	if def == ir.NoInstr {
		return false
	}

	lit := f.Instr(def)
	if lit.Op != ir.IntLit || lit.Bits != 1 {
		// not a compile time constant, other passes' business
		return false
	}

	var to ir.Succ

	switch lit.Lit {
	case 0:
		to = in.Succs[1]
	case 1:
		to = in.Succs[0]
	default:
		// a 1-bit literal encodes false or true, nothing else
		panic(lit.Lit)
	}

	_, old := f.InsertBranch(b, to)

	// dropping the condition use here may cascade into the literal
	d.eraseAndCleanupOne(old)

	return true
}

// truncateNoReturnCalls deletes everything after the first call to a
// function that never returns and seals the block with a synthetic
// unreachable.
func truncateNoReturnCalls(m *ir.Module, f *ir.Func, d *deleter, b ir.BlockID) bool {
	dead := make(map[ir.InstrID]struct{})
	found := false

	for _, id := range f.Block(b).Code {
		if found {
			dead[id] = struct{}{}
			continue
		}

		in := f.Instr(id)
		if in.Op != ir.Call {
			continue
		}

		callee := m.FuncByName(in.Callee)
		if callee == nil {
			// unresolvable callee, never treated as no-return
			continue
		}

		if callee.NoReturn {
			found = true
		}
	}

	if !found {
		return false
	}

	// already sealed by a previous run, rewriting again would only
	// churn the terminator
	if len(dead) == 1 {
		if t := f.Term(b); t != ir.NoInstr && f.Instr(t).Op == ir.Unreachable {
			return true
		}
	}

	// the old terminator is part of the tail, so the block keeps a
	// terminator within this same rewrite
	d.eraseAndCleanup(dead)

	f.InsertUnreachable(b)

	return true
}

// removeUnreachableBlocks sweeps blocks the entry can not reach.
// Terminators of dead blocks go first so cross-block argument edges are
// gone before the bulk deletion collects its candidates.
func removeUnreachableBlocks(f *ir.Func, d *deleter) bool {
	if len(f.Blocks) == 0 {
		return false
	}

	reach := set.MakeBits[ir.BlockID]()
	reach.Set(f.Entry())

	work := []ir.BlockID{f.Entry()}

	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]

		t := f.Term(b)
		if t == ir.NoInstr {
			continue
		}

		for _, s := range f.Instr(t).Succs {
			if reach.IsSet(s.Block) {
				continue
			}

			reach.Set(s.Block)
			work = append(work, s.Block)
		}
	}

	if reach.Size() == len(f.Blocks) {
		return false
	}

	var deadBlocks []ir.BlockID

	for _, b := range f.Blocks {
		if reach.IsSet(b) {
			continue
		}

		deadBlocks = append(deadBlocks, b)

		if t := f.Term(b); t != ir.NoInstr {
			d.eraseAndCleanupOne(t)
		}
	}

	dead := make(map[ir.InstrID]struct{})

	for _, b := range deadBlocks {
		for _, id := range f.Block(b).Code {
			dead[id] = struct{}{}
		}
	}

	d.eraseAndCleanup(dead)

	for _, b := range deadBlocks {
		f.RemoveBlock(b)
		d.st.BlocksRemoved++
	}

	return true
}
