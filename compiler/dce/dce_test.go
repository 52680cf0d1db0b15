package dce

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirlang/mir/compiler/ir"
)

func TestIsTriviallyDeadTable(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunc("f")

	b0 := f.NewBlock("b0")
	b := ir.NewBuilder(f, b0)

	one := b.IntLit(64, 1)

	pureUnused := b.Add(one, one)
	pureUsed := b.Add(one, one)
	effectUnused := b.Call("g")
	effectUsed := b.Call("g")

	b.Store(pureUsed, effectUsed)
	term := b.Ret()

	def := func(v ir.ValueID) ir.InstrID { return f.Value(v).Def }

	require.True(t, isTriviallyDead(f, def(pureUnused)))
	require.False(t, isTriviallyDead(f, def(pureUsed)))
	require.False(t, isTriviallyDead(f, def(effectUnused)))
	require.False(t, isTriviallyDead(f, def(effectUsed)))

	require.False(t, isTriviallyDead(f, term), "terminators are never locally dead")
}

func TestCascadeDelete(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunc("f")

	b0 := f.NewBlock("b0")
	b := ir.NewBuilder(f, b0)

	a := b.IntLit(64, 1)
	bb := b.Add(a, a)
	c := b.Add(bb, bb)
	term := b.Ret()

	var st Stats
	d := deleter{f: f, st: &st}

	require.True(t, d.deleteIfTriviallyDead(f.Value(c).Def))

	require.Equal(t, []ir.InstrID{term}, f.Block(b0).Code)
	require.Equal(t, 3, st.InstrsRemoved)
	require.NoError(t, f.Check())

	// second attempt has nothing to do
	require.False(t, d.deleteIfTriviallyDead(f.Value(c).Def))
}

func TestEraseAndCleanupReportsExtra(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunc("f")

	b0 := f.NewBlock("b0")
	b := ir.NewBuilder(f, b0)

	a := b.IntLit(64, 2)
	s := b.Add(a, a)
	b.Ret()

	var st Stats
	d := deleter{f: f, st: &st}

	more := d.eraseAndCleanup(map[ir.InstrID]struct{}{f.Value(s).Def: {}})

	require.True(t, more, "the literal died with the set")
	require.Equal(t, 2, st.InstrsRemoved)
	require.NoError(t, f.Check())
}

func TestEraseAndCleanupDefinerInSet(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunc("f")

	b0 := f.NewBlock("b0")
	b := ir.NewBuilder(f, b0)

	a := b.IntLit(64, 2)
	s := b.Add(a, a)
	term := b.Ret()

	var st Stats
	d := deleter{f: f, st: &st}

	dead := map[ir.InstrID]struct{}{
		f.Value(a).Def: {},
		f.Value(s).Def: {},
	}

	more := d.eraseAndCleanup(dead)

	require.False(t, more, "no deletions beyond the set")
	require.Equal(t, 2, st.InstrsRemoved)
	require.Equal(t, []ir.InstrID{term}, f.Block(b0).Code)
	require.NoError(t, f.Check())
}

func foldModule(lit int64) (*ir.Module, *ir.Func, ir.BlockID, ir.BlockID, ir.BlockID) {
	m := ir.NewModule("test")
	f := m.NewFunc("f")

	b0 := f.NewBlock("b0")
	b1 := f.NewBlock("b1")
	b2 := f.NewBlock("b2")

	pb1 := f.AddParam(b1)
	pb2 := f.AddParam(b2)

	b := ir.NewBuilder(f, b0)
	c := b.IntLit(1, lit)
	x := b.IntLit(64, 7)
	y := b.IntLit(64, 8)
	b.CondBr(c, b1, []ir.ValueID{x}, b2, []ir.ValueID{y})

	b.SetBlock(b1)
	b.Ret(pb1)

	b.SetBlock(b2)
	b.Ret(pb2)

	return m, f, b0, b1, b2
}

func TestFoldConstantTerminatorTrue(t *testing.T) {
	m, f, b0, b1, _ := foldModule(1)

	st := Run(context.Background(), m)

	term := f.Term(b0)
	require.Equal(t, ir.Br, f.Instr(term).Op)
	require.Equal(t, b1, f.Instr(term).Succs[0].Block)

	require.Equal(t, []ir.BlockID{b0, b1}, f.Blocks)

	// cond_br, both now-unused literals, b2's ret
	require.Equal(t, Stats{InstrsRemoved: 4, BlocksRemoved: 1}, st)
	require.NoError(t, f.Check())
}

func TestFoldConstantTerminatorFalse(t *testing.T) {
	m, f, b0, _, b2 := foldModule(0)

	st := Run(context.Background(), m)

	term := f.Term(b0)
	require.Equal(t, ir.Br, f.Instr(term).Op)
	require.Equal(t, b2, f.Instr(term).Succs[0].Block)

	require.Equal(t, []ir.BlockID{b0, b2}, f.Blocks)
	require.Equal(t, Stats{InstrsRemoved: 4, BlocksRemoved: 1}, st)
	require.NoError(t, f.Check())
}

func TestFoldSkipsNonLiteralCondition(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunc("f")

	b0 := f.NewBlock("b0")
	b1 := f.NewBlock("b1")
	b2 := f.NewBlock("b2")

	c := f.AddParam(b0)

	b := ir.NewBuilder(f, b0)
	b.CondBr(c, b1, nil, b2, nil)

	b.SetBlock(b1)
	b.Ret()

	b.SetBlock(b2)
	b.Ret()

	st := Run(context.Background(), m)

	require.Equal(t, Stats{}, st)
	require.Equal(t, ir.CondBr, f.Instr(f.Term(b0)).Op)
	require.NoError(t, f.Check())
}

func TestFoldBadLiteralPanics(t *testing.T) {
	m, f, b0, _, _ := foldModule(1)

	lit := f.Instr(f.Value(f.Instr(f.Term(b0)).Args[0]).Def)
	lit.Lit = 3 // corrupted upstream

	require.Panics(t, func() {
		Run(context.Background(), m)
	})
}

func noReturnModule(tail bool) (*ir.Module, *ir.Func, ir.BlockID, ir.InstrID) {
	m := ir.NewModule("test")
	m.Declare("abort", true)
	m.Declare("print", false)

	f := m.NewFunc("f")

	b0 := f.NewBlock("b0")
	b1 := f.NewBlock("b1")

	b := ir.NewBuilder(f, b0)
	call := b.Call("abort")

	if tail {
		one := b.IntLit(64, 1)
		b.Add(one, one)
	}

	b.Br(b1)

	b.SetBlock(b1)
	b.Ret()

	return m, f, b0, f.Value(call).Def
}

func TestNoReturnTruncation(t *testing.T) {
	m, f, b0, call := noReturnModule(true)

	st := Run(context.Background(), m)

	code := f.Block(b0).Code
	require.Len(t, code, 2)
	require.Equal(t, call, code[0])

	un := f.Instr(code[1])
	require.Equal(t, ir.Unreachable, un.Op)
	require.Equal(t, 0, un.Pos, "synthetic, not user code")

	// tail: literal, add, br; swept: b1's ret
	require.Equal(t, Stats{InstrsRemoved: 4, BlocksRemoved: 1}, st)
	require.NoError(t, f.Check())
}

func TestNoReturnTruncationDegenerate(t *testing.T) {
	m, f, b0, call := noReturnModule(false)

	st := Run(context.Background(), m)

	code := f.Block(b0).Code
	require.Len(t, code, 2)
	require.Equal(t, call, code[0])
	require.Equal(t, ir.Unreachable, f.Instr(code[1]).Op)

	require.Equal(t, Stats{InstrsRemoved: 2, BlocksRemoved: 1}, st)
	require.NoError(t, f.Check())
}

func TestNoReturnUnresolvedCallee(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunc("f")

	b0 := f.NewBlock("b0")
	b := ir.NewBuilder(f, b0)

	c := b.Call("mystery")
	b.Store(c, c)
	b.Ret()

	st := Run(context.Background(), m)

	require.Equal(t, Stats{}, st)
	require.Len(t, f.Block(b0).Code, 3)
	require.NoError(t, f.Check())
}

func TestRemoveUnreachableBlocks(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunc("f")

	b0 := f.NewBlock("b0")
	b1 := f.NewBlock("b1")
	b2 := f.NewBlock("b2") // orphan

	b := ir.NewBuilder(f, b0)
	b.Br(b1)

	b.SetBlock(b1)
	one := b.IntLit(64, 1)
	b.Ret(one)

	b.SetBlock(b2)
	z := b.IntLit(64, 5)
	b.Ret(z)

	st := Run(context.Background(), m)

	require.Equal(t, []ir.BlockID{b0, b1}, f.Blocks)
	require.Len(t, f.Block(b1).Code, 2, "reachable code untouched")
	require.Equal(t, Stats{InstrsRemoved: 2, BlocksRemoved: 1}, st)
	require.NoError(t, f.Check())
}

func TestRemoveUnreachableCycle(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunc("f")

	b0 := f.NewBlock("b0")
	b2 := f.NewBlock("b2")
	b3 := f.NewBlock("b3")

	p2 := f.AddParam(b2)
	p3 := f.AddParam(b3)

	b := ir.NewBuilder(f, b0)
	b.Ret()

	// dead blocks passing each other's params around
	b.SetBlock(b2)
	b.Br(b3, p2)

	b.SetBlock(b3)
	b.Br(b2, p3)

	st := Run(context.Background(), m)

	require.Equal(t, []ir.BlockID{b0}, f.Blocks)
	require.Equal(t, Stats{InstrsRemoved: 2, BlocksRemoved: 2}, st)
	require.NoError(t, f.Check())
}

func TestEmptyFunction(t *testing.T) {
	m := ir.NewModule("test")
	m.Declare("abort", true)

	st := Run(context.Background(), m)

	require.Equal(t, Stats{}, st)
}

func TestIdempotence(t *testing.T) {
	for _, build := range []func() *ir.Module{
		func() *ir.Module { m, _, _, _, _ := foldModule(1); return m },
		func() *ir.Module { m, _, _, _ := noReturnModule(true); return m },
	} {
		m := build()

		ctx := context.Background()

		first := Run(ctx, m)
		require.NotEqual(t, Stats{}, first)

		second := Run(ctx, m)
		require.Equal(t, Stats{}, second, "second run removes nothing")

		require.NoError(t, m.Check())
	}
}

func TestDuplicateOperandsCascade(t *testing.T) {
	m := ir.NewModule("test")
	f := m.NewFunc("f")

	b0 := f.NewBlock("b0")
	b := ir.NewBuilder(f, b0)

	a := b.IntLit(64, 1)
	s := b.Add(a, a) // two edges to the same definition
	term := b.Ret()

	var st Stats
	d := deleter{f: f, st: &st}

	require.True(t, d.deleteIfTriviallyDead(f.Value(s).Def))

	require.Equal(t, []ir.InstrID{term}, f.Block(b0).Code)
	require.Equal(t, 2, st.InstrsRemoved)
	require.NoError(t, f.Check())
}
