package ir

type (
	// Builder appends fully linked instructions to the end of a block.
	Builder struct {
		F *Func
		B BlockID

		Pos int // source line attached to emitted instructions
	}
)

func NewBuilder(f *Func, b BlockID) *Builder {
	return &Builder{F: f, B: b}
}

func (b *Builder) SetBlock(blk BlockID) {
	b.B = blk
}

func (b *Builder) emit(in Instr) InstrID {
	in.Pos = b.Pos

	return b.F.newInstr(in, b.B)
}

// value emits the instruction and allocates its result.
func (b *Builder) value(in Instr) ValueID {
	in.Res = Nowhere

	id := b.emit(in)

	res := b.F.newValue(id, NoBlock)
	b.F.instrs[id].Res = res

	return res
}

func (b *Builder) IntLit(bits int, v int64) ValueID {
	return b.value(Instr{Op: IntLit, Bits: bits, Lit: v})
}

func (b *Builder) Add(l, r ValueID) ValueID {
	return b.value(Instr{Op: Add, Args: []ValueID{l, r}})
}

func (b *Builder) Sub(l, r ValueID) ValueID {
	return b.value(Instr{Op: Sub, Args: []ValueID{l, r}})
}

func (b *Builder) Mul(l, r ValueID) ValueID {
	return b.value(Instr{Op: Mul, Args: []ValueID{l, r}})
}

func (b *Builder) Cmp(l, r ValueID) ValueID {
	return b.value(Instr{Op: Cmp, Args: []ValueID{l, r}})
}

func (b *Builder) Store(addr, val ValueID) InstrID {
	return b.emit(Instr{Op: Store, Res: Nowhere, Args: []ValueID{addr, val}})
}

func (b *Builder) Call(callee string, args ...ValueID) ValueID {
	return b.value(Instr{Op: Call, Callee: callee, Args: args})
}

func (b *Builder) Br(to BlockID, args ...ValueID) InstrID {
	return b.emit(Instr{
		Op:    Br,
		Res:   Nowhere,
		Succs: []Succ{{Block: to, Args: args}},
	})
}

func (b *Builder) CondBr(cond ValueID, then BlockID, thenArgs []ValueID, els BlockID, elsArgs []ValueID) InstrID {
	return b.emit(Instr{
		Op:   CondBr,
		Res:  Nowhere,
		Args: []ValueID{cond},
		Succs: []Succ{
			{Block: then, Args: thenArgs},
			{Block: els, Args: elsArgs},
		},
	})
}

func (b *Builder) Ret(args ...ValueID) InstrID {
	return b.emit(Instr{Op: Ret, Res: Nowhere, Args: args})
}

func (b *Builder) Unreachable() InstrID {
	return b.emit(Instr{Op: Unreachable, Res: Nowhere})
}
