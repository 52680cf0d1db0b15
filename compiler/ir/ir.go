package ir

import (
	"tlog.app/go/errors"
)

type (
	// InstrID, BlockID and ValueID are stable handles into a Func arena.
	// Slots are tombstoned on deletion and never reused.
	InstrID int
	BlockID int
	ValueID int

	Op int

	// Succ is one terminator edge: the target block and the values
	// passed to its parameters.
	Succ struct {
		Block BlockID
		Args  []ValueID
	}

	Instr struct {
		Op  Op
		Res ValueID

		Args  []ValueID
		Succs []Succ `tlog:",omitempty"`

		Lit    int64  `tlog:",omitempty"` // IntLit payload
		Bits   int    `tlog:",omitempty"` // IntLit width, 1 for booleans
		Callee string `tlog:",omitempty"`

		Pos int // source line, 0 means compiler generated

		Block BlockID
	}

	// Value is an operand source: an instruction result or a block
	// parameter. Uses is a multiset, one entry per operand edge.
	Value struct {
		Def   InstrID
		Block BlockID
		Uses  []InstrID
	}

	Block struct {
		Name   string
		Params []ValueID

		Code []InstrID // last one is the terminator
	}

	Func struct {
		Name     string
		NoReturn bool

		Blocks []BlockID // layout order, first is the entry

		blocks []Block
		instrs []Instr
		vals   []Value
	}

	Module struct {
		Path string

		Funcs []*Func
	}
)

const (
	NoInstr InstrID = -1
	NoBlock BlockID = -1
	Nowhere ValueID = -1
)

const (
	None Op = iota // tombstone

	IntLit
	Add
	Sub
	Mul
	Cmp
	Store
	Call

	Br
	CondBr
	Ret
	Unreachable
)

func (o Op) IsTerminator() bool {
	switch o {
	case Br, CondBr, Ret, Unreachable:
		return true
	}

	return false
}

func (o Op) HasSideEffects() bool {
	switch o {
	case Store, Call:
		return true
	}

	return false
}

func (o Op) String() string {
	switch o {
	case None:
		return "none"
	case IntLit:
		return "int"
	case Add:
		return "add"
	case Sub:
		return "sub"
	case Mul:
		return "mul"
	case Cmp:
		return "cmp"
	case Store:
		return "store"
	case Call:
		return "call"
	case Br:
		return "br"
	case CondBr:
		return "cond_br"
	case Ret:
		return "ret"
	case Unreachable:
		return "unreachable"
	}

	panic(int(o))
}

func NewModule(path string) *Module {
	return &Module{Path: path}
}

func (m *Module) NewFunc(name string) *Func {
	f := &Func{Name: name}
	m.Funcs = append(m.Funcs, f)

	return f
}

// Declare adds a body-less function: a callee whose type is known but
// whose code is external.
func (m *Module) Declare(name string, noReturn bool) *Func {
	f := m.NewFunc(name)
	f.NoReturn = noReturn

	return f
}

// FuncByName resolves a callee. nil means the callee type can not be
// determined.
func (m *Module) FuncByName(name string) *Func {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}

	return nil
}

func (f *Func) Instr(id InstrID) *Instr { return &f.instrs[id] }
func (f *Func) Value(id ValueID) *Value { return &f.vals[id] }
func (f *Func) Block(id BlockID) *Block { return &f.blocks[id] }

func (f *Func) Entry() BlockID {
	if len(f.Blocks) == 0 {
		return NoBlock
	}

	return f.Blocks[0]
}

// Term returns the last instruction of the block or NoInstr if the block
// is empty. Callers check the op themselves: a dismantled block may
// temporarily have no terminator.
func (f *Func) Term(b BlockID) InstrID {
	code := f.blocks[b].Code
	if len(code) == 0 {
		return NoInstr
	}

	return code[len(code)-1]
}

func (f *Func) NewBlock(name string) BlockID {
	id := BlockID(len(f.blocks))

	f.blocks = append(f.blocks, Block{Name: name})
	f.Blocks = append(f.Blocks, id)

	return id
}

// AddParam appends a parameter value to the block.
func (f *Func) AddParam(b BlockID) ValueID {
	v := f.newValue(NoInstr, b)

	blk := &f.blocks[b]
	blk.Params = append(blk.Params, v)

	return v
}

func (f *Func) newValue(def InstrID, b BlockID) ValueID {
	id := ValueID(len(f.vals))
	f.vals = append(f.vals, Value{Def: def, Block: b})

	return id
}

// newInstr allocates the instruction, registers all its operand edges and
// appends it to the block.
func (f *Func) newInstr(in Instr, b BlockID) InstrID {
	id := InstrID(len(f.instrs))

	in.Block = b
	f.instrs = append(f.instrs, in)

	for _, v := range in.Args {
		f.addUse(v, id)
	}

	for _, s := range in.Succs {
		for _, v := range s.Args {
			f.addUse(v, id)
		}
	}

	blk := &f.blocks[b]
	blk.Code = append(blk.Code, id)

	return id
}

func (f *Func) addUse(v ValueID, user InstrID) {
	f.vals[v].Uses = append(f.vals[v].Uses, user)
}

// DropUse removes one operand edge from the value's use-list. A missing
// edge means the graph is already inconsistent.
func (f *Func) DropUse(v ValueID, user InstrID) {
	uses := f.vals[v].Uses

	for i, u := range uses {
		if u != user {
			continue
		}

		uses[i] = uses[len(uses)-1]
		f.vals[v].Uses = uses[:len(uses)-1]

		return
	}

	panic(user)
}

// Operands returns all values the instruction reads: arguments plus
// successor-edge arguments for terminators.
func (f *Func) Operands(id InstrID) []ValueID {
	in := &f.instrs[id]

	ops := make([]ValueID, 0, len(in.Args)+4)
	ops = append(ops, in.Args...)

	for _, s := range in.Succs {
		ops = append(ops, s.Args...)
	}

	return ops
}

// DropRefs severs every outgoing operand edge of the instruction.
func (f *Func) DropRefs(id InstrID) {
	in := &f.instrs[id]

	for _, v := range in.Args {
		f.DropUse(v, id)
	}

	for _, s := range in.Succs {
		for _, v := range s.Args {
			f.DropUse(v, id)
		}
	}

	in.Args = nil
	in.Succs = nil
}

// Detach removes the instruction from its block and tombstones it.
// Outgoing edges must have been dropped already; incoming edges must be
// gone or the value graph is corrupted.
func (f *Func) Detach(id InstrID) {
	in := &f.instrs[id]

	if in.Res != Nowhere && len(f.vals[in.Res].Uses) != 0 {
		panic(id)
	}

	for _, v := range f.Operands(id) {
		for _, u := range f.vals[v].Uses {
			if u == id {
				panic(id)
			}
		}
	}

	if in.Block != NoBlock {
		f.unlink(in.Block, id)
	}

	in.Op = None
	in.Args = nil
	in.Succs = nil
	in.Block = NoBlock
}

func (f *Func) unlink(b BlockID, id InstrID) {
	code := f.blocks[b].Code

	for i, x := range code {
		if x != id {
			continue
		}

		copy(code[i:], code[i+1:])
		f.blocks[b].Code = code[:len(code)-1]

		return
	}

	panic(id)
}

// InsertBranch builds an unconditional branch and installs it as the
// block terminator. The previous terminator is unlinked from the block
// but keeps its operand edges; the caller deletes it.
func (f *Func) InsertBranch(b BlockID, to Succ) (br, old InstrID) {
	old = f.Term(b)
	if old == NoInstr || !f.instrs[old].Op.IsTerminator() {
		panic(b)
	}

	args := append([]ValueID(nil), to.Args...)

	br = f.newInstr(Instr{
		Op:    Br,
		Res:   Nowhere,
		Succs: []Succ{{Block: to.Block, Args: args}},
	}, b)

	f.unlink(b, old)
	f.instrs[old].Block = NoBlock

	return br, old
}

// InsertUnreachable appends an unreachable terminator to a block that has
// none. Pos is left zero: the instruction is synthetic, not user code.
func (f *Func) InsertUnreachable(b BlockID) InstrID {
	if t := f.Term(b); t != NoInstr && f.instrs[t].Op.IsTerminator() {
		panic(b)
	}

	return f.newInstr(Instr{Op: Unreachable, Res: Nowhere}, b)
}

// RemoveBlock unlinks an emptied block from the function layout.
func (f *Func) RemoveBlock(b BlockID) {
	blk := &f.blocks[b]

	if len(blk.Code) != 0 {
		panic(b)
	}

	for _, p := range blk.Params {
		if len(f.vals[p].Uses) != 0 {
			panic(p)
		}
	}

	for i, x := range f.Blocks {
		if x != b {
			continue
		}

		copy(f.Blocks[i:], f.Blocks[i+1:])
		f.Blocks = f.Blocks[:len(f.Blocks)-1]

		blk.Params = nil

		return
	}

	panic(b)
}

// Check verifies def-use consistency and block shape. It is the testable
// form of the invariants the pass enforces by panic.
func (f *Func) Check() (err error) {
	live := make(map[InstrID]struct{}, len(f.instrs))
	edges := make(map[ValueID]map[InstrID]int)

	for _, b := range f.Blocks {
		blk := &f.blocks[b]

		if len(blk.Code) == 0 {
			return errors.New("%v: block %v: no terminator", f.Name, blk.Name)
		}

		for i, id := range blk.Code {
			in := &f.instrs[id]

			if in.Op == None {
				return errors.New("%v: block %v: deleted instruction %v still linked", f.Name, blk.Name, id)
			}

			if in.Block != b {
				return errors.New("%v: block %v: instruction %v parent mismatch", f.Name, blk.Name, id)
			}

			if last := i == len(blk.Code)-1; in.Op.IsTerminator() != last {
				return errors.New("%v: block %v: misplaced terminator %v", f.Name, blk.Name, id)
			}

			live[id] = struct{}{}

			for _, v := range f.Operands(id) {
				if edges[v] == nil {
					edges[v] = make(map[InstrID]int)
				}

				edges[v][id]++
			}
		}
	}

	for vid := range f.vals {
		v := ValueID(vid)

		have := make(map[InstrID]int)
		for _, u := range f.vals[v].Uses {
			have[u]++
		}

		want := edges[v]

		if len(have) != len(want) {
			return errors.New("%v: value %v: use-list mismatch", f.Name, v)
		}

		for u, n := range want {
			if have[u] != n {
				return errors.New("%v: value %v: use-list mismatch for %v", f.Name, v, u)
			}
		}
	}

	for v, users := range edges {
		if len(users) == 0 {
			continue
		}

		if def := f.vals[v].Def; def != NoInstr {
			if _, ok := live[def]; !ok {
				return errors.New("%v: value %v: use of deleted definition", f.Name, v)
			}
		}
	}

	return nil
}

func (m *Module) Check() error {
	for _, f := range m.Funcs {
		if err := f.Check(); err != nil {
			return err
		}
	}

	return nil
}
