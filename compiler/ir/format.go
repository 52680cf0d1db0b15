package ir

import (
	"fmt"
	"io"
	"strings"
)

// String renders the module in the textual form parse understands.
func String(m *Module) string {
	var b strings.Builder

	_ = Fprint(&b, m)

	return b.String()
}

func Fprint(w io.Writer, m *Module) (err error) {
	if m.Path != "" {
		_, err = fmt.Fprintf(w, "package %q\n", m.Path)
		if err != nil {
			return err
		}
	}

	for _, f := range m.Funcs {
		_, err = fmt.Fprintf(w, "\n")
		if err != nil {
			return err
		}

		err = fprintFunc(w, f)
		if err != nil {
			return err
		}
	}

	return nil
}

func fprintFunc(w io.Writer, f *Func) (err error) {
	attr := ""
	if f.NoReturn {
		attr = " noreturn"
	}

	if len(f.Blocks) == 0 {
		_, err = fmt.Fprintf(w, "func @%s()%s\n", f.Name, attr)

		return err
	}

	_, err = fmt.Fprintf(w, "func @%s()%s {\n", f.Name, attr)
	if err != nil {
		return err
	}

	for _, b := range f.Blocks {
		blk := f.Block(b)

		_, err = fmt.Fprintf(w, "%s%s:\n", blk.Name, valueList(blk.Params))
		if err != nil {
			return err
		}

		for _, id := range blk.Code {
			_, err = fmt.Fprintf(w, "\t%s\n", f.instrString(id))
			if err != nil {
				return err
			}
		}
	}

	_, err = fmt.Fprintf(w, "}\n")

	return err
}

func (f *Func) instrString(id InstrID) string {
	in := f.Instr(id)

	var b strings.Builder

	if in.Res != Nowhere {
		fmt.Fprintf(&b, "%%%d = ", in.Res)
	}

	switch in.Op {
	case IntLit:
		fmt.Fprintf(&b, "i%d %d", in.Bits, in.Lit)
	case Add, Sub, Mul, Cmp, Store:
		fmt.Fprintf(&b, "%v %s", in.Op, values(in.Args))
	case Call:
		fmt.Fprintf(&b, "call @%s(%s)", in.Callee, values(in.Args))
	case Br:
		fmt.Fprintf(&b, "br %s", f.succString(in.Succs[0]))
	case CondBr:
		fmt.Fprintf(&b, "cond_br %%%d, %s, %s", in.Args[0], f.succString(in.Succs[0]), f.succString(in.Succs[1]))
	case Ret:
		if len(in.Args) == 0 {
			fmt.Fprintf(&b, "ret")
		} else {
			fmt.Fprintf(&b, "ret %s", values(in.Args))
		}
	case Unreachable:
		fmt.Fprintf(&b, "unreachable")
	default:
		panic(in.Op)
	}

	return b.String()
}

func (f *Func) succString(s Succ) string {
	name := f.Block(s.Block).Name

	if len(s.Args) == 0 {
		return name
	}

	return name + valueList(s.Args)
}

func valueList(vs []ValueID) string {
	if len(vs) == 0 {
		return ""
	}

	return "(" + values(vs) + ")"
}

func values(vs []ValueID) string {
	var b strings.Builder

	for i, v := range vs {
		if i != 0 {
			b.WriteString(", ")
		}

		fmt.Fprintf(&b, "%%%d", v)
	}

	return b.String()
}
