// Package parse reads the textual IR form produced by ir.String.
package parse

import (
	"context"
	"os"
	"strconv"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/mirlang/mir/compiler/ir"
)

type (
	parser struct {
		name  string
		lines []string
	}

	funcScope struct {
		f      *ir.Func
		blocks map[string]ir.BlockID
		vals   map[string]ir.ValueID
	}
)

func ParseFile(ctx context.Context, name string) (*ir.Module, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	return Parse(ctx, name, text)
}

func Parse(ctx context.Context, name string, text []byte) (m *ir.Module, err error) {
	p := &parser{
		name:  name,
		lines: strings.Split(string(text), "\n"),
	}

	tlog.SpanFromContext(ctx).Printw("parse", "name", name, "lines", len(p.lines))

	m = ir.NewModule("")

	for i := 0; i < len(p.lines); {
		ln := p.line(i)

		switch {
		case ln == "":
			i++
		case strings.HasPrefix(ln, "package "):
			m.Path, err = strconv.Unquote(strings.TrimSpace(strings.TrimPrefix(ln, "package")))
			if err != nil {
				return nil, p.errf(i, "package path: %v", err)
			}

			i++
		case strings.HasPrefix(ln, "func "):
			i, err = p.parseFunc(m, i)
			if err != nil {
				return nil, err
			}
		default:
			return nil, p.errf(i, "unexpected line")
		}
	}

	return m, nil
}

// line returns the trimmed i-th line with any // comment removed.
func (p *parser) line(i int) string {
	ln := p.lines[i]

	if j := strings.Index(ln, "//"); j >= 0 {
		ln = ln[:j]
	}

	return strings.TrimSpace(ln)
}

func (p *parser) errf(i int, f string, args ...interface{}) error {
	return errors.New("%v:%d: "+f, append([]interface{}{p.name, i + 1}, args...)...)
}

// parseFunc parses a declaration or a definition starting at line i and
// returns the index of the first line after it.
func (p *parser) parseFunc(m *ir.Module, i int) (next int, err error) {
	ln := p.line(i)

	body := strings.HasSuffix(ln, "{")
	if body {
		ln = strings.TrimSpace(strings.TrimSuffix(ln, "{"))
	}

	noReturn := strings.HasSuffix(ln, " noreturn")
	if noReturn {
		ln = strings.TrimSpace(strings.TrimSuffix(ln, "noreturn"))
	}

	ln = strings.TrimSpace(strings.TrimPrefix(ln, "func"))

	if !strings.HasPrefix(ln, "@") || !strings.HasSuffix(ln, "()") {
		return i, p.errf(i, "bad function header")
	}

	name := strings.TrimSuffix(strings.TrimPrefix(ln, "@"), "()")
	if name == "" {
		return i, p.errf(i, "empty function name")
	}

	if m.FuncByName(name) != nil {
		return i, p.errf(i, "duplicate function @%v", name)
	}

	f := m.NewFunc(name)
	f.NoReturn = noReturn

	if !body {
		return i + 1, nil
	}

	end := i + 1
	for end < len(p.lines) && p.line(end) != "}" {
		end++
	}

	if end == len(p.lines) {
		return i, p.errf(i, "unterminated function body")
	}

	sc := &funcScope{
		f:      f,
		blocks: make(map[string]ir.BlockID),
		vals:   make(map[string]ir.ValueID),
	}

	// labels first so terminators can reference blocks defined later
	for j := i + 1; j < end; j++ {
		ln := p.line(j)
		if ln == "" || !strings.HasSuffix(ln, ":") {
			continue
		}

		err = p.parseLabel(sc, j, strings.TrimSuffix(ln, ":"))
		if err != nil {
			return i, err
		}
	}

	b := ir.NewBuilder(f, ir.NoBlock)

	for j := i + 1; j < end; j++ {
		ln := p.line(j)

		switch {
		case ln == "":
		case strings.HasSuffix(ln, ":"):
			name, _, _ := strings.Cut(strings.TrimSuffix(ln, ":"), "(")
			b.SetBlock(sc.blocks[name])
		case b.B == ir.NoBlock:
			return i, p.errf(j, "instruction outside a block")
		default:
			b.Pos = j + 1

			err = p.parseInstr(sc, b, j, ln)
			if err != nil {
				return i, err
			}
		}
	}

	err = f.Check()
	if err != nil {
		return i, errors.Wrap(err, "%v", p.name)
	}

	return end + 1, nil
}

func (p *parser) parseLabel(sc *funcScope, j int, ln string) error {
	name, params, ok := strings.Cut(ln, "(")

	if _, dup := sc.blocks[name]; dup || name == "" {
		return p.errf(j, "bad block label %q", name)
	}

	b := sc.f.NewBlock(name)
	sc.blocks[name] = b

	if !ok {
		return nil
	}

	params = strings.TrimSuffix(params, ")")
	if params == "" {
		return nil
	}

	for _, prm := range strings.Split(params, ",") {
		prm = strings.TrimSpace(prm)

		if !strings.HasPrefix(prm, "%") {
			return p.errf(j, "bad block parameter %q", prm)
		}

		if _, dup := sc.vals[prm]; dup {
			return p.errf(j, "duplicate value %v", prm)
		}

		sc.vals[prm] = sc.f.AddParam(b)
	}

	return nil
}

func (p *parser) parseInstr(sc *funcScope, b *ir.Builder, j int, ln string) (err error) {
	def := ""

	if strings.HasPrefix(ln, "%") {
		var ok bool

		def, ln, ok = strings.Cut(ln, "=")
		if !ok {
			return p.errf(j, "expected =")
		}

		def = strings.TrimSpace(def)
		ln = strings.TrimSpace(ln)

		if _, dup := sc.vals[def]; dup {
			return p.errf(j, "duplicate value %v", def)
		}
	}

	op, rest, _ := strings.Cut(ln, " ")
	rest = strings.TrimSpace(rest)

	var res ir.ValueID = ir.Nowhere

	switch op {
	case "add", "sub", "mul", "cmp":
		l, r, err := p.twoValues(sc, j, rest)
		if err != nil {
			return err
		}

		switch op {
		case "add":
			res = b.Add(l, r)
		case "sub":
			res = b.Sub(l, r)
		case "mul":
			res = b.Mul(l, r)
		case "cmp":
			res = b.Cmp(l, r)
		}
	case "store":
		addr, val, err := p.twoValues(sc, j, rest)
		if err != nil {
			return err
		}

		b.Store(addr, val)
	case "call":
		name, args, err := p.callExpr(sc, j, rest)
		if err != nil {
			return err
		}

		res = b.Call(name, args...)
	case "br":
		to, err := p.succ(sc, j, rest)
		if err != nil {
			return err
		}

		b.Br(to.Block, to.Args...)
	case "cond_br":
		parts := splitTop(rest)
		if len(parts) != 3 {
			return p.errf(j, "cond_br wants condition and two successors")
		}

		cond, err := p.value(sc, j, parts[0])
		if err != nil {
			return err
		}

		then, err := p.succ(sc, j, parts[1])
		if err != nil {
			return err
		}

		els, err := p.succ(sc, j, parts[2])
		if err != nil {
			return err
		}

		b.CondBr(cond, then.Block, then.Args, els.Block, els.Args)
	case "ret":
		args, err := p.values(sc, j, rest)
		if err != nil {
			return err
		}

		b.Ret(args...)
	case "unreachable":
		b.Unreachable()
	default:
		if len(op) > 1 && op[0] == 'i' {
			res, err = p.intLit(b, j, op[1:], rest)
			if err != nil {
				return err
			}

			break
		}

		return p.errf(j, "unknown op %q", op)
	}

	if def == "" {
		return nil
	}

	if res == ir.Nowhere {
		return p.errf(j, "%v has no result", op)
	}

	sc.vals[def] = res

	return nil
}

func (p *parser) intLit(b *ir.Builder, j int, bits, rest string) (ir.ValueID, error) {
	w, err := strconv.Atoi(bits)
	if err != nil || w <= 0 || w > 64 {
		return ir.Nowhere, p.errf(j, "bad literal width i%v", bits)
	}

	v, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return ir.Nowhere, p.errf(j, "bad literal value: %v", err)
	}

	return b.IntLit(w, v), nil
}

func (p *parser) value(sc *funcScope, j int, s string) (ir.ValueID, error) {
	s = strings.TrimSpace(s)

	v, ok := sc.vals[s]
	if !ok {
		return ir.Nowhere, p.errf(j, "undefined value %q", s)
	}

	return v, nil
}

func (p *parser) values(sc *funcScope, j int, s string) (vs []ir.ValueID, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	for _, part := range strings.Split(s, ",") {
		v, err := p.value(sc, j, part)
		if err != nil {
			return nil, err
		}

		vs = append(vs, v)
	}

	return vs, nil
}

func (p *parser) twoValues(sc *funcScope, j int, s string) (l, r ir.ValueID, err error) {
	vs, err := p.values(sc, j, s)
	if err != nil {
		return ir.Nowhere, ir.Nowhere, err
	}

	if len(vs) != 2 {
		return ir.Nowhere, ir.Nowhere, p.errf(j, "expected two operands")
	}

	return vs[0], vs[1], nil
}

func (p *parser) callExpr(sc *funcScope, j int, s string) (name string, args []ir.ValueID, err error) {
	if !strings.HasPrefix(s, "@") || !strings.HasSuffix(s, ")") {
		return "", nil, p.errf(j, "bad call %q", s)
	}

	name, rest, ok := strings.Cut(s[1:], "(")
	if !ok || name == "" {
		return "", nil, p.errf(j, "bad call %q", s)
	}

	args, err = p.values(sc, j, strings.TrimSuffix(rest, ")"))
	if err != nil {
		return "", nil, err
	}

	return name, args, nil
}

func (p *parser) succ(sc *funcScope, j int, s string) (ir.Succ, error) {
	s = strings.TrimSpace(s)

	name, rest, hasArgs := strings.Cut(s, "(")

	b, ok := sc.blocks[name]
	if !ok {
		return ir.Succ{}, p.errf(j, "undefined block %q", name)
	}

	if !hasArgs {
		return ir.Succ{Block: b}, nil
	}

	args, err := p.values(sc, j, strings.TrimSuffix(rest, ")"))
	if err != nil {
		return ir.Succ{}, err
	}

	return ir.Succ{Block: b, Args: args}, nil
}

// splitTop splits on commas outside parentheses.
func splitTop(s string) (parts []string) {
	depth, st := 0, 0

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[st:i]))
				st = i + 1
			}
		}
	}

	return append(parts, strings.TrimSpace(s[st:]))
}
