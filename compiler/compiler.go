package compiler

import (
	"context"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/mirlang/mir/compiler/dce"
	"github.com/mirlang/mir/compiler/ir"
	"github.com/mirlang/mir/compiler/parse"
)

func OptimizeFile(ctx context.Context, name string) (obj []byte, err error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return Optimize(ctx, name, text)
}

func Optimize(ctx context.Context, name string, text []byte) (obj []byte, err error) {
	m, err := parse.Parse(ctx, name, text)
	if err != nil {
		return nil, errors.Wrap(err, "parse ir")
	}

	st := dce.Run(ctx, m)

	err = m.Check()
	if err != nil {
		return nil, errors.Wrap(err, "check module")
	}

	tlog.SpanFromContext(ctx).Printw("dead code eliminated", "name", name, "stats", st)

	return []byte(ir.String(m)), nil
}
