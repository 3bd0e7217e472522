package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// rowsStub implements pgx.Rows over a list of per-row scan functions.
type rowsStub struct {
	scans []func(dest ...any) error
	idx   int
	err   error
}

func (r *rowsStub) Close()                                       {}
func (r *rowsStub) Err() error                                   { return r.err }
func (r *rowsStub) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Next() bool {
	if r.idx >= len(r.scans) {
		return false
	}
	r.idx++
	return true
}
func (r *rowsStub) Scan(dest ...any) error   { return r.scans[r.idx-1](dest...) }
func (r *rowsStub) Values() ([]any, error)   { return nil, nil }
func (r *rowsStub) RawValues() [][]byte      { return nil }
func (r *rowsStub) Conn() *pgx.Conn          { return nil }

// poolStub implements PgxPool for tests. It records queries so assertions
// can check SQL shape and call counts.
type poolStub struct {
	execErrs  []error
	execCalls int
	execSQL   []string
	execArgs  [][]any
	tag       pgconn.CommandTag

	row      rowStub
	rows     pgx.Rows
	queryErr error
	querySQL []string
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execCalls++
	p.execSQL = append(p.execSQL, sql)
	p.execArgs = append(p.execArgs, args)
	if len(p.execErrs) > 0 {
		err := p.execErrs[0]
		p.execErrs = p.execErrs[1:]
		if err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	return p.tag, nil
}

func (p *poolStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	if p.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	return p.row
}

func (p *poolStub) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	p.querySQL = append(p.querySQL, sql)
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if p.rows == nil {
		return &rowsStub{}, nil
	}
	return p.rows, nil
}
