package postgres

import (
	"fmt"
	"strings"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

// listQuery accumulates WHERE clauses and positional arguments.
type listQuery struct {
	base  string
	where []string
	args  []any
}

func newListQuery(base string) *listQuery { return &listQuery{base: base} }

func (q *listQuery) filter(clause string, arg any) {
	q.args = append(q.args, arg)
	q.where = append(q.where, fmt.Sprintf(clause, len(q.args)))
}

// window adds the time range of opts on col.
func (q *listQuery) window(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.filter(col+" >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		q.filter(col+" <= $%d", *opts.Until)
	}
}

// build renders the query ordered by order with the page of opts.
func (q *listQuery) build(order string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(q.base)
	if len(q.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.where, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(order)
	args := q.args
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}
