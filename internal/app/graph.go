package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/specialistvlad/taskgrid/internal/builder"
	"github.com/specialistvlad/taskgrid/internal/dag"
)

// WriteGraph renders the action graph of the requested targets in DOT
// format. Nodes of one batch share a rank.
func (app *App) WriteGraph(ctx context.Context, opts RunOptions, w io.Writer) error {
	g, err := app.BuildGraph(ctx, opts)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, renderDOT(g))
	return err
}

func renderDOT(g *builder.Graph) string {
	var b strings.Builder
	b.WriteString("digraph taskgrid {\n")
	for i, batch := range g.Batches {
		fmt.Fprintf(&b, "  subgraph batch_%d {\n    rank = same;\n", i)
		for _, idx := range batch {
			fmt.Fprintf(&b, "    n%d [label=%q];\n", idx, g.Node(idx).Label())
		}
		b.WriteString("  }\n")
	}
	for i := range g.Len() {
		from := dag.Index(i)
		for _, to := range g.Dependencies(from) {
			fmt.Fprintf(&b, "  n%d -> n%d;\n", from, to)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
