package compiler

import (
	"fmt"
	"io"
	"strings"
)

// DumpAST writes an indented outline of the tree rooted at n, one node per
// line, in the form "Kind [line N]: text".
func DumpAST(w io.Writer, n Node) {
	dumpNode(w, n, 0)
}

func dumpNode(w io.Writer, n Node, depth int) {
	fmt.Fprintf(w, "%s%s [line %d]: %s\n", strings.Repeat("  ", depth), n.Kind(), n.Line(), n)
	for _, c := range Children(n) {
		dumpNode(w, c, depth+1)
	}
}
