package object

import (
	"fmt"
	"strings"
)

// NodeKind defines what created a source node.
type NodeKind uint8

// source node kinds.
const (
	NodeRept NodeKind = iota
	NodeFile
	NodeMacro
)

// maxBacktraceDepth limits the walk up the parent chain of a source node.
const maxBacktraceDepth = 64

// NodePayload is the kind specific content of a source node, either a NodeName
// or a NodeIterations.
type NodePayload interface {
	nodePayload()
}

// NodeName is the payload of file and macro nodes.
type NodeName struct {
	Name string
}

// NodeIterations is the payload of repeat block nodes, listing the iteration
// counters of each nesting level from outermost to innermost.
type NodeIterations struct {
	Iters []uint32
}

func (NodeName) nodePayload()       {}
func (NodeIterations) nodePayload() {}

// Node is one entry of the source node tree of an object file. Parents are
// referenced by index, a node's parent always has a lower index.
type Node struct {
	Parent     uint32 // NoID for root nodes
	ParentLine uint32
	Kind       NodeKind
	Payload    NodePayload
}

// Arena holds all source nodes of one object file.
type Arena struct {
	file  string
	nodes []Node
}

// NewArena creates an empty node arena for the named object file.
func NewArena(file string) *Arena {
	return &Arena{file: file}
}

// Add appends a node and returns its index.
func (a *Arena) Add(node Node) uint32 {
	a.nodes = append(a.nodes, node)
	return uint32(len(a.nodes) - 1)
}

// Len returns the number of nodes.
func (a *Arena) Len() int {
	return len(a.nodes)
}

// Node returns the node at the given index.
func (a *Arena) Node(id uint32) (Node, bool) {
	if int(id) >= len(a.nodes) {
		return Node{}, false
	}
	return a.nodes[id], true
}

// Nodes returns all nodes in index order.
func (a *Arena) Nodes() []Node {
	return a.nodes
}

// name returns the display name of a node.
func (a *Arena) name(node Node) string {
	switch payload := node.Payload.(type) {
	case NodeName:
		return payload.Name
	case NodeIterations:
		// repeat blocks are shown relative to the enclosing node
		var parent string
		if p, ok := a.Node(node.Parent); ok {
			parent = a.name(p)
		}
		var buf strings.Builder
		buf.WriteString(parent)
		for _, iter := range payload.Iters {
			fmt.Fprintf(&buf, "::REPT~%d", iter)
		}
		return buf.String()
	default:
		return "?"
	}
}

// Backtrace returns the chain of source locations leading to the line of the
// given node, outermost first.
func (a *Arena) Backtrace(id, line uint32) string {
	var parts []string
	for depth := 0; depth < maxBacktraceDepth; depth++ {
		node, ok := a.Node(id)
		if !ok {
			break
		}
		parts = append(parts, fmt.Sprintf("%s(%d)", a.name(node), line))
		if node.Parent == NoID {
			break
		}
		id, line = node.Parent, node.ParentLine
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%s(?)", a.file)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " -> ")
}

// SourceRef references a line inside a source node of an object file.
type SourceRef struct {
	Arena *Arena
	Node  uint32
	Line  uint32
}

// String returns the backtrace of the source reference.
func (r SourceRef) String() string {
	if r.Arena == nil {
		return "<unknown>"
	}
	return r.Arena.Backtrace(r.Node, r.Line)
}
