// Package dag orders producer instances. Nodes are keyed by concrete
// product path; an edge runs from the instance producing a requirement to
// the instance consuming it.
package dag

import (
	"fmt"
	"slices"
)

// Node represents a node in the DAG.
type Node struct {
	// ID is the unique identifier (concrete product path)
	ID string
	// Data holds arbitrary node data
	Data any
}

// Graph represents a directed graph. Edges run from a dependency (parent)
// to its dependent (child).
type Graph struct {
	nodes   map[string]*Node
	order   []string            // insertion order
	edges   map[string][]string // parent -> children (dependents)
	parents map[string][]string // child -> parents (dependencies)
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a node to the graph. Adding an existing ID replaces its data
// and keeps its position.
func (g *Graph) AddNode(id string, data any) {
	if n, exists := g.nodes[id]; exists {
		n.Data = data
		return
	}
	g.nodes[id] = &Node{ID: id, Data: data}
	g.order = append(g.order, id)
	g.edges[id] = []string{}
	g.parents[id] = []string{}
}

// AddEdge adds a directed edge from parent to child (child depends on parent).
// A self-loop is reported as a *CycleError.
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}

	if parentID == childID {
		return &CycleError{Path: []string{parentID, parentID}}
	}

	// Add edge (avoid duplicates)
	if !slices.Contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
	}
	if !slices.Contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}

	return nil
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// GetParents returns the parents (dependencies) of a node.
func (g *Graph) GetParents(id string) []string {
	return g.parents[id]
}

// GetChildren returns the children (dependents) of a node.
func (g *Graph) GetChildren(id string) []string {
	return g.edges[id]
}

// GetAllNodes returns all nodes in insertion order.
func (g *Graph) GetAllNodes() []*Node {
	nodes := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// HasCycle reports whether the graph contains a cycle. The returned path
// starts and ends at the same node, e.g. [a b a].
func (g *Graph) HasCycle() (bool, []string) {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = onStack
		stack = append(stack, id)
		for _, childID := range g.edges[id] {
			switch state[childID] {
			case onStack:
				i := slices.Index(stack, childID)
				cycle = append(slices.Clone(stack[i:]), childID)
				return true
			case unvisited:
				if visit(childID) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, id := range g.order {
		if state[id] == unvisited && visit(id) {
			return true, cycle
		}
	}
	return false, nil
}

// TopologicalSort returns nodes in topological order (dependencies before
// dependents) using Kahn's algorithm. Ready nodes are taken in insertion
// order, so the result is deterministic for a fixed construction sequence.
// A graph with a cycle yields a *CycleError.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for _, id := range g.order {
		inDegree[id] = len(g.parents[id])
	}

	queue := make([]string, 0, len(g.order))
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]*Node, 0, len(g.order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, g.nodes[id])

		for _, childID := range g.edges[id] {
			inDegree[childID]--
			if inDegree[childID] == 0 {
				queue = append(queue, childID)
			}
		}
	}

	if len(result) < len(g.nodes) {
		_, cyclePath := g.HasCycle()
		return nil, &CycleError{Path: cyclePath}
	}

	return result, nil
}

// GetExecutionLevels returns nodes grouped by execution level.
// Nodes at level N can be executed in parallel after level N-1 completes.
// Level 0 contains nodes with no dependencies.
func (g *Graph) GetExecutionLevels() ([][]string, error) {
	sorted, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	levels := [][]string{}
	assigned := make(map[string]int, len(sorted))

	// Parents always precede children in sorted order
	for _, node := range sorted {
		level := 0
		for _, parentID := range g.parents[node.ID] {
			if l := assigned[parentID] + 1; l > level {
				level = l
			}
		}
		assigned[node.ID] = level
		for len(levels) <= level {
			levels = append(levels, []string{})
		}
		levels[level] = append(levels[level], node.ID)
	}

	// Sort each level for deterministic output
	for i := range levels {
		slices.Sort(levels[i])
	}

	return levels, nil
}
