package resolver

import (
	"github.com/guitargeek/geeksw/internal/dag"
)

// BuildGraph links instances by their requirements. An edge runs from the
// instance producing a requirement to the instance consuming it; inputs
// produced outside the set (cache hits) add no edge.
func BuildGraph(instances []*Instance) (*dag.Graph, error) {
	g := dag.NewGraph()
	for _, inst := range instances {
		g.AddNode(inst.ID(), inst)
	}
	for _, inst := range instances {
		for _, p := range inst.Inputs() {
			if _, ok := g.GetNode(string(p)); !ok {
				continue
			}
			if err := g.AddEdge(string(p), inst.ID()); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// Order resolves the execution order of instances, failing with a
// *dag.CycleError when they cannot all be ordered.
func Order(instances []*Instance) ([]*Instance, *dag.Graph, error) {
	g, err := BuildGraph(instances)
	if err != nil {
		return nil, nil, err
	}
	nodes, err := g.TopologicalSort()
	if err != nil {
		return nil, g, err
	}
	out := make([]*Instance, len(nodes))
	for i, n := range nodes {
		out[i] = n.Data.(*Instance)
	}
	return out, g, nil
}
