package model

import "fmt"

// Graph is the walkable task graph derived from a Container: subgraphs as
// nodes, edges inferred by matching an input tensor's name against some
// other subgraph's output tensor name.
type Graph struct {
	Nodes    []SubgraphInfo
	byName   map[string]int
	Edges    map[string][]string // producer subgraph name -> consumer subgraph names
	Heads    []string            // subgraphs with no producer among the graph's nodes
	Tails    []string            // subgraphs whose outputs are never consumed internally
	TensorOf map[string]string   // tensor name -> producing subgraph name
}

// BuildGraph derives a Graph from a Container, already validated by Open
// (format version, duplicate outputs).
func BuildGraph(c *Container) (*Graph, error) {
	g := &Graph{
		Nodes:    c.Subgraphs,
		byName:   make(map[string]int, len(c.Subgraphs)),
		Edges:    make(map[string][]string),
		TensorOf: make(map[string]string),
	}

	for i, sg := range c.Subgraphs {
		if _, dup := g.byName[sg.Name]; dup {
			return nil, fmt.Errorf("model: duplicate subgraph name %q", sg.Name)
		}
		g.byName[sg.Name] = i
		for _, out := range sg.Outputs {
			g.TensorOf[out.Name] = sg.Name
		}
	}

	consumed := make(map[string]bool)
	hasProducerInput := make(map[string]bool, len(c.Subgraphs))
	for _, sg := range c.Subgraphs {
		for _, in := range sg.Inputs {
			if producer, ok := g.TensorOf[in.Name]; ok {
				g.Edges[producer] = append(g.Edges[producer], sg.Name)
				hasProducerInput[sg.Name] = true
				consumed[in.Name] = true
			}
		}
	}

	for _, sg := range c.Subgraphs {
		if !hasProducerInput[sg.Name] {
			g.Heads = append(g.Heads, sg.Name)
		}
		tail := true
		for _, out := range sg.Outputs {
			if consumed[out.Name] {
				tail = false
				break
			}
		}
		if tail {
			g.Tails = append(g.Tails, sg.Name)
		}
	}

	if len(g.Heads) == 0 {
		return nil, fmt.Errorf("model: graph has no head subgraph (cycle?)")
	}

	return g, nil
}

// TopoOrder returns subgraph names in an order where every subgraph
// appears after all subgraphs that produce one of its inputs, using
// Kahn's algorithm. An error indicates a cycle.
func (g *Graph) TopoOrder() ([]string, error) {
	indegree := make(map[string]int, len(g.Nodes))
	for _, sg := range g.Nodes {
		indegree[sg.Name] = 0
	}
	for _, consumers := range g.Edges {
		for _, c := range consumers {
			indegree[c]++
		}
	}

	var queue []string
	for _, sg := range g.Nodes {
		if indegree[sg.Name] == 0 {
			queue = append(queue, sg.Name)
		}
	}

	order := make([]string, 0, len(g.Nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, c := range g.Edges[n] {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, fmt.Errorf("model: graph contains a cycle")
	}
	return order, nil
}

// Subgraph looks up a node by name.
func (g *Graph) Subgraph(name string) (SubgraphInfo, bool) {
	idx, ok := g.byName[name]
	if !ok {
		return SubgraphInfo{}, false
	}
	return g.Nodes[idx], true
}
