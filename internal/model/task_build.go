package model

// TaskPlan is the per-subgraph information the task graph builder
// (internal/taskgraph) needs to materialize a runnable Task: everything
// from SubgraphInfo plus its position in the overall topological order and
// its direct successor names, so the task graph doesn't need to re-derive
// graph structure from a Container.
type TaskPlan struct {
	Order     int
	Info      SubgraphInfo
	Successors []string
	IsHead    bool
	IsTail    bool
}

// BuildTaskPlans topologically orders a Graph and attaches successor/head/
// tail metadata to each subgraph, ready for internal/taskgraph to turn
// into Tasks.
func BuildTaskPlans(g *Graph) ([]TaskPlan, error) {
	order, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}

	headSet := make(map[string]bool, len(g.Heads))
	for _, h := range g.Heads {
		headSet[h] = true
	}
	tailSet := make(map[string]bool, len(g.Tails))
	for _, t := range g.Tails {
		tailSet[t] = true
	}

	plans := make([]TaskPlan, 0, len(order))
	for i, name := range order {
		info, ok := g.Subgraph(name)
		if !ok {
			continue
		}
		plans = append(plans, TaskPlan{
			Order:      i,
			Info:       info,
			Successors: g.Edges[name],
			IsHead:     headSet[name],
			IsTail:     tailSet[name],
		})
	}
	return plans, nil
}
