package workflow

import (
	"fmt"
	"sort"

	"operatorkit/internal/dependent"
)

// Node is one dependent resource of a workflow together with its ordering
// and gating conditions. Nodes are immutable once the workflow is built.
type Node struct {
	resource   dependent.Resource
	dependsOn  []string
	conditions map[ConditionKind]Condition
}

// Name returns the name of the node's dependent resource.
func (n *Node) Name() string { return n.resource.Name() }

// Resource returns the node's dependent resource handle.
func (n *Node) Resource() dependent.Resource { return n.resource }

// DependsOn returns the names of the nodes this node depends on.
func (n *Node) DependsOn() []string { return append([]string(nil), n.dependsOn...) }

// Condition returns the condition of the given kind, if set.
func (n *Node) Condition(kind ConditionKind) (Condition, bool) {
	c, ok := n.conditions[kind]
	return c, ok
}

// Builder declares a workflow. Validation happens in Build.
type Builder struct {
	nodes       []*NodeBuilder
	failFast    bool
	concurrency int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// NodeBuilder configures a single node.
type NodeBuilder struct {
	builder *Builder
	node    *Node
}

// AddDependent adds a dependent resource as a node.
func (b *Builder) AddDependent(dep dependent.Resource) *NodeBuilder {
	nb := &NodeBuilder{
		builder: b,
		node: &Node{
			resource:   dep,
			conditions: make(map[ConditionKind]Condition),
		},
	}
	b.nodes = append(b.nodes, nb)
	return nb
}

// WithFailFast makes Reconcile and Cleanup stop at the first node error.
func (b *Builder) WithFailFast(failFast bool) *Builder {
	b.failFast = failFast
	return b
}

// WithConcurrency bounds how many nodes of one level run at once. Zero means
// no bound.
func (b *Builder) WithConcurrency(n int) *Builder {
	b.concurrency = n
	return b
}

// DependsOn declares that the node runs only after the named nodes are
// reconciled and ready.
func (nb *NodeBuilder) DependsOn(names ...string) *NodeBuilder {
	nb.node.dependsOn = append(nb.node.dependsOn, names...)
	return nb
}

// WithActivationCondition sets the activation condition.
func (nb *NodeBuilder) WithActivationCondition(c Condition) *NodeBuilder {
	return nb.with(Activation, c)
}

// WithReconcilePrecondition sets the reconcile precondition.
func (nb *NodeBuilder) WithReconcilePrecondition(c Condition) *NodeBuilder {
	return nb.with(ReconcilePrecondition, c)
}

// WithReadyPostcondition sets the ready postcondition.
func (nb *NodeBuilder) WithReadyPostcondition(c Condition) *NodeBuilder {
	return nb.with(ReadyPostcondition, c)
}

// WithDeletePostcondition sets the delete postcondition.
func (nb *NodeBuilder) WithDeletePostcondition(c Condition) *NodeBuilder {
	return nb.with(DeletePostcondition, c)
}

func (nb *NodeBuilder) with(kind ConditionKind, c Condition) *NodeBuilder {
	if c == nil {
		delete(nb.node.conditions, kind)
	} else {
		nb.node.conditions[kind] = c
	}
	return nb
}

// AddDependent continues the declaration with another node.
func (nb *NodeBuilder) AddDependent(dep dependent.Resource) *NodeBuilder {
	return nb.builder.AddDependent(dep)
}

// Build validates the declaration and returns the immutable Workflow.
func (nb *NodeBuilder) Build() (*Workflow, error) {
	return nb.builder.Build()
}

// Build validates the declaration and returns the immutable Workflow. It
// rejects nameless and duplicate nodes, dependencies on unknown nodes, and
// cycles.
func (b *Builder) Build() (*Workflow, error) {
	nodes := make(map[string]*Node, len(b.nodes))
	var duplicates, unnamed []string
	for i, nb := range b.nodes {
		if nb.node.resource == nil {
			unnamed = append(unnamed, fmt.Sprintf("#%d", i))
			continue
		}
		name := nb.node.Name()
		if name == "" {
			unnamed = append(unnamed, fmt.Sprintf("#%d", i))
			continue
		}
		if _, exists := nodes[name]; exists {
			duplicates = append(duplicates, name)
			continue
		}
		nodes[name] = nb.node
	}
	if len(unnamed) > 0 {
		return nil, &BuildError{Reason: "dependent without name", Nodes: unnamed}
	}
	if len(duplicates) > 0 {
		sort.Strings(duplicates)
		return nil, &BuildError{Reason: "duplicate dependent name", Nodes: duplicates}
	}

	dependents := make(map[string][]string, len(nodes))
	var dangling []string
	for name, n := range nodes {
		seen := make(map[string]bool, len(n.dependsOn))
		for _, dep := range n.dependsOn {
			if _, ok := nodes[dep]; !ok {
				dangling = append(dangling, fmt.Sprintf("%s -> %s", name, dep))
				continue
			}
			if dep == name {
				return nil, &BuildError{Reason: "dependent depends on itself", Nodes: []string{name}}
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			dependents[dep] = append(dependents[dep], name)
		}
	}
	if len(dangling) > 0 {
		sort.Strings(dangling)
		return nil, &BuildError{Reason: "dependency on unknown dependent", Nodes: dangling}
	}
	for name := range dependents {
		sort.Strings(dependents[name])
	}

	levels, err := topologicalLevels(nodes, dependents)
	if err != nil {
		return nil, err
	}

	return &Workflow{
		nodes:       nodes,
		dependents:  dependents,
		levels:      levels,
		failFast:    b.failFast,
		concurrency: b.concurrency,
	}, nil
}

// topologicalLevels sorts the nodes with Kahn's algorithm. Nodes whose
// dependencies are all in earlier levels share a level; each level is sorted
// by name so the result is deterministic.
func topologicalLevels(nodes map[string]*Node, dependents map[string][]string) ([][]string, error) {
	indegree := make(map[string]int, len(nodes))
	for name, n := range nodes {
		indegree[name] = len(uniq(n.dependsOn))
	}

	var queue []string
	for name, degree := range indegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}

	processed := 0
	var levels [][]string
	for len(queue) > 0 {
		sort.Strings(queue)
		levels = append(levels, queue)

		var next []string
		for _, name := range queue {
			processed++
			for _, child := range dependents[name] {
				indegree[child]--
				if indegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		queue = next
	}

	if processed != len(nodes) {
		var cyclic []string
		for name, degree := range indegree {
			if degree > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, &BuildError{Reason: "dependency cycle", Nodes: cyclic}
	}
	return levels, nil
}

func uniq(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
