// Package scheduler runs the analysis stages as a DAG with bounded
// parallelism. Ready nodes launch heavier-first: nodes that block more
// downstream work (more distinct descendants), then nodes with the larger
// cost hint, start earlier. A node failure is recorded, not fatal; its
// descendants still run so independent analyses survive a failed stage.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/bits"
	"sort"
)

// WeightFn returns a relative cost hint for a node. It only influences
// launch order among equally-blocking ready nodes; heavier launches first.
type WeightFn func(node int) int

// NodeRunner executes one node to completion.
type NodeRunner func(ctx context.Context, node int) error

// NodeError records a node failure along with the node that produced it.
type NodeError struct {
	Node int
	Err  error
}

func (e *NodeError) Error() string { return fmt.Sprintf("node %d: %v", e.Node, e.Err) }
func (e *NodeError) Unwrap() error { return e.Err }

// Params configures one scheduler run.
//
//   - Adj is the DAG adjacency list; edge u->v means "u must finish before v".
//   - Weight is an optional cost hint (nil treats all nodes as equal).
//   - Targets is the set of nodes the caller needs; the run stops once all
//     targets and their ancestors have finished. Nil means every node.
//   - NParallel bounds the number of nodes in flight (<=0 is treated as 1).
type Params struct {
	Adj       [][]int
	Weight    WeightFn
	Targets   map[int]struct{}
	NParallel int
	Run       NodeRunner
}

// Run executes the DAG. It returns a cycle or configuration error
// immediately; node failures are collected and returned joined, in node-ID
// order, after all reachable work has finished.
func Run(ctx context.Context, p Params) error {
	if p.Run == nil {
		return errors.New("Run callback is nil")
	}
	if p.Adj == nil {
		return errors.New("Adj is nil")
	}
	weightOf := p.Weight
	if weightOf == nil {
		weightOf = func(int) int { return 1 }
	}
	nParallel := p.NParallel
	if nParallel <= 0 {
		nParallel = 1
	}

	adj := p.Adj
	n := len(adj)
	targets := p.Targets
	if targets == nil {
		targets = make(map[int]struct{}, n)
		for u := 0; u < n; u++ {
			targets[u] = struct{}{}
		}
	}

	need := computeNeededNodes(adj, targets)
	indeg := computeIndegrees(adj)
	desc, err := descendantCounts(adj)
	if err != nil {
		return err
	}

	ready := make(intSet, n)
	for u := 0; u < n; u++ {
		if indeg[u] == 0 {
			if _, ok := need[u]; ok {
				ready.Add(u)
			}
		}
	}
	completed := make(intSet, n)
	nodeErrs := make(map[int]error)

	type completion struct {
		node int
		err  error
	}
	completionCh := make(chan completion, n)
	inflight := 0

	launch := func() {
		for inflight < nParallel && len(ready) > 0 {
			u := pickNext(ready, desc, weightOf)
			ready.Remove(u)
			go func(node int) {
				err := p.Run(ctx, node)
				select {
				case completionCh <- completion{node: node, err: err}:
				case <-ctx.Done():
				}
			}(u)
			inflight++
		}
	}

	launch()
	for !isSubset(completed, need) {
		if inflight == 0 {
			launch()
			if inflight == 0 {
				return errors.New("deadlock: nothing inflight and nothing to launch")
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-completionCh:
			inflight--
			if ev.err != nil {
				nodeErrs[ev.node] = ev.err
			}
			completed.Add(ev.node)
			for _, v := range adj[ev.node] {
				indeg[v]--
				if indeg[v] == 0 {
					if _, needV := need[v]; needV && !completed.Has(v) {
						ready.Add(v)
					}
				}
			}
			launch()
		}
	}

	if len(nodeErrs) == 0 {
		return nil
	}
	nodes := make([]int, 0, len(nodeErrs))
	for u := range nodeErrs {
		nodes = append(nodes, u)
	}
	sort.Ints(nodes)
	joined := make([]error, 0, len(nodes))
	for _, u := range nodes {
		joined = append(joined, &NodeError{Node: u, Err: nodeErrs[u]})
	}
	return errors.Join(joined...)
}

// pickNext selects the ready node with the most distinct descendants,
// breaking ties by larger weight, then by smaller node ID.
func pickNext(ready intSet, desc []int, weightOf WeightFn) int {
	best := -1
	for u := range ready {
		if best == -1 {
			best = u
			continue
		}
		if desc[u] != desc[best] {
			if desc[u] > desc[best] {
				best = u
			}
			continue
		}
		wu, wb := weightOf(u), weightOf(best)
		if wu != wb {
			if wu > wb {
				best = u
			}
			continue
		}
		if u < best {
			best = u
		}
	}
	return best
}

//
// Graph helpers
//

func computeIndegrees(adj [][]int) []int {
	n := len(adj)
	indeg := make([]int, n)
	for u := 0; u < n; u++ {
		for _, v := range adj[u] {
			indeg[v]++
		}
	}
	return indeg
}

func buildReverseGraph(adj [][]int) [][]int {
	n := len(adj)
	rev := make([][]int, n)
	for u := 0; u < n; u++ {
		for _, v := range adj[u] {
			rev[v] = append(rev[v], u)
		}
	}
	return rev
}

// computeNeededNodes collects all ancestors of targets (including targets).
func computeNeededNodes(adj [][]int, targets map[int]struct{}) map[int]struct{} {
	rev := buildReverseGraph(adj)
	need := make(map[int]struct{}, len(targets))
	q := make([]int, 0, len(targets))
	for t := range targets {
		need[t] = struct{}{}
		q = append(q, t)
	}
	for i := 0; i < len(q); i++ {
		t := q[i]
		for _, p := range rev[t] {
			if _, ok := need[p]; !ok {
				need[p] = struct{}{}
				q = append(q, p)
			}
		}
	}
	return need
}

// toposortAny returns any topological order or an error if a cycle exists.
func toposortAny(adj [][]int) ([]int, error) {
	n := len(adj)
	indeg := computeIndegrees(adj)
	q := make([]int, 0)
	for u := 0; u < n; u++ {
		if indeg[u] == 0 {
			q = append(q, u)
		}
	}
	order := make([]int, 0, n)
	for i := 0; i < len(q); i++ {
		u := q[i]
		order = append(order, u)
		for _, v := range adj[u] {
			indeg[v]--
			if indeg[v] == 0 {
				q = append(q, v)
			}
		}
	}
	if len(order) != n {
		return nil, errors.New("graph is not a DAG (cycle detected)")
	}
	return order, nil
}

// descendantCounts computes, for each node v, the number of distinct
// descendants of v. Uses big.Int bitsets: O(E + N * machineWordCount).
func descendantCounts(adj [][]int) ([]int, error) {
	n := len(adj)
	topo, err := toposortAny(adj)
	if err != nil {
		return nil, err
	}
	sets := make([]*big.Int, n)
	for i := range sets {
		sets[i] = new(big.Int)
	}
	for i := n - 1; i >= 0; i-- {
		v := topo[i]
		b := new(big.Int)
		for _, u := range adj[v] {
			b.Or(b, sets[u])  // union with child set
			b.SetBit(b, u, 1) // include the child itself
		}
		sets[v] = b
	}
	out := make([]int, n)
	for v := 0; v < n; v++ {
		sum := 0
		for _, w := range sets[v].Bits() {
			sum += bits.OnesCount(uint(w))
		}
		out[v] = sum
	}
	return out, nil
}

type intSet map[int]struct{}

func (s intSet) Add(x int)      { s[x] = struct{}{} }
func (s intSet) Remove(x int)   { delete(s, x) }
func (s intSet) Has(x int) bool { _, ok := s[x]; return ok }

func isSubset(a intSet, b map[int]struct{}) bool {
	for x := range b {
		if !a.Has(x) {
			return false
		}
	}
	return true
}
