package scheduler

// UniformWeight treats every node as equally heavy, leaving launch order to
// descendant counts and node IDs alone.
func UniformWeight() WeightFn {
	return func(_ int) int { return 1 }
}

// WeightTable returns weights from a table; nodes absent from the table get
// weight 1. Useful for flagging stages known to be slow, such as ones that
// shell out to an external profiler.
func WeightTable(w map[int]int) WeightFn {
	return func(node int) int {
		if v, ok := w[node]; ok {
			return v
		}
		return 1
	}
}
