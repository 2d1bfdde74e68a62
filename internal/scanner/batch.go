package scanner

// Batch is one scanner invocation's worth of file paths.
type Batch struct {
	Index int
	Paths []string
}

// Cost is the serialized length a path adds to a command line.
func Cost(path string) int {
	return len(path) + 1
}

// Partition splits paths, in order, into batches whose total Cost stays
// within budget. A path that alone exceeds the budget gets its own batch.
// A non-positive budget yields a single batch.
func Partition(paths []string, budget int) []Batch {
	if len(paths) == 0 {
		return nil
	}
	if budget <= 0 {
		return []Batch{{Index: 0, Paths: append([]string(nil), paths...)}}
	}

	var (
		batches []Batch
		current []string
		size    int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		batches = append(batches, Batch{Index: len(batches), Paths: current})
		current = nil
		size = 0
	}
	for _, p := range paths {
		c := Cost(p)
		if size+c > budget {
			flush()
		}
		current = append(current, p)
		size += c
	}
	flush()
	return batches
}
