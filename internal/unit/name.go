package unit

import (
	"fmt"
	"strings"
)

// Namer turns grouped paths into unique, filesystem-safe unit names.
// A name shape is the path with "/" replaced by "__" (or "<name>-N" on collision).
type Namer struct {
	used    map[string]struct{}
	counter map[string]int
}

func NewNamer() *Namer {
	return &Namer{
		used:    make(map[string]struct{}),
		counter: make(map[string]int),
	}
}

// Name returns a unique unit name for p.
func (n *Namer) Name(p string) string {
	base := BaseName(p)
	if _, ok := n.used[base]; !ok {
		n.used[base] = struct{}{}
		n.counter[base] = 1
		return base
	}
	i := n.counter[base]
	for {
		i++
		candidate := fmt.Sprintf("%s-%d", base, i)
		if _, exists := n.used[candidate]; exists {
			continue
		}
		n.used[candidate] = struct{}{}
		n.counter[base] = i
		return candidate
	}
}

// BaseName is the collision-free-in-practice name for a path.
func BaseName(p string) string {
	p = NormalizePath(p)
	var b strings.Builder
	for _, seg := range strings.Split(p, "/") {
		if b.Len() > 0 {
			b.WriteString("__")
		}
		for _, r := range seg {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
				b.WriteRune(r)
			default:
				b.WriteByte('_')
			}
		}
	}
	name := strings.TrimLeft(b.String(), ".")
	if name == "" {
		return "unit"
	}
	return name
}
