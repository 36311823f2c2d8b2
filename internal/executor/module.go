package executor

// Module is a unit of resolver registration. Require lists modules whose
// resolvers are merged before this one's.
type Module struct {
	Require   []*Module
	Resolvers Map
}

// MergeModules merges modules depth first into a new Map. Each module is
// merged at most once however often it is required, so diamonds and cycles
// are safe.
//
// When two modules register a resolver under the same key the first one
// merged wins and later ones are dropped. Namespaces (nested Maps) are
// merged key by key instead.
func MergeModules(modules ...*Module) Map {
	out := Map{}
	seen := make(map[*Module]bool)
	var visit func(ms []*Module)
	visit = func(ms []*Module) {
		for _, m := range ms {
			if m == nil || seen[m] {
				continue
			}
			seen[m] = true
			visit(m.Require)
			mergeMap(out, m.Resolvers)
		}
	}
	visit(modules)
	return out
}

// mergeMap copies src into dst. Namespaces are copied rather than shared so
// the caller's maps are never written to.
func mergeMap(dst, src Map) {
	for k, sv := range src {
		tv, exists := dst[k]
		ns, isNamespace := sv.(Map)
		if !isNamespace {
			if !exists && sv != nil {
				dst[k] = sv
			}
			continue
		}
		if !exists {
			tv = Map{}
			dst[k] = tv
		}
		if target, ok := tv.(Map); ok {
			mergeMap(target, ns)
		}
	}
}
