// Package executor resolves rexq queries against a map of resolvers.
//
// # Resolvers
//
// A Map holds one Entry per field name:
//   - Leaf: a plain Func. Registered under a type name it is a type
//     resolver that materializes objects before their fields are read.
//   - *Composed: an ordered step chain (see Compose) with an optional result
//     type naming the resolvers that post-process its value.
//   - Map: a namespace; its entries resolve the field's children.
//   - Alias: the entry at a path of the top-level Map.
//
// Fields without an entry are read off the parent value, so plain maps and
// structs need no resolvers at all.
//
// # Execution
//
// Root fields run in parallel unless the $execute variable is "serial", in
// which case each starts after the previous one finished. Within a field,
// children and list elements always run in parallel. A failing field sets
// its alias to nil and records an Error; the other fields are unaffected.
//
// Values are shaped to the selection: lists element-wise, objects keyed by
// alias, objects without a sub-selection collapse to an empty object, and
// wildcard fields or Raw values are returned untouched.
//
// # Links and fallback
//
// A Link forwards fields to another executor. Within one Resolve call every
// link request is queued per link and sent as a single query once the link
// has been idle for its latency. Fields no local resolver knows can be handed
// to a fallback executor, or reported back in Result.Fallback.
package executor
