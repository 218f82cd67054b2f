package telemetry

// DefaultSeparator joins parent and child keys.
const DefaultSeparator = "_"

// Flatten projects a reading tree onto a FlatRecord in pre-order. A child's
// key is its parent's key, sep, then its own key; top-level keys are used
// as is. Leaves are coerced. Groups without children contribute nothing.
func Flatten(reading Reading, sep string) FlatRecord {
	var b recordBuilder
	for _, n := range reading {
		flattenNode(&b, n, "", sep)
	}
	return b.record()
}

func flattenNode(b *recordBuilder, n Node, parent, sep string) {
	key := n.Key
	if parent != "" {
		key = parent + sep + n.Key
	}
	if !n.isGroup() {
		b.set(key, Coerce(n.Value))
		return
	}
	for _, child := range n.Children {
		flattenNode(b, child, key, sep)
	}
}
