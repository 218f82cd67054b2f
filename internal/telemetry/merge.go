package telemetry

// Merge combines the available source records of one cycle into a single
// record, in source order. A key already taken is prefixed with the
// source name and sep, repeatedly, until it no longer collides.
func Merge(statuses []SourceStatus, sep string) FlatRecord {
	var b recordBuilder
	for _, st := range statuses {
		if !st.Available {
			continue
		}
		for _, f := range st.Record.fields {
			name := f.Name
			for b.has(name) {
				name = st.Source + sep + name
			}
			b.set(name, f.Value)
		}
	}
	return b.record()
}

// AvailableSources returns the names of the sources that contributed.
func AvailableSources(statuses []SourceStatus) []string {
	var names []string
	for _, st := range statuses {
		if st.Available {
			names = append(names, st.Source)
		}
	}
	return names
}
