package state

// Kind partitions handlers into the two execution phases. The router is not
// listed in the descriptor table; it is privileged and always runs first.
type Kind string

const (
	KindRetrieval  Kind = "retrieval"
	KindGeneration Kind = "generation"
)

// Descriptor is static, process-wide metadata for one handler: its identifier,
// execution phase, and the heading used when its slot is folded into grounding
// or synthesis input. Never mutated per-request.
type Descriptor struct {
	Name    string
	Kind    Kind
	Heading string
}

// The closed handler table. Run order and the aggregation decision are
// computed from this, never from runtime type inspection.
var descriptors = []Descriptor{
	{Name: "knowledge", Kind: KindRetrieval, Heading: "## Company Knowledge"},
	{Name: "memory", Kind: KindRetrieval, Heading: "## Conversation History"},
	{Name: "general", Kind: KindGeneration, Heading: "## Response"},
	{Name: "research", Kind: KindGeneration, Heading: "## Research Information"},
	{Name: "writing", Kind: KindGeneration, Heading: "## Content"},
	{Name: "code", Kind: KindGeneration, Heading: "## Code Implementation"},
}

func Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

func Lookup(name string) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Partition splits a selection into retrieval-kind and generation-kind names,
// preserving the router's relative ordering within each partition. Duplicates
// and names absent from the descriptor table are dropped.
func Partition(selected []string) (retrieval, generation []string) {
	seen := make(map[string]struct{}, len(selected))
	for _, name := range selected {
		if _, dup := seen[name]; dup {
			continue
		}
		d, ok := Lookup(name)
		if !ok {
			continue
		}
		seen[name] = struct{}{}
		switch d.Kind {
		case KindRetrieval:
			retrieval = append(retrieval, name)
		case KindGeneration:
			generation = append(generation, name)
		}
	}
	return retrieval, generation
}
