package node

// Doc is a read-only view over a node record, for consumers that must not
// mutate registry data (drivers, schedulers).
type Doc interface {
	ID() string
	Name() string
	Type() string
	Definition() map[string]any
	Metadata() map[string]any
	Parent() string
	Tags() []string

	// Blob returns the named value stored in the record, or (nil, false)
	// when there is no such value. Metadata is consulted before Definition.
	Blob(key string) (any, bool)
}

type docView struct {
	n *Node
}

// View wraps a copy of n in a Doc. Later changes to n are not visible
// through the view.
func View(n *Node) Doc {
	if n == nil {
		n = &Node{}
	}
	return docView{n: n.Clone()}
}

func (d docView) ID() string   { return d.n.ID }
func (d docView) Name() string { return d.n.Name }
func (d docView) Type() string { return d.n.Type }

func (d docView) Definition() map[string]any { return CopyMap(d.n.Definition) }
func (d docView) Metadata() map[string]any   { return CopyMap(d.n.Metadata) }

func (d docView) Parent() string { return d.n.Parent }
func (d docView) Tags() []string { return copyStrings(d.n.Tags) }

func (d docView) Blob(key string) (any, bool) {
	if v, ok := d.n.Metadata[key]; ok {
		return copyValue(v), true
	}
	if v, ok := d.n.Definition[key]; ok {
		return copyValue(v), true
	}
	return nil, false
}
