package apicache

import (
	"slices"
	"strings"
)

// Tag labels cached query results so mutations can invalidate them.
// An empty ID makes it a list tag covering every entry tagged with Type.
type Tag struct {
	Type string
	ID   string
}

func ListTag(typ string) Tag      { return Tag{Type: typ} }
func PointTag(typ, id string) Tag { return Tag{Type: typ, ID: id} }

func (t Tag) IsList() bool { return t.ID == "" }

func (t Tag) String() string {
	if t.ID == "" {
		return t.Type
	}
	return t.Type + "#" + t.ID
}

// scope is the generation scope bumped when t is invalidated.
func (t Tag) scope() string { return "tag:" + t.String() }

// scopesOf lists the generation scopes an entry with tags depends on: the
// point scope of each point tag and the list scope of every type.
func scopesOf(tags []Tag) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, 2*len(tags))
	for _, t := range tags {
		out = append(out, "tag:"+t.Type)
		if t.ID != "" {
			out = append(out, t.scope())
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func normalizeTags(tags []Tag) []Tag {
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		if strings.TrimSpace(t.Type) == "" {
			continue
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Tag) int {
		if c := strings.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return slices.Compact(out)
}

// tagIndex maps tags to the entries providing them.
//
// byType holds every entry carrying any tag of a type, so a list tag
// invalidation reaches point-tagged entries too. byPoint holds exact
// point tags only; an entry tagged just {Station} is not hit by {Station, A}.
type tagIndex struct {
	byType  map[string]map[*entry]struct{}
	byPoint map[Tag]map[*entry]struct{}
}

func newTagIndex() tagIndex {
	return tagIndex{
		byType:  make(map[string]map[*entry]struct{}),
		byPoint: make(map[Tag]map[*entry]struct{}),
	}
}

func (ix tagIndex) add(e *entry) {
	for _, t := range e.tags {
		addTo(ix.byType, t.Type, e)
		if t.ID != "" {
			addTo(ix.byPoint, t, e)
		}
	}
}

func (ix tagIndex) remove(e *entry) {
	for _, t := range e.tags {
		removeFrom(ix.byType, t.Type, e)
		if t.ID != "" {
			removeFrom(ix.byPoint, t, e)
		}
	}
}

// match returns the entries hit by invalidating tags, each once.
func (ix tagIndex) match(tags []Tag) []*entry {
	seen := make(map[*entry]struct{})
	var out []*entry
	collect := func(set map[*entry]struct{}) {
		for e := range set {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	for _, t := range tags {
		if t.IsList() {
			collect(ix.byType[t.Type])
		} else {
			collect(ix.byPoint[t])
		}
	}
	return out
}

func addTo[K comparable](m map[K]map[*entry]struct{}, k K, e *entry) {
	set, ok := m[k]
	if !ok {
		set = make(map[*entry]struct{})
		m[k] = set
	}
	set[e] = struct{}{}
}

func removeFrom[K comparable](m map[K]map[*entry]struct{}, k K, e *entry) {
	set, ok := m[k]
	if !ok {
		return
	}
	delete(set, e)
	if len(set) == 0 {
		delete(m, k)
	}
}
