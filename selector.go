package tileindex

import (
	"strconv"
	"strings"
)

// LayerSelector requests one layer, either by index or by name.
type LayerSelector struct {
	Index  int
	Name   string
	byName bool
}

// ByIndex selects the layer at position n.
func ByIndex(n int) LayerSelector {
	return LayerSelector{Index: n}
}

// ByName selects layers whose name matches, ignoring case.
func ByName(name string) LayerSelector {
	return LayerSelector{Name: name, byName: true}
}

// Matches reports whether the selector picks the given layer.
func (s LayerSelector) Matches(index int, name string) bool {
	if s.byName {
		return strings.EqualFold(s.Name, name)
	}
	return s.Index == index
}

func (s LayerSelector) String() string {
	if s.byName {
		return "name:" + s.Name
	}
	return "index:" + strconv.Itoa(s.Index)
}

// LayerFilter is an ordered list of selectors. The empty filter selects every
// layer.
type LayerFilter []LayerSelector

// Requested reports whether a layer is wanted.
func (f LayerFilter) Requested(index int, name string) bool {
	if len(f) == 0 {
		return true
	}
	for _, s := range f {
		if s.Matches(index, name) {
			return true
		}
	}
	return false
}

func (c *Config) filterFor(src Source) LayerFilter {
	if len(src.Filter) > 0 {
		return src.Filter
	}
	return c.Filter
}
