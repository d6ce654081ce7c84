// Package treepath handles slash separated paths of a key-value tree.
package treepath

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type Leaf struct {
	Path  string
	Value string
}

// Normalize drops leading and trailing slashes.
func Normalize(path string) string {
	return strings.Trim(path, "/")
}

// IsUnder reports whether path is root or a descendant of root.
func IsUnder(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+"/")
}

// Relative returns path relative to root, empty for root itself.
func Relative(path, root string) string {
	return strings.TrimPrefix(strings.TrimPrefix(path, root), "/")
}

// Flatten turns a JSON-serializable document into leaves below root, in
// path order. Strings are stored raw, other scalars as their JSON text and
// nulls are dropped.
func Flatten(root string, doc any) ([]Leaf, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var leaves []Leaf
	flatten(Normalize(root), generic, &leaves)
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Path < leaves[j].Path })
	return leaves, nil
}

func flatten(path string, v any, out *[]Leaf) {
	switch value := v.(type) {
	case map[string]any:
		for k, child := range value {
			flatten(path+"/"+k, child, out)
		}
	case []any:
		for i, child := range value {
			flatten(fmt.Sprintf("%s/%d", path, i), child, out)
		}
	case string:
		*out = append(*out, Leaf{Path: path, Value: value})
	case nil:
	default:
		b, _ := json.Marshal(value)
		*out = append(*out, Leaf{Path: path, Value: string(b)})
	}
}
