// Package jsonvalue implements the dotted/indexed JSON path grammar shared
// by the mapping engine and the HTTP boundary's generic payload type.
package jsonvalue

import (
	"strconv"
	"strings"
)

// segment is one step of a parsed path: either a map key or an array index.
type segment struct {
	key      string
	index    int
	isIndex  bool
}

// ParsePath splits a dotted path with optional [n] array indices into
// segments, e.g. "entry[0].changes[0].value.metadata.phone_number_id".
func ParsePath(path string) []segment {
	var segs []segment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		for {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				if part != "" {
					segs = append(segs, segment{key: part})
				}
				break
			}
			if open > 0 {
				segs = append(segs, segment{key: part[:open]})
			}
			close := strings.IndexByte(part[open:], ']')
			if close < 0 {
				break
			}
			idxStr := part[open+1 : open+close]
			n, err := strconv.Atoi(idxStr)
			if err == nil {
				segs = append(segs, segment{index: n, isIndex: true})
			}
			part = part[open+close+1:]
		}
	}
	return segs
}

// absent is the sentinel returned by Get when a path does not resolve.
type absentType struct{}

// Absent is returned by Get when a path segment is missing or an index is
// out of bounds.
var Absent = absentType{}

// IsAbsent reports whether v is the Absent sentinel.
func IsAbsent(v interface{}) bool {
	_, ok := v.(absentType)
	return ok
}

// Get resolves a dotted/indexed path against a decoded JSON value
// (map[string]interface{}, []interface{}, or scalar). Missing segments and
// out-of-bounds indices yield Absent rather than an error.
func Get(root interface{}, path string) interface{} {
	cur := root
	for _, seg := range ParsePath(path) {
		if seg.isIndex {
			arr, ok := cur.([]interface{})
			if !ok || seg.index < 0 || seg.index >= len(arr) {
				return Absent
			}
			cur = arr[seg.index]
			continue
		}
		m, ok := cur.(map[string]interface{})
		if !ok {
			return Absent
		}
		v, found := m[seg.key]
		if !found {
			return Absent
		}
		cur = v
	}
	return cur
}

// Set writes a value into root at the dotted path, creating intermediate
// maps as needed. root must be a map[string]interface{} (or nil, in which
// case a new map is allocated and returned). Array index segments within a
// target path create/grow a slice stored under the containing key; indices
// beyond the current length are filled with nil.
func Set(root map[string]interface{}, path string, value interface{}) map[string]interface{} {
	if root == nil {
		root = map[string]interface{}{}
	}
	segs := ParsePath(path)
	setRec(root, segs, value)
	return root
}

func setRec(container interface{}, segs []segment, value interface{}) interface{} {
	if len(segs) == 0 {
		return value
	}
	seg := segs[0]
	rest := segs[1:]

	if seg.isIndex {
		arr, ok := container.([]interface{})
		if !ok {
			arr = nil
		}
		for len(arr) <= seg.index {
			arr = append(arr, nil)
		}
		arr[seg.index] = setRec(arr[seg.index], rest, value)
		return arr
	}

	m, ok := container.(map[string]interface{})
	if !ok {
		m = map[string]interface{}{}
	}
	if len(rest) == 0 {
		m[seg.key] = value
		return m
	}
	// Peek at the next segment to decide whether the child container
	// should be a slice or a map.
	var child interface{} = m[seg.key]
	if rest[0].isIndex {
		if _, ok := child.([]interface{}); !ok {
			child = []interface{}{}
		}
	} else {
		if _, ok := child.(map[string]interface{}); !ok {
			child = map[string]interface{}{}
		}
	}
	m[seg.key] = setRec(child, rest, value)
	return m
}
