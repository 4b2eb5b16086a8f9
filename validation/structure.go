package validation

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// node is the element skeleton of a parsed document. Attributes and text are
// left to the typed decoder.
type node struct {
	name     string
	children []*node
}

func parseSkeleton(data []byte) (*node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		root  *node
		stack []*node
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("multiple root elements")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		}
	}

	if root == nil {
		return nil, errors.New("no root element")
	}
	if len(stack) != 0 {
		return nil, errors.New("unclosed element " + stack[len(stack)-1].name)
	}
	return root, nil
}

// checkStructure compares the children of n with the contract element,
// recording missing, repeated, unexpected and out-of-order elements.
func checkStructure(n *node, contract element, path string, res *Result) {
	counts := make(map[string]int, len(contract.children))
	lastIdx := -1
	lastName := ""

	for _, c := range n.children {
		idx, want := contract.child(c.name)
		childPath := join(path, c.name)
		if want == nil {
			res.add(KindUnexpected, childPath, fmt.Sprintf("element %s is not allowed here", c.name))
			continue
		}
		if idx < lastIdx {
			res.add(KindOrder, childPath, fmt.Sprintf("element %s must appear before %s", c.name, lastName))
		} else {
			lastIdx = idx
			lastName = c.name
		}

		counts[c.name]++
		checkStructure(c, *want, childPath, res)
	}

	for _, want := range contract.children {
		got := counts[want.name]
		childPath := join(path, want.name)
		switch {
		case got == 0 && want.min > 0:
			res.add(KindMissing, childPath, fmt.Sprintf("required element %s is missing", want.name))
		case got < want.min:
			res.add(KindCardinality, childPath, fmt.Sprintf("expected at least %d %s, got %d", want.min, want.name, got))
		case want.max != unbounded && got > want.max:
			res.add(KindCardinality, childPath, fmt.Sprintf("expected at most %d %s, got %d", want.max, want.name, got))
		}
	}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
