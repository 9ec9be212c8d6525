package ihc

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"
)

// element is a minimal, dependency-free XML node tree. It is built the same
// way the teacher's MapXML builds its OrderedMap tree -- a stack of open
// elements fed by encoding/xml.Decoder's token stream -- but keeps the raw
// (namespace, local) name pairs instead of collapsing them into aliased
// string keys, since the SOAP responses this package decodes must be
// navigated by namespace URI, not by whatever prefix the server happened to
// use on the wire.
type element struct {
	Name     xml.Name
	Attr     []xml.Attr
	Children []*element
	chars    strings.Builder
}

// parseXML decodes data into an element tree rooted at the document element.
func parseXML(data []byte) (*element, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var stack []*element
	var root *element

	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, &ProtocolError{Msg: "malformed XML response", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &element{
				Name: t.Name,
				Attr: append([]xml.Attr(nil), t.Attr...),
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			}
			stack = append(stack, el)

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].chars.Write(t)
			}

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, &ProtocolError{Msg: "unbalanced XML document"}
			}
			el := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				root = el
			}
		}
	}

	if root == nil {
		return nil, &ProtocolError{Msg: "empty XML document"}
	}
	return root, nil
}

// text returns the trimmed character data directly inside this element.
func (e *element) text() string { return strings.TrimSpace(e.chars.String()) }

// attr looks up an attribute by namespace URI and local name. An empty space
// matches any namespace.
func (e *element) attr(space, local string) (string, bool) {
	for _, a := range e.Attr {
		if a.Name.Local == local && (space == "" || a.Name.Space == space) {
			return a.Value, true
		}
	}
	return "", false
}

// child returns the first direct child matching (space, local). An empty
// space matches any namespace.
func (e *element) child(space, local string) *element {
	for _, c := range e.Children {
		if c.Name.Local == local && (space == "" || c.Name.Space == space) {
			return c
		}
	}
	return nil
}

// childrenNamed returns all direct children matching (space, local).
func (e *element) childrenNamed(space, local string) []*element {
	var out []*element
	for _, c := range e.Children {
		if c.Name.Local == local && (space == "" || c.Name.Space == space) {
			out = append(out, c)
		}
	}
	return out
}

// wsNamespaces mirrors the Python source's ElementTree namespace map used on
// every find()/findall() call against a SOAP response.
var wsNamespaces = map[string]string{
	"SOAP-ENV": nsSOAPEnvelope,
	"ns1":      nsUtcs,
	"ns2":      nsUtcsValues,
	"ns3":      nsUtcsValues,
}

// splitSegment parses one "prefix:local" path segment (the prefix is
// optional) into the namespace URI and local name to search for.
func splitSegment(seg string) (uri, local string) {
	prefix, rest, ok := strings.Cut(seg, ":")
	if !ok {
		return "", seg
	}
	return wsNamespaces[prefix], rest
}

// find descends through direct children along a "/"-separated path of
// "prefix:local" segments, in the manner of ElementTree.find(). It returns
// nil if any segment along the way has no matching child.
func (e *element) find(path string) *element {
	cur := e
	for _, seg := range splitPath(path) {
		uri, local := splitSegment(seg)
		next := cur.child(uri, local)
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// findAll behaves like find for every segment but the last, then collects
// every direct-child match of the final segment (ElementTree.findall()).
func (e *element) findAll(path string) []*element {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil
	}
	parents := []*element{e}
	for _, seg := range segs[:len(segs)-1] {
		uri, local := splitSegment(seg)
		var next []*element
		for _, p := range parents {
			if c := p.child(uri, local); c != nil {
				next = append(next, c)
			}
		}
		parents = next
	}
	uri, local := splitSegment(segs[len(segs)-1])
	var results []*element
	for _, p := range parents {
		results = append(results, p.childrenNamed(uri, local)...)
	}
	return results
}

func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "./")
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}
