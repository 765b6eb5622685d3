package schema

import (
	"encoding/json"
)

// DecodeProgram decodes the JSON program document format into a Program.
// The document is the serialized form of an already-parsed AST; each node is
// an object with a "kind" discriminator plus the fields of its variant.
// Concrete-syntax front-ends (XML or otherwise) are expected to emit this
// format, and the CLI consumes it directly.
func DecodeProgram(data []byte) (*Program, error) {
	var raw struct {
		Name string            `json:"name"`
		Body []json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewError(ErrCodeValidation, "invalid program document").WithCause(err)
	}

	body, err := decodeNodes(raw.Body)
	if err != nil {
		return nil, err
	}
	return &Program{Name: raw.Name, Body: body}, nil
}

func decodeNodes(raw []json.RawMessage) ([]Node, error) {
	if raw == nil {
		return nil, nil
	}
	nodes := make([]Node, 0, len(raw))
	for _, r := range raw {
		n, err := decodeNode(r)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func decodeNode(data json.RawMessage) (Node, error) {
	var head struct {
		Kind NodeKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, NewError(ErrCodeValidation, "invalid node object").WithCause(err)
	}

	switch head.Kind {
	case KindLet:
		var r struct {
			Name  string          `json:"name"`
			Value string          `json:"value"`
			Child json.RawMessage `json:"child"`
			Pos   Position        `json:"pos"`
		}
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, decodeErr(head.Kind, err)
		}
		n := &LetNode{Name: r.Name, Value: r.Value, NodePos: r.Pos}
		if len(r.Child) > 0 {
			child, err := decodeNode(r.Child)
			if err != nil {
				return nil, err
			}
			n.Child = child
		}
		return n, nil

	case KindIf:
		var r struct {
			Condition string            `json:"condition"`
			Then      []json.RawMessage `json:"then"`
			ElseIf    []struct {
				Condition string            `json:"condition"`
				Body      []json.RawMessage `json:"body"`
			} `json:"else_if"`
			Else []json.RawMessage `json:"else"`
			Pos  Position          `json:"pos"`
		}
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, decodeErr(head.Kind, err)
		}
		then, err := decodeNodes(r.Then)
		if err != nil {
			return nil, err
		}
		elseBody, err := decodeNodes(r.Else)
		if err != nil {
			return nil, err
		}
		n := &IfNode{Condition: r.Condition, Then: then, Else: elseBody, NodePos: r.Pos}
		for _, b := range r.ElseIf {
			body, err := decodeNodes(b.Body)
			if err != nil {
				return nil, err
			}
			n.ElseIf = append(n.ElseIf, Branch{Condition: b.Condition, Body: body})
		}
		return n, nil

	case KindLoop:
		var r struct {
			Items    string            `json:"items"`
			ItemVar  string            `json:"item_var"`
			IndexVar string            `json:"index_var"`
			Body     []json.RawMessage `json:"body"`
			Pos      Position          `json:"pos"`
		}
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, decodeErr(head.Kind, err)
		}
		body, err := decodeNodes(r.Body)
		if err != nil {
			return nil, err
		}
		return &LoopNode{Items: r.Items, ItemVar: r.ItemVar, IndexVar: r.IndexVar, Body: body, NodePos: r.Pos}, nil

	case KindCall:
		var n CallNode
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, decodeErr(head.Kind, err)
		}
		return &n, nil

	case KindCreate:
		var n CreateNode
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, decodeErr(head.Kind, err)
		}
		return &n, nil

	case KindRunChild:
		var n RunChildNode
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, decodeErr(head.Kind, err)
		}
		return &n, nil

	case KindStatus:
		var n StatusNode
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, decodeErr(head.Kind, err)
		}
		return &n, nil

	case KindWaiting:
		var n WaitingNode
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, decodeErr(head.Kind, err)
		}
		return &n, nil

	case KindMemoryGet:
		var n MemoryGetNode
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, decodeErr(head.Kind, err)
		}
		return &n, nil

	case KindMemorySet:
		var n MemorySetNode
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, decodeErr(head.Kind, err)
		}
		return &n, nil

	case KindAppendEdge:
		var n AppendEdgeNode
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, decodeErr(head.Kind, err)
		}
		return &n, nil

	case KindReturn:
		var n ReturnNode
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, decodeErr(head.Kind, err)
		}
		return &n, nil

	case KindExpr:
		var n ExprNode
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, decodeErr(head.Kind, err)
		}
		return &n, nil

	default:
		return nil, NewErrorf(ErrCodeUnknownNode, "unknown node kind %q", head.Kind)
	}
}

func decodeErr(kind NodeKind, err error) error {
	return NewErrorf(ErrCodeValidation, "invalid %s node", kind).WithCause(err)
}
