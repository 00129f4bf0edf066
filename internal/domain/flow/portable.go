package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/mitchellh/mapstructure"
)

// 仅反序列化时产生的问题
const (
	IssueInvalidNodeKind IssueCode = "InvalidNodeKind"
	IssueMissingID       IssueCode = "MissingID"
)

// Document 流程图的可移植表示，作为不透明文档存储
type Document struct {
	Nodes    []NodeDoc `json:"nodes" mapstructure:"nodes" yaml:"nodes"`
	Edges    []EdgeDoc `json:"edges" mapstructure:"edges" yaml:"edges"`
	Viewport Viewport  `json:"viewport" mapstructure:"viewport" yaml:"viewport"`
}

// NodeDoc 节点的可移植表示。编辑器旧版本使用 type 字段，读取时兼容
type NodeDoc struct {
	ID       string         `json:"id" mapstructure:"id" yaml:"id"`
	Kind     string         `json:"kind" mapstructure:"kind" yaml:"kind"`
	Type     string         `json:"type,omitempty" mapstructure:"type" yaml:"type,omitempty"`
	Label    string         `json:"label" mapstructure:"label" yaml:"label"`
	Position Position       `json:"position" mapstructure:"position" yaml:"position"`
	Data     map[string]any `json:"data,omitempty" mapstructure:"data" yaml:"data,omitempty"`
}

// EdgeDoc 边的可移植表示
type EdgeDoc struct {
	ID           string  `json:"id" mapstructure:"id" yaml:"id"`
	Source       string  `json:"source" mapstructure:"source" yaml:"source"`
	Target       string  `json:"target" mapstructure:"target" yaml:"target"`
	SourceHandle *string `json:"sourceHandle" mapstructure:"sourceHandle" yaml:"sourceHandle"`
}

// ToPortable 导出可移植表示
func ToPortable(g *Graph) Document {
	doc := Document{
		Nodes:    make([]NodeDoc, 0, len(g.nodes)),
		Edges:    make([]EdgeDoc, 0, len(g.edges)),
		Viewport: g.viewport,
	}
	for _, n := range g.nodes {
		doc.Nodes = append(doc.Nodes, NodeDoc{
			ID:       n.ID,
			Kind:     string(n.Kind),
			Label:    n.Label,
			Position: n.Position,
			Data:     maps.Clone(n.Data),
		})
	}
	for _, e := range g.edges {
		ed := EdgeDoc{ID: e.ID, Source: e.Source, Target: e.Target}
		if e.SourceHandle != "" {
			h := e.SourceHandle
			ed.SourceHandle = &h
		}
		doc.Edges = append(doc.Edges, ed)
	}
	return doc
}

// FromPortable 从可移植表示重建流程图，并隐式执行 Validate；
// 任何 fatal 问题都返回 *CorruptError，不会静默接受损坏结构
func FromPortable(doc Document) (*Graph, error) {
	g := newGraph()
	var bad []Issue

	for i, nd := range doc.Nodes {
		if nd.ID == "" {
			bad = append(bad, Issue{
				Code:     IssueMissingID,
				Severity: SeverityFatal,
				Message:  fmt.Sprintf("node #%d has no id", i),
			})
			continue
		}
		raw := nd.Kind
		if raw == "" {
			raw = nd.Type
		}
		kind, err := ParseKind(raw)
		if err != nil {
			bad = append(bad, Issue{
				Code:     IssueInvalidNodeKind,
				Severity: SeverityFatal,
				NodeID:   nd.ID,
				Message:  fmt.Sprintf("node %q has unknown kind %q", nd.ID, raw),
			})
			continue
		}
		label := nd.Label
		// 旧版编辑器只有 type，标签放在 data.label
		if label == "" && nd.Kind == "" && nd.Type != "" && nd.Data != nil {
			label, _ = nd.Data["label"].(string)
		}
		g.insertNode(&Node{
			ID:       nd.ID,
			Kind:     kind,
			Label:    label,
			Position: nd.Position,
			Data:     maps.Clone(nd.Data),
		})
	}
	for i, ed := range doc.Edges {
		if ed.ID == "" {
			bad = append(bad, Issue{
				Code:     IssueMissingID,
				Severity: SeverityFatal,
				Message:  fmt.Sprintf("edge #%d (%s -> %s) has no id", i, ed.Source, ed.Target),
			})
			continue
		}
		e := &Edge{ID: ed.ID, Source: ed.Source, Target: ed.Target}
		if ed.SourceHandle != nil {
			e.SourceHandle = *ed.SourceHandle
		}
		g.insertEdge(e)
	}

	g.viewport = doc.Viewport
	if g.viewport.Zoom == 0 {
		g.viewport.Zoom = 1
	}

	report := Validate(g)
	if len(bad) > 0 {
		return nil, &CorruptError{Issues: append(bad, report.Fatal()...)}
	}
	if err := report.Err(); err != nil {
		return nil, err
	}
	return g, nil
}

// Marshal 序列化为 JSON
func Marshal(g *Graph) ([]byte, error) {
	return json.Marshal(ToPortable(g))
}

// Unmarshal 从 JSON 重建流程图，兼容旧版开发者模式格式
func Unmarshal(data []byte) (*Graph, error) {
	doc, err := DecodeDocument(data)
	if err != nil {
		return nil, err
	}
	return FromPortable(doc)
}

// DecodeDocument 解析 JSON 文档；含 flows 字段时按旧版格式转换
func DecodeDocument(data []byte) (Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Document{}, fmt.Errorf("%w: empty document", ErrCorruptGraph)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Document{}, fmt.Errorf("%w: invalid JSON: %v", ErrCorruptGraph, err)
	}
	if _, ok := fields["flows"]; ok {
		var legacy LegacyDocument
		if err := json.Unmarshal(data, &legacy); err != nil {
			return Document{}, fmt.Errorf("%w: invalid legacy flow: %v", ErrCorruptGraph, err)
		}
		return ImportLegacy(legacy), nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: invalid flow document: %v", ErrCorruptGraph, err)
	}
	return doc, nil
}

// ToMap 导出为普通嵌套 map
func ToMap(g *Graph) map[string]any {
	doc := ToPortable(g)
	nodes := make([]any, 0, len(doc.Nodes))
	for _, n := range doc.Nodes {
		m := map[string]any{
			"id":       n.ID,
			"kind":     n.Kind,
			"label":    n.Label,
			"position": map[string]any{"x": n.Position.X, "y": n.Position.Y},
		}
		if n.Data != nil {
			m["data"] = maps.Clone(n.Data)
		}
		nodes = append(nodes, m)
	}
	edges := make([]any, 0, len(doc.Edges))
	for _, e := range doc.Edges {
		m := map[string]any{
			"id":           e.ID,
			"source":       e.Source,
			"target":       e.Target,
			"sourceHandle": nil,
		}
		if e.SourceHandle != nil {
			m["sourceHandle"] = *e.SourceHandle
		}
		edges = append(edges, m)
	}
	return map[string]any{
		"nodes":    nodes,
		"edges":    edges,
		"viewport": map[string]any{"x": doc.Viewport.X, "y": doc.Viewport.Y, "zoom": doc.Viewport.Zoom},
	}
}

// FromMap 从普通嵌套 map（如 YAML/JSON 解码结果）重建流程图
func FromMap(m map[string]any) (*Graph, error) {
	doc, err := DocumentFromMap(m)
	if err != nil {
		return nil, err
	}
	return FromPortable(doc)
}

// DocumentFromMap 将普通 map 解码为 Document
func DocumentFromMap(m map[string]any) (Document, error) {
	var doc Document
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &doc,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return Document{}, err
	}
	if err := dec.Decode(m); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrCorruptGraph, err)
	}
	return doc, nil
}
