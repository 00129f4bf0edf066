package flow

import (
	"fmt"
	"slices"
)

// LegacyDocument 旧版开发者模式导出的配置格式
//
//	{"name": "...", "version": "1.0.0",
//	 "nodes": [{"id": "start", "type": "trigger", "message": "..."}],
//	 "flows": {"start": ["greeting", "farewell"]}}
type LegacyDocument struct {
	Name    string              `json:"name" yaml:"name"`
	Version string              `json:"version" yaml:"version"`
	Nodes   []LegacyNode        `json:"nodes" yaml:"nodes"`
	Flows   map[string][]string `json:"flows" yaml:"flows"`
}

// LegacyNode 旧版节点
type LegacyNode struct {
	ID      string `json:"id" yaml:"id"`
	Type    string `json:"type" yaml:"type"`
	Message string `json:"message" yaml:"message"`
}

const (
	legacyColumnX = 250
	legacyRowY    = 50
	legacyRowGap  = 120
)

// ImportLegacy 将旧版格式转换为可移植表示
// 节点按纵向排列；缺少 start 时自动补一个并连接到第一个节点；
// condition 节点的目标依次对应 true/false 分支
func ImportLegacy(ld LegacyDocument) Document {
	doc := Document{Viewport: Viewport{Zoom: 1}}
	kinds := make(map[string]string, len(ld.Nodes))
	hasStart := false

	for _, ln := range ld.Nodes {
		kind := ln.Type
		if k, err := ParseKind(ln.Type); err == nil {
			kind = string(k)
		}
		if kind == string(KindStart) {
			hasStart = true
		}
		kinds[ln.ID] = kind
	}

	row := 0
	if !hasStart && len(ld.Nodes) > 0 {
		startID := DefaultStartID
		if _, taken := kinds[startID]; taken {
			startID = "__start"
		}
		doc.Nodes = append(doc.Nodes, NodeDoc{
			ID:       startID,
			Kind:     string(KindStart),
			Label:    DefaultStartLabel,
			Position: Position{X: legacyColumnX, Y: legacyRowY},
		})
		doc.Edges = append(doc.Edges, EdgeDoc{
			ID:     fmt.Sprintf("e-%s-%s", startID, ld.Nodes[0].ID),
			Source: startID,
			Target: ld.Nodes[0].ID,
		})
		row++
	}

	for _, ln := range ld.Nodes {
		nd := NodeDoc{
			ID:       ln.ID,
			Kind:     kinds[ln.ID],
			Label:    ln.Message,
			Position: Position{X: legacyColumnX, Y: float64(legacyRowY + row*legacyRowGap)},
		}
		if ln.Message != "" {
			nd.Data = legacyData(Kind(nd.Kind), ln.Message)
		}
		doc.Nodes = append(doc.Nodes, nd)
		row++
	}

	// map 无序，按节点声明顺序输出边
	sources := make([]string, 0, len(ld.Flows))
	for src := range ld.Flows {
		sources = append(sources, src)
	}
	order := make(map[string]int, len(ld.Nodes))
	for i, ln := range ld.Nodes {
		order[ln.ID] = i
	}
	slices.SortStableFunc(sources, func(a, b string) int {
		ia, oka := order[a]
		ib, okb := order[b]
		switch {
		case oka && okb:
			return ia - ib
		case oka:
			return -1
		case okb:
			return 1
		default:
			if a < b {
				return -1
			}
			if a > b {
				return 1
			}
			return 0
		}
	})

	for _, src := range sources {
		branches := Kind(kinds[src]).Branches()
		for i, tgt := range ld.Flows[src] {
			ed := EdgeDoc{ID: fmt.Sprintf("e-%s-%s", src, tgt), Source: src, Target: tgt}
			if i < len(branches) {
				h := branches[i]
				ed.SourceHandle = &h
				ed.ID = fmt.Sprintf("e-%s-%s-%s", src, h, tgt)
			}
			doc.Edges = append(doc.Edges, ed)
		}
	}
	return doc
}

func legacyData(k Kind, message string) map[string]any {
	switch k {
	case KindUserInput:
		return map[string]any{"prompt": message}
	case KindCondition:
		return map[string]any{"expression": message}
	case KindCode:
		return map[string]any{"function": message}
	case KindAIResponse:
		return map[string]any{"prompt": message}
	default:
		return map[string]any{"text": message}
	}
}
