package flow

import (
	"fmt"
	"strings"
)

// Overlay 模拟会话的运行态叠加信息
type Overlay struct {
	Visited []string
	Current string
}

// RenderMermaid 生成 Mermaid flowchart
//   - start: ((圆形))
//   - user_input: [/平行四边形/]
//   - condition: {菱形}
//   - code: [[子程序]]
//   - 其他: [矩形]
func RenderMermaid(g *Graph, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, n := range g.nodes {
		opener, closer := "[", "]"
		switch n.Kind {
		case KindStart:
			opener, closer = "((", "))"
		case KindUserInput:
			opener, closer = "[/", "/]"
		case KindCondition:
			opener, closer = "{", "}"
		case KindCode:
			opener, closer = "[[", "]]"
		}
		label := n.Label
		if label == "" {
			label = n.ID
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", mermaidID(n.ID), opener, mermaidText(label), closer)
	}

	for _, e := range g.edges {
		arrow := "-->"
		if e.SourceHandle != "" {
			arrow = fmt.Sprintf("-- \"%s\" -->", mermaidText(e.SourceHandle))
		}
		fmt.Fprintf(&sb, "    %s %s %s\n", mermaidID(e.Source), arrow, mermaidID(e.Target))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		seen := make(map[string]bool)
		for _, id := range overlay.Visited {
			safe := mermaidID(id)
			if safe == "" || seen[safe] {
				continue
			}
			seen[safe] = true
			fmt.Fprintf(&sb, "    class %s visited;\n", safe)
		}
		if overlay.Current != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", mermaidID(overlay.Current))
		}
	}
	return sb.String()
}

func mermaidID(id string) string {
	return strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", " ", "_").Replace(id)
}

func mermaidText(s string) string {
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.ReplaceAll(s, "\n", " ")
}
