package flow

import (
	"fmt"
	"strings"
)

// Severity 校验问题级别
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// IssueCode 校验问题编码
type IssueCode string

const (
	IssueMissingStartNode   IssueCode = "MissingStartNode"
	IssueMultipleStartNodes IssueCode = "MultipleStartNodes"
	IssueDanglingEdge       IssueCode = "DanglingEdge"
	IssueStartHasIncoming   IssueCode = "StartHasIncoming"
	IssueDuplicateNodeID    IssueCode = "DuplicateNodeID"
	IssueDuplicateEdgeID    IssueCode = "DuplicateEdgeID"
	IssueUnreachableNode    IssueCode = "UnreachableNode"
	IssueIncompleteBranch   IssueCode = "IncompleteBranch"
	IssueUnknownBranch      IssueCode = "UnknownBranch"
)

// Issue 单条校验问题
type Issue struct {
	Code     IssueCode `json:"code"`
	Severity Severity  `json:"severity"`
	NodeID   string    `json:"node_id,omitempty"`
	EdgeID   string    `json:"edge_id,omitempty"`
	Message  string    `json:"message"`
}

// Report 校验报告。无 fatal 问题即可遍历；warning 不阻止保存
type Report struct {
	Issues []Issue `json:"issues"`
}

// HasFatal 是否存在 fatal 问题
func (r Report) HasFatal() bool {
	for _, is := range r.Issues {
		if is.Severity == SeverityFatal {
			return true
		}
	}
	return false
}

// Fatal 返回所有 fatal 问题
func (r Report) Fatal() []Issue {
	return r.filter(SeverityFatal)
}

// Warnings 返回所有 warning
func (r Report) Warnings() []Issue {
	return r.filter(SeverityWarning)
}

// Count 统计某类问题数量
func (r Report) Count(code IssueCode) int {
	n := 0
	for _, is := range r.Issues {
		if is.Code == code {
			n++
		}
	}
	return n
}

func (r Report) filter(s Severity) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Severity == s {
			out = append(out, is)
		}
	}
	return out
}

// Err 存在 fatal 问题时返回 *CorruptError
func (r Report) Err() error {
	fatal := r.Fatal()
	if len(fatal) == 0 {
		return nil
	}
	return &CorruptError{Issues: fatal}
}

// CorruptError 结构损坏的流程图，errors.Is(err, ErrCorruptGraph) 为真
type CorruptError struct {
	Issues []Issue
}

func (e *CorruptError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, is.Message)
	}
	return fmt.Sprintf("[%s] %v: %s", CodeCorruptGraph, ErrCorruptGraph, strings.Join(parts, "; "))
}

func (e *CorruptError) Unwrap() error {
	return ErrCorruptGraph
}

func (r *Report) add(code IssueCode, sev Severity, nodeID, edgeID, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{
		Code:     code,
		Severity: sev,
		NodeID:   nodeID,
		EdgeID:   edgeID,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Validate 检查结构不变量，从不返回错误
func Validate(g *Graph) Report {
	r := Report{Issues: []Issue{}}

	// start 节点
	var starts []string
	for _, n := range g.nodes {
		if n.Kind == KindStart {
			starts = append(starts, n.ID)
		}
	}
	switch {
	case len(starts) == 0:
		r.add(IssueMissingStartNode, SeverityFatal, "", "", "flow has no start node")
	case len(starts) > 1:
		r.add(IssueMultipleStartNodes, SeverityFatal, "", "", "flow has %d start nodes: %s", len(starts), strings.Join(starts, ", "))
	}

	// 重复 ID（仅可能来自外部输入）
	seenNodes := make(map[string]bool, len(g.nodes))
	for _, n := range g.nodes {
		if seenNodes[n.ID] {
			r.add(IssueDuplicateNodeID, SeverityFatal, n.ID, "", "node id %q is used more than once", n.ID)
		}
		seenNodes[n.ID] = true
	}
	seenEdges := make(map[string]bool, len(g.edges))
	for _, e := range g.edges {
		if seenEdges[e.ID] {
			r.add(IssueDuplicateEdgeID, SeverityFatal, "", e.ID, "edge id %q is used more than once", e.ID)
		}
		seenEdges[e.ID] = true
	}

	// 边
	for _, e := range g.edges {
		_, srcOK := g.nodeIdx[e.Source]
		tgt, tgtOK := g.nodeIdx[e.Target]
		if !srcOK || !tgtOK {
			missing := e.Source
			if srcOK {
				missing = e.Target
			}
			r.add(IssueDanglingEdge, SeverityFatal, missing, e.ID, "edge %q references missing node %q", e.ID, missing)
			continue
		}
		if tgt.Kind == KindStart {
			r.add(IssueStartHasIncoming, SeverityFatal, tgt.ID, e.ID, "edge %q points into start node %q", e.ID, tgt.ID)
		}
	}

	// 可达性
	if len(starts) > 0 {
		reached := g.reachableFrom(starts)
		for _, n := range g.nodes {
			if n.Kind != KindStart && !reached[n.ID] {
				r.add(IssueUnreachableNode, SeverityWarning, n.ID, "", "node %q is not reachable from start", n.ID)
			}
		}
	}

	// 分支完整性
	for _, n := range g.nodes {
		branches := n.Kind.Branches()
		if len(branches) == 0 {
			continue
		}
		have := make(map[string]bool)
		for _, e := range g.edges {
			if e.Source != n.ID {
				continue
			}
			if !n.Kind.HasBranch(e.SourceHandle) {
				r.add(IssueUnknownBranch, SeverityWarning, n.ID, e.ID, "edge %q leaves %s node %q through undeclared branch %q", e.ID, n.Kind, n.ID, e.SourceHandle)
				continue
			}
			have[e.SourceHandle] = true
		}
		for _, b := range branches {
			if !have[b] {
				r.add(IssueIncompleteBranch, SeverityWarning, n.ID, "", "%s node %q has no %q branch", n.Kind, n.ID, b)
			}
		}
	}

	return r
}

func (g *Graph) reachableFrom(roots []string) map[string]bool {
	reached := make(map[string]bool, len(g.nodes))
	queue := make([]string, 0, len(roots))
	for _, id := range roots {
		reached[id] = true
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.edges {
			if e.Source != id || reached[e.Target] {
				continue
			}
			if _, ok := g.nodeIdx[e.Target]; !ok {
				continue
			}
			reached[e.Target] = true
			queue = append(queue, e.Target)
		}
	}
	return reached
}
