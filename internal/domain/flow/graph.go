package flow

import (
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
)

// 新建流程图时 start 节点的默认位置
const (
	DefaultStartID    = "start"
	DefaultStartLabel = "Start"
	defaultStartX     = 250
	defaultStartY     = 50
)

// Position 画布坐标，仅用于展示
type Position struct {
	X float64 `json:"x" mapstructure:"x" yaml:"x"`
	Y float64 `json:"y" mapstructure:"y" yaml:"y"`
}

// Viewport 画布平移/缩放状态，仅用于展示
type Viewport struct {
	X    float64 `json:"x" mapstructure:"x" yaml:"x"`
	Y    float64 `json:"y" mapstructure:"y" yaml:"y"`
	Zoom float64 `json:"zoom" mapstructure:"zoom" yaml:"zoom"`
}

// Node 流程中的一个步骤
type Node struct {
	ID       string
	Kind     Kind
	Label    string
	Position Position
	Data     map[string]any
}

// Text 读取 data 中的字符串字段
func (n Node) Text(field string) string {
	if n.Data == nil {
		return ""
	}
	s, _ := n.Data[field].(string)
	return s
}

func (n Node) clone() *Node {
	c := n
	c.Data = maps.Clone(n.Data)
	return &c
}

// Edge 节点间的有向连接
type Edge struct {
	ID           string
	Source       string
	Target       string
	SourceHandle string
}

// Graph 流程图：节点、边（均保持插入顺序）与视口
// 非并发安全，每次加载得到独立实例
type Graph struct {
	nodes    []*Node
	edges    []*Edge
	nodeIdx  map[string]*Node
	edgeIdx  map[string]*Edge
	viewport Viewport
}

func newGraph() *Graph {
	return &Graph{
		nodeIdx:  make(map[string]*Node),
		edgeIdx:  make(map[string]*Edge),
		viewport: Viewport{Zoom: 1},
	}
}

// NewEmpty 创建仅含一个 start 节点的流程图，每个新 Bot 的初始状态
func NewEmpty() *Graph {
	g := newGraph()
	g.insertNode(&Node{
		ID:       DefaultStartID,
		Kind:     KindStart,
		Label:    DefaultStartLabel,
		Position: Position{X: defaultStartX, Y: defaultStartY},
	})
	return g
}

func (g *Graph) insertNode(n *Node) {
	g.nodes = append(g.nodes, n)
	if _, exists := g.nodeIdx[n.ID]; !exists {
		g.nodeIdx[n.ID] = n
	}
}

func (g *Graph) insertEdge(e *Edge) {
	g.edges = append(g.edges, e)
	if _, exists := g.edgeIdx[e.ID]; !exists {
		g.edgeIdx[e.ID] = e
	}
}

// AddNode 追加节点
func (g *Graph) AddNode(n Node) error {
	if !n.Kind.Valid() {
		return newError(CodeInvalidKind, "add_node", string(n.Kind), ErrInvalidKind)
	}
	if n.ID == "" {
		return &Error{Code: CodeForbiddenOperation, Op: "add_node", Err: fmt.Errorf("%w: node id is empty", ErrForbiddenOperation)}
	}
	if _, exists := g.nodeIdx[n.ID]; exists {
		return newError(CodeDuplicateID, "add_node", n.ID, ErrDuplicateID)
	}
	if n.Kind == KindStart && g.startCount() > 0 {
		return &Error{Code: CodeForbiddenOperation, Op: "add_node", ID: n.ID, Err: fmt.Errorf("%w: graph already has a start node", ErrForbiddenOperation)}
	}
	g.insertNode(n.clone())
	return nil
}

// NodePatch 节点内容修改，nil 字段保持不变；类型不可修改
type NodePatch struct {
	Label    *string
	Position *Position
	Data     map[string]any
}

// UpdateNode 修改节点内容
func (g *Graph) UpdateNode(id string, patch NodePatch) error {
	n, ok := g.nodeIdx[id]
	if !ok {
		return newError(CodeNotFound, "update_node", id, ErrNotFound)
	}
	if patch.Label != nil {
		n.Label = *patch.Label
	}
	if patch.Position != nil {
		n.Position = *patch.Position
	}
	if patch.Data != nil {
		n.Data = maps.Clone(patch.Data)
	}
	return nil
}

// RemoveNode 删除节点，并级联删除所有关联边
func (g *Graph) RemoveNode(id string) error {
	n, ok := g.nodeIdx[id]
	if !ok {
		return newError(CodeNotFound, "remove_node", id, ErrNotFound)
	}
	if n.Kind == KindStart && g.startCount() <= 1 {
		return &Error{Code: CodeForbiddenOperation, Op: "remove_node", ID: id, Err: fmt.Errorf("%w: the start node cannot be removed", ErrForbiddenOperation)}
	}

	g.nodes = slices.DeleteFunc(g.nodes, func(x *Node) bool { return x.ID == id })
	delete(g.nodeIdx, id)

	g.edges = slices.DeleteFunc(g.edges, func(e *Edge) bool {
		if e.Source == id || e.Target == id {
			delete(g.edgeIdx, e.ID)
			return true
		}
		return false
	})
	return nil
}

// AddEdge 追加边，失败时图保持不变；空 ID 会自动生成。返回实际写入的边
func (g *Graph) AddEdge(e Edge) (Edge, error) {
	if _, ok := g.nodeIdx[e.Source]; !ok {
		return Edge{}, newError(CodeNotFound, "add_edge", e.Source, ErrNotFound)
	}
	target, ok := g.nodeIdx[e.Target]
	if !ok {
		return Edge{}, newError(CodeNotFound, "add_edge", e.Target, ErrNotFound)
	}
	if e.ID == "" {
		e.ID = g.nextEdgeID(e)
	}
	if _, exists := g.edgeIdx[e.ID]; exists {
		return Edge{}, newError(CodeDuplicateID, "add_edge", e.ID, ErrDuplicateID)
	}
	if target.Kind == KindStart || g.reachesStart(e.Target) {
		return Edge{}, newError(CodeCycleThroughStart, "add_edge", e.ID, ErrCycleThroughStart)
	}

	stored := e
	g.insertEdge(&stored)
	return stored, nil
}

func (g *Graph) nextEdgeID(e Edge) string {
	id := "e-" + e.Source + "-" + e.Target
	if e.SourceHandle != "" {
		id = "e-" + e.Source + "-" + e.SourceHandle + "-" + e.Target
	}
	if _, exists := g.edgeIdx[id]; exists {
		return uuid.New().String()
	}
	return id
}

// reachesStart 从 from 沿出边前进能否到达任意 start 节点
func (g *Graph) reachesStart(from string) bool {
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if n, ok := g.nodeIdx[id]; ok && n.Kind == KindStart {
			return true
		}
		for _, e := range g.edges {
			if e.Source == id && !seen[e.Target] {
				seen[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	return false
}

// RemoveEdge 删除边
func (g *Graph) RemoveEdge(id string) error {
	if _, ok := g.edgeIdx[id]; !ok {
		return newError(CodeNotFound, "remove_edge", id, ErrNotFound)
	}
	g.edges = slices.DeleteFunc(g.edges, func(e *Edge) bool { return e.ID == id })
	delete(g.edgeIdx, id)
	return nil
}

// SetViewport 更新视口
func (g *Graph) SetViewport(v Viewport) {
	g.viewport = v
}

// Viewport 返回视口
func (g *Graph) Viewport() Viewport {
	return g.viewport
}

// Node 按 ID 查找节点（返回副本）
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodeIdx[id]
	if !ok {
		return Node{}, false
	}
	return *n.clone(), true
}

// Edge 按 ID 查找边
func (g *Graph) Edge(id string) (Edge, bool) {
	e, ok := g.edgeIdx[id]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// Nodes 按插入顺序返回节点副本
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, *n.clone())
	}
	return out
}

// Edges 按插入顺序返回边
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, *e)
	}
	return out
}

// Outgoing 返回节点的出边（插入顺序）
func (g *Graph) Outgoing(id string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Source == id {
			out = append(out, *e)
		}
	}
	return out
}

// Incoming 返回节点的入边（插入顺序）
func (g *Graph) Incoming(id string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Target == id {
			out = append(out, *e)
		}
	}
	return out
}

// Start 返回第一个 start 节点
func (g *Graph) Start() (Node, bool) {
	for _, n := range g.nodes {
		if n.Kind == KindStart {
			return *n.clone(), true
		}
	}
	return Node{}, false
}

// Len 返回节点数与边数
func (g *Graph) Len() (nodes, edges int) {
	return len(g.nodes), len(g.edges)
}

// Clone 深拷贝（data 浅拷贝一层）
func (g *Graph) Clone() *Graph {
	c := newGraph()
	c.viewport = g.viewport
	for _, n := range g.nodes {
		c.insertNode(n.clone())
	}
	for _, e := range g.edges {
		ec := *e
		c.insertEdge(&ec)
	}
	return c
}

func (g *Graph) startCount() int {
	count := 0
	for _, n := range g.nodes {
		if n.Kind == KindStart {
			count++
		}
	}
	return count
}
