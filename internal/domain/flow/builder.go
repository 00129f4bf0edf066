package flow

import "fmt"

// Builder 流式构建器，主要用于编程式构建和测试
// 所有操作走正式的变更接口，任何失败都会 panic
type Builder struct {
	g    *Graph
	last string
	row  int
}

// NewBuilder 以指定 ID 的 start 节点开始构建
func NewBuilder(startID string) *Builder {
	g := newGraph()
	g.insertNode(&Node{
		ID:       startID,
		Kind:     KindStart,
		Label:    DefaultStartLabel,
		Position: Position{X: defaultStartX, Y: defaultStartY},
	})
	return &Builder{g: g, last: startID}
}

// Add 添加节点并从 from 连接；from 为空时从上一个添加的节点连接
func (b *Builder) Add(id string, kind Kind, label string, from, sourceHandle string) *Builder {
	if from == "" {
		from = b.last
	}
	b.row++
	must(b.g.AddNode(Node{
		ID:       id,
		Kind:     kind,
		Label:    label,
		Position: Position{X: defaultStartX, Y: float64(defaultStartY + b.row*legacyRowGap)},
	}))
	b.Connect(from, id, sourceHandle)
	b.last = id
	return b
}

// WithData 设置上一个节点的 data
func (b *Builder) WithData(data map[string]any) *Builder {
	must(b.g.UpdateNode(b.last, NodePatch{Data: data}))
	return b
}

// Detached 添加一个不连接任何节点的节点
func (b *Builder) Detached(id string, kind Kind, label string) *Builder {
	b.row++
	must(b.g.AddNode(Node{ID: id, Kind: kind, Label: label, Position: Position{X: defaultStartX * 2, Y: float64(defaultStartY + b.row*legacyRowGap)}}))
	return b
}

// Connect 连接两个已存在的节点
func (b *Builder) Connect(source, target, sourceHandle string) *Builder {
	_, err := b.g.AddEdge(Edge{Source: source, Target: target, SourceHandle: sourceHandle})
	must(err)
	return b
}

// Build 返回构建好的图
func (b *Builder) Build() *Graph {
	return b.g
}

func must(err error) {
	if err != nil {
		panic(fmt.Sprintf("flow builder: %v", err))
	}
}

// Sample 编辑器默认示例：start -> 询问 -> 条件 -> 两条回复
func Sample() *Graph {
	return NewBuilder("1").
		Add("2", KindUserInput, "Ask name", "", "").
		WithData(map[string]any{"prompt": "What is your name?", "variable": "name"}).
		Add("3", KindCondition, "Has name?", "", "").
		WithData(map[string]any{"expression": "name not-empty"}).
		Add("4", KindMessage, "Greet", "3", BranchTrue).
		WithData(map[string]any{"text": "Nice to meet you, {{name}}!"}).
		Add("5", KindMessage, "Ask again", "3", BranchFalse).
		WithData(map[string]any{"text": "I did not catch your name."}).
		Build()
}
