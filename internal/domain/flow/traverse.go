package flow

import (
	"context"
	"fmt"
	"iter"
)

// DefaultMaxSteps 遍历默认步数上限，仅在走入环路后生效
const DefaultMaxSteps = 100

// BranchEvaluator 在 condition 节点上返回分支名（如 "true"/"false"）
// 表达式求值由调用方负责，流程图只按分支名挑选出边
type BranchEvaluator func(ctx context.Context, n Node) (string, error)

// Outcome 遍历结束方式
type Outcome string

const (
	OutcomeRunning           Outcome = ""
	OutcomeCompleted         Outcome = "completed"
	OutcomeStepLimitExceeded Outcome = "step_limit_exceeded"
	OutcomeFailed            Outcome = "failed"
)

// WalkOptions 遍历参数
type WalkOptions struct {
	StartAt  string          // 为空时从 start 节点开始
	Evaluate BranchEvaluator // 为空时 condition 节点走所有分支
	MaxSteps int             // <=0 使用 DefaultMaxSteps；无环遍历不受限
}

// Step 遍历产出的一步：节点及到达它的入边（起点为 nil）
type Step struct {
	Node Node
	Via  *Edge
}

type pending struct {
	id  string
	via *Edge
}

// Walker 惰性广度优先遍历器
type Walker struct {
	g        *Graph
	ctx      context.Context
	opts     WalkOptions
	queue    []pending
	queued   map[string]bool
	visited  map[string]bool
	reach    map[[2]string]bool
	looped   bool
	steps    int
	outcome  Outcome
	err      error
	finished bool
}

// Walk 创建遍历器。每个节点只产出一次，只有回边（目标可达源节点）允许重访；
// 重访发生后才按 MaxSteps 截断，因此无环流程总能走完
func (g *Graph) Walk(ctx context.Context, opts WalkOptions) *Walker {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	w := &Walker{
		g:       g,
		ctx:     ctx,
		opts:    opts,
		queued:  make(map[string]bool),
		visited: make(map[string]bool),
		reach:   make(map[[2]string]bool),
	}

	root := opts.StartAt
	if root == "" {
		start, ok := g.Start()
		if !ok {
			w.fail(newError(CodeNotFound, "walk", DefaultStartID, ErrNotFound))
			return w
		}
		root = start.ID
	} else if _, ok := g.nodeIdx[root]; !ok {
		w.fail(newError(CodeNotFound, "walk", root, ErrNotFound))
		return w
	}
	w.push(root, nil)
	return w
}

func (w *Walker) push(id string, via *Edge) {
	if w.queued[id] {
		return
	}
	if w.visited[id] {
		if via == nil || !w.reaches(id, via.Source) {
			return
		}
		w.looped = true
	}
	w.queued[id] = true
	w.queue = append(w.queue, pending{id: id, via: via})
}

// reaches from 是否能沿边到达 to，结果按遍历缓存
func (w *Walker) reaches(from, to string) bool {
	key := [2]string{from, to}
	if ok, cached := w.reach[key]; cached {
		return ok
	}
	ok := from == to || w.g.reachableFrom([]string{from})[to]
	w.reach[key] = ok
	return ok
}

func (w *Walker) fail(err error) {
	w.err = err
	w.outcome = OutcomeFailed
	w.finished = true
}

// Next 产出下一步；返回 false 表示结束，结束原因见 Outcome/Err
func (w *Walker) Next() (Step, bool) {
	if w.finished {
		return Step{}, false
	}
	if err := w.ctx.Err(); err != nil {
		w.fail(err)
		return Step{}, false
	}
	if len(w.queue) == 0 {
		w.outcome = OutcomeCompleted
		w.finished = true
		return Step{}, false
	}
	if w.looped && w.steps >= w.opts.MaxSteps {
		w.outcome = OutcomeStepLimitExceeded
		w.finished = true
		return Step{}, false
	}

	cur := w.queue[0]
	w.queue = w.queue[1:]
	delete(w.queued, cur.id)

	n, ok := w.g.nodeIdx[cur.id]
	if !ok {
		w.fail(newError(CodeNotFound, "walk", cur.id, ErrNotFound))
		return Step{}, false
	}
	w.steps++
	w.visited[cur.id] = true
	step := Step{Node: *n.clone(), Via: cur.via}

	branch, follow := "", false
	if len(n.Kind.Branches()) > 0 && w.opts.Evaluate != nil {
		b, err := w.opts.Evaluate(w.ctx, step.Node)
		if err != nil {
			// 当前节点已到达，错误在下一次 Next 时体现
			w.fail(err)
			return step, true
		}
		branch, follow = b, true
	}

	for _, e := range w.g.edges {
		if e.Source != n.ID {
			continue
		}
		if follow && e.SourceHandle != branch {
			continue
		}
		ec := *e
		w.push(e.Target, &ec)
	}
	return step, true
}

// FixedBranches 按节点 ID 固定分支，未给出分支的 condition 节点返回错误
func FixedBranches(branches map[string]string) BranchEvaluator {
	return func(_ context.Context, n Node) (string, error) {
		b, ok := branches[n.ID]
		if !ok {
			return "", fmt.Errorf("no branch chosen for condition %q", n.ID)
		}
		return b, nil
	}
}

// Outcome 遍历结束方式，未结束时为 OutcomeRunning
func (w *Walker) Outcome() Outcome {
	return w.outcome
}

// Err 遍历错误（分支求值失败、起点不存在、ctx 取消）
func (w *Walker) Err() error {
	return w.err
}

// Steps 已产出的步数
func (w *Walker) Steps() int {
	return w.steps
}

// Steps 以 iter.Seq2 形式遍历，出错时最后产出一次 (Step{}, err)
func (g *Graph) Steps(ctx context.Context, opts WalkOptions) iter.Seq2[Step, error] {
	return func(yield func(Step, error) bool) {
		w := g.Walk(ctx, opts)
		for {
			step, ok := w.Next()
			if !ok {
				break
			}
			if !yield(step, nil) {
				return
			}
		}
		if err := w.Err(); err != nil {
			yield(Step{}, err)
		}
	}
}

// Collect 遍历到底，返回经过的节点 ID 序列
func Collect(ctx context.Context, g *Graph, opts WalkOptions) ([]string, Outcome, error) {
	w := g.Walk(ctx, opts)
	var ids []string
	for {
		step, ok := w.Next()
		if !ok {
			break
		}
		ids = append(ids, step.Node.ID)
	}
	return ids, w.Outcome(), w.Err()
}
