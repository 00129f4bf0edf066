package simulator

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"intellibotic/internal/domain/flow"
	applog "intellibotic/internal/platform/log"
)

const (
	DefaultFunctionTimeout = 3000 * time.Millisecond
	DefaultAIPlaceholder   = "[AI response placeholder]"
	DefaultInputVariable   = "input"

	stepLimitMessage = "possible infinite loop detected"
)

// Recorder 模拟器指标钩子，*metrics.Metrics 实现该接口
type Recorder interface {
	NodeVisited(kind string)
	WalkFinished(outcome string)
	FunctionCall(name string, err error, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) NodeVisited(string)                        {}
func (nopRecorder) WalkFinished(string)                       {}
func (nopRecorder) FunctionCall(string, error, time.Duration) {}

// EngineConfig 模拟器参数
type EngineConfig struct {
	MaxSteps        int
	FunctionTimeout time.Duration
	AIPlaceholder   string
}

// Engine 对话模拟器，无状态，会话状态全部在 Session 中
type Engine struct {
	cfg     EngineConfig
	metrics Recorder
	now     func() time.Time
}

func NewEngine(cfg EngineConfig, rec Recorder) *Engine {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = flow.DefaultMaxSteps
	}
	if cfg.FunctionTimeout <= 0 {
		cfg.FunctionTimeout = DefaultFunctionTimeout
	}
	if cfg.AIPlaceholder == "" {
		cfg.AIPlaceholder = DefaultAIPlaceholder
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Engine{cfg: cfg, metrics: rec, now: time.Now}
}

// StartOptions 启动参数
type StartOptions struct {
	BotID         string
	OwnerID       string
	StartAt       string
	ForceBranches map[string]string
	Variables     map[string]any
}

// Start 创建会话并从 start（或 StartAt）走到第一个 user_input 节点
func (e *Engine) Start(ctx context.Context, g *flow.Graph, opts StartOptions) (*Session, error) {
	if opts.StartAt != "" {
		if _, ok := g.Node(opts.StartAt); !ok {
			return nil, fmt.Errorf("start simulation at %q: %w", opts.StartAt, flow.ErrNotFound)
		}
	}
	now := e.now()
	s := &Session{
		ID:            uuid.NewString(),
		BotID:         opts.BotID,
		OwnerID:       opts.OwnerID,
		Status:        StatusActive,
		Transcript:    []Message{},
		Variables:     make(map[string]any),
		Visited:       []string{},
		ForceBranches: maps.Clone(opts.ForceBranches),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	maps.Copy(s.Variables, opts.Variables)

	e.run(ctx, s, g, opts.StartAt, false)
	applog.Debug("[Sim/Start] session started", "session_id", s.ID, "bot_id", s.BotID, "status", s.Status)
	return s, nil
}

// Reply 把用户输入写入光标节点的变量并继续遍历
func (e *Engine) Reply(ctx context.Context, s *Session, g *flow.Graph, text string) error {
	if s.Status.Done() {
		return ErrSessionFinished
	}
	if s.Status != StatusAwaitingInput || s.Cursor == "" {
		return fmt.Errorf("%w: session is not waiting for input", ErrSessionFinished)
	}
	node, ok := g.Node(s.Cursor)
	if !ok {
		return fmt.Errorf("resume at %q: %w", s.Cursor, flow.ErrNotFound)
	}

	variable := node.Text("variable")
	if variable == "" {
		variable = DefaultInputVariable
	}
	s.Variables[variable] = text
	e.append(s, RoleUser, text, node.ID)

	e.run(ctx, s, g, node.ID, true)
	applog.Debug("[Sim/Reply] session advanced", "session_id", s.ID, "status", s.Status, "cursor", s.Cursor)
	return nil
}

// Reset 清空会话并重新开始
func (e *Engine) Reset(ctx context.Context, s *Session, g *flow.Graph) {
	s.Transcript = []Message{}
	s.Variables = make(map[string]any)
	s.Visited = []string{}
	s.Cursor = ""
	s.Status = StatusActive
	e.run(ctx, s, g, "", false)
}

func (e *Engine) run(ctx context.Context, s *Session, g *flow.Graph, startAt string, resume bool) {
	s.Cursor = ""
	s.Status = StatusActive

	w := g.Walk(ctx, flow.WalkOptions{
		StartAt:  startAt,
		Evaluate: e.evaluator(s),
		MaxSteps: e.cfg.MaxSteps,
	})
	first := true
	for {
		step, ok := w.Next()
		if !ok {
			break
		}
		if first && resume {
			first = false
			continue
		}
		first = false

		n := step.Node
		s.Visited = append(s.Visited, n.ID)
		e.metrics.NodeVisited(string(n.Kind))
		if e.visit(ctx, s, n) {
			s.Cursor = n.ID
			s.Status = StatusAwaitingInput
			e.metrics.WalkFinished("awaiting_input")
			return
		}
	}

	switch w.Outcome() {
	case flow.OutcomeStepLimitExceeded:
		e.append(s, RoleSystem, stepLimitMessage, "")
		s.Status = StatusStepLimit
		applog.Warn("[Sim/Walk] step limit reached", "session_id", s.ID, "max_steps", e.cfg.MaxSteps)
	case flow.OutcomeFailed:
		e.append(s, RoleSystem, "simulation stopped: "+w.Err().Error(), "")
		s.Status = StatusFinished
		applog.Warn("[Sim/Walk] walk failed", "session_id", s.ID, "err", w.Err())
	default:
		s.Status = StatusFinished
	}
	e.metrics.WalkFinished(string(w.Outcome()))
}

// visit 执行单个节点，返回 true 表示需要等待用户输入
func (e *Engine) visit(ctx context.Context, s *Session, n flow.Node) bool {
	switch n.Kind {
	case flow.KindStart:
		if text := n.Text("text"); text != "" {
			e.append(s, RoleBot, interpolate(text, s.Variables), n.ID)
		}
	case flow.KindMessage:
		text := n.Text("text")
		if text == "" {
			text = n.Label
		}
		e.append(s, RoleBot, interpolate(text, s.Variables), n.ID)
	case flow.KindUserInput:
		prompt := n.Text("prompt")
		if prompt == "" {
			prompt = n.Label
		}
		if prompt != "" {
			e.append(s, RoleBot, interpolate(prompt, s.Variables), n.ID)
		}
		return true
	case flow.KindCode:
		e.callCode(ctx, s, n)
	case flow.KindAIResponse:
		e.append(s, RoleBot, e.cfg.AIPlaceholder, n.ID)
	}
	return false
}

func (e *Engine) callCode(ctx context.Context, s *Session, n flow.Node) {
	name := n.Text("function")
	timeout := e.cfg.FunctionTimeout
	if ms, ok := toFloat(n.Data["timeout_ms"]); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	input := make(map[string]any)
	if raw, ok := n.Data["inputs"].(map[string]any); ok {
		for k, v := range raw {
			input[k] = resolveInput(v, s.Variables)
		}
	}

	begin := time.Now()
	out, err := callFunction(ctx, name, input, timeout)
	e.metrics.FunctionCall(name, err, time.Since(begin))
	if err != nil {
		e.append(s, RoleSystem, fmt.Sprintf("code node %s failed: %v", n.ID, err), n.ID)
		applog.Warn("[Sim/Code] function call failed", "session_id", s.ID, "node_id", n.ID, "function", name, "err", err)
		return
	}
	maps.Copy(s.Variables, out)
}

// evaluator condition 节点求值；ForceBranches 优先
func (e *Engine) evaluator(s *Session) flow.BranchEvaluator {
	return func(_ context.Context, n flow.Node) (string, error) {
		if b, ok := s.ForceBranches[n.ID]; ok {
			return b, nil
		}
		expr, err := Compile(n.Text("expression"))
		if err != nil {
			return "", fmt.Errorf("condition %s: %w", n.ID, err)
		}
		return strconv.FormatBool(expr.Eval(s.Variables)), nil
	}
}

func (e *Engine) append(s *Session, role Role, text, nodeID string) {
	now := e.now()
	s.Transcript = append(s.Transcript, Message{Role: role, Text: text, NodeID: nodeID, At: now})
	s.UpdatedAt = now
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// interpolate 替换 {{var}}，未知变量替换为空串
func interpolate(text string, vars map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	})
}

// resolveInput 整串为单个 {{var}} 时保留原始类型，否则按模板插值
func resolveInput(v any, vars map[string]any) any {
	str, ok := v.(string)
	if !ok {
		return v
	}
	if m := placeholderRe.FindStringSubmatch(str); m != nil && m[0] == strings.TrimSpace(str) {
		return vars[m[1]]
	}
	return interpolate(str, vars)
}
