package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"intellibotic/internal/domain/bot"
	"intellibotic/internal/domain/flow"
	"intellibotic/internal/domain/simulator"
	"intellibotic/internal/platform/metrics"
)

// FlowHandler 流程图编辑、校验、渲染与试走
type FlowHandler struct {
	bots     *bot.Service
	sims     *simulator.Service
	metrics  *metrics.Metrics
	maxSteps int
}

// NewFlowHandler 创建处理器；sims 用于 mermaid 的会话叠加，metrics 可为空
func NewFlowHandler(bots *bot.Service, sims *simulator.Service, m *metrics.Metrics, maxSteps int) *FlowHandler {
	if maxSteps <= 0 {
		maxSteps = flow.DefaultMaxSteps
	}
	return &FlowHandler{bots: bots, sims: sims, metrics: m, maxSteps: maxSteps}
}

// RegisterRoutes 注册路由
func (h *FlowHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/node-kinds", h.NodeKinds)
	r.Get("/api/bots/{id}/flow", h.GetFlow)
	r.Put("/api/bots/{id}/flow", h.SaveFlow)
	r.Post("/api/bots/{id}/flow/validate", h.Validate)
	r.Get("/api/bots/{id}/flow/mermaid", h.Mermaid)
	r.Post("/api/bots/{id}/flow/walk", h.Walk)
	r.Post("/api/bots/{id}/flow/nodes", h.AddNode)
	r.Patch("/api/bots/{id}/flow/nodes/{nodeID}", h.UpdateNode)
	r.Delete("/api/bots/{id}/flow/nodes/{nodeID}", h.RemoveNode)
	r.Post("/api/bots/{id}/flow/edges", h.AddEdge)
	r.Delete("/api/bots/{id}/flow/edges/{edgeID}", h.RemoveEdge)
}

// AddNodeRequest 新增节点
type AddNodeRequest struct {
	ID       string         `json:"id" validate:"required,node_id"`
	Kind     string         `json:"kind" validate:"required"`
	Label    string         `json:"label" validate:"max=255"`
	Position flow.Position  `json:"position"`
	Data     map[string]any `json:"data"`
}

// UpdateNodeRequest 修改节点，类型不可修改
type UpdateNodeRequest struct {
	Label    *string        `json:"label" validate:"omitempty,max=255"`
	Position *flow.Position `json:"position"`
	Data     map[string]any `json:"data"`
}

// AddEdgeRequest 新增边，id 为空时自动生成
type AddEdgeRequest struct {
	ID           string `json:"id" validate:"omitempty,node_id"`
	Source       string `json:"source" validate:"required"`
	Target       string `json:"target" validate:"required"`
	SourceHandle string `json:"sourceHandle"`
}

// WalkRequest 试走参数；branches 为空时 condition 节点走所有分支
type WalkRequest struct {
	StartAt  string            `json:"start_at"`
	Branches map[string]string `json:"branches"`
	MaxSteps int               `json:"max_steps" validate:"omitempty,min=1"`
}

// WalkResponse 试走结果
type WalkResponse struct {
	Steps   []string     `json:"steps"`
	Outcome flow.Outcome `json:"outcome"`
	Error   string       `json:"error,omitempty"`
}

// FlowResponse 变更后的流程图与校验报告
type FlowResponse struct {
	Config flow.Document `json:"config"`
	Report flow.Report   `json:"report"`
}

// NodeKinds GET /api/node-kinds 节点类型与可用的 code 函数
func (h *FlowHandler) NodeKinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"kinds":     flow.Kinds(),
		"functions": simulator.FunctionNames(),
	})
}

// GetFlow GET /api/bots/{id}/flow
func (h *FlowHandler) GetFlow(w http.ResponseWriter, r *http.Request) {
	g, err := h.bots.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FlowResponse{Config: flow.ToPortable(g), Report: h.validate(g)})
}

// SaveFlow PUT /api/bots/{id}/flow 整体替换，后写者胜出
func (h *FlowHandler) SaveFlow(w http.ResponseWriter, r *http.Request) {
	var doc flow.Document
	if err := decodeJSON(r, &doc); err != nil {
		writeDomainError(w, r, err)
		return
	}
	report, err := h.bots.SaveFlow(r.Context(), chi.URLParam(r, "id"), doc)
	h.record(report)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

// Validate POST /api/bots/{id}/flow/validate
// 请求体为空时校验已保存的流程图，否则校验请求体中的文档（不保存）
func (h *FlowHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var g *flow.Graph
	if r.ContentLength == 0 {
		var err error
		if g, err = h.bots.Open(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, r, err)
			return
		}
	} else {
		if _, err := h.bots.Get(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, r, err)
			return
		}
		var doc flow.Document
		if err := decodeJSON(r, &doc); err != nil {
			writeDomainError(w, r, err)
			return
		}
		parsed, err := flow.FromPortable(doc)
		if err != nil {
			var ce *flow.CorruptError
			if errors.As(err, &ce) {
				report := flow.Report{Issues: ce.Issues}
				h.record(report)
				writeJSON(w, http.StatusOK, report)
				return
			}
			writeDomainError(w, r, err)
			return
		}
		g = parsed
	}
	writeJSON(w, http.StatusOK, h.validate(g))
}

// Mermaid GET /api/bots/{id}/flow/mermaid[?session=sid]
func (h *FlowHandler) Mermaid(w http.ResponseWriter, r *http.Request) {
	g, err := h.bots.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var overlay *flow.Overlay
	if sid := r.URL.Query().Get("session"); sid != "" {
		sess, err := h.sims.Get(r.Context(), sid)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		overlay = &flow.Overlay{Visited: sess.Visited, Current: sess.Cursor}
	}
	writeText(w, http.StatusOK, flow.RenderMermaid(g, overlay))
}

// Walk POST /api/bots/{id}/flow/walk
func (h *FlowHandler) Walk(w http.ResponseWriter, r *http.Request) {
	var req WalkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	g, err := h.bots.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if req.StartAt != "" {
		if _, ok := g.Node(req.StartAt); !ok {
			writeDomainError(w, r, fmt.Errorf("walk from %q: %w", req.StartAt, flow.ErrNotFound))
			return
		}
	}

	maxSteps := h.maxSteps
	if req.MaxSteps > 0 && req.MaxSteps < maxSteps {
		maxSteps = req.MaxSteps
	}
	opts := flow.WalkOptions{StartAt: req.StartAt, MaxSteps: maxSteps}
	if len(req.Branches) > 0 {
		opts.Evaluate = flow.FixedBranches(req.Branches)
	}

	steps, outcome, walkErr := flow.Collect(r.Context(), g, opts)
	resp := WalkResponse{Steps: steps, Outcome: outcome}
	if resp.Steps == nil {
		resp.Steps = []string{}
	}
	if walkErr != nil {
		resp.Error = walkErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddNode POST /api/bots/{id}/flow/nodes
func (h *FlowHandler) AddNode(w http.ResponseWriter, r *http.Request) {
	var req AddNodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	kind, err := flow.ParseKind(req.Kind)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.mutate(w, r, http.StatusCreated, func(g *flow.Graph) error {
		return g.AddNode(flow.Node{
			ID:       req.ID,
			Kind:     kind,
			Label:    req.Label,
			Position: req.Position,
			Data:     req.Data,
		})
	})
}

// UpdateNode PATCH /api/bots/{id}/flow/nodes/{nodeID}
func (h *FlowHandler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	var req UpdateNodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	nodeID := chi.URLParam(r, "nodeID")
	h.mutate(w, r, http.StatusOK, func(g *flow.Graph) error {
		return g.UpdateNode(nodeID, flow.NodePatch{
			Label:    req.Label,
			Position: req.Position,
			Data:     req.Data,
		})
	})
}

// RemoveNode DELETE /api/bots/{id}/flow/nodes/{nodeID} 级联删除关联边
func (h *FlowHandler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	h.mutate(w, r, http.StatusOK, func(g *flow.Graph) error {
		return g.RemoveNode(nodeID)
	})
}

// AddEdge POST /api/bots/{id}/flow/edges
func (h *FlowHandler) AddEdge(w http.ResponseWriter, r *http.Request) {
	var req AddEdgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.mutate(w, r, http.StatusCreated, func(g *flow.Graph) error {
		_, err := g.AddEdge(flow.Edge{
			ID:           req.ID,
			Source:       req.Source,
			Target:       req.Target,
			SourceHandle: req.SourceHandle,
		})
		return err
	})
}

// RemoveEdge DELETE /api/bots/{id}/flow/edges/{edgeID}
func (h *FlowHandler) RemoveEdge(w http.ResponseWriter, r *http.Request) {
	edgeID := chi.URLParam(r, "edgeID")
	h.mutate(w, r, http.StatusOK, func(g *flow.Graph) error {
		return g.RemoveEdge(edgeID)
	})
}

func (h *FlowHandler) mutate(w http.ResponseWriter, r *http.Request, status int, fn func(g *flow.Graph) error) {
	g, report, err := h.bots.Mutate(r.Context(), chi.URLParam(r, "id"), fn)
	h.record(report)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, status, FlowResponse{Config: flow.ToPortable(g), Report: report})
}

func (h *FlowHandler) validate(g *flow.Graph) flow.Report {
	report := flow.Validate(g)
	h.record(report)
	return report
}

func (h *FlowHandler) record(report flow.Report) {
	for _, is := range report.Issues {
		h.metrics.ValidationIssue(string(is.Code), string(is.Severity))
	}
}
