package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"intellibotic/internal/domain/simulator"
)

// SimulationHandler 对话模拟会话
type SimulationHandler struct {
	sims *simulator.Service
}

// NewSimulationHandler 创建处理器
func NewSimulationHandler(sims *simulator.Service) *SimulationHandler {
	return &SimulationHandler{sims: sims}
}

// RegisterRoutes 注册路由
func (h *SimulationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/bots/{id}/simulations", h.Start)
	r.Get("/api/simulations/{sid}", h.Get)
	r.Delete("/api/simulations/{sid}", h.Delete)
	r.Post("/api/simulations/{sid}/reply", h.Reply)
	r.Post("/api/simulations/{sid}/reset", h.Reset)
	r.Get("/api/simulations/{sid}/transcript", h.Transcript)
}

// StartSimulationRequest 启动参数，请求体可为空
type StartSimulationRequest struct {
	StartAt       string            `json:"start_at"`
	ForceBranches map[string]string `json:"force_branches" validate:"omitempty,dive,oneof=true false"`
	Variables     map[string]any    `json:"variables"`
}

// ReplyRequest 用户输入，允许空字符串
type ReplyRequest struct {
	Text *string `json:"text" validate:"required,max=4000"`
}

// Start POST /api/bots/{id}/simulations
func (h *SimulationHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartSimulationRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	sess, err := h.sims.Start(r.Context(), chi.URLParam(r, "id"), simulator.StartOptions{
		StartAt:       req.StartAt,
		ForceBranches: req.ForceBranches,
		Variables:     req.Variables,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// Get GET /api/simulations/{sid}
func (h *SimulationHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sims.Get(r.Context(), chi.URLParam(r, "sid"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Reply POST /api/simulations/{sid}/reply
func (h *SimulationHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var req ReplyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	sess, err := h.sims.Reply(r.Context(), chi.URLParam(r, "sid"), *req.Text)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Reset POST /api/simulations/{sid}/reset 以当前流程图重新开始
func (h *SimulationHandler) Reset(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sims.Reset(r.Context(), chi.URLParam(r, "sid"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Delete DELETE /api/simulations/{sid}
func (h *SimulationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.sims.Delete(r.Context(), chi.URLParam(r, "sid")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Transcript GET /api/simulations/{sid}/transcript
func (h *SimulationHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	text, err := h.sims.Transcript(r.Context(), sid)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "transcript-"+sid+".txt"))
	writeText(w, http.StatusOK, text)
}
