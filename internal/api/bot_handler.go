package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"intellibotic/internal/domain/bot"
	"intellibotic/internal/domain/flow"
	applog "intellibotic/internal/platform/log"
)

// BotHandler Bot CRUD 与导入导出
type BotHandler struct {
	bots      *bot.Service
	maxUpload int64
}

// NewBotHandler 创建处理器；maxUpload 为导入请求体上限（字节）
func NewBotHandler(bots *bot.Service, maxUpload int64) *BotHandler {
	if maxUpload <= 0 {
		maxUpload = 5 << 20
	}
	return &BotHandler{bots: bots, maxUpload: maxUpload}
}

// RegisterRoutes 注册路由
func (h *BotHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/bots", h.List)
	r.Post("/api/bots", h.Create)
	r.Post("/api/bots/import", h.Import)
	r.Get("/api/bots/{id}", h.Get)
	r.Put("/api/bots/{id}", h.Update)
	r.Delete("/api/bots/{id}", h.Delete)
	r.Post("/api/bots/{id}/export", h.Export)
}

// CreateBotRequest 创建请求，config 为空时使用只含 start 的流程图
type CreateBotRequest struct {
	Name        string         `json:"name" validate:"required,max=255"`
	Description string         `json:"description" validate:"max=2000"`
	Config      *flow.Document `json:"config"`
}

// UpdateBotRequest 部分更新请求
type UpdateBotRequest struct {
	Name        *string        `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string        `json:"description" validate:"omitempty,max=2000"`
	Config      *flow.Document `json:"config"`
}

// List GET /api/bots?page=1&page_size=20&search=
func (h *BotHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := bot.ListParams{Search: strings.TrimSpace(q.Get("search"))}
	var err error
	if params.Page, err = queryInt(q.Get("page")); err != nil {
		writeDomainError(w, r, badRequest("page must be a number"))
		return
	}
	if params.PageSize, err = queryInt(q.Get("page_size")); err != nil {
		writeDomainError(w, r, badRequest("page_size must be a number"))
		return
	}

	result, err := h.bots.List(r.Context(), params)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Create POST /api/bots
func (h *BotHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateBotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	b, err := h.bots.Create(r.Context(), req.Name, req.Description, req.Config)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Get GET /api/bots/{id}
func (h *BotHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.bots.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Update PUT /api/bots/{id}
func (h *BotHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateBotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	b, err := h.bots.Update(r.Context(), chi.URLParam(r, "id"), bot.Patch{
		Name:        req.Name,
		Description: req.Description,
		Flow:        req.Config,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Delete DELETE /api/bots/{id}
func (h *BotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.bots.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export POST /api/bots/{id}/export 直接返回导出信封，可原样再导入
func (h *BotHandler) Export(w http.ResponseWriter, r *http.Request) {
	exp, err := h.bots.Export(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "bot-"+exp.ID+".json"))
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(exp)
}

// importPayload 导入请求：name/description 可省略，取导出信封中的值
type importPayload struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Config      json.RawMessage `json:"config"`
}

// Import POST /api/bots/import 支持 multipart（config 为文件或字段）与 JSON
func (h *BotHandler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	payload, err := h.readImport(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	config, err := unwrapExport(payload)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		writeDomainError(w, r, &requestError{
			Message: "validation failed: name: failed on 'required'",
			Fields:  []FieldError{{Field: "name", Rule: "required"}},
		})
		return
	}

	b, err := h.bots.Import(r.Context(), payload.Name, payload.Description, config)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	applog.FromContext(r.Context()).Info("[Bot/Import] Bot imported", "bot_id", b.ID, "name", b.Name)
	writeJSON(w, http.StatusCreated, b)
}

func (h *BotHandler) readImport(r *http.Request) (*importPayload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, tooLargeOr(err)
		}
		var p importPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, badRequest("invalid JSON: %v", err)
		}
		if len(p.Config) == 0 {
			// 请求体本身就是流程图文档
			p.Config = body
		}
		return &p, nil
	}

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return nil, tooLargeOr(err)
	}
	p := &importPayload{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
	}
	if file, _, err := r.FormFile("config"); err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, badRequest("read config file: %v", err)
		}
		p.Config = data
	} else if v := r.FormValue("config"); v != "" {
		p.Config = json.RawMessage(v)
	}
	if len(bytes.TrimSpace(p.Config)) == 0 {
		return nil, &requestError{
			Message: "validation failed: config: failed on 'required'",
			Fields:  []FieldError{{Field: "config", Rule: "required"}},
		}
	}
	return p, nil
}

// unwrapExport 识别导出信封 {name, description, config}，补全缺省的名称与描述
func unwrapExport(p *importPayload) ([]byte, error) {
	config := bytes.TrimSpace(p.Config)
	if !json.Valid(config) {
		return nil, badRequest("config is not valid JSON")
	}
	var envelope importPayload
	if err := json.Unmarshal(config, &envelope); err != nil || len(envelope.Config) == 0 {
		return config, nil
	}
	if p.Name == "" {
		p.Name = envelope.Name
	}
	if p.Description == "" {
		p.Description = envelope.Description
	}
	return envelope.Config, nil
}

func tooLargeOr(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return badRequest("request body exceeds %d bytes", maxErr.Limit)
	}
	return badRequest("invalid request body: %v", err)
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
