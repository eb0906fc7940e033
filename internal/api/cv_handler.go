package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cvstudio/internal/composer"
	"cvstudio/internal/database"
)

// CvHandler 负责简历文档的增删改查、组合视图读取与包含关系管理。
type CvHandler struct {
	composer *composer.Service
	maxCvs   int
}

// NewCvHandler 构造 CvHandler。maxCvs <= 0 表示不限制简历数量。
func NewCvHandler(composerService *composer.Service, maxCvs int) *CvHandler {
	return &CvHandler{composer: composerService, maxCvs: maxCvs}
}

type cvResponse struct {
	ID              uint      `json:"id"`
	Title           string    `json:"title"`
	Template        string    `json:"template,omitempty"`
	IsDefault       bool      `json:"is_default"`
	OverrideSummary *string   `json:"override_summary"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func newCvResponse(cv database.CvDocument) cvResponse {
	return cvResponse{
		ID:              cv.ID,
		Title:           cv.Title,
		Template:        cv.Template,
		IsDefault:       cv.IsDefault,
		OverrideSummary: cv.OverrideSummary,
		CreatedAt:       cv.CreatedAt,
		UpdatedAt:       cv.UpdatedAt,
	}
}

type createCvRequest struct {
	Title           string  `json:"title" binding:"required"`
	Template        string  `json:"template"`
	IsDefault       bool    `json:"is_default"`
	OverrideSummary *string `json:"override_summary"`
}

// CreateCv 新建简历文档；第一份简历自动成为默认简历。
func (h *CvHandler) CreateCv(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createCvRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	if h.maxCvs > 0 {
		count, err := h.composer.CountCvs(ctx, userID)
		if err != nil {
			Internal(c, "failed to count cv documents")
			return
		}
		if count >= int64(h.maxCvs) {
			Conflict(c, "cv document limit reached")
			return
		}
	}

	cv, err := h.composer.CreateCv(ctx, userID, composer.CreateCvParams{
		Title:           req.Title,
		Template:        req.Template,
		IsDefault:       req.IsDefault,
		OverrideSummary: req.OverrideSummary,
	})
	if err != nil {
		FromError(c, err, "failed to create cv document")
		return
	}
	c.JSON(http.StatusCreated, newCvResponse(*cv))
}

// ListCvs 列出用户的全部简历文档，默认简历排在最前。
func (h *CvHandler) ListCvs(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	cvs, err := h.composer.ListCvs(c.Request.Context(), userID)
	if err != nil {
		Internal(c, "failed to list cv documents")
		return
	}

	out := make([]cvResponse, 0, len(cvs))
	for _, cv := range cvs {
		out = append(out, newCvResponse(cv))
	}
	c.JSON(http.StatusOK, out)
}

type updateCvRequest struct {
	Title           *string        `json:"title"`
	Template        *string        `json:"template"`
	IsDefault       *bool          `json:"is_default"`
	OverrideSummary optionalString `json:"override_summary"`
}

// UpdateCv 部分更新简历文档；override_summary 支持显式 null 清除。
func (h *CvHandler) UpdateCv(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cvID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid cv id")
		return
	}

	var req updateCvRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	cv, err := h.composer.UpdateCv(c.Request.Context(), userID, cvID, composer.UpdateCvParams{
		Title:              req.Title,
		Template:           req.Template,
		IsDefault:          req.IsDefault,
		OverrideSummarySet: req.OverrideSummary.set,
		OverrideSummary:    req.OverrideSummary.value,
	})
	if err != nil {
		FromError(c, err, "failed to update cv document")
		return
	}
	c.JSON(http.StatusOK, newCvResponse(*cv))
}

// DeleteCv 删除简历文档及其包含关系；素材库条目不受影响。
func (h *CvHandler) DeleteCv(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cvID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid cv id")
		return
	}

	if err := h.composer.DeleteCv(c.Request.Context(), userID, cvID); err != nil {
		FromError(c, err, "failed to delete cv document")
		return
	}
	c.Status(http.StatusNoContent)
}

type composedWorkEntry struct {
	workResponse
	SortOrder int `json:"sort_order"`
}

type composedEducationEntry struct {
	educationResponse
	SortOrder int `json:"sort_order"`
}

type composedSkillEntry struct {
	skillResponse
	SortOrder int `json:"sort_order"`
}

type composedProjectEntry struct {
	projectResponse
	SortOrder int `json:"sort_order"`
}

type composedCvResponse struct {
	cvResponse
	Work      []composedWorkEntry      `json:"work"`
	Education []composedEducationEntry `json:"education"`
	Skills    []composedSkillEntry     `json:"skills"`
	Projects  []composedProjectEntry   `json:"projects"`
}

// GetComposedCv 返回简历的组合视图：文档字段加四组按排序值升序的条目。
func (h *CvHandler) GetComposedCv(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cvID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid cv id")
		return
	}

	view, err := h.composer.Compose(c.Request.Context(), userID, cvID)
	if err != nil {
		FromError(c, err, "failed to compose cv document")
		return
	}

	out := composedCvResponse{
		cvResponse: newCvResponse(view.Cv),
		Work:       make([]composedWorkEntry, 0, len(view.Work)),
		Education:  make([]composedEducationEntry, 0, len(view.Education)),
		Skills:     make([]composedSkillEntry, 0, len(view.Skills)),
		Projects:   make([]composedProjectEntry, 0, len(view.Projects)),
	}
	for _, entry := range view.Work {
		out.Work = append(out.Work, composedWorkEntry{newWorkResponse(entry.Item), entry.SortOrder})
	}
	for _, entry := range view.Education {
		out.Education = append(out.Education, composedEducationEntry{newEducationResponse(entry.Item), entry.SortOrder})
	}
	for _, entry := range view.Skills {
		out.Skills = append(out.Skills, composedSkillEntry{newSkillResponse(entry.Item), entry.SortOrder})
	}
	for _, entry := range view.Projects {
		out.Projects = append(out.Projects, composedProjectEntry{newProjectResponse(entry.Item), entry.SortOrder})
	}
	c.JSON(http.StatusOK, out)
}

type addItemRequest struct {
	ItemID    uint `json:"item_id" binding:"required"`
	SortOrder int  `json:"sort_order"`
}

// AddItem 把一条素材加入简历；重复加入同一素材返回 409。
func (h *CvHandler) AddItem(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cvID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid cv id")
		return
	}
	kind, err := composer.ParseKind(c.Param("kind"))
	if err != nil {
		FromError(c, err, "invalid item kind")
		return
	}

	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	if err := h.composer.AddItem(c.Request.Context(), userID, cvID, kind, req.ItemID, req.SortOrder); err != nil {
		FromError(c, err, "failed to add item to cv")
		return
	}
	c.Status(http.StatusCreated)
}

// RemoveItem 把一条素材移出简历；关系不存在返回 404。
func (h *CvHandler) RemoveItem(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cvID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid cv id")
		return
	}
	kind, err := composer.ParseKind(c.Param("kind"))
	if err != nil {
		FromError(c, err, "invalid item kind")
		return
	}
	itemID, ok := parseIDParam(c, "itemId")
	if !ok {
		BadRequest(c, "invalid item id")
		return
	}

	if err := h.composer.RemoveItem(c.Request.Context(), userID, cvID, kind, itemID); err != nil {
		FromError(c, err, "failed to remove item from cv")
		return
	}
	c.Status(http.StatusNoContent)
}

type reorderItemRequest struct {
	SortOrder int `json:"sort_order"`
}

// ReorderItem 更新既有包含关系的排序值。
func (h *CvHandler) ReorderItem(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cvID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid cv id")
		return
	}
	kind, err := composer.ParseKind(c.Param("kind"))
	if err != nil {
		FromError(c, err, "invalid item kind")
		return
	}
	itemID, ok := parseIDParam(c, "itemId")
	if !ok {
		BadRequest(c, "invalid item id")
		return
	}

	var req reorderItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	if err := h.composer.ReorderItem(c.Request.Context(), userID, cvID, kind, itemID, req.SortOrder); err != nil {
		FromError(c, err, "failed to reorder item")
		return
	}
	c.Status(http.StatusOK)
}
