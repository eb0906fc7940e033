package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvstudio/internal/composer"
	"cvstudio/internal/database"
	"cvstudio/internal/ownership"
)

// LibraryHandler 负责素材库四类主记录的增删改查。
// 所有操作都以当前用户为范围；删除时由组合引擎级联清理包含关系。
type LibraryHandler struct {
	db       *gorm.DB
	composer *composer.Service
}

// NewLibraryHandler 构造 LibraryHandler。
func NewLibraryHandler(db *gorm.DB, composerService *composer.Service) *LibraryHandler {
	return &LibraryHandler{db: db, composer: composerService}
}

func parseDatePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, *s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, want YYYY-MM-DD", *s)
	}
	return &t, nil
}

// ---- 工作经历 ----

type createWorkRequest struct {
	Company     string  `json:"company" binding:"required"`
	Role        string  `json:"role" binding:"required"`
	Location    string  `json:"location"`
	StartDate   *string `json:"start_date"`
	EndDate     *string `json:"end_date"`
	IsCurrent   bool    `json:"is_current"`
	Description string  `json:"description"`
}

type workResponse struct {
	ID          uint      `json:"id"`
	Company     string    `json:"company"`
	Role        string    `json:"role"`
	Location    string    `json:"location,omitempty"`
	StartDate   *string   `json:"start_date"`
	EndDate     *string   `json:"end_date"`
	IsCurrent   bool      `json:"is_current"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newWorkResponse(w database.WorkExperience) workResponse {
	return workResponse{
		ID:          w.ID,
		Company:     w.Company,
		Role:        w.Role,
		Location:    w.Location,
		StartDate:   formatDate(w.StartDate),
		EndDate:     formatDate(w.EndDate),
		IsCurrent:   w.IsCurrent,
		Description: w.Description,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}

// CreateWork 新建一条工作经历。is_current 为真时忽略结束日期。
func (h *LibraryHandler) CreateWork(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createWorkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	startDate, err := parseDatePtr(req.StartDate)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	endDate, err := parseDatePtr(req.EndDate)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.IsCurrent {
		endDate = nil
	}

	item := database.WorkExperience{
		UserID:      userID,
		Company:     req.Company,
		Role:        req.Role,
		Location:    req.Location,
		StartDate:   startDate,
		EndDate:     endDate,
		IsCurrent:   req.IsCurrent,
		Description: req.Description,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&item).Error; err != nil {
		Internal(c, "failed to create work experience")
		return
	}
	c.JSON(http.StatusCreated, newWorkResponse(item))
}

// ListWork 列出用户的全部工作经历，按开始日期倒序。
func (h *LibraryHandler) ListWork(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var items []database.WorkExperience
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("start_date desc, id desc").
		Find(&items).Error; err != nil {
		Internal(c, "failed to list work experiences")
		return
	}

	out := make([]workResponse, 0, len(items))
	for _, item := range items {
		out = append(out, newWorkResponse(item))
	}
	c.JSON(http.StatusOK, out)
}

type updateWorkRequest struct {
	Company     *string      `json:"company"`
	Role        *string      `json:"role"`
	Location    *string      `json:"location"`
	StartDate   optionalDate `json:"start_date"`
	EndDate     optionalDate `json:"end_date"`
	IsCurrent   *bool        `json:"is_current"`
	Description *string      `json:"description"`
}

// UpdateWork 部分更新：缺省字段保持原值，显式 null 清除可选字段。
func (h *LibraryHandler) UpdateWork(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	itemID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid item id")
		return
	}

	var req updateWorkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	item, err := ownership.Fetch[database.WorkExperience](ctx, h.db, userID, itemID)
	if err != nil {
		FromError(c, err, "failed to query work experience")
		return
	}

	updates := map[string]any{}
	if req.Company != nil {
		updates["company"] = *req.Company
	}
	if req.Role != nil {
		updates["role"] = *req.Role
	}
	if req.Location != nil {
		updates["location"] = *req.Location
	}
	if req.StartDate.set {
		updates["start_date"] = req.StartDate.value
	}
	if req.EndDate.set {
		updates["end_date"] = req.EndDate.value
	}
	effectiveCurrent := item.IsCurrent
	if req.IsCurrent != nil {
		effectiveCurrent = *req.IsCurrent
		updates["is_current"] = *req.IsCurrent
	}
	// 在职状态下不保留结束日期，单独提交的 end_date 同样被丢弃。
	if effectiveCurrent && (req.EndDate.set || req.IsCurrent != nil) {
		updates["end_date"] = nil
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}

	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(item).Updates(updates).Error; err != nil {
			Internal(c, "failed to update work experience")
			return
		}
	}
	if err := h.db.WithContext(ctx).First(item, item.ID).Error; err != nil {
		Internal(c, "failed to reload work experience")
		return
	}
	c.JSON(http.StatusOK, newWorkResponse(*item))
}

// DeleteWork 删除工作经历，并级联移除所有简历中的对应包含关系。
func (h *LibraryHandler) DeleteWork(c *gin.Context) {
	h.deleteItem(c, composer.KindWork)
}

// ---- 教育经历 ----

type createEducationRequest struct {
	School      string  `json:"school" binding:"required"`
	Degree      string  `json:"degree"`
	Field       string  `json:"field"`
	StartDate   *string `json:"start_date"`
	EndDate     *string `json:"end_date"`
	Description string  `json:"description"`
}

type educationResponse struct {
	ID          uint      `json:"id"`
	School      string    `json:"school"`
	Degree      string    `json:"degree,omitempty"`
	Field       string    `json:"field,omitempty"`
	StartDate   *string   `json:"start_date"`
	EndDate     *string   `json:"end_date"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newEducationResponse(e database.Education) educationResponse {
	return educationResponse{
		ID:          e.ID,
		School:      e.School,
		Degree:      e.Degree,
		Field:       e.Field,
		StartDate:   formatDate(e.StartDate),
		EndDate:     formatDate(e.EndDate),
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// CreateEducation 新建一条教育经历。
func (h *LibraryHandler) CreateEducation(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createEducationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	startDate, err := parseDatePtr(req.StartDate)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	endDate, err := parseDatePtr(req.EndDate)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	item := database.Education{
		UserID:      userID,
		School:      req.School,
		Degree:      req.Degree,
		Field:       req.Field,
		StartDate:   startDate,
		EndDate:     endDate,
		Description: req.Description,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&item).Error; err != nil {
		Internal(c, "failed to create education")
		return
	}
	c.JSON(http.StatusCreated, newEducationResponse(item))
}

// ListEducation 列出用户的全部教育经历。
func (h *LibraryHandler) ListEducation(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var items []database.Education
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("start_date desc, id desc").
		Find(&items).Error; err != nil {
		Internal(c, "failed to list education")
		return
	}

	out := make([]educationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, newEducationResponse(item))
	}
	c.JSON(http.StatusOK, out)
}

type updateEducationRequest struct {
	School      *string      `json:"school"`
	Degree      *string      `json:"degree"`
	Field       *string      `json:"field"`
	StartDate   optionalDate `json:"start_date"`
	EndDate     optionalDate `json:"end_date"`
	Description *string      `json:"description"`
}

// UpdateEducation 部分更新教育经历。
func (h *LibraryHandler) UpdateEducation(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	itemID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid item id")
		return
	}

	var req updateEducationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	item, err := ownership.Fetch[database.Education](ctx, h.db, userID, itemID)
	if err != nil {
		FromError(c, err, "failed to query education")
		return
	}

	updates := map[string]any{}
	if req.School != nil {
		updates["school"] = *req.School
	}
	if req.Degree != nil {
		updates["degree"] = *req.Degree
	}
	if req.Field != nil {
		updates["field"] = *req.Field
	}
	if req.StartDate.set {
		updates["start_date"] = req.StartDate.value
	}
	if req.EndDate.set {
		updates["end_date"] = req.EndDate.value
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}

	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(item).Updates(updates).Error; err != nil {
			Internal(c, "failed to update education")
			return
		}
	}
	if err := h.db.WithContext(ctx).First(item, item.ID).Error; err != nil {
		Internal(c, "failed to reload education")
		return
	}
	c.JSON(http.StatusOK, newEducationResponse(*item))
}

// DeleteEducation 删除教育经历并级联清理包含关系。
func (h *LibraryHandler) DeleteEducation(c *gin.Context) {
	h.deleteItem(c, composer.KindEducation)
}

// ---- 技能 ----

type createSkillRequest struct {
	Name  string `json:"name" binding:"required"`
	Level string `json:"level"`
}

type skillResponse struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Level     string    `json:"level,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newSkillResponse(s database.Skill) skillResponse {
	return skillResponse{
		ID:        s.ID,
		Name:      s.Name,
		Level:     s.Level,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// CreateSkill 新建一条技能。
func (h *LibraryHandler) CreateSkill(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createSkillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	item := database.Skill{UserID: userID, Name: req.Name, Level: req.Level}
	if err := h.db.WithContext(c.Request.Context()).Create(&item).Error; err != nil {
		Internal(c, "failed to create skill")
		return
	}
	c.JSON(http.StatusCreated, newSkillResponse(item))
}

// ListSkills 列出用户的全部技能。
func (h *LibraryHandler) ListSkills(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var items []database.Skill
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("name asc, id asc").
		Find(&items).Error; err != nil {
		Internal(c, "failed to list skills")
		return
	}

	out := make([]skillResponse, 0, len(items))
	for _, item := range items {
		out = append(out, newSkillResponse(item))
	}
	c.JSON(http.StatusOK, out)
}

type updateSkillRequest struct {
	Name  *string        `json:"name"`
	Level optionalString `json:"level"`
}

// UpdateSkill 部分更新技能。
func (h *LibraryHandler) UpdateSkill(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	itemID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid item id")
		return
	}

	var req updateSkillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	item, err := ownership.Fetch[database.Skill](ctx, h.db, userID, itemID)
	if err != nil {
		FromError(c, err, "failed to query skill")
		return
	}

	updates := map[string]any{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Level.set {
		if req.Level.value == nil {
			updates["level"] = ""
		} else {
			updates["level"] = *req.Level.value
		}
	}

	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(item).Updates(updates).Error; err != nil {
			Internal(c, "failed to update skill")
			return
		}
	}
	if err := h.db.WithContext(ctx).First(item, item.ID).Error; err != nil {
		Internal(c, "failed to reload skill")
		return
	}
	c.JSON(http.StatusOK, newSkillResponse(*item))
}

// DeleteSkill 删除技能并级联清理包含关系。
func (h *LibraryHandler) DeleteSkill(c *gin.Context) {
	h.deleteItem(c, composer.KindSkill)
}

// ---- 项目 ----

type createProjectRequest struct {
	Name        string   `json:"name" binding:"required"`
	URL         string   `json:"url"`
	Description string   `json:"description"`
	TechTags    []string `json:"tech_tags"`
}

type projectResponse struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url,omitempty"`
	Description string    `json:"description,omitempty"`
	TechTags    []string  `json:"tech_tags"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newProjectResponse(p database.Project) projectResponse {
	return projectResponse{
		ID:          p.ID,
		Name:        p.Name,
		URL:         p.URL,
		Description: p.Description,
		TechTags:    decodeTechTags(p.TechTags),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// CreateProject 新建一个项目，技术标签保持调用方给定的顺序。
func (h *LibraryHandler) CreateProject(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	item := database.Project{
		UserID:      userID,
		Name:        req.Name,
		URL:         req.URL,
		Description: req.Description,
		TechTags:    encodeTechTags(req.TechTags),
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&item).Error; err != nil {
		Internal(c, "failed to create project")
		return
	}
	c.JSON(http.StatusCreated, newProjectResponse(item))
}

// ListProjects 列出用户的全部项目。
func (h *LibraryHandler) ListProjects(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var items []database.Project
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("updated_at desc, id desc").
		Find(&items).Error; err != nil {
		Internal(c, "failed to list projects")
		return
	}

	out := make([]projectResponse, 0, len(items))
	for _, item := range items {
		out = append(out, newProjectResponse(item))
	}
	c.JSON(http.StatusOK, out)
}

type updateProjectRequest struct {
	Name        *string        `json:"name"`
	URL         optionalString `json:"url"`
	Description *string        `json:"description"`
	TechTags    []string       `json:"tech_tags"`
}

// UpdateProject 部分更新项目；tech_tags 提供时整体替换。
func (h *LibraryHandler) UpdateProject(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	itemID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid item id")
		return
	}

	var req updateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	item, err := ownership.Fetch[database.Project](ctx, h.db, userID, itemID)
	if err != nil {
		FromError(c, err, "failed to query project")
		return
	}

	updates := map[string]any{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.URL.set {
		if req.URL.value == nil {
			updates["url"] = ""
		} else {
			updates["url"] = *req.URL.value
		}
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.TechTags != nil {
		updates["tech_tags"] = encodeTechTags(req.TechTags)
	}

	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(item).Updates(updates).Error; err != nil {
			Internal(c, "failed to update project")
			return
		}
	}
	if err := h.db.WithContext(ctx).First(item, item.ID).Error; err != nil {
		Internal(c, "failed to reload project")
		return
	}
	c.JSON(http.StatusOK, newProjectResponse(*item))
}

// DeleteProject 删除项目并级联清理包含关系。
func (h *LibraryHandler) DeleteProject(c *gin.Context) {
	h.deleteItem(c, composer.KindProject)
}

func (h *LibraryHandler) deleteItem(c *gin.Context, kind composer.Kind) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	itemID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid item id")
		return
	}

	if err := h.composer.DeleteLibraryItem(c.Request.Context(), userID, kind, itemID); err != nil {
		FromError(c, err, "failed to delete library item")
		return
	}
	c.Status(http.StatusNoContent)
}

func encodeTechTags(tags []string) datatypes.JSON {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return datatypes.JSON([]byte("[]"))
	}
	return datatypes.JSON(data)
}

func decodeTechTags(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return []string{}
	}
	return tags
}
