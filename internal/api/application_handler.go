package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"cvstudio/internal/api/middleware"
	"cvstudio/internal/database"
	"cvstudio/internal/ownership"
	"cvstudio/internal/snapshot"
)

// 投递状态的合法取值。
var applicationStatuses = map[string]bool{
	"draft":     true,
	"applied":   true,
	"interview": true,
	"offer":     true,
	"rejected":  true,
	"withdrawn": true,
}

const defaultApplicationStatus = "draft"

// exportObjectRemover 抽象对象存储的删除操作，便于在测试中替换。
type exportObjectRemover interface {
	RemoveObject(ctx context.Context, objectKey string) error
}

// ApplicationHandler 负责求职投递的增删改查，以及投递名下快照的读取。
// 删除投递时在同一事务内级联删除其快照。
type ApplicationHandler struct {
	db      *gorm.DB
	engine  *snapshot.Engine
	storage exportObjectRemover
}

// NewApplicationHandler 构造 ApplicationHandler。storage 可以为 nil（不清理导出产物）。
func NewApplicationHandler(db *gorm.DB, engine *snapshot.Engine, storage exportObjectRemover) *ApplicationHandler {
	return &ApplicationHandler{db: db, engine: engine, storage: storage}
}

type applicationResponse struct {
	ID        uint      `json:"id"`
	Company   string    `json:"company"`
	Position  string    `json:"position"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	AppliedAt *string   `json:"applied_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newApplicationResponse(app database.JobApplication) applicationResponse {
	return applicationResponse{
		ID:        app.ID,
		Company:   app.Company,
		Position:  app.Position,
		Status:    app.Status,
		Notes:     app.Notes,
		AppliedAt: formatDate(app.AppliedAt),
		CreatedAt: app.CreatedAt,
		UpdatedAt: app.UpdatedAt,
	}
}

type createApplicationRequest struct {
	Company   string  `json:"company" binding:"required"`
	Position  string  `json:"position" binding:"required"`
	Status    string  `json:"status"`
	Notes     string  `json:"notes"`
	AppliedAt *string `json:"applied_at"`
}

// CreateApplication 新建一次投递记录。
func (h *ApplicationHandler) CreateApplication(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	status := req.Status
	if status == "" {
		status = defaultApplicationStatus
	}
	if !applicationStatuses[status] {
		BadRequest(c, "invalid application status")
		return
	}

	appliedAt, err := parseDatePtr(req.AppliedAt)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	app := database.JobApplication{
		UserID:    userID,
		Company:   req.Company,
		Position:  req.Position,
		Status:    status,
		Notes:     req.Notes,
		AppliedAt: appliedAt,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&app).Error; err != nil {
		Internal(c, "failed to create application")
		return
	}
	c.JSON(http.StatusCreated, newApplicationResponse(app))
}

// ListApplications 列出用户的全部投递，最近更新在前。
func (h *ApplicationHandler) ListApplications(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	query := h.db.WithContext(c.Request.Context()).Where("user_id = ?", userID)
	if status := c.Query("status"); status != "" {
		if !applicationStatuses[status] {
			BadRequest(c, "invalid application status")
			return
		}
		query = query.Where("status = ?", status)
	}

	var apps []database.JobApplication
	if err := query.Order("updated_at desc, id desc").Find(&apps).Error; err != nil {
		Internal(c, "failed to list applications")
		return
	}

	out := make([]applicationResponse, 0, len(apps))
	for _, app := range apps {
		out = append(out, newApplicationResponse(app))
	}
	c.JSON(http.StatusOK, out)
}

// GetApplication 读取一次投递。
func (h *ApplicationHandler) GetApplication(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	appID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid application id")
		return
	}

	app, err := ownership.Fetch[database.JobApplication](c.Request.Context(), h.db, userID, appID)
	if err != nil {
		FromError(c, err, "failed to query application")
		return
	}
	c.JSON(http.StatusOK, newApplicationResponse(*app))
}

type updateApplicationRequest struct {
	Company   *string      `json:"company"`
	Position  *string      `json:"position"`
	Status    *string      `json:"status"`
	Notes     *string      `json:"notes"`
	AppliedAt optionalDate `json:"applied_at"`
}

// UpdateApplication 部分更新投递记录。
func (h *ApplicationHandler) UpdateApplication(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	appID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid application id")
		return
	}

	var req updateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.Status != nil && !applicationStatuses[*req.Status] {
		BadRequest(c, "invalid application status")
		return
	}

	ctx := c.Request.Context()
	app, err := ownership.Fetch[database.JobApplication](ctx, h.db, userID, appID)
	if err != nil {
		FromError(c, err, "failed to query application")
		return
	}

	updates := map[string]any{}
	if req.Company != nil {
		updates["company"] = *req.Company
	}
	if req.Position != nil {
		updates["position"] = *req.Position
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	if req.AppliedAt.set {
		updates["applied_at"] = req.AppliedAt.value
	}

	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(app).Updates(updates).Error; err != nil {
			Internal(c, "failed to update application")
			return
		}
	}
	if err := h.db.WithContext(ctx).First(app, app.ID).Error; err != nil {
		Internal(c, "failed to reload application")
		return
	}
	c.JSON(http.StatusOK, newApplicationResponse(*app))
}

// DeleteApplication 删除投递，并在同一事务内删除其名下的快照。
// 快照的导出产物在事务提交后尽力从对象存储清理。
func (h *ApplicationHandler) DeleteApplication(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	appID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid application id")
		return
	}

	ctx := c.Request.Context()
	var exportKeys []string
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		app, err := ownership.Fetch[database.JobApplication](ctx, tx, userID, appID)
		if err != nil {
			return err
		}

		keys, err := snapshot.DeleteByApplicationTx(tx, userID, app.ID)
		if err != nil {
			return err
		}
		exportKeys = keys

		return tx.Delete(&database.JobApplication{}, app.ID).Error
	})
	if err != nil {
		FromError(c, err, "failed to delete application")
		return
	}

	h.cleanupExports(c, exportKeys)
	c.Status(http.StatusNoContent)
}

// GetApplicationSnapshot 读取投递名下的快照；投递没有快照时返回 404。
func (h *ApplicationHandler) GetApplicationSnapshot(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	appID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid application id")
		return
	}

	doc, err := h.engine.GetByApplication(c.Request.Context(), userID, appID)
	if err != nil {
		FromError(c, err, "failed to query snapshot")
		return
	}
	c.JSON(http.StatusOK, newSnapshotDocumentResponse(doc))
}

func (h *ApplicationHandler) cleanupExports(c *gin.Context, keys []string) {
	if h.storage == nil || len(keys) == 0 {
		return
	}
	logger := middleware.LoggerFromContext(c)
	for _, key := range keys {
		if err := h.storage.RemoveObject(c.Request.Context(), key); err != nil {
			logger.Warn("failed to remove snapshot export object",
				slog.String("object_key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}
