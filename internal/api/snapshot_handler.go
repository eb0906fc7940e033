package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"cvstudio/internal/api/middleware"
	"cvstudio/internal/snapshot"
	"cvstudio/internal/tasks"
)

// taskEnqueuer 抽象 asynq 客户端，便于在测试中替换。
type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// SnapshotHandler 负责快照的创建、读取、删除与导出任务投递。
type SnapshotHandler struct {
	engine   *snapshot.Engine
	enqueuer taskEnqueuer
	storage  exportObjectRemover
}

// NewSnapshotHandler 构造 SnapshotHandler。
// enqueuer 为 nil 时导出接口返回 503；storage 为 nil 时删除不清理导出产物。
func NewSnapshotHandler(engine *snapshot.Engine, enqueuer taskEnqueuer, storage exportObjectRemover) *SnapshotHandler {
	return &SnapshotHandler{engine: engine, enqueuer: enqueuer, storage: storage}
}

type snapshotHeaderResponse struct {
	FullName   string          `json:"full_name"`
	Headline   string          `json:"headline,omitempty"`
	Email      string          `json:"email,omitempty"`
	Phone      string          `json:"phone,omitempty"`
	Location   string          `json:"location,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	Links      json.RawMessage `json:"links,omitempty"`
	PictureKey string          `json:"picture_key,omitempty"`
}

type snapshotWorkEntryResponse struct {
	Company     string  `json:"company"`
	Role        string  `json:"role"`
	Location    string  `json:"location,omitempty"`
	StartDate   *string `json:"start_date"`
	EndDate     *string `json:"end_date"`
	IsCurrent   bool    `json:"is_current"`
	Description string  `json:"description,omitempty"`
	SortOrder   int     `json:"sort_order"`
}

type snapshotEducationEntryResponse struct {
	School      string  `json:"school"`
	Degree      string  `json:"degree,omitempty"`
	Field       string  `json:"field,omitempty"`
	StartDate   *string `json:"start_date"`
	EndDate     *string `json:"end_date"`
	Description string  `json:"description,omitempty"`
	SortOrder   int     `json:"sort_order"`
}

type snapshotSkillEntryResponse struct {
	Name      string `json:"name"`
	Level     string `json:"level,omitempty"`
	SortOrder int    `json:"sort_order"`
}

type snapshotProjectEntryResponse struct {
	Name        string          `json:"name"`
	URL         string          `json:"url,omitempty"`
	Description string          `json:"description,omitempty"`
	TechTags    json.RawMessage `json:"tech_tags,omitempty"`
	SortOrder   int             `json:"sort_order"`
}

type snapshotDocumentResponse struct {
	ID            uint                             `json:"id"`
	SourceCvID    uint                             `json:"source_cv_id"`
	ApplicationID *uint                            `json:"application_id"`
	Title         string                           `json:"title"`
	Template      string                           `json:"template,omitempty"`
	CreatedAt     time.Time                        `json:"created_at"`
	Header        snapshotHeaderResponse           `json:"header"`
	Work          []snapshotWorkEntryResponse      `json:"work"`
	Education     []snapshotEducationEntryResponse `json:"education"`
	Skills        []snapshotSkillEntryResponse     `json:"skills"`
	Projects      []snapshotProjectEntryResponse   `json:"projects"`
}

func newSnapshotDocumentResponse(doc *snapshot.Document) snapshotDocumentResponse {
	out := snapshotDocumentResponse{
		ID:            doc.Snapshot.ID,
		SourceCvID:    doc.Snapshot.SourceCvID,
		ApplicationID: doc.Snapshot.ApplicationID,
		Title:         doc.Snapshot.Title,
		Template:      doc.Snapshot.Template,
		CreatedAt:     doc.Snapshot.CreatedAt,
		Header: snapshotHeaderResponse{
			FullName:   doc.Header.FullName,
			Headline:   doc.Header.Headline,
			Email:      doc.Header.Email,
			Phone:      doc.Header.Phone,
			Location:   doc.Header.Location,
			Summary:    doc.Header.Summary,
			Links:      json.RawMessage(doc.Header.Links),
			PictureKey: doc.Header.PictureKey,
		},
		Work:      make([]snapshotWorkEntryResponse, 0, len(doc.Work)),
		Education: make([]snapshotEducationEntryResponse, 0, len(doc.Education)),
		Skills:    make([]snapshotSkillEntryResponse, 0, len(doc.Skills)),
		Projects:  make([]snapshotProjectEntryResponse, 0, len(doc.Projects)),
	}
	for _, entry := range doc.Work {
		out.Work = append(out.Work, snapshotWorkEntryResponse{
			Company:     entry.Company,
			Role:        entry.Role,
			Location:    entry.Location,
			StartDate:   formatDate(entry.StartDate),
			EndDate:     formatDate(entry.EndDate),
			IsCurrent:   entry.IsCurrent,
			Description: entry.Description,
			SortOrder:   entry.SortOrder,
		})
	}
	for _, entry := range doc.Education {
		out.Education = append(out.Education, snapshotEducationEntryResponse{
			School:      entry.School,
			Degree:      entry.Degree,
			Field:       entry.Field,
			StartDate:   formatDate(entry.StartDate),
			EndDate:     formatDate(entry.EndDate),
			Description: entry.Description,
			SortOrder:   entry.SortOrder,
		})
	}
	for _, entry := range doc.Skills {
		out.Skills = append(out.Skills, snapshotSkillEntryResponse{
			Name:      entry.Name,
			Level:     entry.Level,
			SortOrder: entry.SortOrder,
		})
	}
	for _, entry := range doc.Projects {
		out.Projects = append(out.Projects, snapshotProjectEntryResponse{
			Name:        entry.Name,
			URL:         entry.URL,
			Description: entry.Description,
			TechTags:    json.RawMessage(entry.TechTags),
			SortOrder:   entry.SortOrder,
		})
	}
	return out
}

type createSnapshotRequest struct {
	CvID          uint  `json:"cv_id" binding:"required"`
	ApplicationID *uint `json:"application_id"`
}

// CreateSnapshot 把指定简历冻结为快照。携带 application_id 时绑定该投递，
// 投递上已有的旧快照会被替换。
func (h *SnapshotHandler) CreateSnapshot(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	snapshotID, err := h.engine.Create(c.Request.Context(), userID, req.CvID, req.ApplicationID)
	if err != nil {
		FromError(c, err, "failed to create snapshot")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": snapshotID})
}

// GetSnapshot 读取一份快照的完整视图。
func (h *SnapshotHandler) GetSnapshot(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	snapshotID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid snapshot id")
		return
	}

	doc, err := h.engine.Get(c.Request.Context(), userID, snapshotID)
	if err != nil {
		FromError(c, err, "failed to query snapshot")
		return
	}
	c.JSON(http.StatusOK, newSnapshotDocumentResponse(doc))
}

// DeleteSnapshot 整体删除一份快照，并尽力清理其导出产物。
func (h *SnapshotHandler) DeleteSnapshot(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	snapshotID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid snapshot id")
		return
	}

	exportKeys, err := h.engine.Delete(c.Request.Context(), userID, snapshotID)
	if err != nil {
		FromError(c, err, "failed to delete snapshot")
		return
	}

	if h.storage != nil {
		logger := middleware.LoggerFromContext(c)
		for _, key := range exportKeys {
			if err := h.storage.RemoveObject(c.Request.Context(), key); err != nil {
				logger.Warn("failed to remove snapshot export object",
					slog.String("object_key", key),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	c.Status(http.StatusNoContent)
}

// ExportSnapshot 投递一个异步导出任务；完成结果经 WebSocket 通知推送。
func (h *SnapshotHandler) ExportSnapshot(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	snapshotID, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, "invalid snapshot id")
		return
	}
	if h.enqueuer == nil {
		Error(c, http.StatusServiceUnavailable, "export service unavailable")
		return
	}

	// 先确认快照存在且归属当前用户，再投递任务。
	if _, err := h.engine.Get(c.Request.Context(), userID, snapshotID); err != nil {
		FromError(c, err, "failed to query snapshot")
		return
	}

	task, err := tasks.NewSnapshotExportTask(tasks.SnapshotExportPayload{
		SnapshotID:    snapshotID,
		UserID:        userID,
		CorrelationID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		Internal(c, "failed to build export task")
		return
	}

	info, err := h.enqueuer.EnqueueContext(c.Request.Context(), task, asynq.MaxRetry(3), asynq.Timeout(time.Minute))
	if err != nil {
		Internal(c, "failed to enqueue export task")
		return
	}

	middleware.LoggerFromContext(c).Info("snapshot export enqueued",
		slog.Uint64("snapshot_id", uint64(snapshotID)),
		slog.String("task_id", info.ID),
	)
	c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID})
}
