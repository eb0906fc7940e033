// Package worker 消费异步任务：把快照序列化为 JSON 导出文档上传到对象存储，
// 并通过 Redis Pub/Sub 把下载链接推送给在线客户端。
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cvstudio/internal/errcode"
	"cvstudio/internal/snapshot"
	"cvstudio/internal/storage"
	"cvstudio/internal/tasks"
)

const exportDownloadTTL = 24 * time.Hour

// ExportTaskHandler 负责消费快照导出任务。
type ExportTaskHandler struct {
	db          *gorm.DB
	engine      *snapshot.Engine
	storage     *storage.Client
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewExportTaskHandler 创建任务处理器。
func NewExportTaskHandler(
	db *gorm.DB,
	storageClient *storage.Client,
	redisClient *redis.Client,
	logger *slog.Logger,
) *ExportTaskHandler {
	return &ExportTaskHandler{
		db:          db,
		engine:      snapshot.NewEngine(db),
		storage:     storageClient,
		redisClient: redisClient,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *ExportTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.SnapshotExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("snapshot_id", uint64(payload.SnapshotID)),
		slog.Uint64("user_id", uint64(payload.UserID)),
	)
	log.Info("starting snapshot export task")

	doc, err := h.engine.Get(ctx, payload.UserID, payload.SnapshotID)
	if err != nil {
		if errors.Is(err, errcode.ErrNotFound) {
			// 快照在任务排队期间被删除，不算失败。
			log.Warn("snapshot not found, skipping task")
			return nil
		}
		log.Error("load snapshot failed", slog.Any("error", err))
		return err
	}

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}

		notify := SnapshotExportNotifyMessage{
			Status:        "error",
			SnapshotID:    payload.SnapshotID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := h.publishExportNotify(ctx, payload.UserID, notify); err != nil {
			log.Error("publish export error notification failed", slog.Any("error", err))
		}
	}()

	exportBytes, err := json.MarshalIndent(buildExportDocument(doc), "", "  ")
	if err != nil {
		log.Error("marshal export document failed", slog.Any("error", err))
		return err
	}

	objectName := fmt.Sprintf("snapshot-exports/%d/%s.json", payload.UserID, uuid.NewString())
	reader := bytes.NewReader(exportBytes)
	if _, err := h.storage.UploadFile(ctx, objectName, reader, int64(len(exportBytes)), "application/json"); err != nil {
		log.Error("upload export to minio failed", slog.Any("error", err))
		return err
	}

	if err := h.engine.RecordExport(ctx, doc.Snapshot.ID, objectName); err != nil {
		log.Error("record export failed", slog.Any("error", err))
		return err
	}

	downloadURL, err := h.storage.GeneratePresignedURLWithParams(ctx, objectName, exportDownloadTTL, map[string]string{
		"response-content-disposition": fmt.Sprintf(`attachment; filename="%s"`, exportFilename(doc)),
	})
	if err != nil {
		log.Error("generate export download url failed", slog.Any("error", err))
		return err
	}

	notify := SnapshotExportNotifyMessage{
		Status:        "completed",
		SnapshotID:    payload.SnapshotID,
		CorrelationID: payload.CorrelationID,
		DownloadURL:   downloadURL,
		ErrorCode:     errcode.OK,
	}
	if err := h.publishExportNotify(ctx, payload.UserID, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	log.Info("snapshot export task completed")
	return nil
}

func (h *ExportTaskHandler) publishExportNotify(ctx context.Context, userID uint, notify SnapshotExportNotifyMessage) error {
	data, err := json.Marshal(notify)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := fmt.Sprintf("user_notify:%d", userID)
	if err := h.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}

func exportFilename(doc *snapshot.Document) string {
	title := strings.TrimSpace(doc.Snapshot.Title)
	if title == "" {
		title = "snapshot"
	}
	title = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '"', ':', '*', '?', '<', '>', '|':
			return '-'
		}
		return r
	}, title)
	return fmt.Sprintf("%s-%d.json", title, doc.Snapshot.ID)
}

// exportDocument 是导出文件的 JSON 结构，字段与快照存储一一对应。
type exportDocument struct {
	SnapshotID uint              `json:"snapshot_id"`
	Title      string            `json:"title"`
	Template   string            `json:"template,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Header     exportHeader      `json:"header"`
	Work       []exportWork      `json:"work"`
	Education  []exportEducation `json:"education"`
	Skills     []exportSkill     `json:"skills"`
	Projects   []exportProject   `json:"projects"`
}

type exportHeader struct {
	FullName string          `json:"full_name"`
	Headline string          `json:"headline,omitempty"`
	Email    string          `json:"email,omitempty"`
	Phone    string          `json:"phone,omitempty"`
	Location string          `json:"location,omitempty"`
	Summary  string          `json:"summary,omitempty"`
	Links    json.RawMessage `json:"links,omitempty"`
}

type exportWork struct {
	Company     string     `json:"company"`
	Role        string     `json:"role"`
	Location    string     `json:"location,omitempty"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
	IsCurrent   bool       `json:"is_current"`
	Description string     `json:"description,omitempty"`
}

type exportEducation struct {
	School      string     `json:"school"`
	Degree      string     `json:"degree,omitempty"`
	Field       string     `json:"field,omitempty"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
	Description string     `json:"description,omitempty"`
}

type exportSkill struct {
	Name  string `json:"name"`
	Level string `json:"level,omitempty"`
}

type exportProject struct {
	Name        string          `json:"name"`
	URL         string          `json:"url,omitempty"`
	Description string          `json:"description,omitempty"`
	TechTags    json.RawMessage `json:"tech_tags,omitempty"`
}

func buildExportDocument(doc *snapshot.Document) exportDocument {
	out := exportDocument{
		SnapshotID: doc.Snapshot.ID,
		Title:      doc.Snapshot.Title,
		Template:   doc.Snapshot.Template,
		CreatedAt:  doc.Snapshot.CreatedAt,
		Header: exportHeader{
			FullName: doc.Header.FullName,
			Headline: doc.Header.Headline,
			Email:    doc.Header.Email,
			Phone:    doc.Header.Phone,
			Location: doc.Header.Location,
			Summary:  doc.Header.Summary,
			Links:    json.RawMessage(doc.Header.Links),
		},
		Work:      make([]exportWork, 0, len(doc.Work)),
		Education: make([]exportEducation, 0, len(doc.Education)),
		Skills:    make([]exportSkill, 0, len(doc.Skills)),
		Projects:  make([]exportProject, 0, len(doc.Projects)),
	}
	for _, entry := range doc.Work {
		out.Work = append(out.Work, exportWork{
			Company:     entry.Company,
			Role:        entry.Role,
			Location:    entry.Location,
			StartDate:   entry.StartDate,
			EndDate:     entry.EndDate,
			IsCurrent:   entry.IsCurrent,
			Description: entry.Description,
		})
	}
	for _, entry := range doc.Education {
		out.Education = append(out.Education, exportEducation{
			School:      entry.School,
			Degree:      entry.Degree,
			Field:       entry.Field,
			StartDate:   entry.StartDate,
			EndDate:     entry.EndDate,
			Description: entry.Description,
		})
	}
	for _, entry := range doc.Skills {
		out.Skills = append(out.Skills, exportSkill{Name: entry.Name, Level: entry.Level})
	}
	for _, entry := range doc.Projects {
		out.Projects = append(out.Projects, exportProject{
			Name:        entry.Name,
			URL:         entry.URL,
			Description: entry.Description,
			TechTags:    json.RawMessage(entry.TechTags),
		})
	}
	return out
}
