// Package tasks 定义 API 与 worker 之间共享的异步任务类型与载荷。
package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// TypeSnapshotExport 快照导出任务：把快照序列化为 JSON 文档上传到对象存储。
	TypeSnapshotExport = "snapshot:export"
)

// SnapshotExportPayload 快照导出任务的载荷。
type SnapshotExportPayload struct {
	SnapshotID    uint   `json:"snapshot_id"`
	UserID        uint   `json:"user_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewSnapshotExportTask 构造快照导出任务。
func NewSnapshotExportTask(p SnapshotExportPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSnapshotExport, payload), nil
}
