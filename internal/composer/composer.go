// Package composer 负责简历文档及其与素材库条目的包含关系：
// 默认简历的唯一性、每份简历内用户自定义的排序，以及组合视图的读取。
package composer

import (
	"fmt"

	"gorm.io/gorm"

	"cvstudio/internal/errcode"
)

// Service 是简历组合引擎，所有多步写操作都在单个数据库事务内完成。
type Service struct {
	db *gorm.DB
}

// NewService 构造组合引擎。
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Kind 标识四种素材条目类型，对应四张平行的包含关系表。
type Kind string

const (
	KindWork      Kind = "work"
	KindEducation Kind = "education"
	KindSkill     Kind = "skill"
	KindProject   Kind = "project"
)

// ParseKind 校验并解析条目类型；未知类型返回 ErrValidation。
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindWork, KindEducation, KindSkill, KindProject:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: unknown item kind %q", errcode.ErrValidation, s)
	}
}

// inclusionOrder 是所有包含关系读取的统一排序：排序值升序，
// 相同排序值按加入时间、再按行 ID 决出确定性的先后。
const inclusionOrder = "sort_order asc, created_at asc, id asc"
