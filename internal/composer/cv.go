package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"cvstudio/internal/database"
	"cvstudio/internal/errcode"
	"cvstudio/internal/ownership"
)

// CreateCvParams 描述新建简历文档的入参。
type CreateCvParams struct {
	Title           string
	Template        string
	IsDefault       bool
	OverrideSummary *string
}

// CreateCv 新建简历文档。用户的第一份简历自动成为默认简历；
// 显式要求默认时，在同一事务内先清除旧默认再设置新默认。
func (s *Service) CreateCv(ctx context.Context, userID uint, p CreateCvParams) (*database.CvDocument, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, errcode.ErrValidation
	}

	cv := database.CvDocument{
		UserID:          userID,
		Title:           p.Title,
		Template:        p.Template,
		OverrideSummary: p.OverrideSummary,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&database.CvDocument{}).
			Where("user_id = ?", userID).
			Count(&count).Error; err != nil {
			return err
		}

		cv.IsDefault = count == 0 || p.IsDefault
		if cv.IsDefault && count > 0 {
			if err := clearDefault(tx, userID); err != nil {
				return err
			}
		}

		return tx.Create(&cv).Error
	})
	if err != nil {
		return nil, err
	}
	return &cv, nil
}

// UpdateCvParams 描述部分更新的入参；nil 字段保持原值。
type UpdateCvParams struct {
	Title     *string
	Template  *string
	IsDefault *bool
	// OverrideSummarySet 为 true 时按 OverrideSummary 覆盖（nil 表示显式清除）。
	OverrideSummarySet bool
	OverrideSummary    *string
}

// UpdateCv 部分更新简历文档。设置默认标志时，在同一事务内
// 先清除该用户其他简历的默认标志。默认标志只能转移不能直接取消：
// 对当前默认简历提交 is_default=false 会被拒绝，否则用户会处于
// 有简历却无默认简历的状态。
func (s *Service) UpdateCv(ctx context.Context, userID, cvID uint, p UpdateCvParams) (*database.CvDocument, error) {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return nil, errcode.ErrValidation
	}

	var updated database.CvDocument
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cv, err := ownership.Fetch[database.CvDocument](ctx, tx, userID, cvID)
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if p.Title != nil {
			updates["title"] = *p.Title
		}
		if p.Template != nil {
			updates["template"] = *p.Template
		}
		if p.OverrideSummarySet {
			updates["override_summary"] = p.OverrideSummary
		}
		if p.IsDefault != nil {
			switch {
			case *p.IsDefault && !cv.IsDefault:
				if err := clearDefault(tx, userID); err != nil {
					return err
				}
				updates["is_default"] = true
			case !*p.IsDefault && cv.IsDefault:
				return fmt.Errorf("%w: default cv can only be replaced by another, not unset", errcode.ErrValidation)
			}
		}

		if len(updates) > 0 {
			if err := tx.Model(cv).Updates(updates).Error; err != nil {
				return err
			}
		}

		return tx.First(&updated, cv.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteCv 删除简历文档，并级联删除它在四张包含关系表中的全部行。
// 素材库条目本身不受影响。被删除的是默认简历时，剩余简历中最早
// 创建的一份被提升为默认，保证仍有简历的用户始终有默认简历。
func (s *Service) DeleteCv(ctx context.Context, userID, cvID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cv, err := ownership.Fetch[database.CvDocument](ctx, tx, userID, cvID)
		if err != nil {
			return err
		}

		if err := tx.Where("cv_id = ?", cv.ID).Delete(&database.CvWorkItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("cv_id = ?", cv.ID).Delete(&database.CvEducationItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("cv_id = ?", cv.ID).Delete(&database.CvSkillItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("cv_id = ?", cv.ID).Delete(&database.CvProjectItem{}).Error; err != nil {
			return err
		}

		if err := tx.Delete(&database.CvDocument{}, cv.ID).Error; err != nil {
			return err
		}

		if cv.IsDefault {
			return promoteSuccessorDefault(tx, userID)
		}
		return nil
	})
}

// ListCvs 列出用户的全部简历文档，默认简历在前。
func (s *Service) ListCvs(ctx context.Context, userID uint) ([]database.CvDocument, error) {
	var cvs []database.CvDocument
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default desc, updated_at desc").
		Find(&cvs).Error
	if err != nil {
		return nil, err
	}
	return cvs, nil
}

// CountCvs 返回用户当前的简历数量，用于限额检查。
func (s *Service) CountCvs(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&database.CvDocument{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

func promoteSuccessorDefault(tx *gorm.DB, userID uint) error {
	var successor database.CvDocument
	err := tx.Where("user_id = ?", userID).
		Order("id asc").
		First(&successor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return tx.Model(&successor).Update("is_default", true).Error
}

func clearDefault(tx *gorm.DB, userID uint) error {
	return tx.Model(&database.CvDocument{}).
		Where("user_id = ? AND is_default = ?", userID, true).
		Update("is_default", false).Error
}
