package composer

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"cvstudio/internal/database"
	"cvstudio/internal/errcode"
	"cvstudio/internal/ownership"
)

// AddItem 把一条素材加入简历。简历与素材都必须归调用者所有；
// 同一 (cv, item) 对重复加入时返回 ErrConflict（由复合唯一键兜底）。
// 排序值由调用方给定，不校验连续性。
func (s *Service) AddItem(ctx context.Context, userID, cvID uint, kind Kind, itemID uint, sortOrder int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ownership.Fetch[database.CvDocument](ctx, tx, userID, cvID); err != nil {
			return err
		}
		if err := guardItem(ctx, tx, userID, kind, itemID); err != nil {
			return err
		}
		return tx.Create(newInclusion(kind, cvID, itemID, sortOrder)).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: item already included", errcode.ErrConflict)
	}
	return err
}

// RemoveItem 把一条素材移出简历；包含关系不存在时返回 ErrNotFound。
func (s *Service) RemoveItem(ctx context.Context, userID, cvID uint, kind Kind, itemID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ownership.Fetch[database.CvDocument](ctx, tx, userID, cvID); err != nil {
			return err
		}

		res := tx.Where("cv_id = ? AND "+itemColumn(kind)+" = ?", cvID, itemID).
			Delete(inclusionModel(kind))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errcode.ErrNotFound
		}
		return nil
	})
}

// ReorderItem 只更新既有包含关系的排序值；关系不存在时返回 ErrNotFound。
func (s *Service) ReorderItem(ctx context.Context, userID, cvID uint, kind Kind, itemID uint, sortOrder int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ownership.Fetch[database.CvDocument](ctx, tx, userID, cvID); err != nil {
			return err
		}

		var count int64
		if err := tx.Model(inclusionModel(kind)).
			Where("cv_id = ? AND "+itemColumn(kind)+" = ?", cvID, itemID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return errcode.ErrNotFound
		}

		return tx.Model(inclusionModel(kind)).
			Where("cv_id = ? AND "+itemColumn(kind)+" = ?", cvID, itemID).
			Update("sort_order", sortOrder).Error
	})
}

// DeleteLibraryItem 删除一条素材库主记录，并在同一事务内删除所有引用它的
// 包含关系行，保证任何简历都不会残留悬空引用。已经拷贝过该素材的快照
// 不受影响（快照是值拷贝）。
func (s *Service) DeleteLibraryItem(ctx context.Context, userID uint, kind Kind, itemID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := guardItem(ctx, tx, userID, kind, itemID); err != nil {
			return err
		}

		// 包含关系只可能指向同一用户的简历（AddItem 双向校验），按条目列清除即可。
		if err := tx.Where(itemColumn(kind)+" = ?", itemID).
			Delete(inclusionModel(kind)).Error; err != nil {
			return err
		}

		return deleteItem(tx, kind, itemID)
	})
}

func guardItem(ctx context.Context, tx *gorm.DB, userID uint, kind Kind, itemID uint) error {
	var err error
	switch kind {
	case KindWork:
		_, err = ownership.Fetch[database.WorkExperience](ctx, tx, userID, itemID)
	case KindEducation:
		_, err = ownership.Fetch[database.Education](ctx, tx, userID, itemID)
	case KindSkill:
		_, err = ownership.Fetch[database.Skill](ctx, tx, userID, itemID)
	case KindProject:
		_, err = ownership.Fetch[database.Project](ctx, tx, userID, itemID)
	default:
		err = fmt.Errorf("%w: unknown item kind %q", errcode.ErrValidation, kind)
	}
	return err
}

func newInclusion(kind Kind, cvID, itemID uint, sortOrder int) any {
	switch kind {
	case KindWork:
		return &database.CvWorkItem{CvID: cvID, WorkExperienceID: itemID, SortOrder: sortOrder}
	case KindEducation:
		return &database.CvEducationItem{CvID: cvID, EducationID: itemID, SortOrder: sortOrder}
	case KindSkill:
		return &database.CvSkillItem{CvID: cvID, SkillID: itemID, SortOrder: sortOrder}
	default:
		return &database.CvProjectItem{CvID: cvID, ProjectID: itemID, SortOrder: sortOrder}
	}
}

func inclusionModel(kind Kind) any {
	switch kind {
	case KindWork:
		return &database.CvWorkItem{}
	case KindEducation:
		return &database.CvEducationItem{}
	case KindSkill:
		return &database.CvSkillItem{}
	default:
		return &database.CvProjectItem{}
	}
}

func itemColumn(kind Kind) string {
	switch kind {
	case KindWork:
		return "work_experience_id"
	case KindEducation:
		return "education_id"
	case KindSkill:
		return "skill_id"
	default:
		return "project_id"
	}
}

func deleteItem(tx *gorm.DB, kind Kind, itemID uint) error {
	switch kind {
	case KindWork:
		return tx.Delete(&database.WorkExperience{}, itemID).Error
	case KindEducation:
		return tx.Delete(&database.Education{}, itemID).Error
	case KindSkill:
		return tx.Delete(&database.Skill{}, itemID).Error
	default:
		return tx.Delete(&database.Project{}, itemID).Error
	}
}
