package composer

import (
	"context"

	"gorm.io/gorm"

	"cvstudio/internal/database"
	"cvstudio/internal/ownership"
)

// WorkEntry 是组合视图中的一条工作经历及其排序值。
type WorkEntry struct {
	Item      database.WorkExperience
	SortOrder int
}

// EducationEntry 是组合视图中的一条教育经历及其排序值。
type EducationEntry struct {
	Item      database.Education
	SortOrder int
}

// SkillEntry 是组合视图中的一条技能及其排序值。
type SkillEntry struct {
	Item      database.Skill
	SortOrder int
}

// ProjectEntry 是组合视图中的一条项目及其排序值。
type ProjectEntry struct {
	Item      database.Project
	SortOrder int
}

// ComposedCv 是一份简历的组合视图：文档本身加四组按排序值升序的条目。
type ComposedCv struct {
	Cv        database.CvDocument
	Work      []WorkEntry
	Education []EducationEntry
	Skills    []SkillEntry
	Projects  []ProjectEntry
}

// Compose 读取组合后的简历。每组条目按 sort_order 升序返回，
// 排序值相同的按加入时间再按关系行 ID 决出确定性顺序。
func (s *Service) Compose(ctx context.Context, userID, cvID uint) (*ComposedCv, error) {
	return composeWith(ctx, s.db, userID, cvID)
}

// composeWith 允许在调用方的事务内执行组合读取（快照引擎冻结时使用）。
func composeWith(ctx context.Context, db *gorm.DB, userID, cvID uint) (*ComposedCv, error) {
	cv, err := ownership.Fetch[database.CvDocument](ctx, db, userID, cvID)
	if err != nil {
		return nil, err
	}

	view := &ComposedCv{Cv: *cv}

	var workRows []database.CvWorkItem
	if err := db.WithContext(ctx).
		Where("cv_id = ?", cv.ID).
		Order(inclusionOrder).
		Find(&workRows).Error; err != nil {
		return nil, err
	}
	if len(workRows) > 0 {
		ids := make([]uint, 0, len(workRows))
		for _, row := range workRows {
			ids = append(ids, row.WorkExperienceID)
		}
		var items []database.WorkExperience
		if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
			return nil, err
		}
		byID := make(map[uint]database.WorkExperience, len(items))
		for _, item := range items {
			byID[item.ID] = item
		}
		for _, row := range workRows {
			if item, ok := byID[row.WorkExperienceID]; ok {
				view.Work = append(view.Work, WorkEntry{Item: item, SortOrder: row.SortOrder})
			}
		}
	}

	var eduRows []database.CvEducationItem
	if err := db.WithContext(ctx).
		Where("cv_id = ?", cv.ID).
		Order(inclusionOrder).
		Find(&eduRows).Error; err != nil {
		return nil, err
	}
	if len(eduRows) > 0 {
		ids := make([]uint, 0, len(eduRows))
		for _, row := range eduRows {
			ids = append(ids, row.EducationID)
		}
		var items []database.Education
		if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
			return nil, err
		}
		byID := make(map[uint]database.Education, len(items))
		for _, item := range items {
			byID[item.ID] = item
		}
		for _, row := range eduRows {
			if item, ok := byID[row.EducationID]; ok {
				view.Education = append(view.Education, EducationEntry{Item: item, SortOrder: row.SortOrder})
			}
		}
	}

	var skillRows []database.CvSkillItem
	if err := db.WithContext(ctx).
		Where("cv_id = ?", cv.ID).
		Order(inclusionOrder).
		Find(&skillRows).Error; err != nil {
		return nil, err
	}
	if len(skillRows) > 0 {
		ids := make([]uint, 0, len(skillRows))
		for _, row := range skillRows {
			ids = append(ids, row.SkillID)
		}
		var items []database.Skill
		if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
			return nil, err
		}
		byID := make(map[uint]database.Skill, len(items))
		for _, item := range items {
			byID[item.ID] = item
		}
		for _, row := range skillRows {
			if item, ok := byID[row.SkillID]; ok {
				view.Skills = append(view.Skills, SkillEntry{Item: item, SortOrder: row.SortOrder})
			}
		}
	}

	var projectRows []database.CvProjectItem
	if err := db.WithContext(ctx).
		Where("cv_id = ?", cv.ID).
		Order(inclusionOrder).
		Find(&projectRows).Error; err != nil {
		return nil, err
	}
	if len(projectRows) > 0 {
		ids := make([]uint, 0, len(projectRows))
		for _, row := range projectRows {
			ids = append(ids, row.ProjectID)
		}
		var items []database.Project
		if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
			return nil, err
		}
		byID := make(map[uint]database.Project, len(items))
		for _, item := range items {
			byID[item.ID] = item
		}
		for _, row := range projectRows {
			if item, ok := byID[row.ProjectID]; ok {
				view.Projects = append(view.Projects, ProjectEntry{Item: item, SortOrder: row.SortOrder})
			}
		}
	}

	return view, nil
}
