package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User 表示系统中的账号信息。
type User struct {
	gorm.Model
	Username           string `gorm:"uniqueIndex;size:64"`
	PasswordHash       string `gorm:"size:255"`
	MustChangePassword bool   `gorm:"default:false"`
	Profile            Profile
}

// Profile 表示用户档案，快照表头在冻结时从这里逐字段拷贝。
type Profile struct {
	gorm.Model
	UserID     uint           `gorm:"uniqueIndex"`
	FullName   string         `gorm:"size:128"`
	Headline   string         `gorm:"size:255"`
	Email      string         `gorm:"size:255"`
	Phone      string         `gorm:"size:64"`
	Location   string         `gorm:"size:128"`
	Summary    string         `gorm:"type:text"`
	Links      datatypes.JSON `gorm:"type:jsonb"`
	PictureKey string         `gorm:"size:512"`
}

// WorkExperience 工作经历条目（素材库主记录，独立于任何简历）。
type WorkExperience struct {
	gorm.Model
	UserID      uint   `gorm:"index"`
	Company     string `gorm:"size:255"`
	Role        string `gorm:"size:255"`
	Location    string `gorm:"size:128"`
	StartDate   *time.Time
	EndDate     *time.Time
	IsCurrent   bool   `gorm:"default:false"`
	Description string `gorm:"type:text"`
}

// Education 教育经历条目。
type Education struct {
	gorm.Model
	UserID      uint   `gorm:"index"`
	School      string `gorm:"size:255"`
	Degree      string `gorm:"size:128"`
	Field       string `gorm:"size:128"`
	StartDate   *time.Time
	EndDate     *time.Time
	Description string `gorm:"type:text"`
}

// Skill 技能条目。
type Skill struct {
	gorm.Model
	UserID uint   `gorm:"index"`
	Name   string `gorm:"size:128"`
	Level  string `gorm:"size:32"`
}

// Project 项目条目，TechTags 为有序的自由文本技术标签数组。
type Project struct {
	gorm.Model
	UserID      uint           `gorm:"index"`
	Name        string         `gorm:"size:255"`
	URL         string         `gorm:"size:512"`
	Description string         `gorm:"type:text"`
	TechTags    datatypes.JSON `gorm:"type:jsonb"`
}

// CvDocument 一份可组合的简历文档。
// 不变式：每个用户同一时刻至多只有一份 IsDefault = true 的文档。
type CvDocument struct {
	gorm.Model
	UserID          uint    `gorm:"index"`
	Title           string  `gorm:"size:255"`
	Template        string  `gorm:"size:64"`
	IsDefault       bool    `gorm:"default:false"`
	OverrideSummary *string `gorm:"type:text"`
}

// 包含关系：记录某条素材属于某份简历，以及用户指定的排序值。
// 复合唯一键保证同一条目在同一份简历中至多出现一次；SortOrder 只用于排序比较，
// 不要求连续或唯一。行为硬删除（不走软删除），避免死行占用唯一键。

// CvWorkItem 简历与工作经历的包含关系。
type CvWorkItem struct {
	ID               uint `gorm:"primarykey"`
	CreatedAt        time.Time
	CvID             uint `gorm:"uniqueIndex:idx_cv_work_pair"`
	WorkExperienceID uint `gorm:"uniqueIndex:idx_cv_work_pair"`
	SortOrder        int
}

// CvEducationItem 简历与教育经历的包含关系。
type CvEducationItem struct {
	ID          uint `gorm:"primarykey"`
	CreatedAt   time.Time
	CvID        uint `gorm:"uniqueIndex:idx_cv_education_pair"`
	EducationID uint `gorm:"uniqueIndex:idx_cv_education_pair"`
	SortOrder   int
}

// CvSkillItem 简历与技能的包含关系。
type CvSkillItem struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	CvID      uint `gorm:"uniqueIndex:idx_cv_skill_pair"`
	SkillID   uint `gorm:"uniqueIndex:idx_cv_skill_pair"`
	SortOrder int
}

// CvProjectItem 简历与项目的包含关系。
type CvProjectItem struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	CvID      uint `gorm:"uniqueIndex:idx_cv_project_pair"`
	ProjectID uint `gorm:"uniqueIndex:idx_cv_project_pair"`
	SortOrder int
}

// JobApplication 一次求职投递，至多关联一份快照（由快照侧回指）。
type JobApplication struct {
	gorm.Model
	UserID    uint   `gorm:"index"`
	Company   string `gorm:"size:255"`
	Position  string `gorm:"size:255"`
	Status    string `gorm:"size:32"`
	Notes     string `gorm:"type:text"`
	AppliedAt *time.Time
}

// Snapshot 是组合后简历的不可变深拷贝。
// 子表是纯值拷贝，不回指任何素材库条目；除整体删除外没有任何修改路径，
// 所以不走软删除。ApplicationID 上的唯一索引保证每个投递至多一份在世快照。
type Snapshot struct {
	ID            uint `gorm:"primarykey"`
	CreatedAt     time.Time
	UserID        uint   `gorm:"index"`
	SourceCvID    uint   // 仅作历史参考，源简历删除后依旧有效
	ApplicationID *uint  `gorm:"uniqueIndex"`
	Title         string `gorm:"size:255"`
	Template      string `gorm:"size:64"`
}

// SnapshotHeader 快照表头，冻结时刻的档案字段逐字拷贝。
type SnapshotHeader struct {
	ID         uint `gorm:"primarykey"`
	SnapshotID uint `gorm:"uniqueIndex"`
	FullName   string         `gorm:"size:128"`
	Headline   string         `gorm:"size:255"`
	Email      string         `gorm:"size:255"`
	Phone      string         `gorm:"size:64"`
	Location   string         `gorm:"size:128"`
	Summary    string         `gorm:"type:text"`
	Links      datatypes.JSON `gorm:"type:jsonb"`
	PictureKey string         `gorm:"size:512"`
}

// SnapshotWorkEntry 工作经历的冻结拷贝。
type SnapshotWorkEntry struct {
	ID          uint `gorm:"primarykey"`
	SnapshotID  uint `gorm:"index"`
	Company     string `gorm:"size:255"`
	Role        string `gorm:"size:255"`
	Location    string `gorm:"size:128"`
	StartDate   *time.Time
	EndDate     *time.Time
	IsCurrent   bool
	Description string `gorm:"type:text"`
	SortOrder   int
}

// SnapshotEducationEntry 教育经历的冻结拷贝。
type SnapshotEducationEntry struct {
	ID          uint `gorm:"primarykey"`
	SnapshotID  uint `gorm:"index"`
	School      string `gorm:"size:255"`
	Degree      string `gorm:"size:128"`
	Field       string `gorm:"size:128"`
	StartDate   *time.Time
	EndDate     *time.Time
	Description string `gorm:"type:text"`
	SortOrder   int
}

// SnapshotSkillEntry 技能的冻结拷贝。
type SnapshotSkillEntry struct {
	ID         uint `gorm:"primarykey"`
	SnapshotID uint   `gorm:"index"`
	Name       string `gorm:"size:128"`
	Level      string `gorm:"size:32"`
	SortOrder  int
}

// SnapshotProjectEntry 项目的冻结拷贝。
type SnapshotProjectEntry struct {
	ID          uint `gorm:"primarykey"`
	SnapshotID  uint   `gorm:"index"`
	Name        string `gorm:"size:255"`
	URL         string `gorm:"size:512"`
	Description string `gorm:"type:text"`
	TechTags    datatypes.JSON `gorm:"type:jsonb"`
	SortOrder   int
}

// SnapshotExport 记录快照导出产物在对象存储中的位置。
// 单独建表而不在快照行上加字段，保证快照行在创建后绝不更新。
type SnapshotExport struct {
	ID         uint `gorm:"primarykey"`
	CreatedAt  time.Time
	SnapshotID uint   `gorm:"index"`
	ObjectKey  string `gorm:"size:512"`
}
