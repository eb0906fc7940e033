// Package snapshot 负责把一份组合后的简历冻结为不可变的时点快照，
// 并把快照与一次求职投递以 0..1 的关系绑定。
// 快照的表头与条目全部是值拷贝：素材库与档案随后怎么改，
// 已创建的快照读出来都一字不变。
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"cvstudio/internal/composer"
	"cvstudio/internal/database"
	"cvstudio/internal/errcode"
	"cvstudio/internal/ownership"
)

// Engine 是快照引擎。创建走"先校验后拷贝"两段式，整体在一个事务内，
// 要么完整落库要么完全不落库。
type Engine struct {
	db *gorm.DB
}

// NewEngine 构造快照引擎。
func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db}
}

// Document 是一份快照的完整读取视图，子集合按存储的排序值升序。
type Document struct {
	Snapshot  database.Snapshot
	Header    database.SnapshotHeader
	Work      []database.SnapshotWorkEntry
	Education []database.SnapshotEducationEntry
	Skills    []database.SnapshotSkillEntry
	Projects  []database.SnapshotProjectEntry
}

const entryOrder = "sort_order asc, id asc"

// Create 把指定简历冻结为新快照并返回其 ID。
// applicationID 非空时快照绑定该投递；投递上已有快照则在同一事务内
// 先删旧后建新（替换而非累积）。并发竞争由 application_id 唯一索引兜底，
// 败方得到 ErrConflict。
func (e *Engine) Create(ctx context.Context, userID, cvID uint, applicationID *uint) (uint, error) {
	var snapshotID uint

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		view, err := composer.NewService(tx).Compose(ctx, userID, cvID)
		if err != nil {
			return err
		}

		if applicationID != nil {
			if _, err := ownership.Fetch[database.JobApplication](ctx, tx, userID, *applicationID); err != nil {
				return err
			}

			var existing database.Snapshot
			err := tx.Where("application_id = ? AND user_id = ?", *applicationID, userID).
				First(&existing).Error
			switch {
			case err == nil:
				if err := deleteDocument(tx, existing.ID); err != nil {
					return err
				}
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
		}

		var profile database.Profile
		if err := tx.Where("user_id = ?", userID).First(&profile).Error; err != nil &&
			!errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		snap := database.Snapshot{
			UserID:        userID,
			SourceCvID:    view.Cv.ID,
			ApplicationID: applicationID,
			Title:         view.Cv.Title,
			Template:      view.Cv.Template,
		}
		if err := tx.Create(&snap).Error; err != nil {
			return err
		}

		summary := profile.Summary
		if view.Cv.OverrideSummary != nil {
			summary = *view.Cv.OverrideSummary
		}
		header := database.SnapshotHeader{
			SnapshotID: snap.ID,
			FullName:   profile.FullName,
			Headline:   profile.Headline,
			Email:      profile.Email,
			Phone:      profile.Phone,
			Location:   profile.Location,
			Summary:    summary,
			Links:      append([]byte(nil), profile.Links...),
			PictureKey: profile.PictureKey,
		}
		if err := tx.Create(&header).Error; err != nil {
			return err
		}

		for _, entry := range view.Work {
			row := database.SnapshotWorkEntry{
				SnapshotID:  snap.ID,
				Company:     entry.Item.Company,
				Role:        entry.Item.Role,
				Location:    entry.Item.Location,
				StartDate:   copyDate(entry.Item.StartDate),
				EndDate:     copyDate(entry.Item.EndDate),
				IsCurrent:   entry.Item.IsCurrent,
				Description: entry.Item.Description,
				SortOrder:   entry.SortOrder,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		for _, entry := range view.Education {
			row := database.SnapshotEducationEntry{
				SnapshotID:  snap.ID,
				School:      entry.Item.School,
				Degree:      entry.Item.Degree,
				Field:       entry.Item.Field,
				StartDate:   copyDate(entry.Item.StartDate),
				EndDate:     copyDate(entry.Item.EndDate),
				Description: entry.Item.Description,
				SortOrder:   entry.SortOrder,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		for _, entry := range view.Skills {
			row := database.SnapshotSkillEntry{
				SnapshotID: snap.ID,
				Name:       entry.Item.Name,
				Level:      entry.Item.Level,
				SortOrder:  entry.SortOrder,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		for _, entry := range view.Projects {
			row := database.SnapshotProjectEntry{
				SnapshotID:  snap.ID,
				Name:        entry.Item.Name,
				URL:         entry.Item.URL,
				Description: entry.Item.Description,
				TechTags:    append([]byte(nil), entry.Item.TechTags...),
				SortOrder:   entry.SortOrder,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		snapshotID = snap.ID
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return 0, fmt.Errorf("%w: application already has a snapshot", errcode.ErrConflict)
	}
	if err != nil {
		return 0, err
	}
	return snapshotID, nil
}

// Get 读取一份快照及其全部子集合，所有权不符时返回 ErrNotFound。
func (e *Engine) Get(ctx context.Context, userID, snapshotID uint) (*Document, error) {
	snap, err := ownership.Fetch[database.Snapshot](ctx, e.db, userID, snapshotID)
	if err != nil {
		return nil, err
	}
	return e.loadDocument(ctx, *snap)
}

// GetByApplication 通过投递的回指定位快照；投递没有快照时返回 ErrNotFound。
func (e *Engine) GetByApplication(ctx context.Context, userID, applicationID uint) (*Document, error) {
	if _, err := ownership.Fetch[database.JobApplication](ctx, e.db, userID, applicationID); err != nil {
		return nil, err
	}

	var snap database.Snapshot
	err := e.db.WithContext(ctx).
		Where("application_id = ? AND user_id = ?", applicationID, userID).
		First(&snap).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, errcode.ErrNotFound
	case err != nil:
		return nil, err
	}
	return e.loadDocument(ctx, snap)
}

// Delete 整体删除一份快照及其全部子行，返回需要从对象存储清理的导出键。
func (e *Engine) Delete(ctx context.Context, userID, snapshotID uint) ([]string, error) {
	var exportKeys []string
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snap, err := ownership.Fetch[database.Snapshot](ctx, tx, userID, snapshotID)
		if err != nil {
			return err
		}

		keys, err := collectExportKeys(tx, snap.ID)
		if err != nil {
			return err
		}
		exportKeys = keys

		return deleteDocument(tx, snap.ID)
	})
	if err != nil {
		return nil, err
	}
	return exportKeys, nil
}

// DeleteByApplicationTx 在调用方事务内删除投递名下的快照（若存在），
// 供投递删除路径复用，返回待清理的导出键。
func DeleteByApplicationTx(tx *gorm.DB, userID, applicationID uint) ([]string, error) {
	var snap database.Snapshot
	err := tx.Where("application_id = ? AND user_id = ?", applicationID, userID).
		First(&snap).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}

	keys, err := collectExportKeys(tx, snap.ID)
	if err != nil {
		return nil, err
	}
	if err := deleteDocument(tx, snap.ID); err != nil {
		return nil, err
	}
	return keys, nil
}

// RecordExport 登记一份导出产物的对象键（快照行本身保持不变）。
func (e *Engine) RecordExport(ctx context.Context, snapshotID uint, objectKey string) error {
	return e.db.WithContext(ctx).Create(&database.SnapshotExport{
		SnapshotID: snapshotID,
		ObjectKey:  objectKey,
	}).Error
}

func (e *Engine) loadDocument(ctx context.Context, snap database.Snapshot) (*Document, error) {
	doc := &Document{Snapshot: snap}
	db := e.db.WithContext(ctx)

	if err := db.Where("snapshot_id = ?", snap.ID).First(&doc.Header).Error; err != nil &&
		!errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err := db.Where("snapshot_id = ?", snap.ID).Order(entryOrder).Find(&doc.Work).Error; err != nil {
		return nil, err
	}
	if err := db.Where("snapshot_id = ?", snap.ID).Order(entryOrder).Find(&doc.Education).Error; err != nil {
		return nil, err
	}
	if err := db.Where("snapshot_id = ?", snap.ID).Order(entryOrder).Find(&doc.Skills).Error; err != nil {
		return nil, err
	}
	if err := db.Where("snapshot_id = ?", snap.ID).Order(entryOrder).Find(&doc.Projects).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

func collectExportKeys(tx *gorm.DB, snapshotID uint) ([]string, error) {
	var exports []database.SnapshotExport
	if err := tx.Where("snapshot_id = ?", snapshotID).Find(&exports).Error; err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(exports))
	for _, exp := range exports {
		keys = append(keys, exp.ObjectKey)
	}
	return keys, nil
}

func deleteDocument(tx *gorm.DB, snapshotID uint) error {
	if err := tx.Where("snapshot_id = ?", snapshotID).Delete(&database.SnapshotHeader{}).Error; err != nil {
		return err
	}
	if err := tx.Where("snapshot_id = ?", snapshotID).Delete(&database.SnapshotWorkEntry{}).Error; err != nil {
		return err
	}
	if err := tx.Where("snapshot_id = ?", snapshotID).Delete(&database.SnapshotEducationEntry{}).Error; err != nil {
		return err
	}
	if err := tx.Where("snapshot_id = ?", snapshotID).Delete(&database.SnapshotSkillEntry{}).Error; err != nil {
		return err
	}
	if err := tx.Where("snapshot_id = ?", snapshotID).Delete(&database.SnapshotProjectEntry{}).Error; err != nil {
		return err
	}
	if err := tx.Where("snapshot_id = ?", snapshotID).Delete(&database.SnapshotExport{}).Error; err != nil {
		return err
	}
	return tx.Delete(&database.Snapshot{}, snapshotID).Error
}

func copyDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
