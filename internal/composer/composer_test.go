package composer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"cvstudio/internal/database"
	"cvstudio/internal/errcode"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedWork(t *testing.T, db *gorm.DB, userID uint, company string) database.WorkExperience {
	t.Helper()
	item := database.WorkExperience{UserID: userID, Company: company, Role: "Engineer"}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed work: %v", err)
	}
	return item
}

func seedSkill(t *testing.T, db *gorm.DB, userID uint, name string) database.Skill {
	t.Helper()
	item := database.Skill{UserID: userID, Name: name}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed skill: %v", err)
	}
	return item
}

func TestCreateCv_FirstBecomesDefault(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	first, err := svc.CreateCv(ctx, 1, CreateCvParams{Title: "General"})
	if err != nil {
		t.Fatalf("create first cv: %v", err)
	}
	if !first.IsDefault {
		t.Fatal("first cv should be default")
	}

	second, err := svc.CreateCv(ctx, 1, CreateCvParams{Title: "Backend"})
	if err != nil {
		t.Fatalf("create second cv: %v", err)
	}
	if second.IsDefault {
		t.Fatal("second cv should not be default")
	}
}

func TestCreateCv_ExplicitDefaultMovesFlag(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	first, err := svc.CreateCv(ctx, 1, CreateCvParams{Title: "General"})
	if err != nil {
		t.Fatalf("create first cv: %v", err)
	}
	second, err := svc.CreateCv(ctx, 1, CreateCvParams{Title: "Backend", IsDefault: true})
	if err != nil {
		t.Fatalf("create second cv: %v", err)
	}
	if !second.IsDefault {
		t.Fatal("second cv should be default")
	}

	var count int64
	if err := db.Model(&database.CvDocument{}).
		Where("user_id = ? AND is_default = ?", 1, true).
		Count(&count).Error; err != nil {
		t.Fatalf("count defaults: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one default cv, got %d", count)
	}

	var reloaded database.CvDocument
	if err := db.First(&reloaded, first.ID).Error; err != nil {
		t.Fatalf("reload first cv: %v", err)
	}
	if reloaded.IsDefault {
		t.Fatal("first cv should have lost default flag")
	}
}

func TestUpdateCv_SetDefaultClearsOthers(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	first, _ := svc.CreateCv(ctx, 1, CreateCvParams{Title: "General"})
	second, _ := svc.CreateCv(ctx, 1, CreateCvParams{Title: "Backend"})

	makeDefault := true
	updated, err := svc.UpdateCv(ctx, 1, second.ID, UpdateCvParams{IsDefault: &makeDefault})
	if err != nil {
		t.Fatalf("update cv: %v", err)
	}
	if !updated.IsDefault {
		t.Fatal("updated cv should be default")
	}

	var reloaded database.CvDocument
	if err := db.First(&reloaded, first.ID).Error; err != nil {
		t.Fatalf("reload first cv: %v", err)
	}
	if reloaded.IsDefault {
		t.Fatal("previous default should be cleared")
	}
}

func TestUpdateCv_UnsetDefaultRejected(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	cv, err := svc.CreateCv(ctx, 1, CreateCvParams{Title: "General"})
	if err != nil {
		t.Fatalf("create cv: %v", err)
	}
	other, err := svc.CreateCv(ctx, 1, CreateCvParams{Title: "Backend"})
	if err != nil {
		t.Fatalf("create other cv: %v", err)
	}

	// 默认简历只能转移，不能直接取消。
	unset := false
	_, err = svc.UpdateCv(ctx, 1, cv.ID, UpdateCvParams{IsDefault: &unset})
	if !errors.Is(err, errcode.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// 对非默认简历提交 false 是无操作。
	if _, err := svc.UpdateCv(ctx, 1, other.ID, UpdateCvParams{IsDefault: &unset}); err != nil {
		t.Fatalf("noop unset on non-default: %v", err)
	}

	var count int64
	if err := db.Model(&database.CvDocument{}).
		Where("user_id = ? AND is_default = ?", 1, true).
		Count(&count).Error; err != nil {
		t.Fatalf("count defaults: %v", err)
	}
	if count != 1 {
		t.Fatalf("user with cvs must keep exactly one default, got %d", count)
	}
}

func TestDeleteCv_PromotesSuccessorDefault(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	first, err := svc.CreateCv(ctx, 1, CreateCvParams{Title: "General"})
	if err != nil {
		t.Fatalf("create first cv: %v", err)
	}
	second, err := svc.CreateCv(ctx, 1, CreateCvParams{Title: "Backend"})
	if err != nil {
		t.Fatalf("create second cv: %v", err)
	}
	third, err := svc.CreateCv(ctx, 1, CreateCvParams{Title: "Frontend"})
	if err != nil {
		t.Fatalf("create third cv: %v", err)
	}

	if err := svc.DeleteCv(ctx, 1, first.ID); err != nil {
		t.Fatalf("delete default cv: %v", err)
	}

	// 剩余简历中最早创建的一份接任默认。
	var reloaded database.CvDocument
	if err := db.First(&reloaded, second.ID).Error; err != nil {
		t.Fatalf("reload second cv: %v", err)
	}
	if !reloaded.IsDefault {
		t.Fatal("oldest remaining cv should become default")
	}
	reloaded = database.CvDocument{}
	if err := db.First(&reloaded, third.ID).Error; err != nil {
		t.Fatalf("reload third cv: %v", err)
	}
	if reloaded.IsDefault {
		t.Fatal("third cv should not be default")
	}

	var count int64
	if err := db.Model(&database.CvDocument{}).
		Where("user_id = ? AND is_default = ?", 1, true).
		Count(&count).Error; err != nil {
		t.Fatalf("count defaults: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one default cv, got %d", count)
	}

	// 删除仅剩的一份简历后允许零默认。
	if err := svc.DeleteCv(ctx, 1, second.ID); err != nil {
		t.Fatalf("delete second cv: %v", err)
	}
	if err := svc.DeleteCv(ctx, 1, third.ID); err != nil {
		t.Fatalf("delete third cv: %v", err)
	}
	if err := db.Model(&database.CvDocument{}).
		Where("user_id = ?", 1).
		Count(&count).Error; err != nil {
		t.Fatalf("count cvs: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no cvs left, got %d", count)
	}
}

func TestUpdateCv_EmptyTitleRejected(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	cv, _ := svc.CreateCv(ctx, 1, CreateCvParams{Title: "General"})

	empty := "   "
	_, err := svc.UpdateCv(ctx, 1, cv.ID, UpdateCvParams{Title: &empty})
	if !errors.Is(err, errcode.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAddItem_DuplicatePairConflicts(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	cv, _ := svc.CreateCv(ctx, 1, CreateCvParams{Title: "General"})
	work := seedWork(t, db, 1, "Acme")

	if err := svc.AddItem(ctx, 1, cv.ID, KindWork, work.ID, 0); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err := svc.AddItem(ctx, 1, cv.ID, KindWork, work.ID, 5)
	if !errors.Is(err, errcode.ErrConflict) {
		t.Fatalf("expected conflict on duplicate pair, got %v", err)
	}

	// 冲突的排序值不应覆盖已有行。
	var row database.CvWorkItem
	if err := db.Where("cv_id = ? AND work_experience_id = ?", cv.ID, work.ID).First(&row).Error; err != nil {
		t.Fatalf("load inclusion: %v", err)
	}
	if row.SortOrder != 0 {
		t.Fatalf("sort order should stay 0, got %d", row.SortOrder)
	}
}

func TestAddItem_ForeignItemNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	cv, _ := svc.CreateCv(ctx, 1, CreateCvParams{Title: "General"})
	foreign := seedWork(t, db, 2, "OtherCo")

	err := svc.AddItem(ctx, 1, cv.ID, KindWork, foreign.ID, 0)
	if !errors.Is(err, errcode.ErrNotFound) {
		t.Fatalf("expected not found for foreign item, got %v", err)
	}
}

func TestRemoveItem_MissingPairNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	cv, _ := svc.CreateCv(ctx, 1, CreateCvParams{Title: "General"})
	work := seedWork(t, db, 1, "Acme")

	err := svc.RemoveItem(ctx, 1, cv.ID, KindWork, work.ID)
	if !errors.Is(err, errcode.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReorderItem_UpdatesSortOrder(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	cv, _ := svc.CreateCv(ctx, 1, CreateCvParams{Title: "General"})
	a := seedSkill(t, db, 1, "Go")
	b := seedSkill(t, db, 1, "SQL")

	if err := svc.AddItem(ctx, 1, cv.ID, KindSkill, a.ID, 0); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if err := svc.AddItem(ctx, 1, cv.ID, KindSkill, b.ID, 1); err != nil {
		t.Fatalf("add b: %v", err)
	}

	if err := svc.ReorderItem(ctx, 1, cv.ID, KindSkill, a.ID, 9); err != nil {
		t.Fatalf("reorder: %v", err)
	}

	view, err := svc.Compose(ctx, 1, cv.ID)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(view.Skills) != 2 {
		t.Fatalf("expected 2 skills, got %d", len(view.Skills))
	}
	if view.Skills[0].Item.Name != "SQL" || view.Skills[1].Item.Name != "Go" {
		t.Fatalf("unexpected order: %s, %s", view.Skills[0].Item.Name, view.Skills[1].Item.Name)
	}
}

func TestCompose_TiesBreakByInsertionOrder(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	cv, _ := svc.CreateCv(ctx, 1, CreateCvParams{Title: "General"})
	first := seedSkill(t, db, 1, "Go")
	second := seedSkill(t, db, 1, "SQL")

	// 相同排序值：先加入的先出现。
	if err := svc.AddItem(ctx, 1, cv.ID, KindSkill, second.ID, 3); err != nil {
		t.Fatalf("add second: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := svc.AddItem(ctx, 1, cv.ID, KindSkill, first.ID, 3); err != nil {
		t.Fatalf("add first: %v", err)
	}

	view, err := svc.Compose(ctx, 1, cv.ID)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if view.Skills[0].Item.ID != second.ID || view.Skills[1].Item.ID != first.ID {
		t.Fatalf("tie should break by insertion order, got %d then %d",
			view.Skills[0].Item.ID, view.Skills[1].Item.ID)
	}
}

func TestDeleteLibraryItem_CascadesInclusions(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	cvA, _ := svc.CreateCv(ctx, 1, CreateCvParams{Title: "A"})
	cvB, _ := svc.CreateCv(ctx, 1, CreateCvParams{Title: "B"})
	work := seedWork(t, db, 1, "Acme")
	other := seedWork(t, db, 1, "Globex")

	for _, cvID := range []uint{cvA.ID, cvB.ID} {
		if err := svc.AddItem(ctx, 1, cvID, KindWork, work.ID, 0); err != nil {
			t.Fatalf("add work to cv %d: %v", cvID, err)
		}
	}
	if err := svc.AddItem(ctx, 1, cvA.ID, KindWork, other.ID, 1); err != nil {
		t.Fatalf("add other: %v", err)
	}

	if err := svc.DeleteLibraryItem(ctx, 1, KindWork, work.ID); err != nil {
		t.Fatalf("delete library item: %v", err)
	}

	var remaining int64
	if err := db.Model(&database.CvWorkItem{}).
		Where("work_experience_id = ?", work.ID).
		Count(&remaining).Error; err != nil {
		t.Fatalf("count inclusions: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected 0 inclusions for deleted item, got %d", remaining)
	}

	// 其他条目的包含关系不受影响。
	var kept int64
	if err := db.Model(&database.CvWorkItem{}).
		Where("work_experience_id = ?", other.ID).
		Count(&kept).Error; err != nil {
		t.Fatalf("count kept: %v", err)
	}
	if kept != 1 {
		t.Fatalf("expected 1 surviving inclusion, got %d", kept)
	}
}

func TestDeleteCv_LeavesLibraryIntact(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	cv, _ := svc.CreateCv(ctx, 1, CreateCvParams{Title: "General"})
	work := seedWork(t, db, 1, "Acme")
	skill := seedSkill(t, db, 1, "Go")

	if err := svc.AddItem(ctx, 1, cv.ID, KindWork, work.ID, 0); err != nil {
		t.Fatalf("add work: %v", err)
	}
	if err := svc.AddItem(ctx, 1, cv.ID, KindSkill, skill.ID, 0); err != nil {
		t.Fatalf("add skill: %v", err)
	}

	if err := svc.DeleteCv(ctx, 1, cv.ID); err != nil {
		t.Fatalf("delete cv: %v", err)
	}

	var inclusions int64
	db.Model(&database.CvWorkItem{}).Where("cv_id = ?", cv.ID).Count(&inclusions)
	if inclusions != 0 {
		t.Fatalf("work inclusions should be gone, got %d", inclusions)
	}
	db.Model(&database.CvSkillItem{}).Where("cv_id = ?", cv.ID).Count(&inclusions)
	if inclusions != 0 {
		t.Fatalf("skill inclusions should be gone, got %d", inclusions)
	}

	var keptWork database.WorkExperience
	if err := db.First(&keptWork, work.ID).Error; err != nil {
		t.Fatalf("library item should survive cv delete: %v", err)
	}
}

func TestCompose_CrossUserNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	cv, _ := svc.CreateCv(ctx, 1, CreateCvParams{Title: "General"})

	_, err := svc.Compose(ctx, 2, cv.ID)
	if !errors.Is(err, errcode.ErrNotFound) {
		t.Fatalf("expected not found for other user's cv, got %v", err)
	}
}

func TestParseKind(t *testing.T) {
	for _, name := range []string{"work", "education", "skill", "project"} {
		if _, err := ParseKind(name); err != nil {
			t.Fatalf("parse %q: %v", name, err)
		}
	}
	if _, err := ParseKind("award"); !errors.Is(err, errcode.ErrValidation) {
		t.Fatalf("expected validation error for unknown kind, got %v", err)
	}
}
