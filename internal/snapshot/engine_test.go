package snapshot

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"cvstudio/internal/composer"
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

// fixture 准备一个带档案、工作经历与默认简历的用户。
type fixture struct {
	db     *gorm.DB
	svc    *composer.Service
	engine *Engine
	userID uint
	cvID   uint
	workID uint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	svc := composer.NewService(db)
	ctx := context.Background()

	profile := database.Profile{UserID: 1, FullName: "Jane Doe", Summary: "profile summary"}
	if err := db.Create(&profile).Error; err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	work := database.WorkExperience{UserID: 1, Company: "Acme", Role: "Engineer"}
	if err := db.Create(&work).Error; err != nil {
		t.Fatalf("seed work: %v", err)
	}

	cv, err := svc.CreateCv(ctx, 1, composer.CreateCvParams{Title: "General"})
	if err != nil {
		t.Fatalf("create cv: %v", err)
	}
	if err := svc.AddItem(ctx, 1, cv.ID, composer.KindWork, work.ID, 0); err != nil {
		t.Fatalf("add work: %v", err)
	}

	return &fixture{
		db:     db,
		svc:    svc,
		engine: NewEngine(db),
		userID: 1,
		cvID:   cv.ID,
		workID: work.ID,
	}
}

func TestCreate_FreezesValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snapID, err := f.engine.Create(ctx, f.userID, f.cvID, nil)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}

	// 冻结后修改素材与档案。
	if err := f.db.Model(&database.WorkExperience{}).
		Where("id = ?", f.workID).
		Update("role", "Senior Engineer").Error; err != nil {
		t.Fatalf("update work: %v", err)
	}
	if err := f.db.Model(&database.Profile{}).
		Where("user_id = ?", f.userID).
		Update("full_name", "Renamed").Error; err != nil {
		t.Fatalf("update profile: %v", err)
	}

	doc, err := f.engine.Get(ctx, f.userID, snapID)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if len(doc.Work) != 1 {
		t.Fatalf("expected 1 work entry, got %d", len(doc.Work))
	}
	if doc.Work[0].Role != "Engineer" {
		t.Fatalf("snapshot should keep frozen role, got %q", doc.Work[0].Role)
	}
	if doc.Header.FullName != "Jane Doe" {
		t.Fatalf("snapshot header should keep frozen name, got %q", doc.Header.FullName)
	}
}

func TestCreate_SurvivesLibraryAndCvDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snapID, err := f.engine.Create(ctx, f.userID, f.cvID, nil)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}

	if err := f.svc.DeleteLibraryItem(ctx, f.userID, composer.KindWork, f.workID); err != nil {
		t.Fatalf("delete library item: %v", err)
	}
	if err := f.svc.DeleteCv(ctx, f.userID, f.cvID); err != nil {
		t.Fatalf("delete cv: %v", err)
	}

	doc, err := f.engine.Get(ctx, f.userID, snapID)
	if err != nil {
		t.Fatalf("snapshot should survive source deletion: %v", err)
	}
	if len(doc.Work) != 1 || doc.Work[0].Company != "Acme" {
		t.Fatalf("snapshot entries lost after source deletion: %+v", doc.Work)
	}
}

func TestCreate_OverrideSummaryWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	override := "tailored pitch"
	if _, err := f.svc.UpdateCv(ctx, f.userID, f.cvID, composer.UpdateCvParams{
		OverrideSummarySet: true,
		OverrideSummary:    &override,
	}); err != nil {
		t.Fatalf("set override summary: %v", err)
	}

	snapID, err := f.engine.Create(ctx, f.userID, f.cvID, nil)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}

	doc, err := f.engine.Get(ctx, f.userID, snapID)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if doc.Header.Summary != override {
		t.Fatalf("expected override summary %q, got %q", override, doc.Header.Summary)
	}
}

func TestCreate_ReplacesApplicationSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := database.JobApplication{UserID: f.userID, Company: "Globex", Position: "Backend", Status: "applied"}
	if err := f.db.Create(&app).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}

	firstID, err := f.engine.Create(ctx, f.userID, f.cvID, &app.ID)
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}

	// 第二次为同一投递冻结：旧快照被替换而非累积。
	secondID, err := f.engine.Create(ctx, f.userID, f.cvID, &app.ID)
	if err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	if secondID == firstID {
		t.Fatal("replacement should produce a new snapshot id")
	}

	if _, err := f.engine.Get(ctx, f.userID, firstID); !errors.Is(err, errcode.ErrNotFound) {
		t.Fatalf("old snapshot should be gone, got %v", err)
	}

	var count int64
	if err := f.db.Model(&database.Snapshot{}).
		Where("application_id = ?", app.ID).
		Count(&count).Error; err != nil {
		t.Fatalf("count snapshots: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one snapshot per application, got %d", count)
	}

	doc, err := f.engine.GetByApplication(ctx, f.userID, app.ID)
	if err != nil {
		t.Fatalf("get by application: %v", err)
	}
	if doc.Snapshot.ID != secondID {
		t.Fatalf("application should point at new snapshot %d, got %d", secondID, doc.Snapshot.ID)
	}
}

func TestCreate_ReplacementReflectsNewCvContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherWork := database.WorkExperience{UserID: f.userID, Company: "Globex", Role: "Manager"}
	if err := f.db.Create(&otherWork).Error; err != nil {
		t.Fatalf("seed other work: %v", err)
	}
	secondCv, err := f.svc.CreateCv(ctx, f.userID, composer.CreateCvParams{Title: "Management"})
	if err != nil {
		t.Fatalf("create second cv: %v", err)
	}
	if err := f.svc.AddItem(ctx, f.userID, secondCv.ID, composer.KindWork, otherWork.ID, 0); err != nil {
		t.Fatalf("add other work: %v", err)
	}

	app := database.JobApplication{UserID: f.userID, Company: "Globex", Position: "Manager", Status: "applied"}
	if err := f.db.Create(&app).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}

	if _, err := f.engine.Create(ctx, f.userID, f.cvID, &app.ID); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	// 换一份简历重新冻结：投递上的快照必须呈现新简历的内容。
	if _, err := f.engine.Create(ctx, f.userID, secondCv.ID, &app.ID); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}

	doc, err := f.engine.GetByApplication(ctx, f.userID, app.ID)
	if err != nil {
		t.Fatalf("get by application: %v", err)
	}
	if doc.Snapshot.SourceCvID != secondCv.ID {
		t.Fatalf("expected source cv %d, got %d", secondCv.ID, doc.Snapshot.SourceCvID)
	}
	if doc.Snapshot.Title != "Management" {
		t.Fatalf("expected frozen title from second cv, got %q", doc.Snapshot.Title)
	}
	if len(doc.Work) != 1 || doc.Work[0].Company != "Globex" || doc.Work[0].Role != "Manager" {
		t.Fatalf("work entries should come from second cv: %+v", doc.Work)
	}
}

func TestCreate_ForeignApplicationNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := database.JobApplication{UserID: 2, Company: "OtherCo", Position: "Any", Status: "applied"}
	if err := f.db.Create(&app).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}

	_, err := f.engine.Create(ctx, f.userID, f.cvID, &app.ID)
	if !errors.Is(err, errcode.ErrNotFound) {
		t.Fatalf("expected not found for foreign application, got %v", err)
	}
}

func TestGet_CrossUserNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snapID, err := f.engine.Create(ctx, f.userID, f.cvID, nil)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}

	if _, err := f.engine.Get(ctx, 2, snapID); !errors.Is(err, errcode.ErrNotFound) {
		t.Fatalf("expected not found for other user, got %v", err)
	}
}

func TestDelete_RemovesDocumentAndReturnsExportKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snapID, err := f.engine.Create(ctx, f.userID, f.cvID, nil)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	if err := f.engine.RecordExport(ctx, snapID, "snapshot-exports/1/a.json"); err != nil {
		t.Fatalf("record export: %v", err)
	}

	keys, err := f.engine.Delete(ctx, f.userID, snapID)
	if err != nil {
		t.Fatalf("delete snapshot: %v", err)
	}
	if len(keys) != 1 || keys[0] != "snapshot-exports/1/a.json" {
		t.Fatalf("unexpected export keys: %v", keys)
	}

	var headers int64
	f.db.Model(&database.SnapshotHeader{}).Where("snapshot_id = ?", snapID).Count(&headers)
	if headers != 0 {
		t.Fatalf("header rows should be gone, got %d", headers)
	}
	var entries int64
	f.db.Model(&database.SnapshotWorkEntry{}).Where("snapshot_id = ?", snapID).Count(&entries)
	if entries != 0 {
		t.Fatalf("work entries should be gone, got %d", entries)
	}
}

func TestDeleteByApplicationTx_RemovesBoundSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := database.JobApplication{UserID: f.userID, Company: "Globex", Position: "Backend", Status: "applied"}
	if err := f.db.Create(&app).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}
	snapID, err := f.engine.Create(ctx, f.userID, f.cvID, &app.ID)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	if err := f.engine.RecordExport(ctx, snapID, "snapshot-exports/1/b.json"); err != nil {
		t.Fatalf("record export: %v", err)
	}

	var keys []string
	err = f.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		keys, txErr = DeleteByApplicationTx(tx, f.userID, app.ID)
		return txErr
	})
	if err != nil {
		t.Fatalf("delete by application: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 export key, got %v", keys)
	}

	if _, err := f.engine.Get(ctx, f.userID, snapID); !errors.Is(err, errcode.ErrNotFound) {
		t.Fatalf("snapshot should be gone, got %v", err)
	}
}

func TestGetByApplication_NoSnapshotNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := database.JobApplication{UserID: f.userID, Company: "Globex", Position: "Backend", Status: "draft"}
	if err := f.db.Create(&app).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}

	if _, err := f.engine.GetByApplication(ctx, f.userID, app.ID); !errors.Is(err, errcode.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
