package ownership

import (
	"context"
	"errors"
	"fmt"
	"testing"

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

func TestFetch_OwnedEntity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	item := database.Skill{UserID: 7, Name: "Go"}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := Fetch[database.Skill](ctx, db, 7, item.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Name != "Go" {
		t.Fatalf("unexpected entity: %+v", got)
	}
}

func TestFetch_OtherOwnerLooksAbsent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	item := database.Skill{UserID: 7, Name: "Go"}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	// 他人资源与不存在的资源对外不可区分。
	_, errForeign := Fetch[database.Skill](ctx, db, 8, item.ID)
	_, errMissing := Fetch[database.Skill](ctx, db, 8, item.ID+1000)
	if !errors.Is(errForeign, errcode.ErrNotFound) {
		t.Fatalf("foreign: expected not found, got %v", errForeign)
	}
	if !errors.Is(errMissing, errcode.ErrNotFound) {
		t.Fatalf("missing: expected not found, got %v", errMissing)
	}
	if errForeign.Error() != errMissing.Error() {
		t.Fatalf("errors should be indistinguishable: %v vs %v", errForeign, errMissing)
	}
}

func TestFetch_ZeroIDNotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := Fetch[database.Skill](ctx, db, 7, 0); !errors.Is(err, errcode.ErrNotFound) {
		t.Fatalf("expected not found for zero id, got %v", err)
	}
}
