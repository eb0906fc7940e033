package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"cvstudio/internal/composer"
	"cvstudio/internal/database"
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

func newLibraryHandler(t *testing.T) (*LibraryHandler, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	return NewLibraryHandler(db, composer.NewService(db)), db
}

func jsonContext(t *testing.T, method, target string, payload any, userID uint, params gin.Params) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(data)
	} else {
		body = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = params
	c.Set("userID", userID)
	return c, w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestCreateWork_IsCurrentClearsEndDate(t *testing.T) {
	h, _ := newLibraryHandler(t)

	c, w := jsonContext(t, http.MethodPost, "/v1/library/work", map[string]any{
		"company":    "Acme",
		"role":       "Engineer",
		"start_date": "2020-01-15",
		"end_date":   "2023-06-30",
		"is_current": true,
	}, 1, nil)
	h.CreateWork(c)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", w.Code, w.Body.String())
	}
	var resp workResponse
	decodeBody(t, w, &resp)
	if resp.EndDate != nil {
		t.Fatalf("current position should have no end date, got %v", *resp.EndDate)
	}
	if resp.StartDate == nil || *resp.StartDate != "2020-01-15" {
		t.Fatalf("unexpected start date: %v", resp.StartDate)
	}
}

func TestCreateWork_RejectsBadDate(t *testing.T) {
	h, _ := newLibraryHandler(t)

	c, w := jsonContext(t, http.MethodPost, "/v1/library/work", map[string]any{
		"company":    "Acme",
		"role":       "Engineer",
		"start_date": "15/01/2020",
	}, 1, nil)
	h.CreateWork(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestUpdateWork_PartialAndExplicitNull(t *testing.T) {
	h, db := newLibraryHandler(t)

	start := time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC)
	item := database.WorkExperience{
		UserID: 1, Company: "Acme", Role: "Engineer",
		StartDate: &start, EndDate: &end,
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	// 只提供 end_date: null，其余字段保持原值。
	c, w := jsonContext(t, http.MethodPatch, "/v1/library/work/"+strconv.Itoa(int(item.ID)),
		json.RawMessage(`{"end_date": null}`), 1,
		gin.Params{{Key: "id", Value: strconv.Itoa(int(item.ID))}})
	h.UpdateWork(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var resp workResponse
	decodeBody(t, w, &resp)
	if resp.EndDate != nil {
		t.Fatalf("end date should be cleared, got %v", *resp.EndDate)
	}
	if resp.Company != "Acme" || resp.Role != "Engineer" {
		t.Fatalf("absent fields should keep values: %+v", resp)
	}
	if resp.StartDate == nil || *resp.StartDate != "2020-01-15" {
		t.Fatalf("start date should be untouched: %v", resp.StartDate)
	}
}

func TestUpdateWork_SetCurrentDropsEndDate(t *testing.T) {
	h, db := newLibraryHandler(t)

	end := time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC)
	item := database.WorkExperience{UserID: 1, Company: "Acme", Role: "Engineer", EndDate: &end}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	c, w := jsonContext(t, http.MethodPatch, "/v1/library/work/"+strconv.Itoa(int(item.ID)),
		map[string]any{"is_current": true}, 1,
		gin.Params{{Key: "id", Value: strconv.Itoa(int(item.ID))}})
	h.UpdateWork(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var resp workResponse
	decodeBody(t, w, &resp)
	if !resp.IsCurrent || resp.EndDate != nil {
		t.Fatalf("current flag should drop end date: %+v", resp)
	}
}

func TestUpdateWork_EndDateDroppedWhileCurrent(t *testing.T) {
	h, db := newLibraryHandler(t)

	item := database.WorkExperience{UserID: 1, Company: "Acme", Role: "Engineer", IsCurrent: true}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	// 在职条目上单独提交 end_date：不得留下"在职却有结束日期"的状态。
	c, w := jsonContext(t, http.MethodPatch, "/v1/library/work/"+strconv.Itoa(int(item.ID)),
		map[string]any{"end_date": "2023-06-30"}, 1,
		gin.Params{{Key: "id", Value: strconv.Itoa(int(item.ID))}})
	h.UpdateWork(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var resp workResponse
	decodeBody(t, w, &resp)
	if !resp.IsCurrent {
		t.Fatalf("is_current should stay true: %+v", resp)
	}
	if resp.EndDate != nil {
		t.Fatalf("end date must stay empty while current, got %v", *resp.EndDate)
	}
}

func TestUpdateWork_CrossUserNotFound(t *testing.T) {
	h, db := newLibraryHandler(t)

	item := database.WorkExperience{UserID: 2, Company: "OtherCo", Role: "Any"}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	c, w := jsonContext(t, http.MethodPatch, "/v1/library/work/"+strconv.Itoa(int(item.ID)),
		map[string]any{"company": "Stolen"}, 1,
		gin.Params{{Key: "id", Value: strconv.Itoa(int(item.ID))}})
	h.UpdateWork(c)

	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign item must look absent, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestUpdateSkill_NullLevelClears(t *testing.T) {
	h, db := newLibraryHandler(t)

	item := database.Skill{UserID: 1, Name: "Go", Level: "expert"}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	c, w := jsonContext(t, http.MethodPatch, "/v1/library/skills/"+strconv.Itoa(int(item.ID)),
		json.RawMessage(`{"level": null}`), 1,
		gin.Params{{Key: "id", Value: strconv.Itoa(int(item.ID))}})
	h.UpdateSkill(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var resp skillResponse
	decodeBody(t, w, &resp)
	if resp.Level != "" {
		t.Fatalf("level should be cleared, got %q", resp.Level)
	}
	if resp.Name != "Go" {
		t.Fatalf("name should keep value, got %q", resp.Name)
	}
}

func TestDeleteWork_RemovesInclusions(t *testing.T) {
	h, db := newLibraryHandler(t)
	ctx := context.Background()
	svc := composer.NewService(db)

	item := database.WorkExperience{UserID: 1, Company: "Acme", Role: "Engineer"}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	cv, err := svc.CreateCv(ctx, 1, composer.CreateCvParams{Title: "General"})
	if err != nil {
		t.Fatalf("create cv: %v", err)
	}
	if err := svc.AddItem(ctx, 1, cv.ID, composer.KindWork, item.ID, 0); err != nil {
		t.Fatalf("add item: %v", err)
	}

	c, w := jsonContext(t, http.MethodDelete, "/v1/library/work/"+strconv.Itoa(int(item.ID)),
		nil, 1, gin.Params{{Key: "id", Value: strconv.Itoa(int(item.ID))}})
	h.DeleteWork(c)
	c.Writer.WriteHeaderNow()

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", w.Code, w.Body.String())
	}
	var inclusions int64
	db.Model(&database.CvWorkItem{}).Where("work_experience_id = ?", item.ID).Count(&inclusions)
	if inclusions != 0 {
		t.Fatalf("inclusions should cascade, got %d", inclusions)
	}
}

func TestProjectTechTagsRoundTrip(t *testing.T) {
	h, _ := newLibraryHandler(t)

	c, w := jsonContext(t, http.MethodPost, "/v1/library/projects", map[string]any{
		"name":      "cvstudio",
		"tech_tags": []string{"go", "gin", "postgres"},
	}, 1, nil)
	h.CreateProject(c)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", w.Code, w.Body.String())
	}
	var resp projectResponse
	decodeBody(t, w, &resp)
	if len(resp.TechTags) != 3 || resp.TechTags[0] != "go" || resp.TechTags[2] != "postgres" {
		t.Fatalf("tags should keep caller order: %v", resp.TechTags)
	}
}
