package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvstudio/internal/database"
)

// ProfileHandler 负责用户档案的读取与部分更新。
// 档案是快照表头的拷贝来源；修改档案不影响已创建的快照。
type ProfileHandler struct {
	db *gorm.DB
}

// NewProfileHandler 构造 ProfileHandler。
func NewProfileHandler(db *gorm.DB) *ProfileHandler {
	return &ProfileHandler{db: db}
}

type profileResponse struct {
	FullName   string          `json:"full_name"`
	Headline   string          `json:"headline,omitempty"`
	Email      string          `json:"email,omitempty"`
	Phone      string          `json:"phone,omitempty"`
	Location   string          `json:"location,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	Links      json.RawMessage `json:"links,omitempty"`
	PictureKey string          `json:"picture_key,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func newProfileResponse(p database.Profile) profileResponse {
	return profileResponse{
		FullName:   p.FullName,
		Headline:   p.Headline,
		Email:      p.Email,
		Phone:      p.Phone,
		Location:   p.Location,
		Summary:    p.Summary,
		Links:      json.RawMessage(p.Links),
		PictureKey: p.PictureKey,
		UpdatedAt:  p.UpdatedAt,
	}
}

// GetProfile 返回当前用户的档案；还没有档案时惰性建一条空档案。
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var profile database.Profile
	err := h.db.WithContext(c.Request.Context()).
		Where(database.Profile{UserID: userID}).
		FirstOrCreate(&profile).Error
	if err != nil {
		Internal(c, "failed to query profile")
		return
	}
	c.JSON(http.StatusOK, newProfileResponse(profile))
}

type updateProfileRequest struct {
	FullName *string  `json:"full_name"`
	Headline *string  `json:"headline"`
	Email    *string  `json:"email"`
	Phone    *string  `json:"phone"`
	Location *string  `json:"location"`
	Summary  *string  `json:"summary"`
	Links    []string `json:"links"`
}

// UpdateProfile 部分更新档案；links 提供时整体替换。
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	var profile database.Profile
	err := h.db.WithContext(ctx).
		Where(database.Profile{UserID: userID}).
		FirstOrCreate(&profile).Error
	if err != nil {
		Internal(c, "failed to query profile")
		return
	}

	updates := map[string]any{}
	if req.FullName != nil {
		updates["full_name"] = *req.FullName
	}
	if req.Headline != nil {
		updates["headline"] = *req.Headline
	}
	if req.Email != nil {
		updates["email"] = *req.Email
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}
	if req.Location != nil {
		updates["location"] = *req.Location
	}
	if req.Summary != nil {
		updates["summary"] = *req.Summary
	}
	if req.Links != nil {
		data, err := json.Marshal(req.Links)
		if err != nil {
			BadRequest(c, "invalid links")
			return
		}
		updates["links"] = datatypes.JSON(data)
	}

	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(&profile).Updates(updates).Error; err != nil {
			Internal(c, "failed to update profile")
			return
		}
	}
	if err := h.db.WithContext(ctx).First(&profile, profile.ID).Error; err != nil {
		Internal(c, "failed to reload profile")
		return
	}
	c.JSON(http.StatusOK, newProfileResponse(profile))
}
