package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"cvstudio/internal/database"
	"cvstudio/internal/storage"
)

const maxProfilePictureSize = 5 << 20 // 5 MiB

// AssetHandler 负责档案照片的上传与访问。
// 上传前经 clamd 扫描，落库后把对象键写入档案；已有快照持有的旧键不受影响。
type AssetHandler struct {
	db        *gorm.DB
	storage   *storage.Client
	logger    *slog.Logger
	clamdAddr string
}

// NewAssetHandler 返回 AssetHandler 实例。
func NewAssetHandler(db *gorm.DB, storageClient *storage.Client, logger *slog.Logger, clamdAddr string) *AssetHandler {
	return &AssetHandler{
		db:        db,
		storage:   storageClient,
		logger:    logger,
		clamdAddr: clamdAddr,
	}
}

// UploadProfilePicture 上传档案照片：先病毒扫描，再上传并更新档案。
// 旧照片对象在更新成功后尽力清理。
func (h *AssetHandler) UploadProfilePicture(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	if file.Size > maxProfilePictureSize {
		BadRequest(c, "file too large")
		return
	}

	contentType := file.Header.Get("Content-Type")
	ext, ok := assetExtensionForContentType(contentType)
	if !ok {
		BadRequest(c, "unsupported content type")
		return
	}

	clamdClient := clamd.NewClamd(h.clamdAddr)

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}

	abortChan := make(chan bool)
	scanChan, err := clamdClient.ScanStream(fileReader, abortChan)
	fileReader.Close()
	if err != nil {
		h.logger.Error("scan file", slog.String("error", err.Error()))
		Internal(c, "failed to scan file")
		return
	}
	defer close(abortChan)

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			BadRequest(c, "malicious file detected")
			return
		}
	}

	fileReader, err = file.Open()
	if err != nil {
		Internal(c, "failed to reopen file")
		return
	}
	defer fileReader.Close()

	ctx := c.Request.Context()
	objectKey := fmt.Sprintf("user-assets/%d/%s.%s", userID, uuid.NewString(), ext)

	if _, err := h.storage.UploadFile(ctx, objectKey, fileReader, file.Size, contentType); err != nil {
		h.logger.Error("upload file", slog.String("error", err.Error()))
		Internal(c, "failed to upload file")
		return
	}

	var profile database.Profile
	if err := h.db.WithContext(ctx).
		Where(database.Profile{UserID: userID}).
		FirstOrCreate(&profile).Error; err != nil {
		Internal(c, "failed to query profile")
		return
	}

	previousKey := profile.PictureKey
	if err := h.db.WithContext(ctx).Model(&profile).Update("picture_key", objectKey).Error; err != nil {
		Internal(c, "failed to update profile")
		return
	}

	if previousKey != "" && previousKey != objectKey {
		if err := h.storage.RemoveObject(ctx, previousKey); err != nil {
			h.logger.Warn("remove previous profile picture",
				slog.String("object_key", previousKey),
				slog.String("error", err.Error()),
			)
		}
	}

	c.JSON(http.StatusCreated, gin.H{"objectKey": objectKey})
}

// DeleteProfilePicture 清除档案照片并删除对象。
func (h *AssetHandler) DeleteProfilePicture(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var profile database.Profile
	if err := h.db.WithContext(ctx).
		Where(database.Profile{UserID: userID}).
		FirstOrCreate(&profile).Error; err != nil {
		Internal(c, "failed to query profile")
		return
	}

	objectKey := profile.PictureKey
	if objectKey == "" {
		c.Status(http.StatusNoContent)
		return
	}

	if err := h.db.WithContext(ctx).Model(&profile).Update("picture_key", "").Error; err != nil {
		Internal(c, "failed to update profile")
		return
	}
	if err := h.storage.RemoveObject(ctx, objectKey); err != nil {
		h.logger.Warn("remove profile picture",
			slog.String("object_key", objectKey),
			slog.String("error", err.Error()),
		)
	}
	c.Status(http.StatusNoContent)
}

// GetAssetURL 返回资产对象的临时预签名 URL，只允许访问本人键空间。
func (h *AssetHandler) GetAssetURL(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	objectKey := c.Query("key")
	if objectKey == "" {
		BadRequest(c, "missing key")
		return
	}

	if !isValidUserAssetObjectKey(userID, objectKey) {
		Forbidden(c, "access denied")
		return
	}

	signedURL, err := h.storage.GeneratePresignedURL(c.Request.Context(), objectKey, 15*time.Minute)
	if err != nil {
		h.logger.Error("generate presigned url", slog.String("error", err.Error()))
		Internal(c, "failed to generate url")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}
