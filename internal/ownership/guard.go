// Package ownership 实现统一的所有权守卫：任何读取或写入业务实体之前，
// 必须先证明目标记录归当前用户所有。查不到与归属他人不可区分，
// 一律返回 errcode.ErrNotFound，避免通过 403 泄露其他用户资源的存在性。
package ownership

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"cvstudio/internal/errcode"
)

// Fetch 按 (id, user_id) 读取记录。M 必须是带 user_id 列的业务模型。
func Fetch[M any](ctx context.Context, db *gorm.DB, userID, id uint) (*M, error) {
	if id == 0 {
		return nil, errcode.ErrNotFound
	}

	var entity M
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&entity).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, errcode.ErrNotFound
	case err != nil:
		return nil, err
	}
	return &entity, nil
}
