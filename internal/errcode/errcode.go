package errcode

import "errors"

// 错误码约定：
// - 0：无错误
// - 4xxx：业务可恢复错误（调用方可修正输入或接受现状后重试）
// - 5xxx：系统错误（需要中断流程）
const (
	OK              = 0
	InvalidInput    = 4000
	ResourceMissing = 4004
	StateConflict   = 4009
	SystemError     = 5000
)

// 三类可恢复错误的哨兵值，由各引擎返回，handler 统一映射为 HTTP 状态码。
// 记录不存在与归属其他用户不可区分，一律表现为 ErrNotFound，避免泄露资源存在性。
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("invalid input")
)
