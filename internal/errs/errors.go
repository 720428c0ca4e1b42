// Package errs 定义积分账本的错误分类
//
// 调用方统一使用 errors.Is 判断类别，例如
//
//	errors.Is(err, errs.ErrInvalidState)  // 拍卖已结束、自拍、出价过低都会命中
//	errors.Is(err, errs.ErrBidTooLow)     // 只命中出价过低
package errs

import (
	"errors"
	"fmt"
)

// 错误大类
var (
	ErrInsufficientFunds  = errors.New("积分不足")
	ErrNotFound           = errors.New("记录不存在")
	ErrInvalidState       = errors.New("状态不允许该操作")
	ErrConfigInvalid      = errors.New("配置不合法")
	ErrConcurrentConflict = errors.New("并发冲突，请重试")
	ErrStoreUnavailable   = errors.New("存储暂不可用")
	ErrInvalidArgument    = errors.New("参数错误")
)

// 具体错误，均包装某个大类
var (
	ErrAccountNotFound = fmt.Errorf("账户%w", ErrNotFound)
	ErrAuctionNotFound = fmt.Errorf("拍卖%w", ErrNotFound)
	ErrInviteNotFound  = fmt.Errorf("邀请码%w", ErrNotFound)

	ErrAuctionInactive = fmt.Errorf("拍卖已结束: %w", ErrInvalidState)
	ErrSelfBid         = fmt.Errorf("不能对自己发起的拍卖出价: %w", ErrInvalidState)
	ErrBidTooLow       = fmt.Errorf("出价必须高于当前价格: %w", ErrInvalidState)
	ErrInviteUsed      = fmt.Errorf("邀请码已被使用: %w", ErrInvalidState)
	ErrAlreadyUnlocked = fmt.Errorf("媒体库已解锁: %w", ErrInvalidState)
	ErrAlreadyLocked   = fmt.Errorf("媒体库未解锁: %w", ErrInvalidState)
	ErrSameAccount     = fmt.Errorf("不能转账给自己: %w", ErrInvalidState)
	ErrDuplicate       = fmt.Errorf("记录已存在: %w", ErrInvalidState)
)

// Retryable 判断错误是否可以透明重试
//
// 只有乐观锁冲突可以自动重试；存储不可用交给调用方退避
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrentConflict)
}

// Invalid 构造参数错误
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
