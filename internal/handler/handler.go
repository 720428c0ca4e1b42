package handler

import (
	"errors"
	"log"
	"net/url"
	"strconv"

	"mediacredits/internal/errs"
	"mediacredits/internal/mediaserver"
	"mediacredits/internal/service"
	"mediacredits/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Services 处理器依赖的全部服务，由 main 组装后注入
type Services struct {
	Ledger  *service.LedgerService
	Access  *service.AccessService
	Auction *service.AuctionService
	Wheel   *service.WheelService
	Invite  *service.InviteService
	Traffic *service.TrafficService
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	ledgerService  *service.LedgerService
	accessService  *service.AccessService
	auctionService *service.AuctionService
	wheelService   *service.WheelService
	inviteService  *service.InviteService
	trafficService *service.TrafficService

	spinLimiter *userLimiter
}

// NewHandler 创建处理器实例
//
// spinPerMinute <= 0 时不限制抽奖频率
func NewHandler(s *Services, spinPerMinute int) *Handler {
	return &Handler{
		ledgerService:  s.Ledger,
		accessService:  s.Access,
		auctionService: s.Auction,
		wheelService:   s.Wheel,
		inviteService:  s.Invite,
		trafficService: s.Traffic,
		spinLimiter:    newUserLimiter(spinPerMinute),
	}
}

// handleError 把服务层错误映射为业务错误码
//
// 具体错误要排在它所属的大类之前判断
func handleError(c *gin.Context, err error) {
	var statusErr *mediaserver.StatusError
	var urlErr *url.Error

	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		response.ParamError(c, err.Error())
	case errors.Is(err, errs.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, errs.ErrAuctionNotFound):
		response.BusinessError(c, response.CodeAuctionNotFound, err.Error())
	case errors.Is(err, errs.ErrInviteNotFound), errors.Is(err, errs.ErrInviteUsed):
		response.BusinessError(c, response.CodeInviteInvalid, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		response.Error(c, response.CodeNotFound, err.Error())
	case errors.Is(err, errs.ErrInsufficientFunds):
		response.BusinessError(c, response.CodeBalanceNotEnough, err.Error())
	case errors.Is(err, errs.ErrAuctionInactive):
		response.BusinessError(c, response.CodeAuctionInactive, err.Error())
	case errors.Is(err, errs.ErrBidTooLow), errors.Is(err, errs.ErrSelfBid):
		response.BusinessError(c, response.CodeBidRejected, err.Error())
	case errors.Is(err, errs.ErrInvalidState):
		response.BusinessError(c, response.CodeStateInvalid, err.Error())
	case errors.Is(err, errs.ErrConfigInvalid):
		response.BusinessError(c, response.CodeWheelConfigError, err.Error())
	case errors.Is(err, errs.ErrConcurrentConflict):
		response.BusinessError(c, response.CodeConcurrentRetry, err.Error())
	case errors.Is(err, errs.ErrStoreUnavailable):
		response.BusinessError(c, response.CodeStoreUnavailable, err.Error())
	case errors.As(err, &statusErr), errors.As(err, &urlErr):
		response.BusinessError(c, response.CodeMediaServerFailed, err.Error())
	default:
		log.Printf("[Handler] 未分类错误: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		response.ServerError(c, err.Error())
	}
}

func queryInt64(c *gin.Context, key string) (int64, bool) {
	v, err := strconv.ParseInt(c.Query(key), 10, 64)
	if err != nil {
		response.ParamError(c, key+" 参数错误")
		return 0, false
	}
	return v, true
}

func queryPage(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	return page, pageSize
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalance 查询用户余额
// GET /api/v1/account/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	balance, err := h.ledgerService.GetBalance(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id": userID,
		"credits": balance.StringFixed(2),
	})
}

// GetAccount 查询账户详情
// GET /api/v1/account/detail?user_id=xxx
func (h *Handler) GetAccount(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	account, err := h.ledgerService.GetAccount(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, account)
}

// BindAccountRequest 绑定请求
type BindAccountRequest struct {
	UserID     int64  `json:"user_id" binding:"required"`
	Service    string `json:"service" binding:"required"` // plex / emby
	ExternalID string `json:"external_id" binding:"required"`
}

// BindAccount 绑定媒体服务器账号，首次绑定时开户
// POST /api/v1/account/bind
func (h *Handler) BindAccount(c *gin.Context) {
	var req BindAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.ledgerService.BindAccount(c.Request.Context(), req.UserID, req.Service, req.ExternalID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, account)
}

// TransferRequest 转账请求，fee 由转出方承担
type TransferRequest struct {
	FromUserID int64           `json:"from_user_id" binding:"required"`
	ToUserID   int64           `json:"to_user_id" binding:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Fee        decimal.Decimal `json:"fee"`
}

// Transfer 用户间转账
// POST /api/v1/account/transfer
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.ledgerService.Transfer(c.Request.Context(), req.FromUserID, req.ToUserID, req.Amount, req.Fee)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

// ListTransactions 查询积分流水
// GET /api/v1/account/transactions?user_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := queryPage(c)

	txs, total, err := h.ledgerService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessPage(c, txs, total, page, pageSize)
}

// ============================================================
// 媒体库权限 / 高级会员
// ============================================================

// UserRequest 只带用户ID的请求
type UserRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// Unlock 付费解锁受限媒体库
// POST /api/v1/access/unlock
func (h *Handler) Unlock(c *gin.Context) {
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.accessService.Unlock(c.Request.Context(), req.UserID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

// Lock 锁回媒体库并按时长退款
// POST /api/v1/access/lock
func (h *Handler) Lock(c *gin.Context) {
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.accessService.Lock(c.Request.Context(), req.UserID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

// BuyPremiumRequest 购买高级会员
type BuyPremiumRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
	Days   int   `json:"days" binding:"required,gt=0"`
}

// BuyPremium 购买高级会员
// POST /api/v1/access/premium
func (h *Handler) BuyPremium(c *gin.Context) {
	var req BuyPremiumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accessService.BuyPremium(c.Request.Context(), req.UserID, req.Days)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"user_id":        account.UserID,
		"credits":        account.Credits.StringFixed(2),
		"premium_expiry": account.PremiumExpiry,
	})
}

// ============================================================
// 管理员：积分调整 / 捐赠
// ============================================================

// AdjustRequest 管理员调整积分，ref_no 非空时按 ref_no 幂等
type AdjustRequest struct {
	UserID int64           `json:"user_id" binding:"required"`
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason" binding:"required"`
	RefNo  string          `json:"ref_no"`
}

// AdjustCredits 管理员加减积分，余额不足时整体拒绝
// POST /api/v1/admin/account/adjust
func (h *Handler) AdjustCredits(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	var (
		balance decimal.Decimal
		err     error
	)
	if req.RefNo != "" {
		balance, err = h.ledgerService.ApplyDeltaOnce(c.Request.Context(), req.RefNo, req.UserID, req.Delta, req.Reason)
	} else {
		balance, err = h.ledgerService.ApplyDelta(c.Request.Context(), req.UserID, req.Delta, req.Reason)
	}
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id": req.UserID,
		"credits": balance.StringFixed(2),
	})
}

// DonationRequest 捐赠入账，request_id 为捐赠渠道的流水号
type DonationRequest struct {
	RequestID string          `json:"request_id" binding:"required"`
	UserID    int64           `json:"user_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

// RecordDonation 记录捐赠并按比例发放积分
// POST /api/v1/admin/donation
func (h *Handler) RecordDonation(c *gin.Context) {
	var req DonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.ledgerService.RecordDonation(c.Request.Context(), req.RequestID, req.UserID, req.Amount)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"user_id":        account.UserID,
		"credits":        account.Credits.StringFixed(2),
		"donation_total": account.DonationTotal.StringFixed(2),
	})
}
