package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mediacredits/internal/config"
	"mediacredits/internal/errs"
	"mediacredits/internal/mediaserver"
	"mediacredits/internal/service"
	"mediacredits/internal/store/memory"
	"mediacredits/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "s3cret"

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{Notify: "credits.notify", Operator: "credits.operator"},
		},
		Economy: config.EconomyConfig{
			UnlockCost:         "100",
			PremiumDailyPrice:  "10",
			InvitePrice:        "500",
			DonationRatio:      "10",
			TrafficAllowanceGB: 30,
			PremiumAllowanceGB: 100,
			TrafficRatePer10GB: "5",
			StoreTimeout:       time.Second,
			MaxConflictRetries: 3,
		},
		Wheel: config.WheelConfig{SpinRatePerMinute: 1},
		Admin: config.AdminConfig{Token: adminToken},
	}
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	cfg := testConfig()
	st := memory.New()
	media := mediaserver.NewRegistry(nil)
	s := &Services{
		Ledger:  service.NewLedgerService(st, cfg, nil),
		Access:  service.NewAccessService(st, cfg, media),
		Auction: service.NewAuctionService(st, cfg, nil, nil),
		Wheel:   service.NewWheelService(st, cfg, nil, nil),
		Invite:  service.NewInviteService(st, cfg),
		Traffic: service.NewTrafficService(st, cfg),
	}
	return SetupRouter(s, cfg)
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, r *gin.Engine, method, path string, body interface{}, admin bool) (int, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Admin-Token", adminToken)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func bind(t *testing.T, r *gin.Engine, userID int64, credits string) {
	t.Helper()
	_, resp := call(t, r, http.MethodPost, "/api/v1/account/bind", gin.H{
		"user_id": userID, "service": "plex", "external_id": fmt.Sprintf("p-%d", userID),
	}, false)
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	if credits != "" {
		_, resp = call(t, r, http.MethodPost, "/api/v1/admin/account/adjust", gin.H{
			"user_id": userID, "delta": credits, "reason": "seed",
		}, true)
		require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	}
}

func TestBalance(t *testing.T) {
	r := newRouter(t)

	_, resp := call(t, r, http.MethodGet, "/api/v1/account/balance?user_id=abc", nil, false)
	assert.Equal(t, response.CodeParamError, resp.Code)

	status, resp := call(t, r, http.MethodGet, "/api/v1/account/balance?user_id=1", nil, false)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, response.CodeAccountNotFound, resp.Code)

	bind(t, r, 1, "12.5")
	_, resp = call(t, r, http.MethodGet, "/api/v1/account/balance?user_id=1", nil, false)
	require.Equal(t, response.CodeSuccess, resp.Code)
	var data struct {
		Credits string `json:"credits"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "12.50", data.Credits)
}

func TestAdminRequiresToken(t *testing.T) {
	r := newRouter(t)
	bind(t, r, 1, "")

	status, resp := call(t, r, http.MethodPost, "/api/v1/admin/account/adjust", gin.H{
		"user_id": 1, "delta": "100", "reason": "seed",
	}, false)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, response.CodeUnauthorized, resp.Code)

	_, resp = call(t, r, http.MethodGet, "/api/v1/account/balance?user_id=1", nil, false)
	var data struct {
		Credits string `json:"credits"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "0.00", data.Credits)
}

func TestAdjustIdempotentByRefNo(t *testing.T) {
	r := newRouter(t)
	bind(t, r, 1, "")

	body := gin.H{"user_id": 1, "delta": "40", "reason": "补偿", "ref_no": "COMP-1"}
	_, resp := call(t, r, http.MethodPost, "/api/v1/admin/account/adjust", body, true)
	require.Equal(t, response.CodeSuccess, resp.Code)

	_, resp = call(t, r, http.MethodPost, "/api/v1/admin/account/adjust", body, true)
	assert.Equal(t, response.CodeStateInvalid, resp.Code, "same ref_no is rejected as duplicate")

	_, resp = call(t, r, http.MethodPost, "/api/v1/admin/account/adjust", gin.H{
		"user_id": 1, "delta": "-41", "reason": "扣减",
	}, true)
	assert.Equal(t, response.CodeBalanceNotEnough, resp.Code)
}

func TestTransfer(t *testing.T) {
	r := newRouter(t)
	bind(t, r, 1, "50")
	bind(t, r, 2, "")

	_, resp := call(t, r, http.MethodPost, "/api/v1/account/transfer", gin.H{
		"from_user_id": 1, "to_user_id": 2, "amount": "60", "fee": "0",
	}, false)
	assert.Equal(t, response.CodeBalanceNotEnough, resp.Code)

	_, resp = call(t, r, http.MethodPost, "/api/v1/account/transfer", gin.H{
		"from_user_id": 1, "to_user_id": 2, "amount": "30", "fee": "5",
	}, false)
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	var result service.TransferResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, "20", result.FromBalance.String())
	assert.Equal(t, "25", result.ToBalance.String())

	_, resp = call(t, r, http.MethodPost, "/api/v1/account/transfer", gin.H{
		"from_user_id": 1, "to_user_id": 1, "amount": "1", "fee": "0",
	}, false)
	assert.Equal(t, response.CodeStateInvalid, resp.Code)
}

func TestAuctionFlow(t *testing.T) {
	r := newRouter(t)
	bind(t, r, 1, "500")
	bind(t, r, 2, "500")

	_, resp := call(t, r, http.MethodPost, "/api/v1/admin/auction/create", gin.H{
		"title": "年度会员", "starting_price": "100",
		"end_time": time.Now().Add(time.Hour), "created_by": 1,
	}, true)
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	var auction struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &auction))

	_, resp = call(t, r, http.MethodPost, "/api/v1/auction/bid", gin.H{
		"auction_id": auction.ID, "user_id": 1, "amount": "150",
	}, false)
	assert.Equal(t, response.CodeBidRejected, resp.Code, "creator cannot bid")

	_, resp = call(t, r, http.MethodPost, "/api/v1/auction/bid", gin.H{
		"auction_id": auction.ID, "user_id": 2, "amount": "100",
	}, false)
	assert.Equal(t, response.CodeBidRejected, resp.Code, "must exceed current price")

	_, resp = call(t, r, http.MethodPost, "/api/v1/auction/bid", gin.H{
		"auction_id": auction.ID, "user_id": 2, "amount": "120",
	}, false)
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	_, resp = call(t, r, http.MethodPost, "/api/v1/admin/auction/finish", gin.H{"auction_id": auction.ID}, true)
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	var settled service.SettleResult
	require.NoError(t, json.Unmarshal(resp.Data, &settled))
	require.NotNil(t, settled.WinnerID)
	assert.Equal(t, int64(2), *settled.WinnerID)
	assert.True(t, settled.CreditsReduced)

	_, resp = call(t, r, http.MethodPost, "/api/v1/auction/bid", gin.H{
		"auction_id": auction.ID, "user_id": 2, "amount": "200",
	}, false)
	assert.Equal(t, response.CodeAuctionInactive, resp.Code)

	_, resp = call(t, r, http.MethodGet, fmt.Sprintf("/api/v1/auction/detail?auction_id=%d", auction.ID+100), nil, false)
	assert.Equal(t, response.CodeAuctionNotFound, resp.Code)
}

func TestSpinRateLimited(t *testing.T) {
	r := newRouter(t)
	bind(t, r, 1, "100")

	// 未配置转盘，第一次落到业务错误，第二次被限流拦住
	_, resp := call(t, r, http.MethodPost, "/api/v1/wheel/spin", gin.H{"user_id": 1}, false)
	assert.Equal(t, response.CodeNotFound, resp.Code)

	_, resp = call(t, r, http.MethodPost, "/api/v1/wheel/spin", gin.H{"user_id": 1}, false)
	assert.Equal(t, response.CodeTooManyRequests, resp.Code)

	// 其他用户不受影响
	_, resp = call(t, r, http.MethodPost, "/api/v1/wheel/spin", gin.H{"user_id": 2}, false)
	assert.NotEqual(t, response.CodeTooManyRequests, resp.Code)
}

func TestWheelConfigRejectsBadProbabilities(t *testing.T) {
	r := newRouter(t)

	_, resp := call(t, r, http.MethodPut, "/api/v1/admin/wheel/config", gin.H{
		"cost_credits": "10",
		"items": []gin.H{
			{"name": "+10", "probability": 50},
			{"name": "谢谢参与", "probability": 40},
		},
	}, true)
	assert.Equal(t, response.CodeWheelConfigError, resp.Code)

	_, resp = call(t, r, http.MethodPut, "/api/v1/admin/wheel/config", gin.H{
		"cost_credits": "10",
		"items": []gin.H{
			{"name": "+10", "probability": 50},
			{"name": "谢谢参与", "probability": 50},
		},
	}, true)
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	_, resp = call(t, r, http.MethodGet, "/api/v1/wheel/config", nil, false)
	assert.Equal(t, response.CodeSuccess, resp.Code)
}

func TestInviteFlow(t *testing.T) {
	r := newRouter(t)
	bind(t, r, 1, "600")

	_, resp := call(t, r, http.MethodPost, "/api/v1/invite/buy", gin.H{"user_id": 1}, false)
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)
	var code struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &code))
	require.NotEmpty(t, code.Code)

	_, resp = call(t, r, http.MethodPost, "/api/v1/invite/buy", gin.H{"user_id": 1}, false)
	assert.Equal(t, response.CodeBalanceNotEnough, resp.Code)

	_, resp = call(t, r, http.MethodPost, "/api/v1/invite/redeem", gin.H{"code": code.Code, "user_id": 9}, false)
	require.Equal(t, response.CodeSuccess, resp.Code, resp.Message)

	_, resp = call(t, r, http.MethodPost, "/api/v1/invite/redeem", gin.H{"code": code.Code, "user_id": 10}, false)
	assert.Equal(t, response.CodeInviteInvalid, resp.Code)

	_, resp = call(t, r, http.MethodPost, "/api/v1/invite/redeem", gin.H{"code": "NOPE-NOPE", "user_id": 10}, false)
	assert.Equal(t, response.CodeInviteInvalid, resp.Code)
}

func TestMissingBodyIsParamError(t *testing.T) {
	r := newRouter(t)
	_, resp := call(t, r, http.MethodPost, "/api/v1/access/unlock", gin.H{}, false)
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestHandleErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		code int
	}{
		{errs.Invalid("x"), response.CodeParamError},
		{fmt.Errorf("wrap: %w", errs.ErrAccountNotFound), response.CodeAccountNotFound},
		{errs.ErrInviteUsed, response.CodeInviteInvalid},
		{errs.ErrSelfBid, response.CodeBidRejected},
		{errs.ErrAlreadyUnlocked, response.CodeStateInvalid},
		{errs.ErrConcurrentConflict, response.CodeConcurrentRetry},
		{errs.ErrStoreUnavailable, response.CodeStoreUnavailable},
		{fmt.Errorf("开通媒体库失败: %w", &mediaserver.StatusError{Server: "plex", Op: "share", StatusCode: 502}), response.CodeMediaServerFailed},
		{errors.New("boom"), response.CodeServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		handleError(c, tc.err)

		var resp apiResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, tc.code, resp.Code, tc.err.Error())
	}
}
