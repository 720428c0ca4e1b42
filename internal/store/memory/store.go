// Package memory 进程内的 store.Store 实现
//
// 整个数据集由一把互斥锁保护，WithTx 在数据集的副本上执行，成功才整体替换，
// 因此事务之间天然串行、失败不留痕迹。版本号校验与 MySQL 实现保持一致。
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mediacredits/internal/errs"
	"mediacredits/internal/model"
	"mediacredits/internal/store"
)

type dataset struct {
	nextID int64

	accounts     map[int64]*model.Account // key: UserID
	transactions []*model.CreditTransaction
	txRefs       map[string]struct{}

	auctions map[int64]*model.Auction
	bids     []*model.Bid

	wheel *model.WheelConfig
	spins []*model.WheelSpin

	invites map[string]*model.InvitationCode
	traffic []*model.TrafficUsage
	outbox  map[int64]*model.OutboxMessage
}

func newDataset() *dataset {
	return &dataset{
		accounts: make(map[int64]*model.Account),
		txRefs:   make(map[string]struct{}),
		auctions: make(map[int64]*model.Auction),
		invites:  make(map[string]*model.InvitationCode),
		outbox:   make(map[int64]*model.OutboxMessage),
	}
}

func (d *dataset) clone() *dataset {
	cp := &dataset{
		nextID:       d.nextID,
		accounts:     make(map[int64]*model.Account, len(d.accounts)),
		transactions: append([]*model.CreditTransaction(nil), d.transactions...),
		txRefs:       make(map[string]struct{}, len(d.txRefs)),
		auctions:     make(map[int64]*model.Auction, len(d.auctions)),
		bids:         append([]*model.Bid(nil), d.bids...),
		spins:        append([]*model.WheelSpin(nil), d.spins...),
		invites:      make(map[string]*model.InvitationCode, len(d.invites)),
		traffic:      append([]*model.TrafficUsage(nil), d.traffic...),
		outbox:       make(map[int64]*model.OutboxMessage, len(d.outbox)),
	}
	for k, v := range d.accounts {
		cp.accounts[k] = v.Clone()
	}
	for k := range d.txRefs {
		cp.txRefs[k] = struct{}{}
	}
	for k, v := range d.auctions {
		cp.auctions[k] = v.Clone()
	}
	if d.wheel != nil {
		cp.wheel = d.wheel.Clone()
	}
	for k, v := range d.invites {
		c := *v
		cp.invites[k] = &c
	}
	for k, v := range d.outbox {
		m := *v
		cp.outbox[k] = &m
	}
	return cp
}

func (d *dataset) id() int64 {
	d.nextID++
	return d.nextID
}

type Store struct {
	mu   *sync.Mutex
	data *dataset
	inTx bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{mu: &sync.Mutex{}, data: newDataset()}
}

// lock 事务内已经持有锁，不再重复加锁
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.data.clone()
	if err := fn(&Store{mu: s.mu, data: working, inTx: true}); err != nil {
		return err
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.data = working
	return nil
}

// ---------------------------------------------------------------------------
// Account
// ---------------------------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, a *model.Account) error {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if _, exists := s.data.accounts[a.UserID]; exists {
		return errs.ErrDuplicate
	}
	a.ID = s.data.id()
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.UnlockState == "" {
		a.UnlockState = model.UnlockStateLocked
	}
	s.data.accounts[a.UserID] = a.Clone()
	return nil
}

func (s *Store) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	a, ok := s.data.accounts[userID]
	if !ok {
		return nil, errs.ErrAccountNotFound
	}
	return a.Clone(), nil
}

func (s *Store) GetAccountForUpdate(ctx context.Context, userID int64) (*model.Account, error) {
	return s.GetAccount(ctx, userID)
}

func (s *Store) UpdateAccount(ctx context.Context, a *model.Account, expectedVersion int) error {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return err
	}
	cur, ok := s.data.accounts[a.UserID]
	if !ok {
		return errs.ErrAccountNotFound
	}
	if cur.Version != expectedVersion {
		return errs.ErrConcurrentConflict
	}
	a.Version = expectedVersion + 1
	a.UpdatedAt = time.Now()
	s.data.accounts[a.UserID] = a.Clone()
	return nil
}

func (s *Store) ListPremiumExpired(ctx context.Context, now time.Time, limit int) ([]*model.Account, error) {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var out []*model.Account
	for _, a := range s.data.accounts {
		if a.PremiumExpiry != nil && !a.PremiumExpiry.After(now) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PremiumExpiry.Before(*out[j].PremiumExpiry) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Transaction journal
// ---------------------------------------------------------------------------

func (s *Store) CreateTransaction(ctx context.Context, t *model.CreditTransaction) error {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if _, dup := s.data.txRefs[t.RefNo]; dup {
		return errs.ErrDuplicate
	}
	t.ID = s.data.id()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	cp := *t
	s.data.transactions = append(s.data.transactions, &cp)
	s.data.txRefs[t.RefNo] = struct{}{}
	return nil
}

func (s *Store) GetTransactionByRef(ctx context.Context, refNo string) (*model.CreditTransaction, error) {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if _, ok := s.data.txRefs[refNo]; !ok {
		return nil, nil
	}
	for _, t := range s.data.transactions {
		if t.RefNo == refNo {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return nil, 0, err
	}
	var all []*model.CreditTransaction
	for i := len(s.data.transactions) - 1; i >= 0; i-- {
		if t := s.data.transactions[i]; t.UserID == userID {
			cp := *t
			all = append(all, &cp)
		}
	}
	return paginate(all, page, pageSize), int64(len(all)), nil
}

func paginate[T any](items []T, page, pageSize int) []T {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return items
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return nil
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// ---------------------------------------------------------------------------
// Auction
// ---------------------------------------------------------------------------

func (s *Store) CreateAuction(ctx context.Context, a *model.Auction) error {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return err
	}
	a.ID = s.data.id()
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	s.data.auctions[a.ID] = a.Clone()
	return nil
}

func (s *Store) GetAuction(ctx context.Context, id int64) (*model.Auction, error) {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	a, ok := s.data.auctions[id]
	if !ok {
		return nil, errs.ErrAuctionNotFound
	}
	return a.Clone(), nil
}

func (s *Store) GetAuctionForUpdate(ctx context.Context, id int64) (*model.Auction, error) {
	return s.GetAuction(ctx, id)
}

func (s *Store) UpdateAuction(ctx context.Context, a *model.Auction, expectedVersion int) error {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return err
	}
	cur, ok := s.data.auctions[a.ID]
	if !ok {
		return errs.ErrAuctionNotFound
	}
	if cur.Version != expectedVersion {
		return errs.ErrConcurrentConflict
	}
	a.Version = expectedVersion + 1
	a.UpdatedAt = time.Now()
	s.data.auctions[a.ID] = a.Clone()
	return nil
}

func (s *Store) filterAuctions(keep func(*model.Auction) bool) []*model.Auction {
	var out []*model.Auction
	for _, a := range s.data.auctions {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	return out
}

func (s *Store) ListActiveAuctions(ctx context.Context, now time.Time) ([]*model.Auction, error) {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	out := s.filterAuctions(func(a *model.Auction) bool { return a.AcceptingBids(now) })
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

func (s *Store) ListExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]*model.Auction, error) {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	out := s.filterAuctions(func(a *model.Auction) bool { return a.IsActive && !a.EndTime.After(now) })
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListSettledAuctions(ctx context.Context, page, pageSize int) ([]*model.Auction, int64, error) {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return nil, 0, err
	}
	out := s.filterAuctions(func(a *model.Auction) bool { return !a.IsActive })
	sort.Slice(out, func(i, j int) bool {
		if out[i].SettledAt == nil || out[j].SettledAt == nil {
			return out[i].ID > out[j].ID
		}
		return out[i].SettledAt.After(*out[j].SettledAt)
	})
	return paginate(out, page, pageSize), int64(len(out)), nil
}

func (s *Store) CreateBid(ctx context.Context, b *model.Bid) error {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return err
	}
	b.ID = s.data.id()
	cp := *b
	s.data.bids = append(s.data.bids, &cp)
	return nil
}

// ListBids 按金额降序、时间升序返回
func (s *Store) ListBids(ctx context.Context, auctionID int64) ([]*model.Bid, error) {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var out []*model.Bid
	for _, b := range s.data.bids {
		if b.AuctionID == auctionID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ---------------------------------------------------------------------------
// Wheel
// ---------------------------------------------------------------------------

func (s *Store) GetWheelConfig(ctx context.Context) (*model.WheelConfig, error) {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if s.data.wheel == nil {
		return nil, fmt.Errorf("转盘配置%w", errs.ErrNotFound)
	}
	return s.data.wheel.Clone(), nil
}

func (s *Store) SaveWheelConfig(ctx context.Context, c *model.WheelConfig) error {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return err
	}
	c.ID = model.ActiveWheelConfigID
	c.UpdatedAt = time.Now()
	s.data.wheel = c.Clone()
	return nil
}

func (s *Store) CreateWheelSpin(ctx context.Context, sp *model.WheelSpin) error {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return err
	}
	sp.ID = s.data.id()
	if sp.CreatedAt.IsZero() {
		sp.CreatedAt = time.Now()
	}
	cp := *sp
	s.data.spins = append(s.data.spins, &cp)
	return nil
}

func (s *Store) ListWheelSpins(ctx context.Context, userID int64, limit int) ([]*model.WheelSpin, error) {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var out []*model.WheelSpin
	for i := len(s.data.spins) - 1; i >= 0; i-- {
		if sp := s.data.spins[i]; sp.UserID == userID {
			cp := *sp
			out = append(out, &cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) CountWheelSpinsByItem(ctx context.Context) ([]model.WheelItemStat, error) {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	counts := map[string]int64{}
	for _, sp := range s.data.spins {
		counts[sp.ItemName]++
	}
	out := make([]model.WheelItemStat, 0, len(counts))
	for name, n := range counts {
		out = append(out, model.WheelItemStat{ItemName: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemName < out[j].ItemName })
	return out, nil
}

// ---------------------------------------------------------------------------
// Invitation code
// ---------------------------------------------------------------------------

func (s *Store) CreateInviteCode(ctx context.Context, c *model.InvitationCode) error {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if _, dup := s.data.invites[c.Code]; dup {
		return errs.ErrDuplicate
	}
	c.ID = s.data.id()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	cp := *c
	s.data.invites[c.Code] = &cp
	return nil
}

func (s *Store) GetInviteCode(ctx context.Context, code string) (*model.InvitationCode, error) {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	c, ok := s.data.invites[code]
	if !ok {
		return nil, errs.ErrInviteNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) MarkInviteCodeUsed(ctx context.Context, code string, usedBy int64, usedAt time.Time) error {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return err
	}
	c, ok := s.data.invites[code]
	if !ok {
		return errs.ErrInviteNotFound
	}
	if c.IsUsed {
		return errs.ErrInviteUsed
	}
	c.IsUsed = true
	c.UsedBy = &usedBy
	c.UsedAt = &usedAt
	return nil
}

func (s *Store) ListInviteCodes(ctx context.Context, owner int64) ([]*model.InvitationCode, error) {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var out []*model.InvitationCode
	for _, c := range s.data.invites {
		if c.Owner == owner {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---------------------------------------------------------------------------
// Traffic usage
// ---------------------------------------------------------------------------

func (s *Store) CreateTrafficUsage(ctx context.Context, u *model.TrafficUsage) error {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return err
	}
	u.ID = s.data.id()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	cp := *u
	s.data.traffic = append(s.data.traffic, &cp)
	return nil
}

func (s *Store) AggregateTrafficUsage(ctx context.Context, date string) ([]model.TrafficAggregate, error) {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	byUser := map[int64]*model.TrafficAggregate{}
	for _, u := range s.data.traffic {
		if u.Date != date {
			continue
		}
		agg, ok := byUser[u.UserID]
		if !ok {
			agg = &model.TrafficAggregate{UserID: u.UserID, Date: date}
			byUser[u.UserID] = agg
		}
		agg.BytesUsed += u.BytesUsed
		agg.Premium = agg.Premium || u.PremiumFlag
	}
	out := make([]model.TrafficAggregate, 0, len(byUser))
	for _, agg := range byUser {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// ---------------------------------------------------------------------------
// Outbox
// ---------------------------------------------------------------------------

func (s *Store) CreateOutboxMessage(ctx context.Context, msg *model.OutboxMessage) error {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return err
	}
	msg.ID = s.data.id()
	now := time.Now()
	msg.CreatedAt, msg.UpdatedAt = now, now
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	cp := *msg
	s.data.outbox[msg.ID] = &cp
	return nil
}

func (s *Store) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var out []*model.OutboxMessage
	for _, m := range s.data.outbox {
		if m.Status == model.OutboxStatusPending {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) outboxByID(id int64) (*model.OutboxMessage, error) {
	m, ok := s.data.outbox[id]
	if !ok {
		return nil, fmt.Errorf("消息%w: id=%d", errs.ErrNotFound, id)
	}
	return m, nil
}

func (s *Store) UpdateOutboxStatus(ctx context.Context, id int64, status string) error {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return err
	}
	m, err := s.outboxByID(id)
	if err != nil {
		return err
	}
	m.Status = status
	m.UpdatedAt = time.Now()
	return nil
}

func (s *Store) IncrementOutboxRetry(ctx context.Context, id int64) error {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return err
	}
	m, err := s.outboxByID(id)
	if err != nil {
		return err
	}
	m.RetryCount++
	return nil
}

func (s *Store) MarkOutboxFailed(ctx context.Context, id int64) error {
	defer s.lock()()
	if err := checkCtx(ctx); err != nil {
		return err
	}
	m, err := s.outboxByID(id)
	if err != nil {
		return err
	}
	m.Status = model.OutboxStatusFailed
	m.RetryCount++
	return nil
}
