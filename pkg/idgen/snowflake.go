package idgen

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// 流水号 / 出价单号 / 抽奖记录号
// ============================================================================
//
// 号码同时充当幂等键的一部分（抽奖的 spinNo-C / spinNo-P），多副本下必须不重复，
// 所以用 41 位毫秒时间戳 + 10 位 worker_id + 12 位序列号的雪花ID，
// worker_id 来自 server.worker_id，每个副本配置不同的值。
// ============================================================================

const (
	epoch          = int64(1704067200000) // 起始时间戳（2024-01-01 00:00:00 UTC）
	workerIDBits   = 10                   // 机器ID位数
	sequenceBits   = 12                   // 序列号位数
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// Init 初始化默认ID生成器
func Init(workerID int64) {
	once.Do(func() {
		if workerID < 0 || workerID > maxWorkerID {
			log.Fatalf("workerID 必须在 0-%d 之间", maxWorkerID)
		}
		defaultGenerator = &Snowflake{workerID: workerID}
		log.Printf("ID 生成器初始化: workerID=%d", workerID)
	})
}

// NextID 生成下一个ID
func NextID() int64 {
	Init(1) // 未显式初始化时默认 workerID = 1，已初始化时无效果
	return defaultGenerator.Generate()
}

// Generate 生成ID
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.timestamp {
		// 时钟回拨：沿用上一次的时间戳继续发号，避免与已发出的号码重复
		now = s.timestamp
	}

	if now == s.timestamp {
		// 同一毫秒内，序列号递增
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= s.timestamp {
				time.Sleep(100 * time.Microsecond)
				now = time.Now().UnixMilli()
			}
		}
	} else {
		// 不同毫秒，序列号重置
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) | (s.workerID << workerIDShift) | s.sequence
}

func generate(prefix string) string {
	id := NextID()
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf("%s%s%08d", prefix, timestamp, id%100000000)
}

// GenerateTransactionNo 生成流水号，TXN + yyyyMMddHHmmss + 雪花ID后8位
func GenerateTransactionNo() string {
	return generate("TXN")
}

// GenerateBidNo 生成出价单号
func GenerateBidNo() string {
	return generate("BID")
}

// GenerateSpinNo 生成抽奖记录号
func GenerateSpinNo() string {
	return generate("SPN")
}

// GenerateRefNo 生成业务单号，用于没有天然业务键的入账
func GenerateRefNo(prefix string) string {
	return generate(prefix)
}

// GenerateInviteCode 生成邀请码
//
// 邀请码会被用户直接分享，不能像流水号一样可预测，所以用随机 UUID 而不是雪花ID
func GenerateInviteCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:16])
}
