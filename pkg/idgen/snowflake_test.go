package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIsUniqueUnderConcurrency(t *testing.T) {
	const n = 2000
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n/8; j++ {
				id := NextID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestNumberPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(GenerateTransactionNo(), "TXN"))
	assert.True(t, strings.HasPrefix(GenerateBidNo(), "BID"))
	assert.True(t, strings.HasPrefix(GenerateSpinNo(), "SPN"))
	assert.True(t, strings.HasPrefix(GenerateRefNo("ADJ"), "ADJ"))
}

func TestGenerateInviteCode(t *testing.T) {
	a, b := GenerateInviteCode(), GenerateInviteCode()
	require.Len(t, a, 16)
	assert.NotEqual(t, a, b)
	assert.Equal(t, strings.ToUpper(a), a)
}
