package database

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatInvoiceNumber(t *testing.T) {
	assert.Equal(t, "20267", FormatInvoiceNumber(2026, 7))
	assert.Equal(t, "20261", FormatInvoiceNumber(2026, 1))
	assert.Equal(t, "2026100", FormatInvoiceNumber(2026, 100))
	assert.Equal(t, "20271042", FormatInvoiceNumber(2027, 1042))
}

func TestAdvanceIssuesSeedAfterInitialize(t *testing.T) {
	// Initialize stores seed-1 so the first allocation issues the seed.
	c := InvoiceCounter{TenantID: 555, Year: 2026, Counter: 100 - 1}

	assert.Equal(t, int64(100), advance(&c))
	assert.Equal(t, int64(101), advance(&c))
	assert.False(t, c.LastUpdated.IsZero())
}

// txnCounterDoc mimics the optimistic concurrency Next relies on: a
// commit against a stale snapshot aborts and the caller re-reads, which
// is what RunTransaction does on contention.
type txnCounterDoc struct {
	mu      sync.Mutex
	version int
	data    InvoiceCounter
}

func (d *txnCounterDoc) snapshot() (InvoiceCounter, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data, d.version
}

func (d *txnCounterDoc) commit(readVersion int, data InvoiceCounter) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.version != readVersion {
		return false
	}
	d.data = data
	d.version++
	return true
}

// Concurrent allocations through the transaction body must come out
// distinct and dense, no matter how the retries interleave.
func TestAdvanceDistinctUnderContention(t *testing.T) {
	doc := &txnCounterDoc{data: InvoiceCounter{TenantID: 555, Year: 2026}}
	const n = 50

	results := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				c, v := doc.snapshot()
				issued := advance(&c)
				if doc.commit(v, c) {
					results <- issued
					return
				}
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int64]bool{}
	for num := range results {
		require.False(t, seen[num], "number %d issued twice", num)
		seen[num] = true
	}
	assert.Len(t, seen, n)
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "missing number %d", i)
	}
}
