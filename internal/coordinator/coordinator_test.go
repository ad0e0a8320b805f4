package coordinator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryClaimSucceedsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, "host-1", time.Minute)
	require.NoError(t, err)

	ok, err := c.TryClaim("AAPL")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = os.Stat(filepath.Join(dir, "AAPL.claim.json"))
	require.NoError(t, err)
}

func TestTryClaimFailsAgainstLiveOwner(t *testing.T) {
	dir := t.TempDir()
	owner, err := New(dir, "host-1", time.Minute)
	require.NoError(t, err)
	other, err := New(dir, "host-2", time.Minute)
	require.NoError(t, err)

	ok, err := owner.TryClaim("AAPL")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = other.TryClaim("AAPL")
	require.NoError(t, err)
	assert.False(t, ok, "a live, non-stale claim must not be stealable")
}

func TestTryClaimIsIdempotentForOwner(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, "host-1", time.Minute)
	require.NoError(t, err)

	ok, err := c.TryClaim("AAPL")
	require.NoError(t, err)
	require.True(t, ok)

	claim, present, err := readClaim(c.path("AAPL"))
	require.NoError(t, err)
	require.True(t, present)
	firstClaimedAt := claim.ClaimedAt

	ok, err = c.TryClaim("AAPL")
	require.NoError(t, err)
	assert.True(t, ok)

	claim, present, err = readClaim(c.path("AAPL"))
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, firstClaimedAt, claim.ClaimedAt, "re-claiming by the owner must not reset claimedAt")
}

func TestTryClaimReclaimsStaleClaim(t *testing.T) {
	dir := t.TempDir()
	stalePath := filepath.Join(dir, "AAPL.claim.json")
	stale := Claim{
		Symbol:        "AAPL",
		InstanceID:    "dead-host",
		ClaimedAt:     time.Now().Add(-time.Hour),
		LastHeartbeat: time.Now().Add(-2 * time.Minute),
	}
	require.NoError(t, writeClaim(stalePath, stale))

	c, err := New(dir, "host-1", time.Minute)
	require.NoError(t, err)

	ok, err := c.TryClaim("AAPL")
	require.NoError(t, err)
	assert.True(t, ok, "a stale claim must be reclaimable")

	claim, present, err := readClaim(stalePath)
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, "host-1", claim.InstanceID)
}

func TestReleaseRemovesOwnedClaim(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, "host-1", time.Minute)
	require.NoError(t, err)

	_, err = c.TryClaim("AAPL")
	require.NoError(t, err)

	require.NoError(t, c.Release("AAPL"))

	_, err = os.Stat(filepath.Join(dir, "AAPL.claim.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestReleaseOfUnownedSymbolIsNoop(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, "host-1", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, c.Release("NEVER_CLAIMED"))
}

func TestRefreshHeartbeatAdvancesLastHeartbeat(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, "host-1", time.Minute)
	require.NoError(t, err)

	_, err = c.TryClaim("AAPL")
	require.NoError(t, err)

	before, _, err := readClaim(c.path("AAPL"))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.RefreshHeartbeat())

	after, _, err := readClaim(c.path("AAPL"))
	require.NoError(t, err)
	assert.True(t, after.LastHeartbeat.After(before.LastHeartbeat))
}

func TestRefreshHeartbeatDropsStolenClaim(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, "host-1", time.Minute)
	require.NoError(t, err)

	_, err = c.TryClaim("AAPL")
	require.NoError(t, err)

	// Simulate another instance stealing the file directly.
	stolen := Claim{Symbol: "AAPL", InstanceID: "host-2", ClaimedAt: time.Now(), LastHeartbeat: time.Now()}
	require.NoError(t, writeClaim(c.path("AAPL"), stolen))

	require.NoError(t, c.RefreshHeartbeat())

	claim, present, err := readClaim(c.path("AAPL"))
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, "host-2", claim.InstanceID, "refresh must not overwrite another instance's claim")
}

func TestReclaimStaleReturnsRemovedCount(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, "host-1", 50*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, writeClaim(filepath.Join(dir, "AAPL.claim.json"), Claim{
		Symbol: "AAPL", InstanceID: "dead", ClaimedAt: time.Now(), LastHeartbeat: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, writeClaim(filepath.Join(dir, "MSFT.claim.json"), Claim{
		Symbol: "MSFT", InstanceID: "alive", ClaimedAt: time.Now(), LastHeartbeat: time.Now(),
	}))

	n, err := c.ReclaimStale()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(filepath.Join(dir, "AAPL.claim.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "MSFT.claim.json"))
	assert.NoError(t, err)
}

func TestGetAllClaimsExcludesStale(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, "host-1", 50*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, writeClaim(filepath.Join(dir, "AAPL.claim.json"), Claim{
		Symbol: "AAPL", InstanceID: "dead", ClaimedAt: time.Now(), LastHeartbeat: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, writeClaim(filepath.Join(dir, "MSFT.claim.json"), Claim{
		Symbol: "MSFT", InstanceID: "alive", ClaimedAt: time.Now(), LastHeartbeat: time.Now(),
	}))

	claims, err := c.GetAllClaims()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"MSFT": "alive"}, claims)
}

func TestSanitizeSymbolReplacesPathHostileCharacters(t *testing.T) {
	assert.Equal(t, "BRK_B", sanitizeSymbol("BRK/B"))
	assert.Equal(t, "EUR_USD", sanitizeSymbol("EUR:USD"))
	assert.Equal(t, "A_B", sanitizeSymbol(`A\B`))
}

func TestTryClaimUniqueAcrossConcurrentInstances(t *testing.T) {
	dir := t.TempDir()
	const n = 8
	coords := make([]*Coordinator, n)
	for i := range coords {
		c, err := New(dir, filepath.Join("host", string(rune('a'+i))), time.Minute)
		require.NoError(t, err)
		coords[i] = c
	}

	results := make(chan bool, n)
	start := make(chan struct{})
	for _, c := range coords {
		c := c
		go func() {
			<-start
			ok, _ := c.TryClaim("AAPL")
			results <- ok
		}()
	}
	close(start)

	successes := 0
	for i := 0; i < n; i++ {
		if <-results {
			successes++
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent TryClaim must succeed")
}
