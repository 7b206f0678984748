package s3blob

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []string
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	m.puts = append(m.puts, path)
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func settledCampaign() domain.Campaign {
	c := domain.Campaign{
		ID:      7,
		Creator: common.HexToAddress("0xc0"),
		Phase:   domain.PhaseCompleted,
	}
	c.Token = common.HexToAddress("0x70")
	c.PrivateTarget = uint256.NewInt(1000)
	c.PublicTarget = uint256.NewInt(2000)
	c.TotalSupply = uint256.NewInt(1_000_000)
	c.PrivateRaised = uint256.NewInt(1200)
	c.PublicRaised = uint256.NewInt(2100)
	c.Allocated = uint256.NewInt(50_000)
	c.LiquidityTokens = uint256.NewInt(10_000)
	c.DecryptionComplete = true
	return c
}

func TestArchiveSettlementReport(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	audit := &memAudit{}
	a := NewReportArchiver(blobs, blobs, audit)
	a.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	invs := []domain.Investment{
		{Investor: common.HexToAddress("0xa1"), Phase: domain.PhasePrivateSale, Actual: uint256.NewInt(1200)},
		{Investor: common.HexToAddress("0xb0"), Phase: domain.PhasePublicSale, Actual: uint256.NewInt(2100), Claimed: true},
	}
	wrote, err := a.Archive(ctx, settledCampaign(), invs)
	require.NoError(t, err)
	require.True(t, wrote)
	require.Equal(t, []string{
		"reports/campaign-00000007/investments.jsonl",
		"reports/campaign-00000007/summary.json",
	}, blobs.puts)
	require.Equal(t, []string{"archive.settlement"}, audit.events)

	r, err := a.Report(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "completed", r.Phase)
	require.Equal(t, "1200", r.PrivateRaised)
	require.Equal(t, "10000", r.LiquidityTokens)
	require.Equal(t, 2, r.Investments)

	rc, err := a.Investments(ctx, 7)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(string(body)), "\n"), 2)
	require.Contains(t, string(body), `"phase":"public_sale"`)

	list, err := a.Archived(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	wrote, err = a.Archive(ctx, settledCampaign(), invs)
	require.NoError(t, err)
	require.False(t, wrote)
	require.Len(t, blobs.puts, 2)
}

func TestArchiveRejectsRunningCampaign(t *testing.T) {
	blobs := newMemBlobs()
	c := settledCampaign()
	c.Phase = domain.PhasePublicSale
	_, err := NewReportArchiver(blobs, blobs, nil).Archive(context.Background(), c, nil)
	require.ErrorIs(t, err, domain.ErrPhaseViolation)
	require.Empty(t, blobs.puts)
}

func TestCancelledWithoutDecryptionHasEmptyTotals(t *testing.T) {
	blobs := newMemBlobs()
	c := settledCampaign()
	c.Phase = domain.PhaseCancelled
	c.PrivateRaised, c.PublicRaised, c.Allocated, c.LiquidityTokens = nil, nil, nil, nil
	a := NewReportArchiver(blobs, blobs, nil)

	_, err := a.Archive(context.Background(), c, nil)
	require.NoError(t, err)
	r, err := a.Report(context.Background(), c.ID)
	require.NoError(t, err)
	require.Empty(t, r.PrivateRaised)
	require.Equal(t, "1000000", r.TotalSupply)
}

func TestReportMissing(t *testing.T) {
	blobs := newMemBlobs()
	_, err := NewReportArchiver(blobs, blobs, nil).Report(context.Background(), 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNormaliseEndpoint(t *testing.T) {
	require.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	require.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	require.Equal(t, "https://e2.example.com", normaliseEndpoint("https://e2.example.com", false))
}
