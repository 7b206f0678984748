package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

const reportPrefix = "reports/"

// SettlementReport is the public outcome of a finished campaign. Amounts are
// decimal wei strings and are empty when the totals were never decrypted.
type SettlementReport struct {
	CampaignID      uint64    `json:"campaign_id"`
	Token           string    `json:"token"`
	Creator         string    `json:"creator"`
	Phase           string    `json:"phase"`
	PrivateTarget   string    `json:"private_target"`
	PublicTarget    string    `json:"public_target"`
	PrivateRaised   string    `json:"private_raised"`
	PublicRaised    string    `json:"public_raised"`
	TokensAllocated string    `json:"tokens_allocated"`
	LiquidityTokens string    `json:"liquidity_tokens"`
	TotalSupply     string    `json:"total_supply"`
	Investments     int       `json:"investments"`
	GeneratedAt     time.Time `json:"generated_at"`
}

type investmentLine struct {
	Investor   string    `json:"investor"`
	Phase      string    `json:"phase"`
	Amount     string    `json:"amount"`
	Commitment string    `json:"commitment"`
	Claimed    bool      `json:"claimed"`
	Refunded   bool      `json:"refunded"`
	At         time.Time `json:"at"`
}

// ReportArchiver writes one summary and one JSONL investment listing per
// finished campaign. Archiving is idempotent: an existing summary is left
// alone.
type ReportArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	now    func() time.Time
}

// NewReportArchiver creates a ReportArchiver. audit may be nil.
func NewReportArchiver(w domain.BlobWriter, r domain.BlobReader, audit domain.AuditStore) *ReportArchiver {
	return &ReportArchiver{writer: w, reader: r, audit: audit, now: time.Now}
}

// SummaryPath is the object key of a campaign's summary.
func SummaryPath(id uint64) string {
	return fmt.Sprintf("%scampaign-%08d/summary.json", reportPrefix, id)
}

func investmentsPath(id uint64) string {
	return fmt.Sprintf("%scampaign-%08d/investments.jsonl", reportPrefix, id)
}

// Archive stores the report of a terminal campaign and reports whether it
// wrote anything.
func (a *ReportArchiver) Archive(ctx context.Context, c domain.Campaign, invs []domain.Investment) (bool, error) {
	if !c.Phase.Terminal() {
		return false, fmt.Errorf("s3blob: archive campaign %d in %s: %w", c.ID, c.Phase, domain.ErrPhaseViolation)
	}
	path := SummaryPath(c.ID)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("s3blob: archive campaign %d: %w", c.ID, err)
	}
	if exists {
		return false, nil
	}

	lines := make([]investmentLine, len(invs))
	for i, inv := range invs {
		lines[i] = investmentLine{
			Investor:   inv.Investor.Hex(),
			Phase:      inv.Phase.String(),
			Amount:     decimal(inv.Actual),
			Commitment: inv.Commitment.Hex(),
			Claimed:    inv.Claimed,
			Refunded:   inv.Refunded,
			At:         inv.Timestamp,
		}
	}
	listing, err := marshalJSONL(lines)
	if err != nil {
		return false, fmt.Errorf("s3blob: archive campaign %d: %w", c.ID, err)
	}
	// The listing goes first so a present summary implies a complete report.
	if err := a.writer.Put(ctx, investmentsPath(c.ID), bytes.NewReader(listing), "application/x-ndjson"); err != nil {
		return false, fmt.Errorf("s3blob: archive campaign %d: %w", c.ID, err)
	}

	summary, err := json.MarshalIndent(buildReport(c, len(invs), a.now()), "", "  ")
	if err != nil {
		return false, fmt.Errorf("s3blob: archive campaign %d: %w", c.ID, err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(summary), "application/json"); err != nil {
		return false, fmt.Errorf("s3blob: archive campaign %d: %w", c.ID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.settlement", map[string]any{
			"campaign_id": c.ID,
			"path":        path,
			"investments": len(invs),
		}); err != nil {
			return true, fmt.Errorf("s3blob: archive campaign %d audit log: %w", c.ID, err)
		}
	}
	return true, nil
}

// Report loads a stored summary.
func (a *ReportArchiver) Report(ctx context.Context, id uint64) (SettlementReport, error) {
	rc, err := a.reader.Get(ctx, SummaryPath(id))
	if err != nil {
		return SettlementReport{}, err
	}
	defer rc.Close()

	var r SettlementReport
	if err := json.NewDecoder(rc).Decode(&r); err != nil {
		return SettlementReport{}, fmt.Errorf("s3blob: decode report %d: %w", id, err)
	}
	return r, nil
}

// Investments streams a stored investment listing; the caller closes it.
func (a *ReportArchiver) Investments(ctx context.Context, id uint64) (io.ReadCloser, error) {
	return a.reader.Get(ctx, investmentsPath(id))
}

// Archived lists the summaries in the bucket.
func (a *ReportArchiver) Archived(ctx context.Context) ([]domain.BlobInfo, error) {
	all, err := a.reader.List(ctx, reportPrefix)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, b := range all {
		if strings.HasSuffix(b.Path, "/summary.json") {
			out = append(out, b)
		}
	}
	return out, nil
}

func buildReport(c domain.Campaign, investments int, now time.Time) SettlementReport {
	return SettlementReport{
		CampaignID:      c.ID,
		Token:           c.Token.Hex(),
		Creator:         c.Creator.Hex(),
		Phase:           c.Phase.String(),
		PrivateTarget:   decimal(c.PrivateTarget),
		PublicTarget:    decimal(c.PublicTarget),
		PrivateRaised:   decimal(c.PrivateRaised),
		PublicRaised:    decimal(c.PublicRaised),
		TokensAllocated: decimal(c.Allocated),
		LiquidityTokens: decimal(c.LiquidityTokens),
		TotalSupply:     decimal(c.TotalSupply),
		Investments:     investments,
		GeneratedAt:     now.UTC(),
	}
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
