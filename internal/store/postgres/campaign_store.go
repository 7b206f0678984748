package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

// CampaignStore implements domain.CampaignStore using PostgreSQL.
type CampaignStore struct {
	pool *pgxpool.Pool
}

// NewCampaignStore creates a new CampaignStore backed by the given pool.
func NewCampaignStore(pool *pgxpool.Pool) *CampaignStore {
	return &CampaignStore{pool: pool}
}

// Upsert writes the latest snapshot of a campaign.
func (s *CampaignStore) Upsert(ctx context.Context, c domain.Campaign) error {
	const query = `
		INSERT INTO campaigns (
			id, creator, token, phase, active,
			private_target, public_target, private_price, public_price,
			min_private, max_private, min_public, max_public,
			total_supply, liquidity_percent, private_duration_s, public_duration_s,
			private_start, private_end, public_start, public_end,
			private_raised_ct, public_raised_ct, allocated_ct,
			decryption_complete, private_raised, public_raised, allocated,
			liquidity_tokens, tokens_reclaimed, pending_request_id,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21,
			$22, $23, $24,
			$25, $26, $27, $28,
			$29, $30, $31,
			$32, $33
		)
		ON CONFLICT (id) DO UPDATE SET
			phase = EXCLUDED.phase,
			active = EXCLUDED.active,
			private_raised_ct = EXCLUDED.private_raised_ct,
			public_raised_ct = EXCLUDED.public_raised_ct,
			allocated_ct = EXCLUDED.allocated_ct,
			decryption_complete = EXCLUDED.decryption_complete,
			private_raised = EXCLUDED.private_raised,
			public_raised = EXCLUDED.public_raised,
			allocated = EXCLUDED.allocated,
			liquidity_tokens = EXCLUDED.liquidity_tokens,
			tokens_reclaimed = EXCLUDED.tokens_reclaimed,
			pending_request_id = EXCLUDED.pending_request_id,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		int64(c.ID), c.Creator.Hex(), c.Token.Hex(), c.Phase.String(), c.Active,
		numeric(c.PrivateTarget), numeric(c.PublicTarget), numeric(c.PrivatePrice), numeric(c.PublicPrice),
		numeric(c.MinPrivate), numeric(c.MaxPrivate), numeric(c.MinPublic), numeric(c.MaxPublic),
		numeric(c.TotalSupply), int16(c.LiquidityPercent),
		int64(c.PrivateDuration/time.Second), int64(c.PublicDuration/time.Second),
		c.PrivateStart, c.PrivateEnd, c.PublicStart, c.PublicEnd,
		c.TotalPrivateRaised.Handle.Hex(), c.TotalPublicRaised.Handle.Hex(), c.TokensAllocated.Handle.Hex(),
		c.DecryptionComplete, numeric(c.PrivateRaised), numeric(c.PublicRaised), numeric(c.Allocated),
		numeric(c.LiquidityTokens), c.TokensReclaimed, int64(c.PendingDecryptionID),
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert campaign %d: %w", c.ID, err)
	}
	return nil
}

const campaignSelectCols = `id, creator, token, phase, active,
	private_target::text, public_target::text, private_price::text, public_price::text,
	min_private::text, max_private::text, min_public::text, max_public::text,
	total_supply::text, liquidity_percent, private_duration_s, public_duration_s,
	private_start, private_end, public_start, public_end,
	private_raised_ct, public_raised_ct, allocated_ct,
	decryption_complete, private_raised::text, public_raised::text, allocated::text,
	liquidity_tokens::text, tokens_reclaimed, pending_request_id,
	created_at, updated_at`

// GetByID returns one campaign or domain.ErrNotFound.
func (s *CampaignStore) GetByID(ctx context.Context, id uint64) (domain.Campaign, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+campaignSelectCols+` FROM campaigns WHERE id = $1`, int64(id))
	c, err := scanCampaign(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Campaign{}, fmt.Errorf("postgres: campaign %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Campaign{}, fmt.Errorf("postgres: get campaign %d: %w", id, err)
	}
	return c, nil
}

// List returns campaigns newest first.
func (s *CampaignStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Campaign, error) {
	query, args := newListQuery(`SELECT ` + campaignSelectCols + ` FROM campaigns WHERE 1=1`).
		apply("created_at", "id DESC", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan campaign: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list campaigns rows: %w", err)
	}
	return out, nil
}

func scanCampaign(row pgx.Row) (domain.Campaign, error) {
	var (
		c                                        domain.Campaign
		id, privDur, pubDur, pending             int64
		liqPct                                   int16
		creator, token, phase                    string
		privCT, pubCT, allocCT                   string
		privTarget, pubTarget, privPrice, pubPrc string
		minPriv, maxPriv, minPub, maxPub, supply string
		privRaised, pubRaised, alloc, liqTokens  *string
	)
	err := row.Scan(
		&id, &creator, &token, &phase, &c.Active,
		&privTarget, &pubTarget, &privPrice, &pubPrc,
		&minPriv, &maxPriv, &minPub, &maxPub,
		&supply, &liqPct, &privDur, &pubDur,
		&c.PrivateStart, &c.PrivateEnd, &c.PublicStart, &c.PublicEnd,
		&privCT, &pubCT, &allocCT,
		&c.DecryptionComplete, &privRaised, &pubRaised, &alloc,
		&liqTokens, &c.TokensReclaimed, &pending,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Campaign{}, err
	}

	c.ID = uint64(id)
	c.PendingDecryptionID = uint64(pending)
	c.LiquidityPercent = uint8(liqPct)
	c.PrivateDuration = time.Duration(privDur) * time.Second
	c.PublicDuration = time.Duration(pubDur) * time.Second
	if err := c.Phase.UnmarshalText([]byte(phase)); err != nil {
		return domain.Campaign{}, err
	}
	if c.Creator, err = parseAddress(creator); err != nil {
		return domain.Campaign{}, err
	}
	if c.Token, err = parseAddress(token); err != nil {
		return domain.Campaign{}, err
	}
	if c.TotalPrivateRaised, err = parseCiphertext(privCT); err != nil {
		return domain.Campaign{}, err
	}
	if c.TotalPublicRaised, err = parseCiphertext(pubCT); err != nil {
		return domain.Campaign{}, err
	}
	if c.TokensAllocated, err = parseCiphertext(allocCT); err != nil {
		return domain.Campaign{}, err
	}

	required := []struct {
		dst **uint256.Int
		src string
	}{
		{&c.PrivateTarget, privTarget}, {&c.PublicTarget, pubTarget},
		{&c.PrivatePrice, privPrice}, {&c.PublicPrice, pubPrc},
		{&c.MinPrivate, minPriv}, {&c.MaxPrivate, maxPriv},
		{&c.MinPublic, minPub}, {&c.MaxPublic, maxPub},
		{&c.TotalSupply, supply},
	}
	for _, f := range required {
		if *f.dst, err = parseAmount(&f.src); err != nil {
			return domain.Campaign{}, err
		}
	}
	optional := []struct {
		dst **uint256.Int
		src *string
	}{
		{&c.PrivateRaised, privRaised}, {&c.PublicRaised, pubRaised},
		{&c.Allocated, alloc}, {&c.LiquidityTokens, liqTokens},
	}
	for _, f := range optional {
		if *f.dst, err = parseAmount(f.src); err != nil {
			return domain.Campaign{}, err
		}
	}
	return c, nil
}
