// Package storage provides a SQLite-backed store for campaigns, interest
// records, pledges and brand memberships.
//
// It is the narrow read/write collaborator behind scoring and aggregation:
// records are validated on write and returned as value snapshots on read, so
// callers never hold references into store state. Brand membership lookups
// make the store usable as the privacy.AccessGate.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/demandsignal/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Brand member roles.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

const schema = `
CREATE TABLE IF NOT EXISTS campaigns (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	category     TEXT NOT NULL DEFAULT '',
	creator_id   TEXT NOT NULL,
	brand_id     TEXT NOT NULL DEFAULT '',
	goal         INTEGER NOT NULL DEFAULT 0,
	target_price REAL NOT NULL DEFAULT 0,
	currency     TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS interest_records (
	id          TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id),
	user_id     TEXT NOT NULL,
	intensity   INTEGER NOT NULL,
	created_at  INTEGER NOT NULL,
	verified    INTEGER NOT NULL DEFAULT 0,
	region      TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_interest_campaign ON interest_records(campaign_id, created_at);
CREATE TABLE IF NOT EXISTS pledges (
	id          TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id),
	user_id     TEXT NOT NULL,
	amount      REAL NOT NULL,
	currency    TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pledges_campaign ON pledges(campaign_id, created_at);
CREATE TABLE IF NOT EXISTS brand_members (
	brand_id TEXT NOT NULL,
	user_id  TEXT NOT NULL,
	role     TEXT NOT NULL,
	PRIMARY KEY (brand_id, user_id)
);
`

// Storage is a SQLite-backed record store. It is safe for concurrent use.
type Storage struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
// Use ":memory:" for an ephemeral store.
func New(dbPath string) (*Storage, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// AddCampaign inserts or replaces a campaign.
func (s *Storage) AddCampaign(ctx context.Context, c *models.Campaign) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid campaign: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO campaigns
			(id, title, description, category, creator_id, brand_id, goal, target_price, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Description, c.Category, c.CreatorID, c.BrandID, c.Goal, c.TargetPrice, c.Currency, toUnix(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert campaign %s: %w", c.ID, err)
	}
	return nil
}

const campaignColumns = `id, title, description, category, creator_id, brand_id, goal, target_price, currency, created_at`

// GetCampaign retrieves a campaign by ID
func (s *Storage) GetCampaign(ctx context.Context, id string) (models.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Campaign{}, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Campaign{}, fmt.Errorf("failed to get campaign %s: %w", id, err)
	}
	return c, nil
}

// ListCampaigns returns all campaigns ordered by ID
func (s *Storage) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// AddInterest stores an interest record. A missing ID is generated.
func (s *Storage) AddInterest(ctx context.Context, r *models.InterestRecord) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid interest record: %w", err)
	}
	if err := s.requireCampaign(ctx, r.CampaignID); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interest_records (id, campaign_id, user_id, intensity, created_at, verified, region, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CampaignID, r.UserID, int(r.Intensity), toUnix(r.CreatedAt), r.Verified, r.Region, r.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert interest record: %w", err)
	}
	return nil
}

// InterestRecords returns a snapshot of a campaign's interest records, oldest first.
func (s *Storage) InterestRecords(ctx context.Context, campaignID string) ([]models.InterestRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, user_id, intensity, created_at, verified, region, reason
		FROM interest_records WHERE campaign_id = ? ORDER BY created_at, id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interest records: %w", err)
	}
	defer rows.Close()

	records := []models.InterestRecord{}
	for rows.Next() {
		var r models.InterestRecord
		var intensity int
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.UserID, &intensity, &createdAt, &r.Verified, &r.Region, &r.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan interest record: %w", err)
		}
		r.Intensity = models.Intensity(intensity)
		r.CreatedAt = fromUnix(createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// AddPledge stores a pledge. A missing ID is generated and the currency is
// kept as given.
func (s *Storage) AddPledge(ctx context.Context, p *models.PledgeRecord) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid pledge: %w", err)
	}
	if err := s.requireCampaign(ctx, p.CampaignID); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pledges (id, campaign_id, user_id, amount, currency, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CampaignID, p.UserID, p.Amount, p.Currency, string(p.Status), toUnix(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert pledge: %w", err)
	}
	return nil
}

// Pledges returns a snapshot of a campaign's pledges, oldest first.
func (s *Storage) Pledges(ctx context.Context, campaignID string) ([]models.PledgeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, user_id, amount, currency, status, created_at
		FROM pledges WHERE campaign_id = ? ORDER BY created_at, id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pledges: %w", err)
	}
	defer rows.Close()

	pledges := []models.PledgeRecord{}
	for rows.Next() {
		var p models.PledgeRecord
		var status string
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.CampaignID, &p.UserID, &p.Amount, &p.Currency, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan pledge: %w", err)
		}
		p.Status = models.PledgeStatus(status)
		p.CreatedAt = fromUnix(createdAt)
		pledges = append(pledges, p)
	}
	return pledges, rows.Err()
}

// AddBrandMember grants userID a role on brandID, replacing any previous role.
func (s *Storage) AddBrandMember(ctx context.Context, brandID, userID, role string) error {
	if brandID == "" || userID == "" {
		return errors.New("brand ID and user ID must not be empty")
	}
	if role != RoleOwner && role != RoleMember {
		return fmt.Errorf("role must be one of: %s, %s", RoleOwner, RoleMember)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO brand_members (brand_id, user_id, role) VALUES (?, ?, ?)`,
		brandID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to add brand member: %w", err)
	}
	return nil
}

// IsBrandUser reports whether userID holds any role on brandID.
func (s *Storage) IsBrandUser(ctx context.Context, userID, brandID string) (bool, error) {
	role, err := s.brandRole(ctx, userID, brandID)
	return role != "", err
}

// IsBrandOwner reports whether userID owns brandID.
func (s *Storage) IsBrandOwner(ctx context.Context, userID, brandID string) (bool, error) {
	role, err := s.brandRole(ctx, userID, brandID)
	return role == RoleOwner, err
}

func (s *Storage) brandRole(ctx context.Context, userID, brandID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM brand_members WHERE brand_id = ? AND user_id = ?`, brandID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up brand role: %w", err)
	}
	return role, nil
}

func (s *Storage) requireCampaign(ctx context.Context, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM campaigns WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up campaign %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row scanner) (models.Campaign, error) {
	var c models.Campaign
	var createdAt int64
	err := row.Scan(&c.ID, &c.Title, &c.Description, &c.Category, &c.CreatorID, &c.BrandID,
		&c.Goal, &c.TargetPrice, &c.Currency, &createdAt)
	if err != nil {
		return models.Campaign{}, err
	}
	c.CreatedAt = fromUnix(createdAt)
	return c, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
