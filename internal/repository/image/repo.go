package image

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Lunanaall/thumbnailer/internal/model"
)

// DefaultTable is the metadata table created by the web application.
const DefaultTable = "Image Metadata"

var (
	ErrImageNotFound = errors.New("image not found")
	// ErrNotPending means the record already carries a preview location.
	ErrNotPending = errors.New("image is not pending")
	// ErrInvalidLocation rejects completion writes that would leave the record pending.
	ErrInvalidLocation = errors.New("invalid derived location")
	// ErrLeaseLost means another worker holds the record's lease.
	ErrLeaseLost = errors.New("lease held by another worker")
)

var recordColumns = []string{"imageid", "owneruserid", "caption", "originalurl", "thumbnailurl"}

type lease struct {
	owner string
	ttl   time.Duration
}

// Repository reads candidate records and writes completed preview locations.
type Repository struct {
	db     *gorm.DB
	table  string
	policy model.PendingPolicy
	lease  *lease
	now    func() time.Time
}

// Option configures a Repository.
type Option func(*Repository)

// WithTable overrides the metadata table name. The name is an identifier,
// not an SQL expression.
func WithTable(name string) Option {
	return func(r *Repository) {
		if name != "" {
			r.table = name
		}
	}
}

// WithPolicy sets the predicate used to select pending records.
func WithPolicy(p model.PendingPolicy) Option {
	return func(r *Repository) { r.policy = p }
}

// WithLease enables lease columns: records are claimed by owner for ttl
// before processing and completion requires holding the lease.
func WithLease(owner string, ttl time.Duration) Option {
	return func(r *Repository) { r.lease = &lease{owner: owner, ttl: ttl} }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *gorm.DB, opts ...Option) *Repository {
	r := &Repository{
		db:     db,
		table:  DefaultTable,
		policy: model.PendingEmpty,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// from scopes db to the metadata table. The name always goes through the
// dialect's identifier quoting: gorm would otherwise pass a name with a space,
// such as "Image Metadata", through as raw SQL.
func (r *Repository) from(db *gorm.DB) *gorm.DB {
	return quotedTable(db, r.table)
}

// quotedTable scopes db to the named table, quoted as an identifier.
func quotedTable(db *gorm.DB, name string) *gorm.DB {
	return db.Table("?", clause.Table{Name: name})
}

func (r *Repository) pending(db *gorm.DB) *gorm.DB {
	if r.policy == model.PendingEqualsOriginal {
		return db.Where("(thumbnailurl IS NULL OR thumbnailurl = '' OR thumbnailurl = originalurl)")
	}
	return db.Where("(thumbnailurl IS NULL OR thumbnailurl = '')")
}

// FetchPending returns every record that still needs a preview, ordered by id.
// It never writes.
func (r *Repository) FetchPending(ctx context.Context) ([]model.ImageRecord, error) {
	var recs []model.ImageRecord

	err := r.pending(r.from(r.db.WithContext(ctx))).
		Select(recordColumns).
		Order("imageid").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("fetch pending: failed to select images: %w", err)
	}

	return recs, nil
}

// GetImage returns a single record by id.
func (r *Repository) GetImage(ctx context.Context, id int64) (model.ImageRecord, error) {
	var rec model.ImageRecord

	err := r.from(r.db.WithContext(ctx)).
		Select(recordColumns).
		Where("imageid = ?", id).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.ImageRecord{}, ErrImageNotFound
		}
		return model.ImageRecord{}, fmt.Errorf("get: failed to get image: %w", err)
	}

	return rec, nil
}

// Claim takes the lease on a pending record. It reports false when the record
// is leased by another worker or is no longer pending. Without leasing every
// claim succeeds.
func (r *Repository) Claim(ctx context.Context, id int64) (bool, error) {
	if r.lease == nil {
		return true, nil
	}

	now := r.now().UTC()
	res := r.pending(r.from(r.db.WithContext(ctx))).
		Where("imageid = ?", id).
		Where("(lease_owner IS NULL OR lease_owner = '' OR lease_owner = ? OR lease_expires_at IS NULL OR lease_expires_at < ?)", r.lease.owner, now).
		Updates(map[string]any{
			"lease_owner":      r.lease.owner,
			"lease_expires_at": now.Add(r.lease.ttl),
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim: failed to lease image %d: %w", id, res.Error)
	}

	return res.RowsAffected == 1, nil
}

// Release drops this worker's lease on a record so another run can pick it up.
func (r *Repository) Release(ctx context.Context, id int64) error {
	if r.lease == nil {
		return nil
	}

	res := r.from(r.db.WithContext(ctx)).
		Where("imageid = ? AND lease_owner = ?", id, r.lease.owner).
		Updates(map[string]any{
			"lease_owner":      nil,
			"lease_expires_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("release: failed to release image %d: %w", id, res.Error)
	}

	return nil
}

// RecordCompletion stores the preview location of a record in its own
// transaction. The update only applies while the record is still pending
// (and leased by this worker when leasing is enabled), so a completed record
// is never written twice.
func (r *Repository) RecordCompletion(ctx context.Context, id int64, location string) error {
	if location == "" {
		return fmt.Errorf("record: %w: empty", ErrInvalidLocation)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec model.ImageRecord
		err := r.from(tx).
			Select(recordColumns).
			Where("imageid = ?", id).
			Take(&rec).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrImageNotFound
			}
			return fmt.Errorf("record: failed to load image %d: %w", id, err)
		}

		if location == rec.OriginalLocation {
			return fmt.Errorf("record: %w: equals original", ErrInvalidLocation)
		}
		if !rec.IsPending(r.policy) {
			return ErrNotPending
		}

		updates := map[string]any{"thumbnailurl": location}
		q := r.pending(r.from(tx)).Where("imageid = ?", id)
		if r.lease != nil {
			updates["lease_owner"] = nil
			updates["lease_expires_at"] = nil
			q = q.Where("lease_owner = ?", r.lease.owner)
		}

		res := q.Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("record: failed to update image %d: %w", id, res.Error)
		}
		if res.RowsAffected != 1 {
			if r.lease != nil {
				return ErrLeaseLost
			}
			return ErrNotPending
		}

		return nil
	})
}
