package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"validator-watch/internal/debounce"
	"validator-watch/internal/solana"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

//go:embed schema.sql
var schemaSQL string

const (
	trackedColumns = `network,
        vote_address,
        discord_subscribers,
        telegram_subscribers,
        last_status,
        balance_flags,
        pda_balance_flags,
        last_vote_low,
        created_at,
        updated_at`

	listTrackedSQL = `SELECT ` + trackedColumns + `
    FROM tracked_validators
    WHERE network = $1
    ORDER BY vote_address;`

	getTrackedSQL = `SELECT ` + trackedColumns + `
    FROM tracked_validators
    WHERE network = $1 AND vote_address = $2;`

	upsertTrackedSQL = `INSERT INTO tracked_validators (network, vote_address)
    VALUES ($1, $2)
    ON CONFLICT (network, vote_address) DO NOTHING;`

	addDiscordSubscriberSQL = `UPDATE tracked_validators
    SET discord_subscribers = array_append(discord_subscribers, $3::text),
        updated_at = now()
    WHERE network = $1 AND vote_address = $2
      AND NOT ($3::text = ANY(discord_subscribers));`

	addTelegramSubscriberSQL = `UPDATE tracked_validators
    SET telegram_subscribers = array_append(telegram_subscribers, $3::text),
        updated_at = now()
    WHERE network = $1 AND vote_address = $2
      AND NOT ($3::text = ANY(telegram_subscribers));`

	removeSubscriberSQL = `UPDATE tracked_validators
    SET discord_subscribers  = array_remove(discord_subscribers, $3::text),
        telegram_subscribers = array_remove(telegram_subscribers, $3::text),
        balance_flags        = balance_flags - $3::text,
        pda_balance_flags    = pda_balance_flags - $3::text,
        updated_at = now()
    WHERE network = $1 AND vote_address = $2
    RETURNING cardinality(discord_subscribers) + cardinality(telegram_subscribers);`

	deleteTrackedSQL = `DELETE FROM tracked_validators WHERE network = $1 AND vote_address = $2;`

	setStatusSQL = `UPDATE tracked_validators
    SET last_status = $3, updated_at = now()
    WHERE network = $1 AND vote_address = $2;`

	mergeBalanceFlagsSQL = `UPDATE tracked_validators
    SET balance_flags = balance_flags || $3::jsonb, updated_at = now()
    WHERE network = $1 AND vote_address = $2;`

	mergePDAFlagsSQL = `UPDATE tracked_validators
    SET pda_balance_flags = pda_balance_flags || $3::jsonb, updated_at = now()
    WHERE network = $1 AND vote_address = $2;`

	setVoteLowSQL = `UPDATE tracked_validators
    SET last_vote_low = $3, updated_at = now()
    WHERE network = $1 AND vote_address = $2;`

	subscriberColumns = `subscriber_id,
        kind,
        email,
        email_verified,
        phone,
        phone_verified,
        balance_threshold::text,
        pda_threshold::text,
        created_at`

	getSubscriberSQL = `SELECT ` + subscriberColumns + `
    FROM subscribers
    WHERE subscriber_id = $1;`

	getSubscribersSQL = `SELECT ` + subscriberColumns + `
    FROM subscribers
    WHERE subscriber_id = ANY($1);`

	upsertSubscriberSQL = `INSERT INTO subscribers (subscriber_id, kind, balance_threshold, pda_threshold)
    VALUES ($1, $2, $3::numeric, $4::numeric)
    ON CONFLICT (subscriber_id) DO NOTHING;`

	setBalanceThresholdSQL = `UPDATE subscribers
    SET balance_threshold = $2::numeric, updated_at = now()
    WHERE subscriber_id = $1;`

	setPDAThresholdSQL = `UPDATE subscribers
    SET pda_threshold = $2::numeric, updated_at = now()
    WHERE subscriber_id = $1;`

	setContactSQL = `UPDATE subscribers
    SET email = $2, email_verified = $3, phone = $4, phone_verified = $5, updated_at = now()
    WHERE subscriber_id = $1;`

	getChannelsSQL = `SELECT discord_dm, sms, email, call, whatsapp
    FROM subscriber_channels
    WHERE subscriber_id = $1 AND network = $2 AND vote_address = $3;`

	insertDefaultChannelsSQL = `INSERT INTO subscriber_channels (subscriber_id, network, vote_address)
    VALUES ($1, $2, $3)
    ON CONFLICT DO NOTHING;`

	upsertChannelsSQL = `INSERT INTO subscriber_channels (subscriber_id, network, vote_address, discord_dm, sms, email, call, whatsapp)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    ON CONFLICT (subscriber_id, network, vote_address) DO UPDATE
    SET discord_dm = EXCLUDED.discord_dm,
        sms        = EXCLUDED.sms,
        email      = EXCLUDED.email,
        call       = EXCLUDED.call,
        whatsapp   = EXCLUDED.whatsapp;`

	deleteChannelsSQL = `DELETE FROM subscriber_channels
    WHERE subscriber_id = $1 AND network = $2 AND vote_address = $3;`

	insertBalanceSampleSQL = `INSERT INTO balance_samples (network, vote_address, kind, address, balance_sol, sampled_at)
    VALUES ($1, $2, $3, $4, $5::numeric, $6);`

	listBalanceSamplesSQL = `SELECT network, vote_address, kind, address, balance_sol::text, sampled_at
    FROM balance_samples
    WHERE vote_address = $1
      AND kind = $2
      AND sampled_at >= $3
      AND sampled_at < $4
    ORDER BY sampled_at;`

	insertNotificationSQL = `INSERT INTO notifications (id, signal, channel, subscriber_id, network, vote_address, status, error)
    VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8);`

	listRecentNotificationsSQL = `SELECT id::text, signal, channel, subscriber_id, network, vote_address, status, error, created_at
    FROM notifications
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteNotificationsBeforeSQL = `DELETE FROM notifications WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ValidatorStore covers tracked validators and their debounce state.
type ValidatorStore interface {
	ListTracked(ctx context.Context, network solana.Network) ([]TrackedValidator, error)
	GetTracked(ctx context.Context, network solana.Network, voteAddress string) (TrackedValidator, error)
	SetStatus(ctx context.Context, network solana.Network, voteAddress string, status debounce.Status) error
	MergeBalanceFlags(ctx context.Context, network solana.Network, voteAddress string, updates debounce.Flags) error
	MergePDAFlags(ctx context.Context, network solana.Network, voteAddress string, updates debounce.Flags) error
	SetVoteLow(ctx context.Context, network solana.Network, voteAddress string, low bool) error
}

// SubscriptionStore manages who follows which validator.
type SubscriptionStore interface {
	Subscribe(ctx context.Context, network solana.Network, voteAddress string, sub Subscriber) error
	Unsubscribe(ctx context.Context, network solana.Network, voteAddress, subscriberID string) (removed bool, err error)
}

// SubscriberStore exposes subscriber preferences.
type SubscriberStore interface {
	GetSubscriber(ctx context.Context, id string) (Subscriber, error)
	GetSubscribers(ctx context.Context, ids []string) (map[string]Subscriber, error)
	GetChannels(ctx context.Context, subscriberID string, network solana.Network, voteAddress string) (Channels, bool, error)
}

// SampleStore records balance observations.
type SampleStore interface {
	InsertBalanceSample(ctx context.Context, sample BalanceSample) error
	ListBalanceSamples(ctx context.Context, voteAddress string, kind BalanceKind, from, to time.Time) ([]BalanceSample, error)
}

// NotificationStore keeps the delivery log.
type NotificationStore interface {
	InsertNotification(ctx context.Context, rec NotificationRecord) error
	ListRecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL implementation of every storage interface.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// ListTracked returns every tracked validator of a network.
func (s *Store) ListTracked(ctx context.Context, network solana.Network) ([]TrackedValidator, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTrackedSQL, string(network))
	if queryErr != nil {
		return nil, fmt.Errorf("list tracked validators: %w", queryErr)
	}
	defer rows.Close()

	validators := make([]TrackedValidator, 0)
	for rows.Next() {
		v, scanErr := scanTracked(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		validators = append(validators, v)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return validators, nil
}

// GetTracked loads one tracked validator.
func (s *Store) GetTracked(ctx context.Context, network solana.Network, voteAddress string) (TrackedValidator, error) {
	pool, err := s.getPool()
	if err != nil {
		return TrackedValidator{}, err
	}

	v, scanErr := scanTracked(pool.QueryRow(ctx, getTrackedSQL, string(network), voteAddress))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return TrackedValidator{}, ErrNotFound
	}
	if scanErr != nil {
		return TrackedValidator{}, fmt.Errorf("get tracked validator: %w", scanErr)
	}
	return v, nil
}

// Subscribe registers sub for a validator, creating the validator and the
// subscriber on first use. Existing thresholds and channels are preserved.
// Zero thresholds stay unset and follow the configured defaults.
func (s *Store) Subscribe(ctx context.Context, network solana.Network, voteAddress string, sub Subscriber) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	addSQL := addDiscordSubscriberSQL
	if sub.Kind == KindTelegram {
		addSQL = addTelegramSubscriberSQL
	}

	if !sub.BalanceThreshold.IsZero() {
		if err := ValidateBalanceThreshold(sub.BalanceThreshold); err != nil {
			return err
		}
	}
	if !sub.PDAThreshold.IsZero() {
		if err := ValidatePDAThreshold(sub.PDAThreshold); err != nil {
			return err
		}
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertSubscriberSQL, sub.ID, string(sub.Kind), thresholdArg(sub.BalanceThreshold), thresholdArg(sub.PDAThreshold)); err != nil {
			return fmt.Errorf("upsert subscriber: %w", err)
		}
		if _, err := tx.Exec(ctx, upsertTrackedSQL, string(network), voteAddress); err != nil {
			return fmt.Errorf("upsert tracked validator: %w", err)
		}
		if _, err := tx.Exec(ctx, addSQL, string(network), voteAddress, sub.ID); err != nil {
			return fmt.Errorf("add subscriber: %w", err)
		}
		if sub.Kind == KindDiscord {
			if _, err := tx.Exec(ctx, insertDefaultChannelsSQL, sub.ID, string(network), voteAddress); err != nil {
				return fmt.Errorf("insert default channels: %w", err)
			}
		}
		return nil
	})
}

// Unsubscribe drops a subscriber from a validator. The validator row is
// deleted once nobody follows it; removed reports that case.
func (s *Store) Unsubscribe(ctx context.Context, network solana.Network, voteAddress, subscriberID string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	removed := false
	txErr := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		var remaining int
		scanErr := tx.QueryRow(ctx, removeSubscriberSQL, string(network), voteAddress, subscriberID).Scan(&remaining)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("remove subscriber: %w", scanErr)
		}
		if _, err := tx.Exec(ctx, deleteChannelsSQL, subscriberID, string(network), voteAddress); err != nil {
			return fmt.Errorf("delete channels: %w", err)
		}
		if remaining == 0 {
			if _, err := tx.Exec(ctx, deleteTrackedSQL, string(network), voteAddress); err != nil {
				return fmt.Errorf("delete tracked validator: %w", err)
			}
			removed = true
		}
		return nil
	})
	if txErr != nil {
		return false, txErr
	}
	return removed, nil
}

// SetStatus persists the last observed voting status.
func (s *Store) SetStatus(ctx context.Context, network solana.Network, voteAddress string, status debounce.Status) error {
	return s.execRow(ctx, "set status", setStatusSQL, string(network), voteAddress, string(status))
}

// MergeBalanceFlags merges per-subscriber balance flags without touching other keys.
func (s *Store) MergeBalanceFlags(ctx context.Context, network solana.Network, voteAddress string, updates debounce.Flags) error {
	return s.mergeFlags(ctx, mergeBalanceFlagsSQL, network, voteAddress, updates)
}

// MergePDAFlags merges per-subscriber deposit balance flags.
func (s *Store) MergePDAFlags(ctx context.Context, network solana.Network, voteAddress string, updates debounce.Flags) error {
	return s.mergeFlags(ctx, mergePDAFlagsSQL, network, voteAddress, updates)
}

// SetVoteLow persists the last vote-credit determination.
func (s *Store) SetVoteLow(ctx context.Context, network solana.Network, voteAddress string, low bool) error {
	return s.execRow(ctx, "set vote status", setVoteLowSQL, string(network), voteAddress, low)
}

func (s *Store) mergeFlags(ctx context.Context, query string, network solana.Network, voteAddress string, updates debounce.Flags) error {
	if len(updates) == 0 {
		return nil
	}
	raw, err := encodeFlags(updates)
	if err != nil {
		return err
	}
	return s.execRow(ctx, "merge debounce flags", query, string(network), voteAddress, string(raw))
}

func (s *Store) execRow(ctx context.Context, op, query string, args ...any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, query, args...)
	if execErr != nil {
		return fmt.Errorf("%s: %w", op, execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSubscriber loads one subscriber.
func (s *Store) GetSubscriber(ctx context.Context, id string) (Subscriber, error) {
	pool, err := s.getPool()
	if err != nil {
		return Subscriber{}, err
	}

	sub, scanErr := scanSubscriber(pool.QueryRow(ctx, getSubscriberSQL, id))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Subscriber{}, ErrNotFound
	}
	if scanErr != nil {
		return Subscriber{}, fmt.Errorf("get subscriber: %w", scanErr)
	}
	return sub, nil
}

// GetSubscribers loads many subscribers keyed by id. Unknown ids are absent.
func (s *Store) GetSubscribers(ctx context.Context, ids []string) (map[string]Subscriber, error) {
	out := make(map[string]Subscriber, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, getSubscribersSQL, ids)
	if queryErr != nil {
		return nil, fmt.Errorf("get subscribers: %w", queryErr)
	}
	defer rows.Close()

	for rows.Next() {
		sub, scanErr := scanSubscriber(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out[sub.ID] = sub
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// SetThresholds updates whichever thresholds are non-nil after bound checks.
func (s *Store) SetThresholds(ctx context.Context, id string, balance, pda *decimal.Decimal) error {
	if balance != nil {
		if err := ValidateBalanceThreshold(*balance); err != nil {
			return err
		}
	}
	if pda != nil {
		if err := ValidatePDAThreshold(*pda); err != nil {
			return err
		}
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if balance != nil {
			if err := execOne(ctx, tx, "set balance threshold", setBalanceThresholdSQL, id, balance.String()); err != nil {
				return err
			}
		}
		if pda != nil {
			if err := execOne(ctx, tx, "set pda threshold", setPDAThresholdSQL, id, pda.String()); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetContact stores contact details and their verification state.
func (s *Store) SetContact(ctx context.Context, id, email string, emailVerified bool, phone string, phoneVerified bool) error {
	return s.execRow(ctx, "set contact", setContactSQL, id, email, emailVerified && email != "", phone, phoneVerified && phone != "")
}

// GetChannels returns the channel switches of a subscriber for one validator.
// found is false when no record exists.
func (s *Store) GetChannels(ctx context.Context, subscriberID string, network solana.Network, voteAddress string) (Channels, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return Channels{}, false, err
	}

	var c Channels
	scanErr := pool.QueryRow(ctx, getChannelsSQL, subscriberID, string(network), voteAddress).
		Scan(&c.DiscordDM, &c.SMS, &c.Email, &c.Call, &c.WhatsApp)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Channels{}, false, nil
	}
	if scanErr != nil {
		return Channels{}, false, fmt.Errorf("get channels: %w", scanErr)
	}
	return c, true, nil
}

// SetChannels replaces channel switches after checking the subscriber's contact details.
func (s *Store) SetChannels(ctx context.Context, subscriberID string, network solana.Network, voteAddress string, c Channels) error {
	sub, err := s.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return err
	}
	if err := c.Validate(sub); err != nil {
		return err
	}

	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertChannelsSQL, subscriberID, string(network), voteAddress,
		c.DiscordDM, c.SMS, c.Email, c.Call, c.WhatsApp); execErr != nil {
		return fmt.Errorf("set channels: %w", execErr)
	}
	return nil
}

// InsertBalanceSample appends a balance observation.
func (s *Store) InsertBalanceSample(ctx context.Context, sample BalanceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	sampledAt := sample.SampledAt
	if sampledAt.IsZero() {
		sampledAt = time.Now().UTC()
	}
	if _, execErr := pool.Exec(ctx, insertBalanceSampleSQL,
		string(sample.Network),
		sample.VoteAddress,
		string(sample.Kind),
		sample.Address,
		sample.BalanceSOL.String(),
		sampledAt,
	); execErr != nil {
		return fmt.Errorf("insert balance sample: %w", execErr)
	}
	return nil
}

// ListBalanceSamples lists samples of one validator within a time window.
func (s *Store) ListBalanceSamples(ctx context.Context, voteAddress string, kind BalanceKind, from, to time.Time) ([]BalanceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listBalanceSamplesSQL, voteAddress, string(kind), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list balance samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]BalanceSample, 0)
	for rows.Next() {
		var (
			sample     BalanceSample
			network    string
			kindStr    string
			balanceStr string
		)
		if err := rows.Scan(&network, &sample.VoteAddress, &kindStr, &sample.Address, &balanceStr, &sample.SampledAt); err != nil {
			return nil, err
		}
		sample.Network = solana.Network(network)
		sample.Kind = BalanceKind(kindStr)
		sample.BalanceSOL, err = decimal.NewFromString(balanceStr)
		if err != nil {
			return nil, fmt.Errorf("parse balance: %w", err)
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// InsertNotification records a delivery attempt. A missing id is generated.
func (s *Store) InsertNotification(ctx context.Context, rec NotificationRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	var errMsg any
	if rec.Error != nil {
		errMsg = *rec.Error
	}
	if _, execErr := pool.Exec(ctx, insertNotificationSQL,
		rec.ID.String(),
		rec.Signal,
		rec.Channel,
		rec.SubscriberID,
		string(rec.Network),
		rec.VoteAddress,
		rec.Status,
		errMsg,
	); execErr != nil {
		return fmt.Errorf("insert notification: %w", execErr)
	}
	return nil
}

// ListRecentNotifications lists the newest delivery attempts.
func (s *Store) ListRecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentNotificationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent notifications: %w", queryErr)
	}
	defer rows.Close()

	records := make([]NotificationRecord, 0, limit)
	for rows.Next() {
		var (
			rec     NotificationRecord
			id      string
			network string
		)
		if err := rows.Scan(&id, &rec.Signal, &rec.Channel, &rec.SubscriberID, &network, &rec.VoteAddress, &rec.Status, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse notification id: %w", err)
		}
		rec.Network = solana.Network(network)
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// DeleteNotificationsBefore prunes the delivery log.
func (s *Store) DeleteNotificationsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteNotificationsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete notifications before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func execOne(ctx context.Context, tx pgx.Tx, op, query string, args ...any) error {
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTracked(row pgx.Row) (TrackedValidator, error) {
	var (
		v          TrackedValidator
		network    string
		status     string
		balanceRaw []byte
		pdaRaw     []byte
	)
	if err := row.Scan(
		&network,
		&v.VoteAddress,
		&v.DiscordSubscribers,
		&v.TelegramSubscribers,
		&status,
		&balanceRaw,
		&pdaRaw,
		&v.LastVoteLow,
		&v.CreatedAt,
		&v.UpdatedAt,
	); err != nil {
		return TrackedValidator{}, err
	}

	var err error
	v.Network = solana.Network(network)
	if v.LastStatus, err = debounce.ParseStatus(status); err != nil {
		return TrackedValidator{}, err
	}
	if v.BalanceFlags, err = decodeFlags(balanceRaw); err != nil {
		return TrackedValidator{}, err
	}
	if v.PDABalanceFlags, err = decodeFlags(pdaRaw); err != nil {
		return TrackedValidator{}, err
	}
	return v, nil
}

func scanSubscriber(row pgx.Row) (Subscriber, error) {
	var (
		sub        Subscriber
		kind       string
		balanceStr *string
		pdaStr     *string
	)
	if err := row.Scan(
		&sub.ID,
		&kind,
		&sub.Email,
		&sub.EmailVerified,
		&sub.Phone,
		&sub.PhoneVerified,
		&balanceStr,
		&pdaStr,
		&sub.CreatedAt,
	); err != nil {
		return Subscriber{}, err
	}

	var err error
	sub.Kind = SubscriberKind(kind)
	if sub.BalanceThreshold, err = parseThreshold(balanceStr); err != nil {
		return Subscriber{}, fmt.Errorf("parse balance threshold: %w", err)
	}
	if sub.PDAThreshold, err = parseThreshold(pdaStr); err != nil {
		return Subscriber{}, fmt.Errorf("parse pda threshold: %w", err)
	}
	return sub, nil
}

var (
	_ ValidatorStore    = (*Store)(nil)
	_ SubscriptionStore = (*Store)(nil)
	_ SubscriberStore   = (*Store)(nil)
	_ SampleStore       = (*Store)(nil)
	_ NotificationStore = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
)
