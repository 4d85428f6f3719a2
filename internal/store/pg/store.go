package pg

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"waconnect/internal/domain"
	"waconnect/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// InsertInboundMessage stores a normalized message. Returns false without
// error when a row with the same provider and external id already exists.
func (s *Store) InsertInboundMessage(ctx context.Context, in store.InboundInsert) (bool, error) {
	m := in.Message
	var mediaJSON []byte
	if m.Media != nil {
		mediaJSON, _ = json.Marshal(m.Media)
	}
	metaJSON, _ := json.Marshal(m.Metadata)

	ct, err := s.DB.Exec(ctx, `
		INSERT INTO inbound_messages
			(provider, external_message_id, sender_id, sender_name, recipient_id, content, kind, media_json, metadata_json, message_ts, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (provider, external_message_id) DO NOTHING
	`, in.Provider, m.ExternalMessageID, m.SenderID, nullIfEmpty(m.SenderName), m.RecipientID,
		m.Content, m.Kind, mediaJSON, metaJSON, m.Timestamp, in.Now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) GetDeliveryStatus(ctx context.Context, provider domain.ProviderVariant, externalID string) (domain.DeliveryStatus, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT status FROM outbound_deliveries WHERE provider=$1 AND external_message_id=$2
	`, provider, externalID)
	var st string
	if err := row.Scan(&st); err != nil {
		if err.Error() == "no rows in result set" {
			return "", false, nil
		}
		return "", false, err
	}
	return domain.DeliveryStatus(st), true, nil
}

// SeedDelivery records the initial status for a freshly sent message.
func (s *Store) SeedDelivery(ctx context.Context, in store.DeliveryUpdate) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO outbound_deliveries (provider, external_message_id, status, last_error, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (provider, external_message_id) DO NOTHING
	`, in.Provider, in.ExternalMessageID, in.Status, nullIfEmpty(in.LastError), in.Now)
	return err
}

// UpdateDeliveryStatus applies an accepted transition. Returns false when no
// matching message exists.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, in store.DeliveryUpdate) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE outbound_deliveries
		SET status=$3, last_error=$4, updated_at=$5
		WHERE provider=$1 AND external_message_id=$2
	`, in.Provider, in.ExternalMessageID, in.Status, nullIfEmpty(in.LastError), in.Now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) ListActiveInstances(ctx context.Context) ([]domain.Instance, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, variant, phone_number, COALESCE(display_name,''), is_active, is_primary,
		       COALESCE(base_url,''), COALESCE(account_id,''), COALESCE(access_token,''), COALESCE(webhook_secret,''),
		       COALESCE(status,'disconnected'), COALESCE(last_checked, to_timestamp(0))
		FROM provider_instances WHERE is_active
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Instance
	for rows.Next() {
		var inst domain.Instance
		if err := rows.Scan(&inst.ID, &inst.Variant, &inst.PhoneNumber, &inst.DisplayName,
			&inst.IsActive, &inst.IsPrimary, &inst.BaseURL, &inst.AccountID, &inst.AccessToken,
			&inst.WebhookSecret, &inst.Status, &inst.LastChecked); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *Store) GetInstance(ctx context.Context, id string) (domain.Instance, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, variant, phone_number, COALESCE(display_name,''), is_active, is_primary,
		       COALESCE(base_url,''), COALESCE(account_id,''), COALESCE(access_token,''), COALESCE(webhook_secret,''),
		       COALESCE(status,'disconnected'), COALESCE(last_checked, to_timestamp(0))
		FROM provider_instances WHERE id=$1
	`, id)
	var inst domain.Instance
	err := row.Scan(&inst.ID, &inst.Variant, &inst.PhoneNumber, &inst.DisplayName,
		&inst.IsActive, &inst.IsPrimary, &inst.BaseURL, &inst.AccountID, &inst.AccessToken,
		&inst.WebhookSecret, &inst.Status, &inst.LastChecked)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return domain.Instance{}, false, nil
		}
		return domain.Instance{}, false, err
	}
	return inst, true, nil
}

func (s *Store) UpdateInstanceStatus(ctx context.Context, in store.InstanceStatusUpdate) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE provider_instances
		SET status=$2, status_error=$3, last_checked=$4
		WHERE id=$1
	`, in.InstanceID, in.Status, nullIfEmpty(in.ErrorText), in.LastChecked)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
