package crdb

import "context"

// Schema creates the reservation tables. A seat row stays active while its
// reservation is CONFIRMED; the partial unique index keeps two active
// bookings off the same seat even if the in-process seat map were bypassed.
const Schema = `
CREATE TABLE IF NOT EXISTS reservations (
	id UUID PRIMARY KEY,
	hold_id UUID NOT NULL UNIQUE,
	departure_id UUID NOT NULL,
	user_id STRING NOT NULL,
	passenger_name STRING NOT NULL,
	passenger_email STRING NOT NULL,
	passenger_phone STRING NOT NULL DEFAULT '',
	amount_cents INT8 NOT NULL,
	status STRING NOT NULL CHECK (status IN ('CONFIRMED', 'CANCELLED')),
	origin STRING NOT NULL,
	destination STRING NOT NULL,
	departure_time TIMESTAMPTZ NOT NULL,
	confirmed_at TIMESTAMPTZ NOT NULL,
	cancelled_at TIMESTAMPTZ,
	INDEX reservations_user_idx (user_id, departure_time DESC)
);

CREATE TABLE IF NOT EXISTS reservation_seats (
	reservation_id UUID NOT NULL REFERENCES reservations (id),
	departure_id UUID NOT NULL,
	seat_label STRING NOT NULL,
	position INT4 NOT NULL,
	active BOOL NOT NULL DEFAULT true,
	PRIMARY KEY (reservation_id, seat_label)
);

CREATE UNIQUE INDEX IF NOT EXISTS reservation_seats_active_idx
	ON reservation_seats (departure_id, seat_label) WHERE active;

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type STRING NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type STRING NOT NULL,
	payload_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	status STRING NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED')),
	dedupe_key STRING NOT NULL UNIQUE,
	INDEX outbox_pending_idx (status, created_at)
);
`

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, Schema)
	return err
}
