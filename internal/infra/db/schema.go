package db

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS contact_lists (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS contacts (
		id UUID PRIMARY KEY,
		list_id UUID NOT NULL REFERENCES contact_lists(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		phones JSONB NOT NULL DEFAULT '[]',
		organization TEXT NOT NULL DEFAULT '',
		properties JSONB NOT NULL DEFAULT '{}',
		dial_attempts INTEGER NOT NULL DEFAULT 0,
		last_attempted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS contacts_list_position_idx ON contacts (list_id, position)`,
	`CREATE TABLE IF NOT EXISTS run_summaries (
		run_id UUID PRIMARY KEY,
		list_id UUID NOT NULL,
		status TEXT NOT NULL,
		concurrency INTEGER NOT NULL DEFAULT 0,
		caller_id_strategy TEXT NOT NULL DEFAULT '',
		batches INTEGER NOT NULL DEFAULT 0,
		remaining INTEGER NOT NULL DEFAULT 0,
		exhausted INTEGER NOT NULL DEFAULT 0,
		warnings INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS run_summaries_list_idx ON run_summaries (list_id, finished_at DESC)`,
}

// Dispositions of a list read newest first, grouped by resolution day.
var scyllaSchema = []string{
	`CREATE TABLE IF NOT EXISTS dispositions_by_list (
		list_id text,
		bucket timestamp,
		resolved_at timestamp,
		disposition_id text,
		run_id text,
		contact_id text,
		tag text,
		notes text,
		caller_id text,
		line_snapshot blob,
		PRIMARY KEY ((list_id), bucket, resolved_at, disposition_id)
	) WITH CLUSTERING ORDER BY (bucket DESC, resolved_at DESC, disposition_id ASC)`,
	`CREATE TABLE IF NOT EXISTS dispositions_by_contact (
		contact_id text,
		resolved_at timestamp,
		disposition_id text,
		list_id text,
		tag text,
		notes text,
		PRIMARY KEY ((contact_id), resolved_at, disposition_id)
	) WITH CLUSTERING ORDER BY (resolved_at DESC, disposition_id ASC)`,
	`CREATE TABLE IF NOT EXISTS line_events (
		run_id text,
		occurred_at timestamp,
		attempt_id text,
		status text,
		list_id text,
		contact_id text,
		slot int,
		batch int,
		caller_id text,
		phone_number text,
		attempts int,
		reason text,
		PRIMARY KEY ((run_id), occurred_at, attempt_id, status)
	)`,
}
