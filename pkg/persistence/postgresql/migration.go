package postgresql

// migrations returns the ordered schema migrations for the PostgreSQL
// backend. Workflow relations (conditions, recipients, actions) are
// stored as jsonb documents on the workflow row: they are always read
// and written as one aggregate.
func migrations() map[int]string {
	return map[int]string{
		1: `
		CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			trigger TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			eval_order INTEGER NOT NULL DEFAULT 0,
			stop_on_match BOOLEAN NOT NULL DEFAULT FALSE,
			template_id TEXT NOT NULL DEFAULT '',
			custom_subject TEXT NOT NULL DEFAULT '',
			cc_jefe_proyecto_1 BOOLEAN NOT NULL DEFAULT FALSE,
			cc_jefe_proyecto_2 BOOLEAN NOT NULL DEFAULT FALSE,
			delay_minutes INTEGER NOT NULL DEFAULT 0,
			conditions JSONB NOT NULL DEFAULT '[]',
			recipients JSONB NOT NULL DEFAULT '[]',
			actions JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMP WITH TIME ZONE
		);

		CREATE INDEX IF NOT EXISTS idx_workflows_trigger
			ON workflows (trigger, eval_order, created_at)
			WHERE deleted_at IS NULL;

		CREATE TABLE IF NOT EXISTS notification_jobs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			to_addresses JSONB NOT NULL DEFAULT '[]',
			cc_addresses JSONB NOT NULL DEFAULT '[]',
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			attachments JSONB NOT NULL DEFAULT '[]',
			state TEXT NOT NULL,
			scheduled_at TIMESTAMP WITH TIME ZONE,
			sent_at TIMESTAMP WITH TIME ZONE,
			success_count INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			log TEXT NOT NULL DEFAULT '',
			claimed_by TEXT NOT NULL DEFAULT '',
			claimed_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_notification_jobs_due
			ON notification_jobs (state, scheduled_at, created_at);

		CREATE TABLE IF NOT EXISTS delivery_log (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			worker_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_delivery_log_job
			ON delivery_log (job_id, created_at);
		`,
	}
}
