package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Automation definitions and the CRM records the engine reads and mutates
			CREATE TABLE automations (
				id VARCHAR(255) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				definition JSONB NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT false,
				execution_count BIGINT NOT NULL DEFAULT 0,
				last_executed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_automations_user_trigger ON automations(user_id, trigger_type) WHERE is_active;

			CREATE TABLE records (
				entity_type VARCHAR(20) NOT NULL CHECK (entity_type IN ('contact', 'deal')),
				id VARCHAR(255) NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				data JSONB NOT NULL DEFAULT '{}',
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (entity_type, id)
			);

			CREATE INDEX idx_records_user_id ON records(user_id);

			CREATE TABLE stages (
				id VARCHAR(255) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				pipeline_type VARCHAR(20) NOT NULL DEFAULT 'sales',
				position INT NOT NULL DEFAULT 0
			);

			CREATE TABLE positions (
				id VARCHAR(255) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				title VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`,
		2: `
			-- Enrollments: one row per (automation, entity) run, never deleted
			CREATE TABLE enrollments (
				id VARCHAR(255) PRIMARY KEY,
				automation_id VARCHAR(255) NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				entity_type VARCHAR(20) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('active', 'completed', 'failed', 'unenrolled')),
				current_step_index INT NOT NULL DEFAULT 0,
				next_step_at TIMESTAMP WITH TIME ZONE,
				enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				exit_reason TEXT NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT '',
				metadata JSONB NOT NULL DEFAULT '{}',
				claimed_until TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX uq_enrollments_active_pair
				ON enrollments(automation_id, entity_type, entity_id)
				WHERE status = 'active';
			CREATE INDEX idx_enrollments_due ON enrollments(next_step_at) WHERE status = 'active';
			CREATE INDEX idx_enrollments_automation_id ON enrollments(automation_id);
		`,
		3: `
			-- Execution log, trimmed per automation on append
			CREATE TABLE execution_logs (
				id VARCHAR(255) PRIMARY KEY,
				automation_id VARCHAR(255) NOT NULL,
				enrollment_id VARCHAR(255) NOT NULL DEFAULT '',
				session_id VARCHAR(255) NOT NULL DEFAULT '',
				trigger_type VARCHAR(50) NOT NULL,
				step_index INT,
				step_type VARCHAR(20) NOT NULL DEFAULT '',
				outcome VARCHAR(255) NOT NULL DEFAULT '',
				conditions_evaluated JSONB NOT NULL DEFAULT '[]',
				actions_executed JSONB NOT NULL DEFAULT '[]',
				status VARCHAR(20) NOT NULL CHECK (status IN ('success', 'failed', 'skipped')),
				error TEXT NOT NULL DEFAULT '',
				exit_reason TEXT NOT NULL DEFAULT '',
				executed_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_execution_logs_automation ON execution_logs(automation_id, executed_at DESC);
			CREATE INDEX idx_execution_logs_enrollment ON execution_logs(enrollment_id, executed_at);
		`,
	}
}
