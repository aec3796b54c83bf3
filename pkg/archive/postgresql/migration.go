package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE archive_records (
				seq BIGSERIAL PRIMARY KEY,
				archive_id VARCHAR(255) NOT NULL UNIQUE,
				created_at VARCHAR(20) NOT NULL,
				task_id VARCHAR(255) NOT NULL,
				product_option INTEGER NOT NULL,
				seed BIGINT NOT NULL,
				input JSONB NOT NULL,
				output JSONB NOT NULL
			);

			CREATE INDEX idx_archive_records_created_at ON archive_records(created_at);
		`,
	}
}
