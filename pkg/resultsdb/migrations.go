package resultsdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/propeval/pkg/dbh"
)

// Migrations are plain SQL that runs unchanged on SQLite and Postgres.
// Keys are chosen by us (uuid, video), so no autoincrement columns are needed.
func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx, `
	CREATE TABLE run(
		id TEXT PRIMARY KEY,
		data_source TEXT NOT NULL,
		strategy TEXT NOT NULL,
		area_policy TEXT NOT NULL,
		match_policy TEXT NOT NULL,
		started BIGINT,
		finished BIGINT
	);

	CREATE TABLE video_result(
		run_id TEXT NOT NULL,
		video TEXT NOT NULL,
		split TEXT NOT NULL,
		bucket TEXT NOT NULL,
		correct BIGINT NOT NULL,
		evaluated BIGINT NOT NULL,
		PRIMARY KEY(run_id, video, split, bucket)
	);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx, `
	CREATE INDEX idx_video_result_video ON video_result(video);
	`))

	return migs
}
