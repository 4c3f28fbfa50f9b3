package resultsdb

import (
	"fmt"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/propeval/pkg/dbh"
	"github.com/cyclopcam/propeval/pkg/match"
	"github.com/cyclopcam/propeval/pkg/scoring"
	"github.com/cyclopcam/propeval/pkg/taxonomy"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Run is one invocation of the evaluator
type Run struct {
	ID          string `gorm:"primaryKey"`
	DataSource  string
	Strategy    string
	AreaPolicy  string
	MatchPolicy string
	Started     dbh.IntTime
	Finished    dbh.IntTime
}

// VideoResult is one (split, size) cell of one video in one run
type VideoResult struct {
	RunID     string `gorm:"primaryKey"`
	Video     string `gorm:"primaryKey"`
	Split     string `gorm:"primaryKey"`
	Bucket    string `gorm:"primaryKey"`
	Correct   int64
	Evaluated int64
}

// ResultsDB stores the counters of every run, so that strategies can be
// compared across runs without re-reading the per-video JSON files.
type ResultsDB struct {
	log logs.Log
	db  *gorm.DB
}

func Open(log logs.Log, cfg dbh.DBConfig, flags dbh.DBConnectFlags) (*ResultsDB, error) {
	log.Infof("Opening results database %v", cfg.LogSafeDescription())
	db, err := dbh.OpenDB(log, cfg, Migrations(log), flags)
	if err != nil {
		return nil, fmt.Errorf("Failed to open results database: %w", err)
	}
	return &ResultsDB{
		log: log,
		db:  db,
	}, nil
}

func (r *ResultsDB) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartRun inserts a new run with a fresh id
func (r *ResultsDB) StartRun(dataSource, strategy string, areaPolicy scoring.AreaPolicy, matchPolicy match.Policy) (*Run, error) {
	run := &Run{
		ID:          uuid.NewString(),
		DataSource:  dataSource,
		Strategy:    strategy,
		AreaPolicy:  areaPolicy.String(),
		MatchPolicy: matchPolicy.String(),
		Started:     dbh.MakeIntTime(time.Now()),
	}
	if err := r.db.Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// FinishRun stamps the run's completion time
func (r *ResultsDB) FinishRun(run *Run) error {
	run.Finished = dbh.MakeIntTime(time.Now())
	return r.db.Model(run).Update("finished", run.Finished).Error
}

// SaveVideo replaces the results of one video in a run
func (r *ResultsDB) SaveVideo(runID, video string, counters *scoring.Counters) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ? AND video = ?", runID, video).Delete(&VideoResult{}).Error; err != nil {
			return err
		}
		rows := []VideoResult{}
		for _, c := range counters.Cells() {
			rows = append(rows, VideoResult{
				RunID:     runID,
				Video:     video,
				Split:     c.Split.String(),
				Bucket:    c.Bucket.String(),
				Correct:   c.Correct,
				Evaluated: c.Evaluated,
			})
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

// Runs returns all runs, oldest first
func (r *ResultsDB) Runs() ([]Run, error) {
	runs := []Run{}
	err := r.db.Order("started, id").Find(&runs).Error
	return runs, err
}

// Videos returns the names of the videos that have results in a run
func (r *ResultsDB) Videos(runID string) ([]string, error) {
	return dbh.ScanArray[string](r.db.Raw("SELECT DISTINCT video FROM video_result WHERE run_id = ? ORDER BY video", runID).Rows())
}

// Totals sums the counters of every video in a run.
// If video is not empty, only that video is included.
func (r *ResultsDB) Totals(runID, video string, policy scoring.AreaPolicy) (*scoring.Counters, error) {
	q := r.db.Where("run_id = ?", runID)
	if video != "" {
		q = q.Where("video = ?", video)
	}
	rows := []VideoResult{}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	counters := scoring.NewCounters(policy)
	for _, row := range rows {
		split, err := taxonomy.ParseSplit(row.Split)
		if err != nil {
			return nil, err
		}
		bucket, err := scoring.ParseBucket(row.Bucket)
		if err != nil {
			return nil, err
		}
		counters.AddTally(scoring.Key{Split: split, Bucket: bucket}, scoring.Tally{Correct: row.Correct, Evaluated: row.Evaluated})
	}
	return counters, nil
}
