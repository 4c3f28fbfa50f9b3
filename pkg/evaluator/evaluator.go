package evaluator

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/propeval/pkg/config"
	"github.com/cyclopcam/propeval/pkg/groundtruth"
	"github.com/cyclopcam/propeval/pkg/log"
	"github.com/cyclopcam/propeval/pkg/match"
	"github.com/cyclopcam/propeval/pkg/perfstats"
	"github.com/cyclopcam/propeval/pkg/proposals"
	"github.com/cyclopcam/propeval/pkg/resultsdb"
	"github.com/cyclopcam/propeval/pkg/scoring"
	"github.com/cyclopcam/propeval/pkg/similarity"
	"github.com/cyclopcam/propeval/pkg/taxonomy"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

// Stage names for timing
const (
	StageLoad     = "load"
	StageGate     = "gate"
	StageStrategy = "strategy"
	StageWrite    = "write"
)

// Settings are the parts of the config that the evaluation loop needs
type Settings struct {
	DataSource            string
	ImageDir              string
	FlowDir               string
	OutputDir             string
	UseIntermediateFrames bool
	Workers               int
	AreaPolicy            scoring.AreaPolicy
	MatchPolicy           match.Policy
	CacheFrames           int
	ProgressWriter        io.Writer // nil for no progress bar
}

// Evaluator runs a similarity strategy over every annotated frame pair of a data source
type Evaluator struct {
	Log         logs.Log
	Settings    Settings
	GroundTruth groundtruth.Index
	Store       *proposals.Store
	Strategy    similarity.Strategy
	Results     *resultsdb.ResultsDB // optional
}

// VideoResult is the outcome of one video
type VideoResult struct {
	Video        string
	Counters     *scoring.Counters
	Record       Record
	Pairs        int // Number of frame pairs
	SkippedPairs int // Pairs without any object confirmed in both frames
}

// Result is the outcome of a whole run
type Result struct {
	RunID    string // Empty if there is no results database
	Counters *scoring.Counters
	Videos   []*VideoResult // Sorted by video name
	Timing   *perfstats.Stages
}

// Load reads the taxonomy, ground truth, and manifest described by cfg, and
// opens the results database if one is configured.
func Load(logger logs.Log, cfg *config.Config, progress io.Writer) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	areaPolicy, _ := cfg.ParsedAreaPolicy()
	matchPolicy, _ := cfg.ParsedMatchPolicy()
	opts, _ := cfg.StrategyOptions()
	strategy, err := similarity.New(cfg.Strategy, opts)
	if err != nil {
		return nil, err
	}

	tax, err := taxonomy.Load(cfg.KnownFile, cfg.NeighborFile, cfg.MaxCategoryID)
	if err != nil {
		return nil, err
	}
	gt, err := groundtruth.Load(logger, cfg.GroundTruthFile, cfg.DataSource, tax)
	if err != nil {
		return nil, err
	}
	manifest, err := proposals.LoadManifest(cfg.Manifest())
	if err != nil {
		return nil, err
	}
	store := proposals.NewStore(cfg.ProposalDir, manifest)
	store.BoxSource, _ = proposals.ParseBoxSource(cfg.BoxSource)

	e := &Evaluator{
		Log: logger,
		Settings: Settings{
			DataSource:            cfg.DataSource,
			ImageDir:              cfg.ImageDir,
			FlowDir:               cfg.FlowDir,
			OutputDir:             cfg.OutputDir,
			UseIntermediateFrames: cfg.UseIntermediateFrames,
			Workers:               cfg.Workers,
			AreaPolicy:            areaPolicy,
			MatchPolicy:           matchPolicy,
			CacheFrames:           cfg.ProposalCacheFrames,
		},
		GroundTruth: gt,
		Store:       store,
		Strategy:    strategy,
	}
	if cfg.Progress {
		e.Settings.ProgressWriter = progress
	}
	if !cfg.DB.IsEmpty() {
		if e.Results, err = resultsdb.Open(logger, cfg.DB, 0); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Close releases the results database, if any
func (e *Evaluator) Close() error {
	if e.Results != nil {
		return e.Results.Close()
	}
	return nil
}

// Run evaluates every video of the ground truth.
// Videos are independent, and run on up to Settings.Workers goroutines. The
// final counters are the sum of the per-video counters, added in video order,
// so the result does not depend on the number of workers.
func (e *Evaluator) Run(ctx context.Context) (*Result, error) {
	videos := e.GroundTruth.Videos()
	e.Log.Infof("Evaluating %v videos of %v with strategy %v (%v workers)", len(videos), e.Settings.DataSource, e.Strategy.Name(), max(1, e.Settings.Workers))

	var run *resultsdb.Run
	if e.Results != nil {
		var err error
		if run, err = e.Results.StartRun(e.Settings.DataSource, e.Strategy.Name(), e.Settings.AreaPolicy, e.Settings.MatchPolicy); err != nil {
			return nil, err
		}
	}

	var bar *progressbar.ProgressBar
	if e.Settings.ProgressWriter != nil {
		bar = progressbar.NewOptions(len(videos),
			progressbar.OptionSetWriter(e.Settings.ProgressWriter),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription(e.Settings.DataSource),
		)
	}

	results := make([]*VideoResult, len(videos))
	timings := make([]*perfstats.Stages, len(videos))

	// Guards the progress bar and the results database
	var lock sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, e.Settings.Workers))
	for i, video := range videos {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			timing := perfstats.NewStages()
			vr, err := e.EvaluateVideo(gctx, video, timing)
			if err != nil {
				return fmt.Errorf("Video %v: %w", video, err)
			}
			results[i] = vr
			timings[i] = timing

			lock.Lock()
			defer lock.Unlock()
			if run != nil {
				if err := e.Results.SaveVideo(run.ID, video, vr.Counters); err != nil {
					return err
				}
			}
			if bar != nil {
				bar.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if bar != nil {
		bar.Finish()
	}

	res := &Result{
		Counters: scoring.NewCounters(e.Settings.AreaPolicy),
		Videos:   results,
		Timing:   perfstats.NewStages(),
	}
	for i, vr := range results {
		res.Counters.Merge(vr.Counters)
		res.Timing.Merge(timings[i])
	}
	if run != nil {
		if err := e.Results.FinishRun(run); err != nil {
			return nil, err
		}
		res.RunID = run.ID
	}
	e.Log.Infof("Final accuracy: %v", res.Counters.Overall())
	e.Log.Infof("Timing: %v", res.Timing)
	return res, nil
}

// EvaluateVideo evaluates every frame pair of one video, and writes the video's record
func (e *Evaluator) EvaluateVideo(ctx context.Context, video string, timing *perfstats.Stages) (*VideoResult, error) {
	vlog := log.NewPrefixLogger(e.Log, "["+video+"]")
	cache := proposals.NewCache(e.Store, e.Settings.CacheFrames)
	gate := match.NewGate(cache, e.Settings.MatchPolicy)
	gtVideo := e.GroundTruth[video]

	// Every annotated frame must have a proposal file, even frames that end up
	// in no evaluable pair.
	start := time.Now()
	frames, err := cache.Preload(video)
	if err != nil {
		return nil, err
	}
	timing.Stage(StageLoad).AddSince(start)

	vr := &VideoResult{
		Video:    video,
		Counters: scoring.NewCounters(e.Settings.AreaPolicy),
		Record:   Record{},
	}
	for _, pair := range FramePairs(frames) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vr.Pairs++
		vr.Record[pair.Key()] = []int{}

		start = time.Now()
		common, commonIDs, err := gate.FindObjectsInBothFrames(e.GroundTruth, video, pair.Left, pair.Right)
		timing.Stage(StageGate).AddSince(start)
		if err != nil {
			return nil, err
		}
		if len(common) == 0 {
			vr.SkippedPairs++
			continue
		}

		propsL, err := cache.LoadFrame(video, pair.Left)
		if err != nil {
			return nil, err
		}
		propsR, err := cache.LoadFrame(video, pair.Right)
		if err != nil {
			return nil, err
		}
		annotated, _ := match.MatchProposals(propsL, common, e.Settings.MatchPolicy)

		for _, left := range annotated {
			req := &similarity.Request{
				Video:                 video,
				GroundTruth:           gtVideo,
				ValidTrackIDs:         commonIDs,
				Left:                  left,
				Right:                 propsR,
				FrameL:                pair.Left,
				FrameR:                pair.Right,
				ImageDir:              e.videoDir(e.Settings.ImageDir, video),
				ProposalDir:           e.Store.VideoDir(video),
				FlowDir:               e.videoDir(e.Settings.FlowDir, video),
				UseIntermediateFrames: e.Settings.UseIntermediateFrames,
				Policy:                e.Settings.MatchPolicy,
				Frames:                cache,
			}
			start = time.Now()
			verdict, err := e.Strategy.Evaluate(req)
			timing.Stage(StageStrategy).AddSince(start)
			if err != nil {
				return nil, fmt.Errorf("%v %v: %w", e.Strategy.Name(), pair.Key(), err)
			}
			if verdict.Index >= 0 {
				vr.Record[pair.Key()] = append(vr.Record[pair.Key()], verdict.Index)
			}
			vr.Counters.Add(left.Split, float64(left.Box().Area()), verdict.Match)
		}
	}

	start = time.Now()
	if err := WriteRecord(RecordPath(e.Settings.OutputDir, video), vr.Record); err != nil {
		return nil, err
	}
	timing.Stage(StageWrite).AddSince(start)

	hits, misses := cache.Stats()
	vlog.Debugf("%v pairs (%v skipped), proposal cache %v hits, %v misses", vr.Pairs, vr.SkippedPairs, hits, misses)
	vlog.Infof("Accuracy: %v", vr.Counters.Overall())
	return vr, nil
}

func (e *Evaluator) videoDir(root, video string) string {
	if root == "" {
		return ""
	}
	return filepath.Join(root, video)
}
