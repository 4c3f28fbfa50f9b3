package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/propeval/pkg/config"
	"github.com/cyclopcam/propeval/pkg/dbh"
	"github.com/cyclopcam/propeval/pkg/evaluator"
	"github.com/cyclopcam/propeval/pkg/report"
	"github.com/cyclopcam/propeval/pkg/resultsdb"
	"github.com/cyclopcam/propeval/pkg/similarity"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("simeval", "Measure how well a similarity strategy associates object proposals across annotated video frames")
	configFile := parser.String("", "config", &argparse.Options{Help: "YAML config file. Flags override values from the file"})
	dataSource := parser.String("", "datasrc", &argparse.Options{Help: "Data source, eg ArgoVerse"})
	gtFile := parser.String("", "gt", &argparse.Options{Help: "Ground truth annotation JSON"})
	propDir := parser.String("", "proposals", &argparse.Options{Help: "Proposal directory (<dir>/<video>/<frame>.json)"})
	flowDir := parser.String("", "flow", &argparse.Options{Help: "Optical flow directory (<dir>/<video>/<frame>.png|.flo)"})
	imageDir := parser.String("", "images", &argparse.Options{Help: "Image directory"})
	outDir := parser.String("", "out", &argparse.Options{Help: "Output directory for per-video records"})
	manifest := parser.String("", "manifest", &argparse.Options{Help: "Annotated frame list (default <proposals>/val_annotated_<datasrc>.txt)"})
	known := parser.String("", "known", &argparse.Options{Help: "Known category mapping (coco_id2tao_id.json)"})
	neighbor := parser.String("", "neighbor", &argparse.Options{Help: "Neighbor category mapping (neighbor_classes.json)"})
	strategy := parser.Selector("", "strategy", similarity.Names, &argparse.Options{Help: "Similarity strategy"})
	intermediate := parser.Selector("", "intermediate", []string{"on", "off"}, &argparse.Options{Help: "Let strategies use the frames between each annotated pair (default on)"})
	workers := parser.Int("", "workers", &argparse.Options{Help: "Number of videos to evaluate in parallel (default: number of CPUs)"})
	areaPolicy := parser.Selector("", "area-policy", []string{"literal", "squared"}, &argparse.Options{Help: "Size bucket thresholds"})
	matchPolicy := parser.Selector("", "match-policy", []string{"greedy", "one-to-one"}, &argparse.Options{Help: "May one proposal match several ground truth objects"})
	boxSource := parser.Selector("", "box-source", []string{"bbox", "mask"}, &argparse.Options{Help: "Take proposal boxes from the regressed bbox, or from the instance mask"})
	db := parser.String("", "db", &argparse.Options{Help: "Results database: an sqlite filename, or postgres:<dbname>"})
	listRuns := parser.Flag("", "list-runs", &argparse.Options{Help: "Print the runs in the results database, and exit"})
	noProgress := parser.Flag("", "no-progress", &argparse.Options{Help: "Don't show a progress bar"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	cfg := config.Default()
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
		check(err)
	}
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setString(&cfg.DataSource, *dataSource)
	setString(&cfg.GroundTruthFile, *gtFile)
	setString(&cfg.ProposalDir, *propDir)
	setString(&cfg.FlowDir, *flowDir)
	setString(&cfg.ImageDir, *imageDir)
	setString(&cfg.OutputDir, *outDir)
	setString(&cfg.ManifestFile, *manifest)
	setString(&cfg.KnownFile, *known)
	setString(&cfg.NeighborFile, *neighbor)
	setString(&cfg.Strategy, *strategy)
	setString(&cfg.AreaPolicy, *areaPolicy)
	setString(&cfg.MatchPolicy, *matchPolicy)
	setString(&cfg.BoxSource, *boxSource)
	if *intermediate != "" {
		cfg.UseIntermediateFrames = *intermediate == "on"
	}
	if *workers != 0 {
		cfg.Workers = *workers
	}
	if *db != "" {
		cfg.DB = dbh.ParseDBString(*db)
	}
	if *noProgress {
		cfg.Progress = false
	}

	if *listRuns {
		if cfg.DB.IsEmpty() {
			fmt.Printf("--list-runs needs a results database (--db)\n")
			os.Exit(1)
		}
		results, err := resultsdb.Open(logger, cfg.DB, 0)
		check(err)
		defer results.Close()
		runs, err := results.Runs()
		check(err)
		fmt.Println(report.Runs(runs))
		return
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	check(os.MkdirAll(cfg.OutputDir, 0755))

	ev, err := evaluator.Load(logger, cfg, os.Stderr)
	check(err)
	defer ev.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := ev.Run(ctx)
	if err != nil {
		logger.Errorf("Evaluation failed: %v", err)
		ev.Close()
		os.Exit(1)
	}
	check(report.Write(os.Stdout, res))
}
