package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/placekitten/placekitten"
	"github.com/placekitten/placekitten/internal/config"
	"github.com/placekitten/placekitten/pkg/cropper"
	"github.com/placekitten/placekitten/pkg/fallback"
	"github.com/placekitten/placekitten/pkg/filters"
	"github.com/placekitten/placekitten/pkg/vision"
)

// batchJob is one entry of a batch file
type batchJob struct {
	Width   int    `json:"width" yaml:"width"`
	Height  int    `json:"height" yaml:"height"`
	Filter  string `json:"filter" yaml:"filter"`
	ImageID int    `json:"image_id" yaml:"image_id"`
}

func main() {
	var cfgPath, source, out, filterName, strategy, cascade, model, visionURL string
	var batchFile, prefix string
	var width, height, imageID int
	var filterValue float64
	var random, sequential, steps, doFallback, cleanup bool
	var slide int
	var layout, field string
	var quality string

	flag.StringVar(&cfgPath, "config", "", "config file (json or yaml); defaults apply when empty")
	flag.StringVar(&source, "source", "", "source image folder (overrides config)")
	flag.StringVar(&out, "out", "", "output file or directory")

	flag.IntVar(&width, "width", 0, "target width in pixels")
	flag.IntVar(&height, "height", 0, "target height in pixels")
	flag.IntVar(&imageID, "id", 0, "1-based source image id (0 = random)")
	flag.BoolVar(&random, "random", false, "pick a random source image")
	flag.BoolVar(&sequential, "sequential", false, "cycle through source images in order")

	flag.StringVar(&filterName, "filter", "", "filter to apply (grayscale, sepia, ...)")
	flag.Float64Var(&filterValue, "filtervalue", 100, "numeric filter value (100 = no change)")
	flag.StringVar(&quality, "quality", "high", "output quality: high|medium|low")

	flag.StringVar(&strategy, "strategy", string(cropper.StrategyFace), "crop strategy: haar-face|contour|vision")
	flag.StringVar(&cascade, "cascade", "", "Haar cascade classifier path (overrides config)")
	flag.StringVar(&model, "model", "", "vision model name (for -strategy vision)")
	flag.StringVar(&visionURL, "visionurl", "", "ollama server URL (for -strategy vision)")
	flag.BoolVar(&steps, "steps", false, "save the nine debug pipeline snapshots")
	flag.StringVar(&prefix, "prefix", "smart_crop", "debug snapshot filename prefix")

	flag.StringVar(&batchFile, "batch", "", "batch job file (json or yaml list of configs)")

	flag.BoolVar(&doFallback, "fallback", false, "generate a styled fallback image")
	flag.IntVar(&slide, "slide", 0, "fallback context: 1-based slide number")
	flag.StringVar(&layout, "layout", "", "fallback context: layout name")
	flag.StringVar(&field, "field", "", "fallback context: field name")
	flag.BoolVar(&cleanup, "cleanup", false, "remove cached fallback images and exit")

	flag.Parse()

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.LoadFromFile(cfgPath)
		if err != nil {
			log.Fatal(err)
		}
		cfg = loaded
	}
	if source != "" {
		cfg.Source.Dir = source
	}
	if cascade != "" {
		cfg.Cropper.CascadePath = cascade
	}
	if visionURL != "" {
		cfg.Cropper.OllamaURL = visionURL
	}
	if model != "" {
		cfg.Cropper.VisionModel = model
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	engineCfg := cropper.Config{CascadePath: cfg.Cropper.CascadePath}
	if cropper.Strategy(strategy) == cropper.StrategyVision {
		if cfg.Cropper.VisionModel == "" {
			log.Fatal("vision strategy requires -model")
		}
		client, err := vision.NewOllamaClient(cfg.Cropper.OllamaURL)
		if err != nil {
			log.Fatalf("failed to create vision client: %v", err)
		}
		engineCfg.Vision = vision.NewDetector(client, cfg.Cropper.VisionModel)
	}
	engine := cropper.NewWithConfig(engineCfg)
	defer engine.Close()

	pk := placekitten.New(
		placekitten.WithSourceDir(cfg.Source.Dir),
		placekitten.WithEngine(engine),
	)

	switch {
	case cleanup:
		runCleanup(pk, cfg)
	case doFallback:
		runFallback(pk, cfg, width, height, slide, layout, field)
	case batchFile != "":
		runBatch(pk, batchFile, firstNonEmpty(out, cfg.Output.Dir))
	default:
		runGenerate(pk, placekitten.GenerateOptions{
			Width:           width,
			Height:          height,
			Filter:          filterName,
			FilterParams:    filters.Params{"value": filterValue},
			ImageID:         imageID,
			RandomSelection: random,
			Sequential:      sequential,
			Strategy:        cropper.Strategy(strategy),
		}, steps, prefix, firstNonEmpty(out, cfg.Output.Dir), quality)
	}
}

func runGenerate(pk *placekitten.PlaceKitten, opts placekitten.GenerateOptions, steps bool, prefix, out, quality string) {
	var outPath string
	if strings.Contains(filepath.Base(out), ".") {
		outPath = out
	} else {
		outPath = filepath.Join(out, "placekitten.jpg")
	}

	// With -steps the crop runs outside Generate so the engine can record
	// its pipeline snapshots.
	withSteps := steps && opts.Width > 0 && opts.Height > 0
	genOpts := opts
	if withSteps {
		genOpts.Width, genOpts.Height, genOpts.Filter = 0, 0, ""
	}

	proc, err := pk.Generate(genOpts)
	if err != nil {
		log.Fatal(err)
	}

	if withSteps {
		cropped, info, err := proc.SmartCropWithOptions(opts.Width, opts.Height, cropper.Options{
			SaveSteps:    true,
			OutputPrefix: prefix,
			OutputFolder: filepath.Dir(outPath),
			Strategy:     opts.Strategy,
		})
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("crop box (%d,%d)-(%d,%d), %d debug steps",
			info.CropBox.X1, info.CropBox.Y1, info.CropBox.X2, info.CropBox.Y2, info.DebugSteps)
		proc = cropped

		if opts.Filter != "" {
			proc, err = proc.ApplyFilter(opts.Filter, opts.FilterParams)
			if err != nil {
				log.Fatal(err)
			}
		}
	}

	saved, err := proc.Save(outPath, quality)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %s", saved)
}

func runBatch(pk *placekitten.PlaceKitten, batchFile, out string) {
	data, err := os.ReadFile(batchFile)
	if err != nil {
		log.Fatal(err)
	}

	var jobs []batchJob
	switch strings.ToLower(filepath.Ext(batchFile)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &jobs)
	default:
		err = json.Unmarshal(data, &jobs)
	}
	if err != nil {
		log.Fatalf("failed to parse batch file: %v", err)
	}

	configs := make([]placekitten.GenerateOptions, 0, len(jobs))
	for _, job := range jobs {
		configs = append(configs, placekitten.GenerateOptions{
			Width:   job.Width,
			Height:  job.Height,
			Filter:  job.Filter,
			ImageID: job.ImageID,
		})
	}

	paths, err := pk.BatchProcess(configs, out)
	if err != nil {
		log.Fatal(err)
	}
	for _, p := range paths {
		log.Printf("wrote %s", p)
	}
}

func runFallback(pk *placekitten.PlaceKitten, cfg *config.Config, width, height, slide int, layout, field string) {
	if width <= 0 || height <= 0 {
		log.Fatal("fallback mode requires -width and -height")
	}

	integration := fallback.New(pk, cfg.Fallback.CacheDir)
	path := integration.FallbackImage(width, height, &fallback.Context{
		SlideIndex: slide,
		Layout:     layout,
		FieldName:  field,
	})
	if path == "" {
		log.Fatal("no fallback available")
	}
	fmt.Println(path)
}

func runCleanup(pk *placekitten.PlaceKitten, cfg *config.Config) {
	integration := fallback.New(pk, cfg.Fallback.CacheDir)
	removed, err := integration.CleanupCache()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("removed %d cached fallback images", removed)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
