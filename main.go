package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/gidra39/modelselect/api"
	"github.com/gidra39/modelselect/artifact"
	"github.com/gidra39/modelselect/config"
	"github.com/gidra39/modelselect/dataset"
	"github.com/gidra39/modelselect/logging"
	"github.com/gidra39/modelselect/messaging"
	"github.com/gidra39/modelselect/mlflow"
	"github.com/gidra39/modelselect/queue"
	"github.com/gidra39/modelselect/runstore"
	"github.com/gidra39/modelselect/selector"
	"github.com/gidra39/modelselect/supervisor"
)

func main() {
	datasetPath := flag.String("dataset", "", "CSV file to run model selection on once, then exit")
	target := flag.String("target", "", "target column of -dataset")
	task := flag.String("task", "classification", "classification or regression")
	trials := flag.Int("trials", 0, "trials per family (0 uses N_TRIALS)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := config.LoadConfig(".env", "config.json", "config.yaml")
	if *debug {
		cfg.LogLevel = "debug"
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Caller: *debug})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if *datasetPath != "" {
		err = runOnce(ctx, cfg, *datasetPath, *target, *task, *trials)
	} else {
		err = serve(ctx, cfg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("exiting")
	}
}

func newSelector(cfg config.Config) (*selector.Selector, error) {
	var opts []selector.Option
	if cfg.MLflowTrackingURI != "" {
		logging.Info().Str("uri", cfg.MLflowTrackingURI).Msg("logging families to MLflow")
		opts = append(opts, selector.WithTracker(mlflow.New(cfg.MLflowTrackingURI, cfg.MLflowExperimentID)))
	}
	return selector.New(selector.Config{
		OutputDir:     cfg.OutputDir,
		NTrials:       cfg.NTrials,
		Folds:         cfg.CVFolds,
		TestSize:      cfg.TestSize,
		Seed:          cfg.RandomSeed,
		StartupTrials: cfg.StartupTrials,
		Sampler:       cfg.Sampler,
	}, opts...)
}

func runOnce(ctx context.Context, cfg config.Config, path, target, task string, trials int) error {
	sel, err := newSelector(cfg)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open dataset")
	}
	defer f.Close()
	ds, err := dataset.ReadCSV(f)
	if err != nil {
		return err
	}

	res, err := sel.Run(ctx, selector.Request{
		Dataset:      ds,
		DatasetID:    path,
		TargetColumn: target,
		Task:         task,
		NTrials:      trials,
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(res.Report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode report")
	}
	fmt.Println(string(out))
	logging.Info().Str("model", res.ModelPath).Str("report", res.ReportPath).Msg("model saved")
	return nil
}

func serve(ctx context.Context, cfg config.Config) error {
	sel, err := newSelector(cfg)
	if err != nil {
		return err
	}
	runs, err := runstore.Open(cfg.RunstoreDir)
	if err != nil {
		return err
	}
	defer runs.Close()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	if cfg.NATSURL != "" {
		build, err := queueRouter(cfg, sel, runs)
		if err != nil {
			return err
		}
		tree.AddMessagingService(supervisor.NewRouterService(build))
		logging.Info().Str("url", cfg.NATSURL).Str("topic", cfg.RequestTopic).Msg("consuming training tasks")
	} else {
		logging.Warn().Msg("NATS_URL not set, queue consumer disabled")
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Addr = cfg.HTTPAddr
	apiCfg.ProcessPerMinute = cfg.APIRateLimit
	srv := api.NewServer(apiCfg, sel, runs)
	tree.AddAPIService(supervisor.NewHTTPService(srv.HTTPServer(), 10*time.Second))
	logging.Info().Str("addr", cfg.HTTPAddr).Msg("serving HTTP API")

	return tree.Serve(ctx)
}

// queueRouter connects to S3 and NATS once and returns a builder the
// router service calls on every (re)start.
func queueRouter(cfg config.Config, sel *selector.Selector, runs *runstore.Store) (func() (*message.Router, error), error) {
	objects, err := artifact.NewS3Store(artifact.S3Config{
		Bucket:     cfg.S3BucketName,
		Region:     cfg.AWSRegion,
		Endpoint:   cfg.S3Endpoint,
		PublicRead: cfg.S3PublicRead,
	})
	if err != nil {
		return nil, err
	}

	qcfg := queue.DefaultConfig()
	qcfg.URL = cfg.NATSURL
	qcfg.RequestTopic = cfg.RequestTopic
	qcfg.ResultTopic = cfg.ResultTopic
	qcfg.PoisonTopic = cfg.PoisonTopic
	qcfg.QueueGroup = cfg.QueueGroup
	qcfg.RetryCount = cfg.RetryCount

	logger := logging.NewWatermillAdapter()
	pub, err := queue.NewNATSPublisher(qcfg, logger)
	if err != nil {
		return nil, err
	}
	handler := queue.NewHandler(sel, objects, queue.NewResultPublisher(pub, qcfg.ResultTopic),
		queue.WithRunStore(runs),
		queue.WithNotifier(messaging.NewNotifier(cfg)),
	)

	return func() (*message.Router, error) {
		// A closed router closes its subscriber, so each start needs a new one.
		sub, err := queue.NewNATSSubscriber(qcfg, logger)
		if err != nil {
			return nil, err
		}
		return queue.NewRouter(qcfg, sub, pub, handler, logger)
	}, nil
}
