package start

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/crn-cloud/crn/api"
	jobsvc "github.com/crn-cloud/crn/api/rest/service/job"
	defsvc "github.com/crn-cloud/crn/api/rest/service/jobdef"
	"github.com/crn-cloud/crn/internal/batch/docker"
	"github.com/crn-cloud/crn/internal/event"
	"github.com/crn-cloud/crn/internal/jobstore"
	"github.com/crn-cloud/crn/internal/metrics"
	"github.com/crn-cloud/crn/internal/notification"
	"github.com/crn-cloud/crn/internal/objectstore"
	"github.com/crn-cloud/crn/internal/objectstore/fs"
	"github.com/crn-cloud/crn/internal/snapshot"
	"github.com/crn-cloud/crn/internal/sweep"
	"github.com/crn-cloud/crn/pkg/db"
	"github.com/crn-cloud/crn/pkg/env"
	"github.com/crn-cloud/crn/pkg/log"
	"github.com/spf13/cobra"
)

const (
	usage   = "start"
	short   = "Start a crn analysis server"
	long    = "This command starts a crn analysis server instance"
	example = "crn start"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"launch", "boot", "up", "serve", "begin"},
		Example:    example,
		RunE:       start,
	}
)

var cancel context.CancelFunc

func start(cmd *cobra.Command, args []string) error {
	signalChan := make(chan os.Signal, 1)

	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 signal")
				if profile := pprof.Lookup("goroutine"); profile != nil {
					if err := profile.WriteTo(os.Stdout, 1); err != nil {
						log.Error("write goroutine profile", "error", err)
					}
				}
			case syscall.SIGINT:
				log.Info("gracefully shutting down due to SIGINT signal")
				shutdown()
				os.Exit(0)
			}
		}
	}()

	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT)

	var errs = make(chan error)
	ctx, cancelFunc := context.WithCancel(context.Background())
	cancel = cancelFunc

	log.Info("migrating database")
	if err := db.Migrate(); err != nil {
		log.Fatal("database migration failure", "error", err)
	}

	metrics.Register()

	vars := env.Variables()

	backend, err := docker.New(vars.DockerHost, vars.Region)
	if err != nil {
		log.Fatal("compute backend configuration failure", "error", err)
	}

	objects, err := fs.New(vars.ObjectRoot)
	if err != nil {
		log.Fatal("object store configuration failure", "error", err)
	}

	// Analysis outputs can live in their own store.
	results := objectstore.Store(objects)
	if vars.ResultsRoot != "" && vars.ResultsRoot != vars.ObjectRoot {
		results, err = fs.New(vars.ResultsRoot)
		if err != nil {
			log.Fatal("results store configuration failure", "error", err)
		}
	}

	store := jobstore.New(db.Connection())
	bus := event.New()

	jobsvc.Configure(jobsvc.Deps{
		Store:    store,
		Backend:  backend,
		Objects:  objects,
		Results:  results,
		Resolver: snapshot.NewDirResolver(vars.DatasetRoot),
		Bus:      bus,
	})

	defsvc.Configure(defsvc.Deps{
		DB:      db.Connection(),
		Backend: backend,
	})

	if vars.WebhookURL != "" {
		subscriber := notification.NewSubscriber(
			store, vars.WebhookURL, vars.WebhookTimeout)
		go func() {
			log.Info("starting completion notifier", "url", vars.WebhookURL)
			if err := subscriber.Run(ctx, bus); err != nil && ctx.Err() == nil {
				errs <- err
			}
		}()
	}

	go func() {
		log.Info("starting stale upload sweeper", "schedule", vars.SweepSchedule)
		sweeper := sweep.New(store, vars.UploadDeadline)
		if err := sweeper.Start(ctx, vars.SweepSchedule); err != nil && ctx.Err() == nil {
			errs <- err
		}
	}()

	go func() {
		log.Info("spinning up api")
		errs <- api.Start(ctx)
	}()

	defer shutdown()

	return <-errs
}

func shutdown() {
	if cancel != nil {
		cancel()
	}
	if err := api.Shutdown(); err != nil {
		log.Error("api shutdown failure", "error", err)
	}
}
