package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/telekom/email-sender/pkg/api"
	"github.com/telekom/email-sender/pkg/attachment"
	"github.com/telekom/email-sender/pkg/config"
	"github.com/telekom/email-sender/pkg/mail"
	"github.com/telekom/email-sender/pkg/queue"
)

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "serve",
		Short:       "Run the intake API and the delivery worker in one process",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{rolesAnnotation: "intake,worker"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, true, true)
		},
	}
}

func NewWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "worker",
		Short:       "Consume queued send requests and deliver them over SMTP",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{rolesAnnotation: "worker"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, false, true)
		},
	}
}

func NewAPICommand() *cobra.Command {
	return &cobra.Command{
		Use:         "api",
		Short:       "Serve the intake API that queues send requests",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{rolesAnnotation: "intake"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, true, false)
		},
	}
}

// run starts the requested components and blocks until SIGINT/SIGTERM or the
// first component failure.
func run(cmd *cobra.Command, intake, worker bool) error {
	rt, err := getRuntime(cmd)
	if err != nil {
		return err
	}
	log := rt.Log()

	var consumer *queue.Consumer
	if worker {
		if consumer, err = NewConsumer(rt.cfg, log); err != nil {
			return err
		}
	}

	var server *api.Server
	if intake {
		producer, err := rt.openQueue(rt.cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := producer.Close(); err != nil {
				log.Warnw("Error closing queue producer", "error", err)
			}
		}()

		server = api.NewServer(rt.logger, rt.cfg.Server, rt.debug, producer)
		defer server.Close()
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	if consumer != nil {
		g.Go(func() error { return consumer.Run(ctx) })
	}
	if server != nil {
		g.Go(func() error { return server.Listen(ctx) })
	}

	log.Infow("email-sender started",
		"intake", intake,
		"worker", worker,
		"brokers", rt.cfg.Kafka.Brokers,
		"topic", rt.cfg.Kafka.Topic)

	err = g.Wait()
	log.Infow("email-sender stopped", "error", err)
	return err
}

// NewConsumer wires the delivery pipeline: fetcher, composer and SMTP client
// behind a retrying processor, fed by a consumer group member.
func NewConsumer(cfg config.Config, log *zap.SugaredLogger) (*queue.Consumer, error) {
	kafkaCfg, err := cfg.QueueConfig()
	if err != nil {
		return nil, err
	}

	fetcher := attachment.NewFetcher(cfg.AttachmentConfig(), log)
	composer := mail.NewComposer(fetcher, log)
	delivery := mail.NewSMTPClient(cfg.SMTPConfig(), log)
	service := mail.NewService(composer, delivery, log)
	processor := queue.NewProcessor(service, cfg.RetryPolicy(), log)

	return queue.NewConsumer(kafkaCfg, processor, log)
}

// signalContext ends on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
