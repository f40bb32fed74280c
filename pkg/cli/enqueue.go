package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/telekom/email-sender/pkg/email"
	"github.com/telekom/email-sender/pkg/queue"
)

func NewEnqueueCommand() *cobra.Command {
	var (
		req            email.SendRequest
		attachmentName string
		attachmentURL  string
	)

	cmd := &cobra.Command{
		Use:         "enqueue",
		Short:       "Validate a single send request and publish it to the queue",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{rolesAnnotation: "intake"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if attachmentName != "" || attachmentURL != "" {
				req.Attachment = &email.Attachment{Name: attachmentName, URL: attachmentURL}
			}

			if err := email.Validate(req); err != nil {
				var verr *email.ValidationError
				if errors.As(err, &verr) {
					return fmt.Errorf("invalid send request:\n  %s", strings.Join(verr.Messages(), "\n  "))
				}
				return err
			}

			producer, err := rt.openQueue(rt.cfg, rt.Log())
			if err != nil {
				return err
			}
			defer func() { _ = producer.Close() }()

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			requestID := uuid.NewString()
			if err := producer.Enqueue(queue.WithRequestID(ctx, requestID), req); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(rt.Writer(), "queued email to %s on topic %s (request ID %s)\n", req.To, rt.cfg.Kafka.Topic, requestID)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.From, "from", "", "Sender address")
	cmd.Flags().StringVar(&req.To, "to", "", "Recipient address")
	cmd.Flags().StringVar(&req.Subject, "subject", "", "Subject line")
	cmd.Flags().StringVar(&req.Body, "body", "", "Plain-text body")
	cmd.Flags().StringVar(&attachmentName, "attachment-name", "", "File name of the optional attachment")
	cmd.Flags().StringVar(&attachmentURL, "attachment-url", "", "URL the attachment is fetched from at delivery time")

	return cmd
}
