package mail

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/telekom/email-sender/pkg/attachment"
	"github.com/telekom/email-sender/pkg/email"
)

// ComposedMessage is an email ready for submission.
type ComposedMessage struct {
	From       string
	To         string
	Subject    string
	Body       string
	Attachment *MessageAttachment
}

// MessageAttachment is the fetched attachment of a ComposedMessage.
type MessageAttachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// Composer builds messages from send requests.
type Composer struct {
	fetcher attachment.Fetcher
	log     *zap.SugaredLogger
}

func NewComposer(fetcher attachment.Fetcher, log *zap.SugaredLogger) *Composer {
	return &Composer{
		fetcher: fetcher,
		log:     log.Named("composer"),
	}
}

// Compose copies the request fields unchanged and, when the request names an
// attachment, fetches it exactly once. A failed fetch aborts composition with
// a *CompositionError.
func (c *Composer) Compose(ctx context.Context, req email.SendRequest) (*ComposedMessage, error) {
	msg := &ComposedMessage{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
	}
	if !req.HasAttachment() {
		return msg, nil
	}

	if c.fetcher == nil {
		return nil, &CompositionError{Attachment: req.Attachment.Name, Err: errors.New("no attachment fetcher configured")}
	}

	content, err := c.fetcher.Fetch(ctx, req.Attachment.URL)
	if err != nil {
		return nil, &CompositionError{Attachment: req.Attachment.Name, Err: err}
	}

	c.log.Debugw("Adding attachment",
		"name", req.Attachment.Name,
		"contentType", content.ContentType,
		"size", len(content.Content))

	msg.Attachment = &MessageAttachment{
		Name:        req.Attachment.Name,
		ContentType: content.ContentType,
		Content:     content.Content,
	}
	return msg, nil
}
