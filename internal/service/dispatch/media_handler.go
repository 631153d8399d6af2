package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"

	"github.com/go-resty/resty/v2"
	"github.com/gotomicro/ego/core/elog"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/queue"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/provider"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/supervisor"
)

const defaultMaxMediaBytes = 16 << 20 // 16 MiB, WhatsApp's ceiling for most media

// MediaHandler executes media-upload jobs: fetch the attachment, push it to
// the provider, then re-enqueue the delivery with the provider media handle.
type MediaHandler struct {
	sup      *supervisor.Supervisor
	enqueuer *Enqueuer
	fetcher  *resty.Client
	maxBytes int64
	logger   *elog.Component
}

func NewMediaHandler(sup *supervisor.Supervisor, enqueuer *Enqueuer, maxBytes int64) *MediaHandler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxMediaBytes
	}
	return &MediaHandler{
		sup:      sup,
		enqueuer: enqueuer,
		fetcher:  resty.New(),
		maxBytes: maxBytes,
		logger:   elog.DefaultLogger,
	}
}

func (h *MediaHandler) Handle(ctx context.Context, job domain.Job) queue.Outcome {
	var payload domain.MediaUploadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Fatal(fmt.Errorf("%w: corrupt media payload: %w", errs.ErrInvalidParameter, err))
	}
	msg := payload.Message
	if msg.MediaURL == "" {
		return queue.Fatal(fmt.Errorf("%w: media job without media url", errs.ErrInvalidParameter))
	}
	maxBytes := h.maxBytes
	if payload.MaxBytes > 0 {
		maxBytes = payload.MaxBytes
	}

	media, err := h.fetch(ctx, msg.MediaURL, maxBytes)
	if err != nil {
		return queue.Classify(err)
	}

	var mediaID string
	uploadErr := h.sup.WithLock(ctx, msg.ChannelID, func(p provider.Provider) error {
		var err error
		mediaID, err = p.UploadMedia(ctx, media)
		return err
	})
	if uploadErr != nil {
		if errs.IsSessionInvalidating(uploadErr) {
			if _, err := h.enqueuer.EnqueueSync(ctx, msg.ChannelID, true); err != nil {
				h.logger.Error("failed to enqueue channel sync",
					elog.Int64("channelID", msg.ChannelID), elog.FieldErr(err))
			}
		}
		return queue.Classify(uploadErr)
	}

	msg.MediaID = mediaID
	if _, err := h.enqueuer.EnqueueDelivery(ctx, msg); err != nil {
		return queue.Retry(fmt.Errorf("failed to enqueue delivery after upload: %w", err))
	}
	return queue.Success()
}

func (h *MediaHandler) fetch(ctx context.Context, mediaURL string, maxBytes int64) (provider.Media, error) {
	parsed, err := url.Parse(mediaURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return provider.Media{}, fmt.Errorf("%w: bad media url %q", errs.ErrInvalidParameter, mediaURL)
	}
	resp, err := h.fetcher.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(mediaURL)
	if err != nil {
		return provider.Media{}, fmt.Errorf("%w: %w", errs.ErrMediaFetchFailed, err)
	}
	raw := resp.RawBody()
	defer func() { _ = raw.Close() }()
	if resp.IsError() {
		return provider.Media{}, fmt.Errorf("%w: source returned %d", errs.ErrMediaFetchFailed, resp.StatusCode())
	}
	// never buffer more than one byte past the limit
	body, err := io.ReadAll(io.LimitReader(raw, maxBytes+1))
	if err != nil {
		return provider.Media{}, fmt.Errorf("%w: %w", errs.ErrMediaFetchFailed, err)
	}
	if int64(len(body)) > maxBytes {
		return provider.Media{}, fmt.Errorf("%w: source exceeds limit %d", errs.ErrMediaTooLarge, maxBytes)
	}
	return provider.Media{
		MimeType: resp.Header().Get("Content-Type"),
		Filename: path.Base(parsed.Path),
		Data:     body,
	}, nil
}
