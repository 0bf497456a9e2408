package assistant

import (
	"context"
	"errors"
	"time"

	"github.com/ksred/skyline-api/internal/gateway"
	"github.com/rs/zerolog/log"
)

// Poller checks unfinished video jobs until they are done, fail or time out.
// Each round also evicts state older than retention (zero keeps everything).
type Poller struct {
	service   *Service
	interval  time.Duration // time between polling rounds
	timeout   time.Duration
	retention time.Duration
}

func NewPoller(service *Service, interval, timeout, retention time.Duration) *Poller {
	return &Poller{
		service:   service,
		interval:  interval,
		timeout:   timeout,
		retention: retention,
	}
}

// Start begins the polling loop
func (p *Poller) Start(ctx context.Context) {
	logger := log.With().Str("component", "video_poller").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting video poller")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down video poller")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
			if chats, jobs := p.Sweep(); chats+jobs > 0 {
				logger.Info().Int("conversations", chats).Int("videos", jobs).Msg("evicted stale assistant state")
			}
		}
	}
}

// Sweep evicts conversations and finished jobs idle for longer than retention
func (p *Poller) Sweep() (chats, jobs int) {
	if p.retention <= 0 {
		return 0, 0
	}
	return p.service.Evict(p.service.now().Add(-p.retention))
}

// PollOnce polls every unfinished job once and returns how many are still running
func (p *Poller) PollOnce(ctx context.Context) int {
	logger := log.With().Str("component", "video_poller").Logger()
	running := 0

	for _, job := range p.service.pendingVideos() {
		if p.timeout > 0 && p.service.now().Sub(job.CreatedAt) > p.timeout {
			p.service.updateVideo(job.ID, func(j *VideoJob) {
				failVideo(j, "timed out after %s", p.timeout)
			})
			logger.Warn().Str("video_id", job.ID).Msg("video generation timed out")
			continue
		}

		op, err := p.service.video.PollVideo(ctx, job.OperationID)
		if errors.Is(err, context.Canceled) {
			return running
		}

		p.service.updateVideo(job.ID, func(j *VideoJob) {
			j.Polls++
			j.Status = gateway.Status(err)
			if err == nil {
				applyOperation(j, op)
			} else if errors.Is(err, gateway.ErrInvalidKey) {
				// a rejected key will not recover by polling again
				failVideo(j, "%v", err)
			}
		})

		switch {
		case err != nil:
			logger.Error().Err(err).Str("video_id", job.ID).Msg("failed to poll video generation")
			if !errors.Is(err, gateway.ErrInvalidKey) {
				running++
			}
		case op.Done || op.Error != "":
			logger.Info().
				Str("video_id", job.ID).
				Bool("failed", op.Error != "").
				Msg("video generation finished")
		default:
			running++
		}
	}

	return running
}
