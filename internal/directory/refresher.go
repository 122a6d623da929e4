package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "tagbot/pkg/logx"
)

const refreshGroupTimeout = 30 * time.Second

// Refresher runs BulkRefresh over every known group on a cron schedule.
type Refresher struct {
	svc    *Service
	spec   string
	parser cron.Parser
	log    logx.Logger
}

func NewRefresher(svc *Service, spec string, log logx.Logger) *Refresher {
	return &Refresher{
		svc:    svc,
		spec:   strings.TrimSpace(spec),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		log:    log.With(logx.String("comp", "directory.refresh")),
	}
}

// Validate checks the cron spec. An empty spec is valid and disables refreshes.
func (r *Refresher) Validate() error {
	if r.spec == "" {
		return nil
	}
	if _, err := r.parser.Parse(r.spec); err != nil {
		return fmt.Errorf("directory.refresh_schedule: %w", err)
	}
	return nil
}

// Run blocks until ctx is done. Runs never overlap.
func (r *Refresher) Run(ctx context.Context) error {
	if r.spec == "" {
		<-ctx.Done()
		return nil
	}
	c := cron.New(
		cron.WithParser(r.parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(r.spec, func() { r.RefreshAll(ctx) }); err != nil {
		return fmt.Errorf("directory.refresh_schedule: %w", err)
	}
	c.Start()
	r.log.Info("directory refresh scheduled", logx.String("spec", r.spec))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// RefreshAll refreshes every group in the directory, one at a time.
func (r *Refresher) RefreshAll(ctx context.Context) {
	groups, err := r.svc.Groups(ctx)
	if err != nil {
		r.log.Warn("list groups failed", logx.Err(err))
		return
	}
	total := 0
	for _, g := range groups {
		if ctx.Err() != nil {
			return
		}
		gctx, cancel := context.WithTimeout(ctx, refreshGroupTimeout)
		n, err := r.svc.BulkRefresh(gctx, g)
		cancel()
		if err != nil {
			r.log.Warn("group refresh failed", logx.ChatID(g), logx.Err(err))
			continue
		}
		total += n
	}
	r.log.Info("directory refreshed", logx.Int("groups", len(groups)), logx.Int("members", total))
}
