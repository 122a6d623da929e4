package eventbus

import "time"

// Campaign lifecycle event types. Data is a CampaignEvent.
const (
	CampaignStarted  = "campaign.started"
	CampaignBatch    = "campaign.batch"
	CampaignFinished = "campaign.finished"
)

// Directory event types. Data is a DirectoryEvent.
const (
	MemberObserved   = "directory.observed"
	DirectoryRefresh = "directory.refresh"
)

type CampaignEvent struct {
	SessionID  string
	ChatID     int64
	OperatorID int64

	Total      int
	Dispatched int
	BatchSize  int

	// Outcome is set on CampaignBatch ("sent", "skipped", "rate_limited")
	// and CampaignFinished (the terminal state name).
	Outcome string
	Elapsed time.Duration
}

type DirectoryEvent struct {
	ChatID int64
	Count  int
	Err    error
}
