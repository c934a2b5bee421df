package model

import "time"

// CrawlJob is the queue payload for one crawl request.
// A zero Limit means "use the configured scrape limit".
type CrawlJob struct {
	Source string `json:"source"`
	URL    string `json:"url,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ScrapeTarget is the resolved crawl request handed to the orchestrator.
type ScrapeTarget struct {
	Source   string
	BaseURL  string
	Sections []string
	Limit    int
}

type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobDead      JobState = "dead"
)

// JobStatus is the observable record of a job's progress kept next to the queue.
type JobStatus struct {
	ID        string           `json:"id"`
	Job       CrawlJob         `json:"job"`
	State     JobState         `json:"state"`
	Attempts  int              `json:"attempts"`
	LastError string           `json:"last_error,omitempty"`
	Articles  []ScrapedArticle `json:"articles,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}
