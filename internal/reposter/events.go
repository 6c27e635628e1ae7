package reposter

// Event types published on the bus.
const (
	EventJobCreated   = "job.created"
	EventJobReposted  = "job.reposted"
	EventRepostFailed = "job.repost_failed"
	EventJobExpired   = "job.expired"
	EventJobStopped   = "job.stopped"
)
