package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reposter/internal/reposter"
	"reposter/internal/storage"
	logx "reposter/pkg/logx"
)

// JobService is the part of the repost engine the admin commands drive.
type JobService interface {
	CreateJob(ctx context.Context, text, origin string) (reposter.JobHandle, error)
	ListActive(ctx context.Context) []reposter.JobSummary
	StopJob(ctx context.Context, prefix string) (string, error)
}

const (
	shortIDLen     = 6
	previewTextLen = 50
)

const welcomeText = "Hello! I repost job announcements to the channel.\n\n" +
	"Administrator commands:\n" +
	"/feature <job text> - publish a job now and schedule its reposts.\n" +
	"/listjobs - list active jobs and their upcoming repost times.\n" +
	"/stopjob <ID> - stop reposting a scheduled job."

// JobCommands returns the admin command set backed by svc.
func JobCommands(svc JobService) []Command {
	return []Command{
		{
			Name:        "start",
			Description: "welcome message",
			Usage:       "/start",
			Access:      AccessEveryone,
			Hidden:      true,
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, welcomeText)
			},
		},
		{
			Name:        "feature",
			Description: "publish a job now and schedule its reposts",
			Usage:       "/feature <job text>",
			Access:      AccessOwnerOnly,
			Timeout:     30 * time.Second,
			Handle:      featureHandler(svc),
		},
		{
			Name:        "listjobs",
			Description: "list active jobs and upcoming reposts",
			Usage:       "/listjobs",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, formatJobList(svc.ListActive(ctx)))
			},
		},
		{
			Name:        "stopjob",
			Description: "stop reposting a job",
			Usage:       "/stopjob <ID>",
			Access:      AccessOwnerOnly,
			Handle:      stopHandler(svc),
		},
	}
}

func featureHandler(svc JobService) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		text := req.Text
		if text == "" {
			return req.Reply(ctx, "Please send the job text with the command.")
		}
		h, err := svc.CreateJob(ctx, text, fmt.Sprint(req.MessageID))
		switch {
		case errors.Is(err, reposter.ErrPublish):
			return req.Reply(ctx, "⚠️ Publishing to the channel failed. Check the bot's permissions there. Error: "+err.Error())
		case errors.Is(err, reposter.ErrEmptyContent):
			return req.Reply(ctx, "Please send the job text with the command.")
		case errors.Is(err, reposter.ErrContentTooLong):
			return req.Reply(ctx, fmt.Sprintf("The job text is too long. Keep it under %d characters so it fits in one post.", reposter.MaxContentRunes))
		case err != nil:
			return err
		}
		req.Logger.Info("job featured", logx.String("job", h.ID), logx.Int("reposts", len(h.Schedule)))
		return req.Reply(ctx, fmt.Sprintf("✅ Job %s published and its reposts scheduled.\nUse /listjobs to see the upcoming repost times.", shortID(h.ID)))
	}
}

func stopHandler(svc JobService) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if len(req.Args) == 0 {
			return req.Reply(ctx, "Please give the ID of the job to stop.\nExample: /stopjob 123456")
		}
		prefix := req.Args[0]
		id, err := svc.StopJob(ctx, prefix)
		if errors.Is(err, reposter.ErrNotFound) {
			return req.Reply(ctx, "No active job found with ID: "+prefix+".")
		}
		if err != nil {
			return err
		}
		req.Logger.Info("job stopped", logx.String("job", id))
		return req.Reply(ctx, "✅ Stopped reposting job ID: "+prefix+".")
	}
}

func formatJobList(jobs []reposter.JobSummary) string {
	if len(jobs) == 0 {
		return "No active jobs are being reposted right now."
	}
	parts := make([]string, 0, len(jobs))
	for _, j := range jobs {
		var b strings.Builder
		b.WriteString("ID: ")
		b.WriteString(shortID(j.ID))
		b.WriteString("\nText: ")
		b.WriteString(truncateRunes(j.Text, previewTextLen))
		b.WriteString("...\nUpcoming reposts:")
		for _, ts := range j.Schedule {
			b.WriteString("\n- ")
			b.WriteString(ts.Format(storage.TimeLayout))
		}
		parts = append(parts, b.String())
	}
	return "Jobs currently being reposted:\n\n" + strings.Join(parts, "\n---\n")
}

func shortID(id string) string { return truncateRunes(id, shortIDLen) }

func truncateRunes(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n])
}
