package main

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gluk-w/teemux/internal/sshmanager"
)

// startPurgeJob schedules the removal of ended session records older than
// retention. The caller stops the returned scheduler on shutdown.
func startPurgeJob(sessions *sshmanager.SSHManager, schedule string, retention time.Duration) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { purgeEndedSessions(sessions, retention) }); err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	c.Start()
	log.Printf("[purge] ended sessions older than %s are purged on %q", retention, schedule)
	return c, nil
}

func purgeEndedSessions(sessions *sshmanager.SSHManager, retention time.Duration) int {
	n := sessions.PurgeEnded(retention)
	if n > 0 {
		log.Printf("[purge] removed %d ended sessions", n)
	}
	return n
}
