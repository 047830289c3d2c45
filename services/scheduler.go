// services/scheduler.go
package services

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// StartStatsScheduler logs the live match count once a minute. Matches are
// never mutated or expired here; the store only reclaims memory on process
// teardown.
func (s *MatchService) StartStatsScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			logrus.WithField("live_matches", s.Store.Len()).Info("match store stats")
		}),
	)
}
