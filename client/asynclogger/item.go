package asynclogger

import "github.com/processlog/eventlog/pkg/models"

// item wraps one event with its retry bookkeeping. Items move between the
// live queue and the scheduled-retry timers as they fail and get rescheduled.
type item struct {
	event    *models.EventInput
	attempts int
}
