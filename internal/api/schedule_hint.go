package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
)

// scheduleHintRequest is the wire shape for POST /api/v1/schedule-hint.
type scheduleHintRequest struct {
	CronExpr string `json:"cron_expr"`
	Count    int    `json:"count"`
}

type scheduleHintResponse struct {
	CronExpr string   `json:"cron_expr"`
	NextRuns []string `json:"next_runs"`
}

const (
	defaultScheduleHintCount = 5
	maxScheduleHintCount     = 50
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// HandleScheduleHint is a convenience endpoint for clients choosing a
// poll_interval or deciding when to call the run endpoint: the manager
// itself only ever drives pipelines on a plain fixed poll_interval ticker
// (spec.md §5), it does not understand cron expressions. This handler
// parses a standard 5-field cron expression and returns the next several
// trigger times so an external caller can line up its own POST .../run
// calls with a cron-shaped schedule, without the runner core taking on
// cron semantics itself.
func (s *Server) HandleScheduleHint(w http.ResponseWriter, r *http.Request) {
	var req scheduleHintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, "invalid JSON body", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	schedule, err := cronParser.Parse(req.CronExpr)
	if err != nil {
		errorJSON(w, "invalid cron_expr: "+err.Error(), "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	count := req.Count
	if count <= 0 {
		count = defaultScheduleHintCount
	}
	if count > maxScheduleHintCount {
		count = maxScheduleHintCount
	}

	now := time.Now().UTC()
	runs := make([]string, 0, count)
	next := now
	for i := 0; i < count; i++ {
		next = schedule.Next(next)
		runs = append(runs, next.Format(time.RFC3339))
	}

	writeJSON(w, http.StatusOK, scheduleHintResponse{CronExpr: req.CronExpr, NextRuns: runs})
}
