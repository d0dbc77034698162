// Route handlers for CronJob CRUD and manual triggering.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

func (s *Server) listCronJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.rt.Scheduler.ListJobs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getCronJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.rt.Scheduler.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) createCronJob(w http.ResponseWriter, r *http.Request) {
	var job models.CronJob
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Name == "" || job.Schedule == "" || job.TargetAgentID == "" {
		writeBadRequest(w, "name, schedule, and target_agent_id are required")
		return
	}
	if err := s.rt.Scheduler.AddJob(r.Context(), &job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &job)
}

func (s *Server) updateCronJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var job models.CronJob
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	job.ID = id
	if err := s.rt.Scheduler.UpdateJob(r.Context(), &job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &job)
}

func (s *Server) deleteCronJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.rt.Scheduler.RemoveJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) triggerCronJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.rt.Scheduler.TriggerJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// cronJobStatus is the run-state summary of one job, without the full
// payload the GET-by-id handler returns.
func (s *Server) cronJobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.rt.Scheduler.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":               job.ID,
		"enabled":          job.Enabled,
		"last_run_at":      job.LastRunAt,
		"last_status":      job.LastStatus,
		"last_duration_ms": job.LastDurationMS,
		"last_error":       job.LastError,
		"next_run_at":      job.NextRunAt,
		"run_count":        job.RunCount,
		"success_count":    job.SuccessCount,
		"fail_count":       job.FailCount,
	})
}

func (s *Server) cronJobHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query()
	execs, err := s.rt.Scheduler.Executions(r.Context(), id, atoiOr(q.Get("limit"), 50), atoiOr(q.Get("offset"), 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}
