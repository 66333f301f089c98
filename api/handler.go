package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lconvert/job"
	"lconvert/progress"
)

// StatusSource is the read side of the progress tracker.
type StatusSource interface {
	Snapshot() progress.Snapshot
	Jobs() []progress.JobStatus
	Job(id string) (progress.JobStatus, bool)
}

type Handler struct {
	src StatusSource
}

func NewHandler(src StatusSource) *Handler {
	return &Handler{src: src}
}

type progressResponse struct {
	progress.Snapshot
	Done bool `json:"done"`
}

func (h *Handler) handleGetProgress(c *gin.Context) {
	s := h.src.Snapshot()
	c.JSON(http.StatusOK, progressResponse{Snapshot: s, Done: s.Done()})
}

// handleListJobs lists all jobs, optionally filtered by ?status=.
func (h *Handler) handleListJobs(c *gin.Context) {
	jobs := h.src.Jobs()
	if status := c.Query("status"); status != "" {
		filtered := make([]progress.JobStatus, 0, len(jobs))
		for _, j := range jobs {
			if string(j.Status) == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *Handler) handleGetJob(c *gin.Context) {
	j, found := h.src.Job(c.Param("jobId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, j)
}

// handleGetOutput serves a successfully converted file.
func (h *Handler) handleGetOutput(c *gin.Context) {
	j, found := h.src.Job(c.Param("jobId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	if j.Status != job.StatusSucceeded {
		c.JSON(http.StatusConflict, gin.H{"error": "Job has not succeeded", "status": j.Status})
		return
	}
	c.File(j.Output)
}
