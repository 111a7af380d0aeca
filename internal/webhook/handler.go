// Package webhook receives GitHub events and queues the matching pipeline.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v68/github"
	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/reviewrag/internal/tasks"
)

// Submitter queues background work. tasks.Executor satisfies it.
type Submitter interface {
	Submit(t tasks.Task) error
}

// Handler serves POST /webhook/github. It answers before any pipeline runs.
type Handler struct {
	secret    []byte
	pipelines *Pipelines
	queue     Submitter
}

// NewHandler creates a Handler. An empty secret disables signature checks.
func NewHandler(secret []byte, pipelines *Pipelines, queue Submitter) *Handler {
	return &Handler{secret: secret, pipelines: pipelines, queue: queue}
}

type response struct {
	Message string `json:"message"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload, err := github.ValidatePayload(r, h.secret)
	if err != nil {
		logger.Warn().Err(err).Msg("rejected webhook payload")
		http.Error(w, "Invalid payload", http.StatusUnauthorized)
		return
	}

	eventType := github.WebHookType(r)
	if eventType != "pull_request" {
		writeJSON(w, http.StatusOK, "Webhook received")
		return
	}

	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to parse webhook")
		http.Error(w, "Malformed event", http.StatusBadRequest)
		return
	}
	ev, ok := event.(*github.PullRequestEvent)
	if !ok || ev.GetPullRequest() == nil || ev.GetRepo() == nil {
		http.Error(w, "Malformed event", http.StatusBadRequest)
		return
	}

	repo := ev.GetRepo().GetFullName()
	pr := ev.GetPullRequest()
	action := ev.GetAction()

	switch {
	case action == "opened" || action == "synchronize":
		req := PullRequest{
			Repo:    repo,
			Number:  ev.GetNumber(),
			HeadSHA: pr.GetHead().GetSHA(),
			Action:  action,
		}
		if req.Number == 0 {
			req.Number = pr.GetNumber()
		}
		task := tasks.Task{
			Name: fmt.Sprintf("review %s#%d", repo, req.Number),
			Run: func(ctx context.Context) error {
				return h.pipelines.ReviewPullRequest(ctx, req)
			},
		}
		h.submit(w, r, task, "PR review triggered")

	case action == "closed" && pr.GetMerged():
		branch := pr.GetBase().GetRef()
		task := tasks.Task{
			Name: fmt.Sprintf("reindex %s@%s", repo, branch),
			Run: func(ctx context.Context) error {
				return h.pipelines.ReindexRepository(ctx, repo, branch)
			},
		}
		h.submit(w, r, task, "Re-indexing repository after merge")

	default:
		writeJSON(w, http.StatusOK, "Webhook received")
	}
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, task tasks.Task, msg string) {
	if err := h.queue.Submit(task); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("task", task.Name).Msg("failed to queue pipeline")
		if errors.Is(err, tasks.ErrQueueFull) || errors.Is(err, tasks.ErrClosed) {
			http.Error(w, "Busy, retry later", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "Failed to queue pipeline", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

func writeJSON(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{Message: msg})
}
