package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasklist/domain"
)

// Register wires up all API routes on the provided Echo instance. deduper and
// hub may be nil, which disables idempotency keys and the change stream.
func Register(e *echo.Echo, board Board, deduper Deduper, hub *Hub, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	now := time.Now
	e.JSONSerializer = JSONSerializer{}

	e.GET("/api/tasks", instrument("/api/tasks", logger, getTasks(board, now)))
	e.POST("/api/tasks", instrument("/api/tasks", logger, postTask(board, deduper, logger, now)))
	e.POST("/api/tasks/:id/toggle", instrument("/api/tasks/:id/toggle", logger, toggleTask(board, now)))
	e.DELETE("/api/tasks/:id", instrument("/api/tasks/:id", logger, deleteTask(board)))
	e.GET("/api/stats", instrument("/api/stats", logger, getStats(board)))
	e.PUT("/api/filter", instrument("/api/filter", logger, putFilter(board, now)))
	if hub != nil {
		e.GET("/api/stream", streamChanges(board, hub, now))
	}
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getTasks(board Board, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics := metricsFrom(c)
		filter := strings.TrimSpace(c.QueryParam("filter"))

		start := time.Now()
		view := board.View(filter)
		metrics.ObserveStore(time.Since(start))
		metrics.SetFilter(string(view.Filter))
		metrics.SetTasksReturned(len(view.Tasks))

		return c.JSON(http.StatusOK, tasksResponse{
			Filter: view.Filter,
			Tasks:  newTaskViews(view.Tasks, now()),
			Stats:  view.Stats,
		})
	}
}

func postTask(board Board, deduper Deduper, logger *log.Logger, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		metrics := metricsFrom(c)

		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			metrics.SetErrorStage("invalid_body")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}

		key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
		recorded := false
		if key != "" && deduper != nil {
			added, err := deduper.Add(ctx, key)
			switch {
			case err != nil:
				logger.WithError(err).Warn("idempotency check failed; creating task without it")
			case !added:
				metrics.SetErrorStage("duplicate")
				return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
			default:
				recorded = true
			}
		}

		start := time.Now()
		task, err := board.Add(ctx, req.Title, domain.Priority(req.Priority), req.Description)
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			if recorded {
				if rerr := deduper.Remove(ctx, key); rerr != nil {
					logger.Errorf("dedupe rollback failed, err: %v, key: %s", rerr, key)
				}
			}
			return respondError(c, metrics, err)
		}
		return c.JSON(http.StatusCreated, newTaskView(task, now()))
	}
}

func toggleTask(board Board, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics := metricsFrom(c)
		start := time.Now()
		task, found, err := board.ToggleComplete(c.Request().Context(), c.Param("id"))
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			return respondError(c, metrics, err)
		}
		if !found {
			metrics.SetErrorStage("not_found")
			return c.JSON(http.StatusNotFound, errorResponse{Error: "task not found"})
		}
		return c.JSON(http.StatusOK, newTaskView(task, now()))
	}
}

func deleteTask(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics := metricsFrom(c)
		start := time.Now()
		removed, err := board.Delete(c.Request().Context(), c.Param("id"))
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			return respondError(c, metrics, err)
		}
		if !removed {
			metrics.SetErrorStage("not_found")
			return c.JSON(http.StatusNotFound, errorResponse{Error: "task not found"})
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getStats(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, board.Stats())
	}
}

func putFilter(board Board, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics := metricsFrom(c)
		var req filterRequest
		if err := decodeBody(c, &req); err != nil {
			metrics.SetErrorStage("invalid_body")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		view := board.SetFilter(c.Request().Context(), req.Filter)
		metrics.SetFilter(string(view.Filter))
		metrics.SetTasksReturned(len(view.Tasks))
		return c.JSON(http.StatusOK, tasksResponse{
			Filter: view.Filter,
			Tasks:  newTaskViews(view.Tasks, now()),
			Stats:  view.Stats,
		})
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, postTaskMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func respondError(c echo.Context, metrics *requestMetrics, err error) error {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		metrics.SetErrorStage("validation")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: ve.Error(), Field: ve.Field})
	case errors.Is(err, domain.ErrStorageUnavailable):
		metrics.SetErrorStage("storage")
		c.Logger().Error(err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "storage unavailable"})
	default:
		var pe *domain.PersistenceError
		c.Logger().Error(err)
		if errors.As(err, &pe) {
			metrics.SetErrorStage("storage")
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "storage failure"})
		}
		metrics.SetErrorStage("internal")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
