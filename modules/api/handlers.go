package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	domain "github.com/example/task-service/domain/task"
	"github.com/example/task-service/modules/activity"
	"github.com/example/task-service/modules/task"
	"github.com/example/task-service/tracing"
)

func (m *Module) info(c *fiber.Ctx) error {
	return c.JSON(InfoResponse{
		Service:     m.cfg.AppName,
		Version:     m.cfg.Version,
		Environment: m.cfg.Environment,
		Message:     "Task management API",
		Status:      "operational",
		Endpoints: map[string]string{
			"health": "/health",
			"api":    m.cfg.Prefix,
			"tasks":  m.cfg.Prefix + "/tasks",
		},
	})
}

// health always answers 200. Storage and cache are probed with a short
// deadline and reported as secondary fields.
func (m *Module) health(c *fiber.Ctx) error {
	resp := HealthResponse{
		Status:  "healthy",
		Service: m.cfg.AppName,
		Version: m.cfg.Version,
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), healthProbeTimeout)
	defer cancel()

	if m.storage != nil {
		pool := m.storage.Status()
		resp.Storage = &StorageHealth{Reachable: true, Pool: &pool}
		if err := m.storage.Ping(ctx); err != nil {
			m.logger.Warn("health check: storage unreachable", "error", err)
			resp.Storage.Reachable = false
			resp.Storage.Error = "storage unreachable"
		}
	}
	if m.cacheProbe != nil {
		resp.Cache = &CacheHealth{Reachable: true}
		if err := m.cacheProbe.Ping(ctx); err != nil {
			m.logger.Warn("health check: cache unreachable", "error", err)
			resp.Cache.Reachable = false
			resp.Cache.Error = "cache unreachable"
		}
	}

	return c.JSON(resp)
}

func (m *Module) createTask(c *fiber.Ctx) error {
	var req task.CreateTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return m.writeError(c, err)
	}

	t, err := m.tasks.Create(c.UserContext(), req)
	if err != nil {
		return m.writeError(c, err)
	}
	return m.respond(c, fiber.StatusCreated, func() any { return task.ToResponse(t) })
}

func (m *Module) getTask(c *fiber.Ctx) error {
	id, err := m.validateID(c, "get")
	if err != nil {
		return m.writeError(c, err)
	}

	t, err := m.tasks.Get(c.UserContext(), id)
	if err != nil {
		return m.writeError(c, err)
	}
	return m.respond(c, fiber.StatusOK, func() any { return task.ToResponse(t) })
}

func (m *Module) listTasks(c *fiber.Ctx) error {
	verr := &domain.ValidationError{}
	req := task.ListTasksRequest{
		Page:       queryInt(c, "page", task.DefaultPage, verr),
		Size:       queryInt(c, "size", task.DefaultSize, verr),
		Status:     c.Query("status"),
		Priority:   c.Query("priority"),
		AssignedTo: c.Query("assigned_to"),
	}
	if err := verr.Err(); err != nil {
		return m.writeError(c, err)
	}

	page, err := m.tasks.List(c.UserContext(), req)
	if err != nil {
		return m.writeError(c, err)
	}
	return m.respond(c, fiber.StatusOK, func() any { return task.ToListResponse(page) })
}

func (m *Module) updateTask(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return m.writeError(c, err)
	}

	var req task.UpdateTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return m.writeError(c, err)
	}

	t, err := m.tasks.Update(c.UserContext(), id, req)
	if err != nil {
		return m.writeError(c, err)
	}
	return m.respond(c, fiber.StatusOK, func() any { return task.ToResponse(t) })
}

func (m *Module) deleteTask(c *fiber.Ctx) error {
	id, err := m.validateID(c, "delete")
	if err != nil {
		return m.writeError(c, err)
	}

	if err := m.tasks.Delete(c.UserContext(), id); err != nil {
		return m.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (m *Module) taskStats(c *fiber.Ctx) error {
	stats, err := m.tasks.Stats(c.UserContext())
	if err != nil {
		return m.writeError(c, err)
	}
	return m.respond(c, fiber.StatusOK, func() any { return task.ToStatsResponse(stats) })
}

func (m *Module) taskActivity(c *fiber.Ctx) error {
	if m.activity == nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "activity feed disabled",
		})
	}

	id, err := parseID(c)
	if err != nil {
		return m.writeError(c, err)
	}
	verr := &domain.ValidationError{}
	limit := queryInt(c, "limit", activity.DefaultLimit, verr)
	if err := verr.Err(); err != nil {
		return m.writeError(c, err)
	}

	feed, err := m.activity.ListActivity(c.UserContext(), id, limit)
	if err != nil {
		return m.writeError(c, err)
	}
	return m.respond(c, fiber.StatusOK, func() any { return feed })
}

// respond projects and encodes the body inside the task.serialize span.
func (m *Module) respond(c *fiber.Ctx, status int, project func() any) error {
	_, span := m.tracer.Start(c.UserContext(), "task.serialize")
	body, err := json.Marshal(project())
	tracing.End(span, err, "serialization_error")
	if err != nil {
		return m.writeError(c, fmt.Errorf("encode response: %w", err))
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(status).Send(body)
}

// decodeBody parses a JSON body. Any decoding failure is reported as a
// format violation, on the offending field when the decoder names one.
func decodeBody(c *fiber.Ctx, out any) error {
	err := c.BodyParser(out)
	if err == nil {
		return nil
	}

	verr := &domain.ValidationError{}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		verr.Add(typeErr.Field, domain.RuleFormat,
			fmt.Sprintf("%s has the wrong type (got %s)", typeErr.Field, typeErr.Value))
		return verr
	}
	verr.Add("body", domain.RuleFormat, "request body must be a valid JSON object")
	return verr
}

// validateID parses the id path parameter inside a task.validate.<op> span.
func (m *Module) validateID(c *fiber.Ctx, op string) (int64, error) {
	_, span := m.tracer.Start(c.UserContext(), "task.validate."+op)
	id, err := parseID(c)
	tracing.End(span, err, task.KindValidationFailed)
	return id, err
}

func parseID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		verr := &domain.ValidationError{}
		verr.Add("id", domain.RuleFormat, "id must be an integer")
		return 0, verr
	}
	return id, nil
}

// queryInt reads an integer query parameter, recording a format violation
// when it is not one.
func queryInt(c *fiber.Ctx, key string, def int, verr *domain.ValidationError) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		verr.Add(key, domain.RuleFormat, key+" must be an integer")
		return def
	}
	return n
}
