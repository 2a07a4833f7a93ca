package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/power-dialer/internal/dialer"
	"github.com/acme/power-dialer/internal/domain"
	listsvc "github.com/acme/power-dialer/internal/service/list"
	apperrors "github.com/acme/power-dialer/pkg/errors"
)

type startRunRequest struct {
	ListID           string   `json:"list_id"`
	Concurrency      int      `json:"concurrency"`
	CallerIDStrategy string   `json:"caller_id_strategy"`
	CallerIDs        []string `json:"caller_ids"`
	Script           string   `json:"script"`
}

type concurrencyRequest struct {
	Concurrency int `json:"concurrency"`
}

type resolveRequest struct {
	Tag   string `json:"tag"`
	Notes string `json:"notes"`
}

type resolveResponse struct {
	Line          lineResponse `json:"line"`
	DispositionID uuid.UUID    `json:"disposition_id"`
	Warning       string       `json:"warning,omitempty"`
}

type runResponse struct {
	ID               uuid.UUID        `json:"id"`
	ListID           *uuid.UUID       `json:"list_id,omitempty"`
	Status           domain.RunStatus `json:"status"`
	Concurrency      int              `json:"concurrency"`
	CallerIDStrategy string           `json:"caller_id_strategy,omitempty"`
	CallerIDs        []string         `json:"caller_ids,omitempty"`
	AwaitingOutcome  bool             `json:"awaiting_disposition"`
	GateSlot         *int             `json:"gate_slot,omitempty"`
	Batches          int              `json:"batches"`
	Lines            []lineResponse   `json:"lines"`
	Queue            queueResponse    `json:"queue"`
	Warnings         []string         `json:"warnings,omitempty"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	FinishedAt       *time.Time       `json:"finished_at,omitempty"`
	Archived         bool             `json:"archived,omitempty"`
}

type lineResponse struct {
	Slot        int               `json:"slot"`
	Status      domain.LineStatus `json:"status"`
	Contact     *contactResponse  `json:"contact,omitempty"`
	PhoneNumber string            `json:"phone_number,omitempty"`
	CallerID    string            `json:"caller_id,omitempty"`
	AttemptID   *uuid.UUID        `json:"attempt_id,omitempty"`
	Batch       int               `json:"batch,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	ConnectedAt *time.Time        `json:"connected_at,omitempty"`
	EndedAt     *time.Time        `json:"ended_at,omitempty"`
	Script      string            `json:"script,omitempty"`
}

type contactResponse struct {
	ID              uuid.UUID      `json:"id"`
	Name            string         `json:"name"`
	Phones          []string       `json:"phones"`
	Organization    string         `json:"organization,omitempty"`
	Properties      map[string]any `json:"properties,omitempty"`
	DialAttempts    int            `json:"dial_attempts"`
	LastAttemptedAt *time.Time     `json:"last_attempted_at,omitempty"`
}

type queueResponse struct {
	Depth          int                     `json:"depth"`
	Fresh          int                     `json:"fresh"`
	AttemptedToday int                     `json:"attempted_today"`
	Exhausted      int                     `json:"exhausted"`
	Contacts       []queuedContactResponse `json:"contacts"`
}

type queuedContactResponse struct {
	contactResponse
	AttemptedToday bool `json:"attempted_today"`
	DeadLead       bool `json:"dead_lead"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

type lineEventResponse struct {
	AttemptID  uuid.UUID         `json:"attempt_id"`
	ContactID  uuid.UUID         `json:"contact_id"`
	Slot       int               `json:"slot"`
	Batch      int               `json:"batch"`
	Status     domain.LineStatus `json:"status"`
	CallerID   string            `json:"caller_id"`
	Phone      string            `json:"phone_number"`
	Attempts   int               `json:"attempts"`
	Reason     string            `json:"reason,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type listEventsResponse struct {
	Events   []lineEventResponse `json:"events"`
	NextPage string              `json:"next_page_token,omitempty"`
}

// createRun registers an idle run. A body naming a list starts it at once.
func (h *HandlerSet) createRun(ctx *fiber.Ctx) error {
	var req startRunRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}

	var cfg *dialer.StartConfig
	if req.ListID != "" {
		parsed, err := toStartConfig(req)
		if err != nil {
			return err
		}
		cfg = &parsed
	}

	run := h.runs.Create()
	if cfg != nil {
		if err := h.runs.Start(ctx.Context(), run.ID(), *cfg); err != nil {
			_ = h.runs.Remove(ctx.Context(), run.ID())
			return translateError(err)
		}
	}
	return h.respondRun(ctx, http.StatusCreated, run)
}

func (h *HandlerSet) listRuns(ctx *fiber.Ctx) error {
	snaps, err := h.runs.List(ctx.Context())
	if err != nil {
		return translateError(err)
	}
	resp := listRunsResponse{Runs: make([]runResponse, 0, len(snaps))}
	for _, s := range snaps {
		resp.Runs = append(resp.Runs, toRunResponse(s))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

// getRun falls back to the archive once a finished run has been evicted.
func (h *HandlerSet) getRun(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid run id")
	}
	run, err := h.runs.Get(id)
	if err == nil {
		return h.respondRun(ctx, http.StatusOK, run)
	}
	if !errors.Is(err, apperrors.ErrNotFound) || h.archive == nil {
		return translateError(err)
	}
	summary, archErr := h.archive.Get(ctx.Context(), id)
	if archErr != nil {
		if errors.Is(archErr, apperrors.ErrNotFound) {
			return translateError(err)
		}
		return translateError(archErr)
	}
	return ctx.Status(http.StatusOK).JSON(toArchivedRunResponse(*summary))
}

func (h *HandlerSet) listArchivedRuns(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid list id")
	}
	resp := listRunsResponse{Runs: []runResponse{}}
	if h.archive == nil {
		return ctx.Status(http.StatusOK).JSON(resp)
	}
	summaries, err := h.archive.ListByList(ctx.Context(), id, ctx.QueryInt("limit", 50))
	if err != nil {
		return translateError(err)
	}
	for _, s := range summaries {
		resp.Runs = append(resp.Runs, toArchivedRunResponse(s))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) deleteRun(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid run id")
	}
	if err := h.runs.Remove(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) startRun(ctx *fiber.Ctx) error {
	run, err := h.lookupRun(ctx)
	if err != nil {
		return err
	}
	var req startRunRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	cfg, err := toStartConfig(req)
	if err != nil {
		return err
	}
	if err := h.runs.Start(ctx.Context(), run.ID(), cfg); err != nil {
		return translateError(err)
	}
	return h.respondRun(ctx, http.StatusOK, run)
}

func (h *HandlerSet) pauseRun(ctx *fiber.Ctx) error {
	run, err := h.lookupRun(ctx)
	if err != nil {
		return err
	}
	if err := run.Pause(ctx.Context()); err != nil {
		return translateError(err)
	}
	return h.respondRun(ctx, http.StatusOK, run)
}

func (h *HandlerSet) resumeRun(ctx *fiber.Ctx) error {
	run, err := h.lookupRun(ctx)
	if err != nil {
		return err
	}
	if err := run.Resume(ctx.Context()); err != nil {
		return translateError(err)
	}
	return h.respondRun(ctx, http.StatusOK, run)
}

func (h *HandlerSet) stopRun(ctx *fiber.Ctx) error {
	run, err := h.lookupRun(ctx)
	if err != nil {
		return err
	}
	if err := run.Stop(ctx.Context()); err != nil {
		return translateError(err)
	}
	return h.respondRun(ctx, http.StatusOK, run)
}

func (h *HandlerSet) setConcurrency(ctx *fiber.Ctx) error {
	run, err := h.lookupRun(ctx)
	if err != nil {
		return err
	}
	var req concurrencyRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := run.SetConcurrency(ctx.Context(), req.Concurrency); err != nil {
		return translateError(err)
	}
	return h.respondRun(ctx, http.StatusOK, run)
}

func (h *HandlerSet) hangupLine(ctx *fiber.Ctx) error {
	run, err := h.lookupRun(ctx)
	if err != nil {
		return err
	}
	slot, err := ctx.ParamsInt("slot")
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid line slot")
	}
	line, err := run.Hangup(ctx.Context(), slot)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toLineResponse(line))
}

func (h *HandlerSet) resolveLine(ctx *fiber.Ctx) error {
	run, err := h.lookupRun(ctx)
	if err != nil {
		return err
	}
	slot, err := ctx.ParamsInt("slot")
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid line slot")
	}
	var req resolveRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	res, err := run.Resolve(ctx.Context(), slot, domain.DispositionTag(req.Tag), req.Notes)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(resolveResponse{
		Line:          toLineResponse(res.Line),
		DispositionID: res.Disposition.ID,
		Warning:       res.Warning,
	})
}

func (h *HandlerSet) listRunEvents(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid run id")
	}
	state, err := listsvc.DecodePagingState(ctx.Query("page_token"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid page token")
	}

	page, err := h.lists.ListLineEvents(ctx.Context(), id, ctx.QueryInt("limit", 100), state)
	if err != nil {
		return translateError(err)
	}

	resp := listEventsResponse{
		Events:   make([]lineEventResponse, 0, len(page.Events)),
		NextPage: listsvc.EncodePagingState(page.PagingState),
	}
	for _, ev := range page.Events {
		resp.Events = append(resp.Events, lineEventResponse{
			AttemptID:  ev.AttemptID,
			ContactID:  ev.ContactID,
			Slot:       ev.Slot,
			Batch:      ev.Batch,
			Status:     ev.Status,
			CallerID:   ev.CallerID,
			Phone:      ev.Phone,
			Attempts:   ev.Attempts,
			Reason:     ev.Reason,
			OccurredAt: ev.OccurredAt,
		})
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) lookupRun(ctx *fiber.Ctx) (*dialer.Run, error) {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return nil, fiber.NewError(http.StatusBadRequest, "invalid run id")
	}
	run, err := h.runs.Get(id)
	if err != nil {
		return nil, translateError(err)
	}
	return run, nil
}

func (h *HandlerSet) respondRun(ctx *fiber.Ctx, status int, run *dialer.Run) error {
	snap, err := run.Snapshot(ctx.Context())
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(status).JSON(toRunResponse(snap))
}

func toStartConfig(req startRunRequest) (dialer.StartConfig, error) {
	listID, err := parseUUID(req.ListID)
	if err != nil {
		return dialer.StartConfig{}, fiber.NewError(http.StatusBadRequest, "invalid list id")
	}
	strategy := domain.CallerIDStrategy(req.CallerIDStrategy)
	if strategy == "" {
		strategy = domain.CallerIDRoundRobin
	}
	return dialer.StartConfig{
		ListID:           listID,
		Concurrency:      req.Concurrency,
		CallerIDStrategy: strategy,
		CallerIDs:        req.CallerIDs,
		ScriptTemplate:   req.Script,
	}, nil
}

func toRunResponse(s domain.RunSnapshot) runResponse {
	resp := runResponse{
		ID:               s.ID,
		Status:           s.Status,
		Concurrency:      s.Concurrency,
		CallerIDStrategy: string(s.CallerIDStrategy),
		CallerIDs:        s.CallerIDs,
		AwaitingOutcome:  s.GateSet,
		GateSlot:         s.GateSlot,
		Batches:          s.Batches,
		Lines:            make([]lineResponse, 0, len(s.Lines)),
		Warnings:         s.Warnings,
		StartedAt:        s.StartedAt,
		FinishedAt:       s.FinishedAt,
		Queue: queueResponse{
			Depth:          s.Queue.Depth,
			Fresh:          s.Queue.Fresh,
			AttemptedToday: s.Queue.AttemptedToday,
			Exhausted:      s.Queue.Exhausted,
			Contacts:       make([]queuedContactResponse, 0, len(s.Queue.Contacts)),
		},
	}
	if s.ListID != uuid.Nil {
		id := s.ListID
		resp.ListID = &id
	}
	for _, l := range s.Lines {
		resp.Lines = append(resp.Lines, toLineResponse(l))
	}
	for _, q := range s.Queue.Contacts {
		resp.Queue.Contacts = append(resp.Queue.Contacts, queuedContactResponse{
			contactResponse: toContactResponse(q.Contact),
			AttemptedToday:  q.AttemptedToday,
			DeadLead:        q.DeadLead,
		})
	}
	return resp
}

func toArchivedRunResponse(s domain.RunSummary) runResponse {
	resp := runResponse{
		ID:               s.RunID,
		Status:           s.Status,
		Concurrency:      s.Concurrency,
		CallerIDStrategy: string(s.CallerIDStrategy),
		Batches:          s.Batches,
		Lines:            []lineResponse{},
		Queue: queueResponse{
			Depth:     s.Remaining,
			Exhausted: s.Exhausted,
			Contacts:  []queuedContactResponse{},
		},
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Archived:   true,
	}
	if s.ListID != uuid.Nil {
		id := s.ListID
		resp.ListID = &id
	}
	return resp
}

func toLineResponse(l domain.LineSnapshot) lineResponse {
	resp := lineResponse{
		Slot:        l.Slot,
		Status:      l.Status,
		PhoneNumber: l.PhoneNumber,
		CallerID:    l.CallerID,
		Batch:       l.Batch,
		StartedAt:   l.StartedAt,
		ConnectedAt: l.ConnectedAt,
		EndedAt:     l.EndedAt,
		Script:      l.Script,
	}
	if l.Contact != nil {
		c := toContactResponse(*l.Contact)
		resp.Contact = &c
	}
	if l.AttemptID != uuid.Nil {
		id := l.AttemptID
		resp.AttemptID = &id
	}
	return resp
}

func toContactResponse(c domain.Contact) contactResponse {
	return contactResponse{
		ID:              c.ID,
		Name:            c.Name,
		Phones:          c.Phones,
		Organization:    c.Organization,
		Properties:      c.Properties,
		DialAttempts:    c.DialAttempts,
		LastAttemptedAt: c.LastAttemptedAt,
	}
}
