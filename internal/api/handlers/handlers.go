package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/power-dialer/internal/dialer"
	"github.com/acme/power-dialer/internal/domain"
	"github.com/acme/power-dialer/internal/repository"
	listsvc "github.com/acme/power-dialer/internal/service/list"
	"github.com/acme/power-dialer/pkg/logger"
)

// RunManager creates and tracks dialer runs.
type RunManager interface {
	Create() *dialer.Run
	Start(ctx context.Context, runID uuid.UUID, cfg dialer.StartConfig) error
	Get(id uuid.UUID) (*dialer.Run, error)
	List(ctx context.Context) ([]domain.RunSnapshot, error)
	Remove(ctx context.Context, id uuid.UUID) error
}

// ListService manages contact lists and their history.
type ListService interface {
	CreateList(ctx context.Context, input listsvc.CreateListInput) (*repository.ContactList, error)
	GetList(ctx context.Context, id uuid.UUID) (*repository.ContactList, error)
	ListDispositions(ctx context.Context, listID uuid.UUID, limit int, pagingState []byte) (*listsvc.DispositionPage, error)
	ListLineEvents(ctx context.Context, runID uuid.UUID, limit int, pagingState []byte) (*listsvc.LineEventPage, error)
}

// PresenceReader reports whether any run is dialing.
type PresenceReader interface {
	Active() bool
	Runs() []uuid.UUID
}

// RunArchiveReader reads summaries of runs evicted from memory.
type RunArchiveReader interface {
	Get(ctx context.Context, runID uuid.UUID) (*domain.RunSummary, error)
	ListByList(ctx context.Context, listID uuid.UUID, limit int) ([]domain.RunSummary, error)
}

// Pinger is a dependency checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators of the HTTP handlers.
type Dependencies struct {
	Runs     RunManager
	Lists    ListService
	Presence PresenceReader
	Archive  RunArchiveReader
	Health   map[string]Pinger
	Logger   *logger.Logger
}

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	runs     RunManager
	lists    ListService
	presence PresenceReader
	archive  RunArchiveReader
	health   map[string]Pinger
	log      *logger.Logger
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(deps Dependencies) *HandlerSet {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &HandlerSet{
		runs:     deps.Runs,
		lists:    deps.Lists,
		presence: deps.Presence,
		archive:  deps.Archive,
		health:   deps.Health,
		log:      log.Named("http"),
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.healthz)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	lists := v1.Group("/lists")
	lists.Post("/", h.createList)
	lists.Get("/:id", h.getList)
	lists.Get("/:id/dispositions", h.listDispositions)
	lists.Get("/:id/runs", h.listArchivedRuns)

	runs := v1.Group("/runs")
	runs.Post("/", h.createRun)
	runs.Get("/", h.listRuns)
	runs.Get("/:id", h.getRun)
	runs.Delete("/:id", h.deleteRun)
	runs.Post("/:id/start", h.startRun)
	runs.Post("/:id/pause", h.pauseRun)
	runs.Post("/:id/resume", h.resumeRun)
	runs.Post("/:id/stop", h.stopRun)
	runs.Put("/:id/concurrency", h.setConcurrency)
	runs.Post("/:id/lines/:slot/hangup", h.hangupLine)
	runs.Post("/:id/lines/:slot/resolve", h.resolveLine)
	runs.Get("/:id/events", h.listRunEvents)

	v1.Get("/presence", h.getPresence)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", ctx.Method()),
			zap.String("path", ctx.Path()),
			zap.Error(err),
		)
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) healthz(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, p := range h.health {
		if err := p.Ping(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}
	return ctx.Status(status).JSON(fiber.Map{"status": state, "errors": errs})
}

func (h *HandlerSet) getPresence(ctx *fiber.Ctx) error {
	resp := presenceResponse{Runs: []uuid.UUID{}}
	if h.presence != nil {
		resp.Active = h.presence.Active()
		resp.Runs = append(resp.Runs, h.presence.Runs()...)
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

type presenceResponse struct {
	Active bool        `json:"active"`
	Runs   []uuid.UUID `json:"runs"`
}

func parseUUID(raw string) (uuid.UUID, error) {
	return uuid.Parse(raw)
}
