package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/power-dialer/internal/domain"
	"github.com/acme/power-dialer/internal/repository"
	listsvc "github.com/acme/power-dialer/internal/service/list"
)

type createListRequest struct {
	Name     string           `json:"name"`
	Contacts []contactRequest `json:"contacts"`
}

type contactRequest struct {
	Name         string         `json:"name"`
	Phones       []string       `json:"phones"`
	Organization string         `json:"organization"`
	Properties   map[string]any `json:"properties"`
}

type listResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type dispositionResponse struct {
	ID         uuid.UUID             `json:"id"`
	RunID      uuid.UUID             `json:"run_id"`
	ContactID  uuid.UUID             `json:"contact_id"`
	Tag        domain.DispositionTag `json:"tag"`
	Notes      string                `json:"notes,omitempty"`
	CallerID   string                `json:"caller_id"`
	Line       lineResponse          `json:"line"`
	ResolvedAt time.Time             `json:"resolved_at"`
}

type listDispositionsResponse struct {
	Dispositions []dispositionResponse `json:"dispositions"`
	NextPage     string                `json:"next_page_token,omitempty"`
}

func (h *HandlerSet) createList(ctx *fiber.Ctx) error {
	var req createListRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := listsvc.CreateListInput{Name: req.Name, Contacts: make([]listsvc.ContactInput, 0, len(req.Contacts))}
	for _, c := range req.Contacts {
		input.Contacts = append(input.Contacts, listsvc.ContactInput{
			Name:         c.Name,
			Phones:       c.Phones,
			Organization: c.Organization,
			Properties:   c.Properties,
		})
	}

	list, err := h.lists.CreateList(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(toListResponse(list))
}

func (h *HandlerSet) getList(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid list id")
	}

	list, err := h.lists.GetList(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toListResponse(list))
}

func (h *HandlerSet) listDispositions(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid list id")
	}
	state, err := listsvc.DecodePagingState(ctx.Query("page_token"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid page token")
	}

	page, err := h.lists.ListDispositions(ctx.Context(), id, ctx.QueryInt("limit", 50), state)
	if err != nil {
		return translateError(err)
	}

	resp := listDispositionsResponse{
		Dispositions: make([]dispositionResponse, 0, len(page.Dispositions)),
		NextPage:     listsvc.EncodePagingState(page.PagingState),
	}
	for _, d := range page.Dispositions {
		resp.Dispositions = append(resp.Dispositions, toDispositionResponse(d))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func toListResponse(list *repository.ContactList) listResponse {
	return listResponse{ID: list.ID, Name: list.Name, Size: list.Size, CreatedAt: list.CreatedAt}
}

func toDispositionResponse(d domain.Disposition) dispositionResponse {
	return dispositionResponse{
		ID:         d.ID,
		RunID:      d.RunID,
		ContactID:  d.ContactID,
		Tag:        d.Tag,
		Notes:      d.Notes,
		CallerID:   d.CallerID,
		Line:       toLineResponse(d.Line),
		ResolvedAt: d.ResolvedAt,
	}
}
