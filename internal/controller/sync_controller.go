package controller

import (
	"bioai-workspace-be/internal/dto"
	"bioai-workspace-be/internal/pkg/serverutils"
	"bioai-workspace-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type ISyncController interface {
	RegisterRoutes(r fiber.Router)
	PatchChat(ctx *fiber.Ctx) error
	PatchViewer(ctx *fiber.Ctx) error
	PatchWorkflow(ctx *fiber.Ctx) error
	PatchInteractions(ctx *fiber.Ctx) error
	PatchMetadata(ctx *fiber.Ctx) error
	Save(ctx *fiber.Ctx) error
	Status(ctx *fiber.Ctx) error
	Retry(ctx *fiber.Ctx) error
	CancelOperation(ctx *fiber.Ctx) error
	Connectivity(ctx *fiber.Ctx) error
}

type syncController struct {
	sessionService service.ISessionService
	syncService    service.ISyncService
}

func NewSyncController(sessionService service.ISessionService, syncService service.ISyncService) ISyncController {
	return &syncController{
		sessionService: sessionService,
		syncService:    syncService,
	}
}

func (c *syncController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/sync/v1")
	h.Use(serverutils.JwtMiddleware)
	h.Get("status", c.Status)
	h.Post("retry", c.Retry)
	h.Post("connectivity", c.Connectivity)
	h.Delete("operations/:opId", c.CancelOperation)
	h.Patch(":id/chat", c.PatchChat)
	h.Patch(":id/viewer", c.PatchViewer)
	h.Patch(":id/workflow", c.PatchWorkflow)
	h.Patch(":id/interactions", c.PatchInteractions)
	h.Patch(":id/metadata", c.PatchMetadata)
	h.Post(":id/save", c.Save)
}

// patchTarget reads the caller and the session a patch is aimed at.
func patchTarget(ctx *fiber.Ctx) (uuid.UUID, uuid.UUID, error) {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	sessionId, err := serverutils.ParamUUID(ctx, "id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userId, sessionId, nil
}

func (c *syncController) PatchChat(ctx *fiber.Ctx) error {
	userId, sessionId, err := patchTarget(ctx)
	if err != nil {
		return err
	}
	var req dto.ChatPatchRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.sessionService.PatchChat(ctx.Context(), userId, sessionId, &req)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Chat update queued", res))
}

func (c *syncController) PatchViewer(ctx *fiber.Ctx) error {
	userId, sessionId, err := patchTarget(ctx)
	if err != nil {
		return err
	}
	var req dto.ViewerPatchRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	res, err := c.sessionService.PatchViewer(ctx.Context(), userId, sessionId, &req)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Viewer update queued", res))
}

func (c *syncController) PatchWorkflow(ctx *fiber.Ctx) error {
	userId, sessionId, err := patchTarget(ctx)
	if err != nil {
		return err
	}
	var req dto.WorkflowPatchRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.sessionService.PatchWorkflow(ctx.Context(), userId, sessionId, &req)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Workflow update queued", res))
}

func (c *syncController) PatchInteractions(ctx *fiber.Ctx) error {
	userId, sessionId, err := patchTarget(ctx)
	if err != nil {
		return err
	}
	var req dto.InteractionsPatchRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.sessionService.PatchInteractions(ctx.Context(), userId, sessionId, &req)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Interactions queued", res))
}

func (c *syncController) PatchMetadata(ctx *fiber.Ctx) error {
	userId, sessionId, err := patchTarget(ctx)
	if err != nil {
		return err
	}
	var req dto.MetadataPatchRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.sessionService.PatchMetadata(ctx.Context(), userId, sessionId, &req)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Metadata update queued", res))
}

func (c *syncController) Save(ctx *fiber.Ctx) error {
	userId, sessionId, err := patchTarget(ctx)
	if err != nil {
		return err
	}
	if err := c.sessionService.ForceSave(ctx.Context(), userId, sessionId); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Session saved", nil))
}

func (c *syncController) Status(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	res, err := c.syncService.Status(ctx.Context(), userId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get sync status", res))
}

func (c *syncController) Retry(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	res, err := c.syncService.Retry(ctx.Context(), userId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Failed operations requeued", res))
}

func (c *syncController) CancelOperation(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	if err := c.syncService.Cancel(ctx.Context(), userId, ctx.Params("opId")); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Operation cancelled", nil))
}

func (c *syncController) Connectivity(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	var req dto.ConnectivityRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	res, err := c.syncService.Connectivity(ctx.Context(), userId, &req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Connectivity updated", res))
}
