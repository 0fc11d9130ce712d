package controller

import (
	"fmt"

	"bioai-workspace-be/internal/dto"
	"bioai-workspace-be/internal/pkg/serverutils"
	"bioai-workspace-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type ISnapshotController interface {
	RegisterRoutes(r fiber.Router)
	Create(ctx *fiber.Ctx) error
	List(ctx *fiber.Ctx) error
	Restore(ctx *fiber.Ctx) error
	Validate(ctx *fiber.Ctx) error
	Repair(ctx *fiber.Ctx) error
	ExportBackup(ctx *fiber.Ctx) error
	ImportBackup(ctx *fiber.Ctx) error
}

type snapshotController struct {
	snapshotService service.ISnapshotService
}

func NewSnapshotController(snapshotService service.ISnapshotService) ISnapshotController {
	return &snapshotController{
		snapshotService: snapshotService,
	}
}

func (c *snapshotController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/snapshot/v1")
	h.Use(serverutils.JwtMiddleware)
	// static segments first so they never bind as :sessionId
	h.Post("restore", c.Restore)
	h.Get("backup/:snapshotId", c.ExportBackup)
	h.Post("backup", c.ImportBackup)
	h.Post(":sessionId", c.Create)
	h.Get(":sessionId", c.List)
	h.Get(":sessionId/integrity", c.Validate)
	h.Post(":sessionId/repair", c.Repair)
}

func (c *snapshotController) Create(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	sessionId, err := serverutils.ParamUUID(ctx, "sessionId")
	if err != nil {
		return err
	}
	var req dto.CreateSnapshotRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.snapshotService.Create(ctx.Context(), userId, sessionId, &req)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Snapshot created", res))
}

func (c *snapshotController) List(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	sessionId, err := serverutils.ParamUUID(ctx, "sessionId")
	if err != nil {
		return err
	}

	res, err := c.snapshotService.List(ctx.Context(), userId, sessionId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get snapshots", res))
}

func (c *snapshotController) Restore(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	var req dto.RestoreRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	res, err := c.snapshotService.Restore(ctx.Context(), userId, &req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Restoration finished", res))
}

func (c *snapshotController) Validate(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	sessionId, err := serverutils.ParamUUID(ctx, "sessionId")
	if err != nil {
		return err
	}

	res, err := c.snapshotService.Validate(ctx.Context(), userId, sessionId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Integrity checked", res))
}

func (c *snapshotController) Repair(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	sessionId, err := serverutils.ParamUUID(ctx, "sessionId")
	if err != nil {
		return err
	}
	var req dto.RepairRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	res, err := c.snapshotService.Repair(ctx.Context(), userId, sessionId, &req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Session repaired", res))
}

func (c *snapshotController) ExportBackup(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	snapshotId, err := serverutils.ParamUUID(ctx, "snapshotId")
	if err != nil {
		return err
	}

	raw, err := c.snapshotService.ExportBackup(ctx.Context(), userId, snapshotId)
	if err != nil {
		return err
	}
	ctx.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "snapshot-"+snapshotId.String()+".json"))
	return ctx.Send(raw)
}

func (c *snapshotController) ImportBackup(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	res, err := c.snapshotService.ImportBackup(ctx.Context(), userId, ctx.Body())
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Backup imported", res))
}
