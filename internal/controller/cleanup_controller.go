package controller

import (
	"bioai-workspace-be/internal/dto"
	"bioai-workspace-be/internal/pkg/serverutils"
	"bioai-workspace-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type ICleanupController interface {
	RegisterRoutes(r fiber.Router)
	Cleanup(ctx *fiber.Ctx) error
	Recommendations(ctx *fiber.Ctx) error
}

type cleanupController struct {
	cleanupService service.ICleanupService
}

func NewCleanupController(cleanupService service.ICleanupService) ICleanupController {
	return &cleanupController{
		cleanupService: cleanupService,
	}
}

func (c *cleanupController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/cleanup/v1")
	h.Use(serverutils.JwtMiddleware)
	h.Post("", c.Cleanup)
	h.Get("recommendations", c.Recommendations)
}

func (c *cleanupController) Cleanup(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	var req dto.CleanupRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return err
		}
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.cleanupService.Cleanup(ctx.Context(), userId, req.Options())
	if err != nil {
		return err
	}
	msg := "Cleanup finished"
	if res.DryRun {
		msg = "Cleanup preview"
	}
	return ctx.JSON(serverutils.SuccessResponse(msg, res))
}

func (c *cleanupController) Recommendations(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	res, err := c.cleanupService.Recommendations(ctx.Context(), userId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get recommendations", res))
}
