package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	profileUC "github.com/khoahotran/profile-service/internal/application/usecase/profile"
	"github.com/khoahotran/profile-service/internal/domain/profile"
	"github.com/khoahotran/profile-service/pkg/apperror"
	"github.com/khoahotran/profile-service/pkg/logger"
)

const healthPingTimeout = 2 * time.Second

type ProfileHandler struct {
	profileUseCase *profileUC.ProfileUseCase
	logger         logger.Logger
}

func NewProfileHandler(uc *profileUC.ProfileUseCase, log logger.Logger) *ProfileHandler {
	return &ProfileHandler{
		profileUseCase: uc,
		logger:         log,
	}
}

func (h *ProfileHandler) CreateProfile(c *gin.Context) {
	var doc profile.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.Error(apperror.NewInvalidInput("invalid JSON body for profile create", err))
		return
	}

	output, err := h.profileUseCase.ExecuteCreate(c.Request.Context(), profileUC.CreateProfileInput{Document: doc})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, output.Result)
}

func (h *ProfileHandler) MergeUpdate(c *gin.Context) {
	email := c.Param("email")

	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, UpdateFailedResponse{
			Success: false,
			Error:   "Update failed",
			Details: "invalid JSON body: " + err.Error(),
		})
		return
	}

	output, err := h.profileUseCase.ExecuteMergeUpdate(c.Request.Context(), profileUC.MergeUpdateInput{Email: email, Body: body})
	if err != nil {
		h.logger.Error("Profile merge update failed", err, zap.String("email", email))
		c.JSON(apperror.ToHTTPStatus(err), UpdateFailedResponse{
			Success: false,
			Error:   "Update failed",
			Details: apperror.DetailOf(err),
		})
		return
	}

	c.JSON(http.StatusOK, MergeUpdateResponse{Success: true, UpdatedFields: output.UpdatedFields})
}

func (h *ProfileHandler) ReplaceExperience(c *gin.Context) {
	email := c.Param("email")

	var req ReplaceExperienceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperror.NewInvalidInput("experienceIndex must be an integer and updatedExperience a JSON value", err))
		return
	}

	output, err := h.profileUseCase.ExecuteReplaceExperience(c.Request.Context(), profileUC.ReplaceExperienceInput{
		Email: email,
		Index: *req.ExperienceIndex,
		Value: req.UpdatedExperience,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, output.Result)
}

func (h *ProfileHandler) RemoveExperience(c *gin.Context) {
	id := c.Param("id")

	rawIndex, ok := c.GetQuery("index")
	if !ok {
		c.JSON(http.StatusBadRequest, RemoveExperienceResponse{Success: false, Message: "Delete failed", Error: "index query parameter is required"})
		return
	}
	index, err := strconv.Atoi(rawIndex)
	if err != nil {
		c.JSON(http.StatusBadRequest, RemoveExperienceResponse{Success: false, Message: "Delete failed", Error: "index must be an integer"})
		return
	}

	output, err := h.profileUseCase.ExecuteRemoveExperience(c.Request.Context(), profileUC.RemoveExperienceInput{ID: id, Index: index})
	if err != nil {
		h.logger.Error("Remove experience failed", err, zap.String("id", id), zap.Int("index", index))
		c.JSON(apperror.ToHTTPStatus(err), RemoveExperienceResponse{
			Success: false,
			Message: "Delete failed",
			Error:   apperror.DetailOf(err),
		})
		return
	}

	c.JSON(http.StatusOK, RemoveExperienceResponse{Success: true, Message: "Experience removed", Result: output.Result})
}

// GetProfile answers 200 with the document, or with JSON null when no
// profile has the email.
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	output, err := h.profileUseCase.ExecuteGetProfile(c.Request.Context(), profileUC.GetProfileInput{Email: c.Param("email")})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, output.Profile)
}

func (h *ProfileHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()

	if err := h.profileUseCase.Ping(ctx); err != nil {
		h.logger.Warn("Profile store ping failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "DOWN", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "UP"})
}
