package http

import "github.com/khoahotran/profile-service/internal/domain/profile"

type MergeUpdateResponse struct {
	Success       bool     `json:"success"`
	UpdatedFields []string `json:"updatedFields"`
}

type UpdateFailedResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details"`
}

// ReplaceExperienceRequest decodes experienceIndex into an int, so a
// fractional or non-numeric index is rejected while binding.
type ReplaceExperienceRequest struct {
	ExperienceIndex   *int `json:"experienceIndex" binding:"required"`
	UpdatedExperience any  `json:"updatedExperience"`
}

type RemoveExperienceResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Result  *profile.UpdateResult `json:"result,omitempty"`
	Error   string                `json:"error,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
