package analysis

import (
	"context"
	"net/http"
	"net/url"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/KAsare1/teleconsult-server/service/sideeffect"
	"github.com/KAsare1/teleconsult-server/service/subscription"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type QuotaGuard interface {
	CheckAndReserve(ctx context.Context, userID uint, kind models.ResourceKind) (*subscription.Reservation, error)
	Commit(ctx context.Context, res *subscription.Reservation, reference string) error
}

// Result is returned for each analysis.
type Result struct {
	ID          string               `json:"id"`
	Prediction  *Prediction          `json:"prediction"`
	SideEffects []sideeffect.Outcome `json:"side_effects"`
}

type AnalysisHandler struct {
	classifier Classifier
	quota      QuotaGuard
	recorder   sideeffect.Recorder
	auth       *utils.Authenticator
	log        logrus.FieldLogger
}

func NewAnalysisHandler(classifier Classifier, quota QuotaGuard, recorder sideeffect.Recorder, auth *utils.Authenticator, log logrus.FieldLogger) *AnalysisHandler {
	return &AnalysisHandler{classifier: classifier, quota: quota, recorder: recorder, auth: auth, log: log}
}

func (h *AnalysisHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/analyses", h.auth.Wrap(h.CreateAnalysis)).Methods("POST")
}

// CreateAnalysis classifies an uploaded image. One AI usage unit is
// consumed only when the classifier answers.
func (h *AnalysisHandler) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, h.log, utils.ErrUnauthorized)
		return
	}

	var req struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	if u, err := url.ParseRequestURI(req.ImageURL); err != nil || u.Host == "" {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindValidation, "imageUrl must be an absolute URL"))
		return
	}

	reservation, err := h.quota.CheckAndReserve(r.Context(), userID, models.ResourceAIUsage)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}

	prediction, err := h.classifier.Classify(r.Context(), req.ImageURL)
	if err != nil {
		utils.RespondWithError(w, h.log, utils.WrapError(utils.KindProviderUnavailable, "analysis service is temporarily unavailable, please retry", err))
		return
	}

	id := uuid.NewString()
	commit := sideeffect.Run("quota_commit", func() error {
		return h.quota.Commit(r.Context(), reservation, "analysis:"+id)
	})
	sideeffect.Report(h.log, h.recorder, logrus.Fields{"analysis_id": id, "user_id": userID}, commit)

	utils.RespondWithData(w, http.StatusOK, Result{ID: id, Prediction: prediction, SideEffects: []sideeffect.Outcome{commit}})
}
