package subscription

import (
	"net/http"
	"strconv"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// SubscriptionResponse extends the subscription model with calculated fields
type SubscriptionResponse struct {
	models.Subscription
	IsExpired bool `json:"is_expired"`
}

// SubscriptionHandler handles subscription-related HTTP requests
type SubscriptionHandler struct {
	store Store
	guard *Guard
	auth  *utils.Authenticator
	log   logrus.FieldLogger
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(store Store, guard *Guard, auth *utils.Authenticator, log logrus.FieldLogger) *SubscriptionHandler {
	return &SubscriptionHandler{store: store, guard: guard, auth: auth, log: log}
}

// RegisterRoutes registers all subscription routes
func (h *SubscriptionHandler) RegisterRoutes(router *mux.Router) {
	subscriptionRouter := router.PathPrefix("/subscriptions").Subrouter()

	// List all subscriptions with filters (admin)
	subscriptionRouter.HandleFunc("", h.auth.Wrap(h.GetSubscriptions)).Methods("GET")
	subscriptionRouter.HandleFunc("/{id:[0-9]+}", h.auth.Wrap(h.GetSubscription)).Methods("GET")

	// User subscription routes
	subscriptionRouter.HandleFunc("/user/{userID:[0-9]+}", h.auth.Wrap(h.GetUserSubscriptions)).Methods("GET")
	subscriptionRouter.HandleFunc("/user/{userID:[0-9]+}/active", h.auth.Wrap(h.GetActiveSubscription)).Methods("GET")

	router.HandleFunc("/quota/me", h.auth.Wrap(h.GetMyQuota)).Methods("GET")
}

// GetSubscriptions handles retrieving subscriptions with various filters
func (h *SubscriptionHandler) GetSubscriptions(w http.ResponseWriter, r *http.Request) {
	if utils.GetUserRoleFromContext(r) != models.RoleAdmin {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindUnauthorized, "admin access required"))
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}

	queryParams := r.URL.Query()
	page := 1
	if pageVal, err := strconv.Atoi(queryParams.Get("page")); err == nil && pageVal > 0 {
		page = pageVal
	}
	pageSize := 10
	if sizeVal, err := strconv.Atoi(queryParams.Get("page_size")); err == nil && sizeVal > 0 && sizeVal <= 100 {
		pageSize = sizeVal
	}

	now := time.Now()
	subs, total, err := h.store.List(r.Context(), filter, now, pageSize, (page-1)*pageSize)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}

	meta := map[string]interface{}{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"pages":     (total + int64(pageSize) - 1) / int64(pageSize),
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.Response{Success: true, Data: withExpiry(subs, now), Meta: meta})
}

// GetSubscription retrieves a single subscription by ID
func (h *SubscriptionHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindValidation, "Invalid subscription ID"))
		return
	}

	sub, err := h.store.Get(r.Context(), uint(id))
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	if !canView(r, sub.UserID) {
		utils.RespondWithError(w, h.log, utils.ErrUnauthorized)
		return
	}

	utils.RespondWithData(w, http.StatusOK, SubscriptionResponse{
		Subscription: *sub,
		IsExpired:    sub.EndDate.Before(time.Now()),
	})
}

// GetUserSubscriptions gets all subscriptions for a specific user
func (h *SubscriptionHandler) GetUserSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseUint(mux.Vars(r)["userID"], 10, 32)
	if err != nil {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindValidation, "Invalid user ID"))
		return
	}
	if !canView(r, uint(userID)) {
		utils.RespondWithError(w, h.log, utils.ErrUnauthorized)
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	filter.UserID = uint(userID)

	now := time.Now()
	subs, _, err := h.store.List(r.Context(), filter, now, 100, 0)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, withExpiry(subs, now))
}

// GetActiveSubscription gets the current active subscription for a user
func (h *SubscriptionHandler) GetActiveSubscription(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseUint(mux.Vars(r)["userID"], 10, 32)
	if err != nil {
		utils.RespondWithError(w, h.log, utils.NewError(utils.KindValidation, "Invalid user ID"))
		return
	}
	if !canView(r, uint(userID)) {
		utils.RespondWithError(w, h.log, utils.ErrUnauthorized)
		return
	}

	sub, err := h.store.FindActive(r.Context(), uint(userID), time.Now())
	if err != nil {
		if utils.AsAppError(err) != nil {
			err = utils.NewError(utils.KindNotFound, "No active subscription found for this user")
		}
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, SubscriptionResponse{Subscription: *sub})
}

// GetMyQuota reports the caller's remaining meeting and AI allowance.
func (h *SubscriptionHandler) GetMyQuota(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		utils.RespondWithError(w, h.log, utils.ErrUnauthorized)
		return
	}

	summary, err := h.guard.Usage(r.Context(), userID)
	if err != nil {
		utils.RespondWithError(w, h.log, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, summary)
}

func parseFilter(r *http.Request) (Filter, error) {
	var filter Filter
	queryParams := r.URL.Query()

	if userIDStr := queryParams.Get("user_id"); userIDStr != "" {
		if userID, err := strconv.ParseUint(userIDStr, 10, 32); err == nil {
			filter.UserID = uint(userID)
		}
	}
	filter.Plan = queryParams.Get("plan")
	filter.Status = queryParams.Get("status")

	var err error
	if v := queryParams.Get("min_amount"); v != "" {
		if filter.MinAmount, err = strconv.ParseFloat(v, 64); err != nil {
			return filter, utils.NewError(utils.KindValidation, "Invalid min_amount parameter")
		}
	}
	if v := queryParams.Get("max_amount"); v != "" {
		if filter.MaxAmount, err = strconv.ParseFloat(v, 64); err != nil {
			return filter, utils.NewError(utils.KindValidation, "Invalid max_amount parameter")
		}
	}

	layout := "2006-01-02"
	if v := queryParams.Get("start_date"); v != "" {
		if filter.StartDate, err = time.Parse(layout, v); err != nil {
			return filter, utils.NewError(utils.KindValidation, "Invalid start_date format. Use YYYY-MM-DD")
		}
	}
	if v := queryParams.Get("end_date"); v != "" {
		if filter.EndDate, err = time.Parse(layout, v); err != nil {
			return filter, utils.NewError(utils.KindValidation, "Invalid end_date format. Use YYYY-MM-DD")
		}
	}

	if v := queryParams.Get("expired"); v != "" {
		isExpired, err := strconv.ParseBool(v)
		if err != nil {
			return filter, utils.NewError(utils.KindValidation, "Invalid expired parameter. Use 'true' or 'false'")
		}
		filter.IsExpired = &isExpired
	}
	return filter, nil
}

func withExpiry(subs []models.Subscription, now time.Time) []SubscriptionResponse {
	out := make([]SubscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, SubscriptionResponse{Subscription: sub, IsExpired: sub.EndDate.Before(now)})
	}
	return out
}

func canView(r *http.Request, ownerID uint) bool {
	if utils.GetUserRoleFromContext(r) == models.RoleAdmin {
		return true
	}
	userID, err := utils.GetUserIDFromContext(r)
	return err == nil && userID == ownerID
}
