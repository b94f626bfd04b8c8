package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/i-aayush/whatif/internal/infrastructure/auth"
	"github.com/i-aayush/whatif/internal/ledger"
	"github.com/i-aayush/whatif/internal/models"
	"github.com/i-aayush/whatif/internal/payments"
	"github.com/i-aayush/whatif/internal/pricing"
	"github.com/i-aayush/whatif/internal/runs"
	service "github.com/i-aayush/whatif/internal/services"
	pkgerrors "github.com/i-aayush/whatif/pkg/errors"
)

type Handler struct {
	users        service.UserService
	creditLedger ledger.Ledger
	controller   *runs.Controller
	payments     payments.Service
}

func NewHandler(users service.UserService, creditLedger ledger.Ledger, controller *runs.Controller, paymentSvc payments.Service) *Handler {
	return &Handler{
		users:        users,
		creditLedger: creditLedger,
		controller:   controller,
		payments:     paymentSvc,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/healthz", h.Health).Methods("GET")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/users/me", h.Me).Methods("GET")
	r.HandleFunc("/credits/balance", h.Balance).Methods("GET")
	r.HandleFunc("/credits/transactions", h.Transactions).Methods("GET")
	r.HandleFunc("/credits/packages", h.Packages).Methods("GET")
	r.HandleFunc("/payments/orders", h.CreateOrder).Methods("POST")
	r.HandleFunc("/payments/verify", h.VerifyPayment).Methods("POST")
	r.HandleFunc("/payments", h.PaymentHistory).Methods("GET")
	r.HandleFunc("/inference", h.CreateInference).Methods("POST")
	r.HandleFunc("/inference/{id}", h.RunStatus).Methods("GET")
	r.HandleFunc("/inferences", h.ListRuns).Methods("GET")
	r.HandleFunc("/train", h.CreateTraining).Methods("POST")
	r.HandleFunc("/runs/{id}/status", h.RunStatus).Methods("GET")
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.users.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrEmailExists):
			h.writeError(w, http.StatusConflict, err)
		case errors.Is(err, pkgerrors.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	token, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	user, err := h.users.Me(r.Context(), userID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	balance, err := h.creditLedger.Balance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	limit, offset := pagination(r, 50)
	transactions, err := h.creditLedger.Transactions(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if transactions == nil {
		transactions = []models.CreditTransaction{}
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

func (h *Handler) Packages(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, pricing.Packages())
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		OrderID   string `json:"order_id"`
		PackageID string `json:"package_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	pkg, ok := pricing.Packages()[req.PackageID]
	if !ok {
		h.writeError(w, http.StatusBadRequest, errors.New("unknown package_id"))
		return
	}

	payment := &models.Payment{
		UserID:           userID,
		OrderID:          req.OrderID,
		AmountCents:      pkg.PriceUSD * 100,
		Currency:         "USD",
		CreditsPurchased: pkg.Credits,
	}
	if err := h.payments.RecordOrder(r.Context(), payment); err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrInvalidInput), errors.Is(err, pkgerrors.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, payment)
}

func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		OrderID   string `json:"order_id"`
		PaymentID string `json:"payment_id"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.OrderID == "" || req.PaymentID == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("order_id and payment_id are required"))
		return
	}

	payment, err := h.payments.Verify(r.Context(), userID, req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrInvalidSignature):
			h.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, pkgerrors.ErrPaymentAlreadyProcessed):
			h.writeError(w, http.StatusConflict, err)
		case errors.Is(err, pkgerrors.ErrPaymentNotFound):
			h.writeError(w, http.StatusNotFound, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

func (h *Handler) PaymentHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	limit, offset := pagination(r, 50)
	history, err := h.payments.History(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if history == nil {
		history = []models.Payment{}
	}
	h.writeJSON(w, http.StatusOK, history)
}

func (h *Handler) CreateInference(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req runs.InferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	run, err := h.controller.SubmitInference(r.Context(), userID, req)
	if err != nil {
		h.writeRunError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":      run.ID,
		"status":      run.Status,
		"credit_cost": run.CreditCost,
	})
}

func (h *Handler) CreateTraining(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req runs.TrainingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	run, err := h.controller.SubmitTraining(r.Context(), userID, req)
	if err != nil {
		h.writeRunError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":      run.ID,
		"status":      run.Status,
		"credit_cost": run.CreditCost,
	})
}

func (h *Handler) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrInsufficientCredits):
		h.writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, pkgerrors.ErrInvalidAmount), errors.Is(err, pkgerrors.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, pkgerrors.ErrSubmissionFailed):
		h.writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, pkgerrors.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, err)
	default:
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *Handler) RunStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	runID := mux.Vars(r)["id"]
	run, err := h.controller.Run(r.Context(), runID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrRunNotFound) {
			h.writeError(w, http.StatusNotFound, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	if run.UserID != userID {
		h.writeError(w, http.StatusNotFound, pkgerrors.ErrRunNotFound)
		return
	}

	resp := map[string]any{
		"run_id": run.ID,
		"status": run.Status,
	}
	if len(run.OutputRefs) > 0 {
		resp["output_refs"] = run.OutputRefs
	}
	if run.Error != "" {
		resp["error"] = run.Error
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	limit, offset := pagination(r, 20)
	list, err := h.controller.ListRuns(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []models.Run{}
	}
	h.writeJSON(w, http.StatusOK, list)
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
