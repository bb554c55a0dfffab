package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rl1809/order-tracking/internal/bus"
	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/core/service"
)

const defaultHeartbeat = 15 * time.Second

type HTTPHandler struct {
	orders    *service.OrderService
	catalog   *service.CatalogService
	changes   service.ChangeSubscriber
	validate  *validator.Validate
	logger    zerolog.Logger
	heartbeat time.Duration
}

type UpdateStatusRequest struct {
	Status domain.OrderStatus `json:"status" validate:"required,oneof=pending confirmed preparing ready out_for_delivery delivered cancelled"`
}

type BannerRequest struct {
	Title    string `json:"title"`
	ImageURL string `json:"image_url"`
	LinkURL  string `json:"link_url"`
	Position int    `json:"position"`
	IsActive *bool  `json:"is_active"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewHTTPHandler(orders *service.OrderService, catalog *service.CatalogService, changes service.ChangeSubscriber, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		orders:    orders,
		catalog:   catalog,
		changes:   changes,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.With().Str("component", "http").Logger(),
		heartbeat: defaultHeartbeat,
	}
}

// Routes builds the router with its middleware stack.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(h.logger))
	r.Use(instrument)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/orders/{id}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Patch("/status", h.UpdateStatus)
			r.Get("/tracking", h.GetTracking)
			r.Get("/events", h.StreamOrder)
		})
		r.Route("/restaurants/{id}", func(r chi.Router) {
			r.Get("/", h.GetRestaurant)
			r.Get("/orders", h.ListOrders)
			r.Get("/dashboard", h.GetDashboard)
			r.Get("/banners", h.ListBanners)
			r.Post("/banners", h.CreateBanner)
			r.Put("/banners/{bannerID}", h.UpdateBanner)
			r.Delete("/banners/{bannerID}", h.DeleteBanner)
		})
	})
	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *HTTPHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) GetTracking(w http.ResponseWriter, r *http.Request) {
	rec, err := h.orders.GetTracking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rec == nil {
		h.writeError(w, r, domain.ErrNoActiveTracking)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// StreamOrder pushes server-sent events for one order: a snapshot of the
// order first, then a change event whenever the order or its tracking record
// changes. Subscriptions are released when the client goes away.
func (h *HTTPHandler) StreamOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming unsupported"})
		return
	}

	view, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	events := make(chan domain.ChangeEvent, 16)
	forward := func(ev domain.ChangeEvent) {
		select {
		case events <- ev:
		default:
		}
	}
	unsubscribe := []func(){
		h.changes.Subscribe(domain.TableOrders, bus.ByID(id), forward),
		h.changes.Subscribe(domain.TableDeliveryTracking, bus.ByOrder(id), forward),
	}
	defer func() {
		for _, stop := range unsubscribe {
			stop()
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "order", view); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev := <-events:
			if err := writeEvent(w, "change", ev); err != nil {
				h.logger.Debug().Err(err).Str("order_id", id).Msg("event stream closed")
				return
			}
		}
		flusher.Flush()
	}
}

func (h *HTTPHandler) GetRestaurant(w http.ResponseWriter, r *http.Request) {
	restaurant, err := h.catalog.Restaurant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// a missing restaurant is an empty state, the body is null
	writeJSON(w, http.StatusOK, restaurant)
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOrders(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.catalog.DashboardStatistics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *HTTPHandler) ListBanners(w http.ResponseWriter, r *http.Request) {
	banners, err := h.catalog.Banners(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, banners)
}

func (h *HTTPHandler) CreateBanner(w http.ResponseWriter, r *http.Request) {
	var req BannerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	banner, err := h.catalog.CreateBanner(r.Context(), chi.URLParam(r, "id"), req.toBanner())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, banner)
}

func (h *HTTPHandler) UpdateBanner(w http.ResponseWriter, r *http.Request) {
	var req BannerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	b := req.toBanner()
	b.ID = chi.URLParam(r, "bannerID")
	b.RestaurantID = chi.URLParam(r, "id")

	banner, err := h.catalog.UpdateBanner(r.Context(), b)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, banner)
}

func (h *HTTPHandler) DeleteBanner(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteBanner(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "bannerID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b BannerRequest) toBanner() domain.Banner {
	active := true
	if b.IsActive != nil {
		active = *b.IsActive
	}
	return domain.Banner{
		Title:    b.Title,
		ImageURL: b.ImageURL,
		LinkURL:  b.LinkURL,
		Position: b.Position,
		IsActive: active,
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := http.StatusText(status)
	switch status {
	case http.StatusInternalServerError:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Str("req_id", middleware.GetReqID(r.Context())).Msg("request failed")
	case http.StatusServiceUnavailable:
		message = "store unavailable, try again later"
	default:
		message = err.Error()
	}
	writeJSON(w, status, ErrorResponse{Error: message})
}

func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoActiveTracking):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStatusTransition),
		errors.Is(err, domain.ErrStatusAlreadySet),
		errors.Is(err, domain.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOffline):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeEvent(w http.ResponseWriter, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	return err
}
