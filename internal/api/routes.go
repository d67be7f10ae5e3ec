package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/inferloop/tsforecast/pkg/constants"
)

// actionPattern restricts the {action} path variable to known actions
var actionPattern = strings.Join([]string{
	constants.ActionForecast,
	constants.ActionInsights,
	constants.ActionAnomalies,
	constants.ActionBacktest,
	constants.ActionStatistics,
}, "|")

// NewRouter builds the API router with the middleware chain applied
func NewRouter(h *Handlers, config *MiddlewareConfig) *mux.Router {
	r := mux.NewRouter()
	ApplyMiddleware(r, config)

	r.NotFoundHandler = http.HandlerFunc(h.NotFound)

	r.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", h.GetReadiness).Methods(http.MethodGet)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	api := r.PathPrefix(constants.APIPrefix).Subrouter()

	analytics := api.PathPrefix("/analytics").Subrouter()
	analytics.HandleFunc("", h.Analyze).Methods(http.MethodPost, http.MethodOptions)
	analytics.HandleFunc("/results/{id}", h.GetResult).Methods(http.MethodGet)
	analytics.HandleFunc("/{action:"+actionPattern+"}", h.Analyze).Methods(http.MethodPost, http.MethodOptions)

	api.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	api.HandleFunc("/health/ready", h.GetReadiness).Methods(http.MethodGet)
	api.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	return r
}
