package main

import (
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/kycdocumentintake/internal/api"
	"github.com/Lllllllleong/kycdocumentintake/internal/services"
)

var (
	handler *api.Handler
	once    sync.Once
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("CreateOrder", lazy(func(h *api.Handler) http.HandlerFunc { return h.HandleCreateOrder }))
	functions.HTTP("VerifyPayment", lazy(func(h *api.Handler) http.HandlerFunc { return h.HandleVerifyPayment }))
	functions.HTTP("ValidatePromo", lazy(func(h *api.Handler) http.HandlerFunc { return h.HandleValidatePromo }))
	functions.HTTP("ValidateBypass", lazy(func(h *api.Handler) http.HandlerFunc { return h.HandleValidateBypass }))
}

// main is required by the Go Functions Framework.
func main() {}

// lazy defers reading the gateway keys to the first request.
func lazy(route func(*api.Handler) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			handler = &api.Handler{Payments: services.NewPayment()}
		})
		route(handler)(w, r)
	}
}
