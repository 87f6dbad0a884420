package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/loandesk/backend/pkg/utils"
)

// Pinger reports whether the session backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := p.Ping(ctx); err != nil {
			log.Printf("[health] session store unreachable: %v", err)
			status, code = "unavailable", http.StatusServiceUnavailable
		}
		utils.RespondJSON(w, code, map[string]any{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
