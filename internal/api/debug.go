package api

import (
    "net/http"
    "time"

    "recoverydispatch/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !requireAdmin(w, r, p) { return }
    c := s.Config
    info := map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "port":               c.Port,
            "authMode":           c.Auth.Mode,
            "etaProvider":        c.ETA.Provider,
            "etaCacheTtl":        c.ETA.CacheTTL.String(),
            "rateRps":            c.RateRPS,
            "rateBurst":          c.RateBurst,
            "webhookMaxAttempts": c.WebhookMaxAttempts,
            "kafkaTopic":         c.Kafka.Topic,
            "hasKafka":           len(c.Kafka.Brokers) > 0,
            "hasDatabaseUrl":     c.DatabaseURL != "",
            "hasRedisUrl":        c.RedisURL != "",
            "hasGoogleKey":       c.ETA.GoogleKey != "",
        },
        "policies": c.BasePolicies(),
    }
    writeJSON(w, http.StatusOK, info)
}
