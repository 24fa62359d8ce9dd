package store

import "time"

type WebhookDelivery struct {
    ID             string
    TenantID       string
    SubscriptionID string
    EventType      string
    URL            string
    Secret         string
    Payload        []byte
    Status         string
    Attempts       int
}

// DLQEntry is a delivery that exhausted its attempts.
type DLQEntry struct {
    ID           string    `json:"id"`
    DeliveryID   string    `json:"deliveryId"`
    TenantID     string    `json:"tenantId"`
    EventType    string    `json:"eventType"`
    URL          string    `json:"url"`
    Secret       string    `json:"-"`
    Payload      []byte    `json:"-"`
    Attempts     int       `json:"attempts"`
    LastError    string    `json:"lastError,omitempty"`
    ResponseCode int       `json:"responseCode,omitempty"`
    LatencyMs    int       `json:"latencyMs,omitempty"`
    CreatedAt    time.Time `json:"createdAt"`
}
