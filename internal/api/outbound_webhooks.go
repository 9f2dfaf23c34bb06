package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/tilerealm/server/internal/logging"
)

// Realm lifecycle event types an outbound webhook can subscribe to.
// Grounded on the teacher's internal/api/outbound_webhooks.go event catalog,
// narrowed from its generic player/anticheat/backup list down to this
// server's actual lifecycle surface (no accounts, anticheat, or backups).
const (
	EventServerStarted = "server.started"
	EventServerStopped = "server.stopped"
	EventWorldCreated  = "world.created"
	EventWorldDeleted  = "world.deleted"
	EventRealmLoaded   = "realm.loaded"
	EventRealmUnloaded = "realm.unloaded"
)

// OutboundWebhook is a registered subscriber: an operator-configured URL
// that gets an HMAC-signed POST whenever one of its subscribed events fires.
type OutboundWebhook struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name" binding:"required"`
	URL          string     `json:"url" binding:"required"`
	Secret       string     `json:"secret,omitempty"`
	Events       []string   `json:"events" binding:"required"`
	Active       bool       `json:"active"`
	Timeout      int        `json:"timeout"` // seconds
	RetryCount   int        `json:"retryCount"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastUsed     *time.Time `json:"lastUsed,omitempty"`
	FailureCount int        `json:"failureCount"`
}

// OutboundWebhookEvent is the payload delivered to a subscriber.
type OutboundWebhookEvent struct {
	EventType   string                 `json:"eventType"`
	Timestamp   int64                  `json:"timestamp"`
	ServerID    string                 `json:"serverId"`
	Data        map[string]interface{} `json:"data"`
	Environment string                 `json:"environment"`
}

// OutboundWebhookManager dispatches realm lifecycle events to every
// registered, subscribed webhook, off the request path via a buffered queue
// and retry-with-backoff delivery.
type OutboundWebhookManager struct {
	webhooks    map[uint64]*OutboundWebhook
	eventQueue  chan OutboundWebhookEvent
	mu          sync.RWMutex
	nextID      uint64
	httpClient  *http.Client
	serverID    string
	environment string
}

func NewOutboundWebhookManager(serverID, environment string) *OutboundWebhookManager {
	m := &OutboundWebhookManager{
		webhooks:    make(map[uint64]*OutboundWebhook),
		eventQueue:  make(chan OutboundWebhookEvent, 1000),
		nextID:      1,
		serverID:    serverID,
		environment: environment,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	go m.eventWorker()
	return m
}

func (m *OutboundWebhookManager) AddWebhook(webhook OutboundWebhook) *OutboundWebhook {
	m.mu.Lock()
	defer m.mu.Unlock()

	webhook.ID = m.nextID
	m.nextID++
	webhook.CreatedAt = time.Now()
	webhook.Active = true
	if webhook.Timeout == 0 {
		webhook.Timeout = 30
	}
	if webhook.RetryCount == 0 {
		webhook.RetryCount = 3
	}
	m.webhooks[webhook.ID] = &webhook
	return &webhook
}

func (m *OutboundWebhookManager) GetWebhooks() []*OutboundWebhook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*OutboundWebhook, 0, len(m.webhooks))
	for _, w := range m.webhooks {
		out = append(out, w)
	}
	return out
}

func (m *OutboundWebhookManager) GetWebhook(id uint64) *OutboundWebhook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.webhooks[id]
}

func (m *OutboundWebhookManager) UpdateWebhook(id uint64, updates OutboundWebhook) *OutboundWebhook {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.webhooks[id]
	if !ok {
		return nil
	}
	if updates.Name != "" {
		w.Name = updates.Name
	}
	if updates.URL != "" {
		w.URL = updates.URL
	}
	if updates.Secret != "" {
		w.Secret = updates.Secret
	}
	if len(updates.Events) > 0 {
		w.Events = updates.Events
	}
	if updates.Timeout > 0 {
		w.Timeout = updates.Timeout
	}
	if updates.RetryCount >= 0 {
		w.RetryCount = updates.RetryCount
	}
	w.Active = updates.Active
	return w
}

func (m *OutboundWebhookManager) DeleteWebhook(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[id]; !ok {
		return false
	}
	delete(m.webhooks, id)
	return true
}

// SendEvent enqueues eventType for delivery to every subscribed webhook.
// Never blocks: a full queue drops the event and logs a warning.
func (m *OutboundWebhookManager) SendEvent(eventType string, data map[string]interface{}) {
	event := OutboundWebhookEvent{
		EventType:   eventType,
		Timestamp:   time.Now().Unix(),
		ServerID:    m.serverID,
		Data:        data,
		Environment: m.environment,
	}
	select {
	case m.eventQueue <- event:
	default:
		logging.Warn("api: webhook event queue full, dropping %s", eventType)
	}
}

func (m *OutboundWebhookManager) eventWorker() {
	for event := range m.eventQueue {
		m.processEvent(event)
	}
}

func (m *OutboundWebhookManager) processEvent(event OutboundWebhookEvent) {
	m.mu.RLock()
	subscribed := make([]*OutboundWebhook, 0)
	for _, w := range m.webhooks {
		if w.Active && isSubscribedToEvent(w, event.EventType) {
			subscribed = append(subscribed, w)
		}
	}
	m.mu.RUnlock()

	for _, w := range subscribed {
		go m.sendToWebhook(w, event)
	}
}

func isSubscribedToEvent(w *OutboundWebhook, eventType string) bool {
	for _, e := range w.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

func (m *OutboundWebhookManager) sendToWebhook(webhook *OutboundWebhook, event OutboundWebhookEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		logging.Error("api: marshal webhook event for %s: %v", webhook.Name, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(webhook.Timeout)*time.Second)
	defer cancel()

	success := false
	for attempt := 0; attempt <= webhook.RetryCount; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
		if err != nil {
			logging.Error("api: build webhook request for %s: %v", webhook.Name, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Event-Type", event.EventType)
		req.Header.Set("X-Server-Id", event.ServerID)
		if webhook.Secret != "" {
			req.Header.Set("X-Webhook-Signature", signPayload(body, webhook.Secret))
		}

		resp, err := m.httpClient.Do(req)
		if err != nil {
			logging.Warn("api: webhook %s attempt %d/%d failed: %v", webhook.Name, attempt+1, webhook.RetryCount+1, err)
			time.Sleep(time.Duration(attempt+1) * time.Second)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			success = true
			break
		}
		logging.Warn("api: webhook %s returned status %d on attempt %d", webhook.Name, resp.StatusCode, attempt+1)
		if attempt < webhook.RetryCount {
			time.Sleep(time.Duration(attempt+1) * time.Second)
		}
	}

	m.mu.Lock()
	now := time.Now()
	webhook.LastUsed = &now
	if !success {
		webhook.FailureCount++
	}
	m.mu.Unlock()
}

func signPayload(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// GetEventTypes returns every event type a webhook can subscribe to.
func (m *OutboundWebhookManager) GetEventTypes() []string {
	return []string{
		EventServerStarted,
		EventServerStopped,
		EventWorldCreated,
		EventWorldDeleted,
		EventRealmLoaded,
		EventRealmUnloaded,
	}
}
