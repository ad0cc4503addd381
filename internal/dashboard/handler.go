package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/tallgrassfarm/furrow/internal/connectivity"
	"github.com/tallgrassfarm/furrow/internal/engine"
)

// Handler bridges engine subscriptions to dashboard broadcasts.
type Handler struct {
	server *Server
	engine *engine.Engine
	logger *log.Logger

	unsubStatus func()
	unsubSync   func()
}

// NewHandler creates an event handler connected to a dashboard server.
func NewHandler(server *Server, eng *engine.Engine, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: server,
		engine: eng,
		logger: logger,
	}
}

// Attach subscribes to the engine's status and sync streams. Call Detach to
// release the subscriptions.
func (h *Handler) Attach() {
	h.unsubStatus = h.engine.OnStatusChange(h.onStatusChange)
	h.unsubSync = h.engine.OnSync(h.onSync)
}

// Detach releases the engine subscriptions.
func (h *Handler) Detach() {
	if h.unsubStatus != nil {
		h.unsubStatus()
		h.unsubStatus = nil
	}
	if h.unsubSync != nil {
		h.unsubSync()
		h.unsubSync = nil
	}
}

// onStatusChange broadcasts a connectivity transition.
func (h *Handler) onStatusChange(status connectivity.Status) {
	h.logger.Printf("Status: %s", status)

	data, err := json.Marshal(StatusChangeData{Status: string(status)})
	if err != nil {
		h.logger.Printf("Failed to marshal status data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeStatusChange,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// onSync broadcasts a sync result followed by fresh queue statistics.
func (h *Handler) onSync(result engine.Result) {
	h.logger.Printf("Sync complete: success=%v processed=%d",
		result.Success, result.ActionsProcessed)

	data, err := json.Marshal(SyncCompleteData{
		Success:          result.Success,
		ActionsProcessed: result.ActionsProcessed,
		Errors:           result.Errors,
	})
	if err != nil {
		h.logger.Printf("Failed to marshal sync data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSyncComplete,
		Timestamp: result.Timestamp,
		Data:      data,
	})

	h.broadcastQueueStats()
}

// broadcastQueueStats sends the current queue statistics to all clients.
func (h *Handler) broadcastQueueStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := h.engine.GetStats(ctx)
	if err != nil {
		h.logger.Printf("Failed to read queue stats: %v", err)
		return
	}

	data, err := json.Marshal(QueueStatsData{
		Total:            stats.Queue.Total,
		ByKind:           stats.Queue.ByKind,
		ByPriority:       stats.Queue.ByPriority,
		OldestEnqueuedAt: stats.Queue.OldestEnqueuedAt,
	})
	if err != nil {
		h.logger.Printf("Failed to marshal queue stats: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeQueueStats,
		Timestamp: time.Now(),
		Data:      data,
	})
}
