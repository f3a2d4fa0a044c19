package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/brickfolio/brickfolio-sync-go/internal/application"
	"github.com/brickfolio/brickfolio-sync-go/internal/config"
	"github.com/brickfolio/brickfolio-sync-go/internal/domain"
	syncinfra "github.com/brickfolio/brickfolio-sync-go/internal/infrastructure/sync"
)

// Server groups the dependencies of the HTTP layer.
type Server struct {
	cfg         config.Config
	quantitySvc *application.QuantityService
	resyncSvc   *application.ResyncService
	ledger      domain.LedgerRepository
	dispatcher  *syncinfra.Dispatcher
}

func NewServer(
	cfg config.Config,
	quantitySvc *application.QuantityService,
	resyncSvc *application.ResyncService,
	ledger domain.LedgerRepository,
	dispatcher *syncinfra.Dispatcher,
) *Server {
	return &Server{
		cfg:         cfg,
		quantitySvc: quantitySvc,
		resyncSvc:   resyncSvc,
		ledger:      ledger,
		dispatcher:  dispatcher,
	}
}

// RegisterRoutes registers all HTTP routes on the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/items", s.handleCreateItem)
	mux.HandleFunc("/api/items/", s.handleItemSubtree)
	mux.HandleFunc("/api/sync/run", s.handleSyncRun)
	mux.HandleFunc("/api/sync/requeue", s.handleSyncRequeue)
	mux.HandleFunc("/api/sync/conflicts", s.handleListConflicts)
	mux.HandleFunc("/api/sync/conflicts/", s.handleResolveConflict)
	mux.HandleFunc("/swagger.json", s.handleSwaggerJson)
}

type healthResponse struct {
	Status string `json:"status"`
}

type syncStateResponse struct {
	Status              string     `json:"status"`
	LotID               string     `json:"lotId,omitempty"`
	LastSyncAttemptUtc  *time.Time `json:"lastSyncAttemptUtc,omitempty"`
	LastSyncedSeq       int64      `json:"lastSyncedSeq"`
	LastSyncedAvailable int        `json:"lastSyncedAvailable"`
	LastError           string     `json:"lastError,omitempty"`
}

type itemResponse struct {
	ID        uuid.UUID                    `json:"id"`
	TenantID  uuid.UUID                    `json:"tenantId"`
	PartNo    string                       `json:"partNo"`
	ColorID   int                          `json:"colorId"`
	Condition string                       `json:"condition"`
	Available int                          `json:"available"`
	Reserved  int                          `json:"reserved"`
	Deleted   bool                         `json:"deleted"`
	Sync      map[string]syncStateResponse `json:"marketplaceSync"`
}

type ledgerEntryResponse struct {
	Seq           int64  `json:"seq"`
	Delta         int    `json:"delta"`
	PostAvailable int    `json:"postAvailable"`
	Reason        string `json:"reason"`
	CreatedAtUtc  string `json:"createdAtUtc"`
}

type conflictResponse struct {
	ID           uuid.UUID `json:"id"`
	MessageID    uuid.UUID `json:"messageId"`
	ItemID       uuid.UUID `json:"itemId"`
	Provider     string    `json:"provider"`
	Detail       string    `json:"detail"`
	CreatedAtUtc string    `json:"createdAtUtc"`
}

func toItemResponse(item *domain.InventoryItem) itemResponse {
	resp := itemResponse{
		ID:        item.ID,
		TenantID:  item.TenantID,
		PartNo:    item.PartNo,
		ColorID:   item.ColorID,
		Condition: string(item.Condition),
		Available: item.Available,
		Reserved:  item.Reserved,
		Deleted:   item.Deleted(),
		Sync:      map[string]syncStateResponse{},
	}
	for p, st := range item.Sync {
		resp.Sync[string(p)] = syncStateResponse{
			Status:              string(st.Status),
			LotID:               st.LotID,
			LastSyncAttemptUtc:  st.LastSyncAttemptUtc,
			LastSyncedSeq:       st.LastSyncedSeq,
			LastSyncedAvailable: st.LastSyncedAvailable,
			LastError:           st.LastError,
		}
	}
	return resp
}

// Handler /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type createItemRequest struct {
	TenantID  uuid.UUID `json:"tenantId"`
	PartNo    string    `json:"partNo"`
	ColorID   int       `json:"colorId"`
	Condition string    `json:"condition"`
	Available int       `json:"available"`
}

// Handler POST /api/items
func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	item, err := s.quantitySvc.CreateItem(
		r.Context(), req.TenantID, req.PartNo, req.ColorID,
		domain.Condition(req.Condition), req.Available,
	)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

// Handler for /api/items/{id}, /api/items/{id}/adjust, /api/items/{id}/ledger
func (s *Server) handleItemSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/items/")
	if rest == "" || rest == r.URL.Path {
		http.Error(w, "item id is required", http.StatusBadRequest)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	itemID, err := uuid.Parse(parts[0])
	if err != nil {
		http.Error(w, "item id is invalid", http.StatusBadRequest)
		return
	}

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.getItem(w, r, itemID)
	case sub == "" && r.Method == http.MethodDelete:
		s.deleteItem(w, r, itemID)
	case sub == "adjust" && r.Method == http.MethodPost:
		s.adjustItem(w, r, itemID)
	case sub == "ledger" && r.Method == http.MethodGet:
		s.itemLedger(w, r, itemID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request, itemID uuid.UUID) {
	item, err := s.quantitySvc.GetItem(r.Context(), itemID)
	if err != nil {
		if err == domain.ErrItemNotFound {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("GetItem error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request, itemID uuid.UUID) {
	if err := s.quantitySvc.DeleteItem(r.Context(), itemID); err != nil {
		if err == domain.ErrItemNotFound {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("DeleteItem error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adjustRequest struct {
	// Exactly one of delta or quantity must be set.
	Delta    *int   `json:"delta,omitempty"`
	Quantity *int   `json:"quantity,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type adjustResponse struct {
	Seq           int64 `json:"seq"`
	PostAvailable int   `json:"postAvailable"`
}

func (s *Server) adjustItem(w http.ResponseWriter, r *http.Request, itemID uuid.UUID) {
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if (req.Delta == nil) == (req.Quantity == nil) {
		http.Error(w, "exactly one of delta or quantity is required", http.StatusBadRequest)
		return
	}

	var entry *domain.QuantityLedgerEntry
	var err error
	if req.Quantity != nil {
		entry, err = s.quantitySvc.SetQuantity(r.Context(), itemID, *req.Quantity)
	} else {
		reason := domain.ChangeReason(req.Reason)
		if reason == "" {
			reason = domain.ReasonManualAdjust
		}
		entry, err = s.quantitySvc.Adjust(r.Context(), itemID, *req.Delta, reason)
	}
	if err != nil {
		switch err {
		case domain.ErrItemNotFound:
			http.Error(w, "not found", http.StatusNotFound)
		case domain.ErrInsufficientQuantity:
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	writeJSON(w, http.StatusOK, adjustResponse{Seq: entry.Seq, PostAvailable: entry.PostAvailable})
}

func (s *Server) itemLedger(w http.ResponseWriter, r *http.Request, itemID uuid.UUID) {
	entries, err := s.ledger.ListByItem(r.Context(), itemID, 100)
	if err != nil {
		log.Error().Err(err).Msg("ListByItem error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	resp := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, ledgerEntryResponse{
			Seq:           e.Seq,
			Delta:         e.Delta,
			PostAvailable: e.PostAvailable,
			Reason:        string(e.Reason),
			CreatedAtUtc:  e.CreatedAtUtc.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Handler POST /api/sync/run — manual dispatch trigger, safe to overlap the
// scheduler because of the claim CAS.
func (s *Server) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, err := s.dispatcher.DispatchOnce(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("manual dispatch error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": n})
}

type requeueRequest struct {
	ItemID   uuid.UUID `json:"itemId"`
	Provider string    `json:"provider"`
}

// Handler POST /api/sync/requeue
func (s *Server) handleSyncRequeue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req requeueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	provider, ok := domain.ParseProvider(req.Provider)
	if !ok {
		http.Error(w, "unknown provider", http.StatusBadRequest)
		return
	}

	msg, err := s.resyncSvc.Requeue(r.Context(), req.ItemID, provider)
	if err != nil {
		switch err {
		case domain.ErrItemNotFound:
			http.Error(w, "not found", http.StatusNotFound)
		case application.ErrNothingToSync:
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			log.Error().Err(err).Msg("Requeue error")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"messageId": msg.ID,
		"fromSeq":   msg.FromSeqExclusive,
		"toSeq":     msg.ToSeqInclusive,
	})
}

// Handler GET /api/sync/conflicts
func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conflicts, err := s.resyncSvc.ListConflicts(r.Context(), 100)
	if err != nil {
		log.Error().Err(err).Msg("ListConflicts error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	resp := make([]conflictResponse, 0, len(conflicts))
	for _, c := range conflicts {
		resp = append(resp, conflictResponse{
			ID:           c.ID,
			MessageID:    c.MessageID,
			ItemID:       c.ItemID,
			Provider:     string(c.Provider),
			Detail:       c.Detail,
			CreatedAtUtc: c.CreatedAtUtc.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Handler POST /api/sync/conflicts/{id}/resolve
func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/sync/conflicts/")
	rest = strings.TrimSuffix(rest, "/resolve")
	conflictID, err := uuid.Parse(rest)
	if err != nil {
		http.Error(w, "conflict id is invalid", http.StatusBadRequest)
		return
	}

	if err := s.resyncSvc.ResolveConflict(r.Context(), conflictID); err != nil {
		if err == application.ErrConflictNotFound {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("ResolveConflict error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Handler GET /swagger.json
func (s *Server) handleSwaggerJson(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(openAPISpec))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("writeJSON error")
	}
}

// Minimal OpenAPI spec in JSON for Swagger.
const openAPISpec = `{
  "openapi": "3.0.0",
  "info": {
    "title": "Brickfolio Sync API",
    "version": "1.0.0"
  },
  "paths": {
    "/health": {
      "get": {
        "summary": "Health check",
        "responses": {
          "200": {
            "description": "Service is healthy"
          }
        }
      }
    },
    "/api/items": {
      "post": {
        "summary": "Create inventory item",
        "responses": {
          "201": {
            "description": "Item created",
            "content": {
              "application/json": {
                "schema": {
                  "$ref": "#/components/schemas/ItemResponse"
                }
              }
            }
          },
          "400": {
            "description": "Invalid request"
          }
        }
      }
    },
    "/api/items/{id}": {
      "get": {
        "summary": "Get inventory item",
        "parameters": [
          {
            "name": "id",
            "in": "path",
            "required": true,
            "schema": {
              "type": "string",
              "format": "uuid"
            }
          }
        ],
        "responses": {
          "200": {
            "description": "Item found",
            "content": {
              "application/json": {
                "schema": {
                  "$ref": "#/components/schemas/ItemResponse"
                }
              }
            }
          },
          "404": {
            "description": "Item not found"
          }
        }
      },
      "delete": {
        "summary": "Delete inventory item",
        "parameters": [
          {
            "name": "id",
            "in": "path",
            "required": true,
            "schema": {
              "type": "string",
              "format": "uuid"
            }
          }
        ],
        "responses": {
          "204": {
            "description": "Item deleted"
          },
          "404": {
            "description": "Item not found"
          }
        }
      }
    },
    "/api/items/{id}/adjust": {
      "post": {
        "summary": "Adjust quantity by delta or set it absolutely",
        "parameters": [
          {
            "name": "id",
            "in": "path",
            "required": true,
            "schema": {
              "type": "string",
              "format": "uuid"
            }
          }
        ],
        "responses": {
          "200": {
            "description": "Quantity changed"
          },
          "409": {
            "description": "Change would drop available below zero"
          }
        }
      }
    },
    "/api/items/{id}/ledger": {
      "get": {
        "summary": "List quantity ledger entries",
        "parameters": [
          {
            "name": "id",
            "in": "path",
            "required": true,
            "schema": {
              "type": "string",
              "format": "uuid"
            }
          }
        ],
        "responses": {
          "200": {
            "description": "Ledger entries, newest first"
          }
        }
      }
    },
    "/api/sync/run": {
      "post": {
        "summary": "Trigger one outbox dispatch pass",
        "responses": {
          "200": {
            "description": "Pass finished"
          }
        }
      }
    },
    "/api/sync/requeue": {
      "post": {
        "summary": "Requeue a provider sync for an item",
        "responses": {
          "202": {
            "description": "Sync message enqueued"
          },
          "409": {
            "description": "Provider already up to date"
          }
        }
      }
    },
    "/api/sync/conflicts": {
      "get": {
        "summary": "List unresolved sync conflicts",
        "responses": {
          "200": {
            "description": "Unresolved conflicts"
          }
        }
      }
    },
    "/api/sync/conflicts/{id}/resolve": {
      "post": {
        "summary": "Resolve a sync conflict and reopen its message",
        "parameters": [
          {
            "name": "id",
            "in": "path",
            "required": true,
            "schema": {
              "type": "string",
              "format": "uuid"
            }
          }
        ],
        "responses": {
          "204": {
            "description": "Conflict resolved"
          },
          "404": {
            "description": "Conflict not found"
          }
        }
      }
    }
  },
  "components": {
    "schemas": {
      "ItemResponse": {
        "type": "object",
        "properties": {
          "id": {
            "type": "string",
            "format": "uuid"
          },
          "partNo": {
            "type": "string"
          },
          "colorId": {
            "type": "integer"
          },
          "condition": {
            "type": "string"
          },
          "available": {
            "type": "integer"
          },
          "marketplaceSync": {
            "type": "object"
          }
        }
      }
    }
  }
}`
