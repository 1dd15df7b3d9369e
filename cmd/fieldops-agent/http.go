package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/RouteWise/FieldOps/config"
	"github.com/RouteWise/FieldOps/internal/lifecycle"
	"github.com/RouteWise/FieldOps/internal/models"
	"github.com/RouteWise/FieldOps/internal/services/syncer"
	"github.com/RouteWise/FieldOps/internal/services/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type agentHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	svc    *workflow.Service
	syncer *syncer.Syncer
	queue  agentStorage
	cfg    *config.Config
}

// runAgentHTTPServer — локальная ручка для UI водителя и для ops: действия по
// рейсам и точкам, статистика синка и принудительный drain.
func runAgentHTTPServer(ctx context.Context, opts agentHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/sync/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, opts.syncer.Stats())
	})
	r.Post("/sync/trigger", func(w http.ResponseWriter, r *http.Request) {
		opts.syncer.Trigger()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})
	r.Get("/sync/queue", func(w http.ResponseWriter, r *http.Request) {
		depth, err := opts.queue.GetQueueDepth(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, depth)
	})
	r.Get("/sync/failed", func(w http.ResponseWriter, r *http.Request) {
		items, err := opts.queue.ListFailedItems(r.Context(), 100)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		// Секреты не отдаём; только операционные настройки агента.
		writeJSON(w, http.StatusOK, map[string]any{
			"syncDrainIntervalSeconds": opts.cfg.FieldOps.SyncDrainIntervalSeconds,
			"syncBatchSize":            opts.cfg.FieldOps.SyncBatchSize,
			"syncSendGapMillis":        opts.cfg.FieldOps.SyncSendGapMillis,
			"syncBaseDelayMillis":      opts.cfg.FieldOps.SyncBaseDelayMillis,
			"syncMaxRetries":           opts.cfg.FieldOps.SyncMaxRetries,
			"syncRateLimitPerMinute":   opts.cfg.FieldOps.SyncRateLimitPerMinute,
			"snapshotTTLSeconds":       opts.cfg.FieldOps.SnapshotTTLSeconds,
			"transportMode":            opts.cfg.FieldOps.TransportMode,
		})
	})

	r.Route("/driver/v1", func(r chi.Router) {
		r.Get("/trips", func(w http.ResponseWriter, r *http.Request) {
			trips, err := opts.svc.ListActiveTrips(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"trips": trips})
		})

		r.Route("/trips/{tripID}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				id, ok := pathID(w, r, "tripID")
				if !ok {
					return
				}
				t, err := opts.svc.GetTrip(r.Context(), id)
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, t)
			})
			r.Get("/points", func(w http.ResponseWriter, r *http.Request) {
				id, ok := pathID(w, r, "tripID")
				if !ok {
					return
				}
				points, err := opts.svc.GetTripPoints(r.Context(), id)
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"points": points})
			})

			r.Post("/accept", tripAction(func(ctx context.Context, id uint64, _ tripActionRequest) (*models.Trip, error) {
				return opts.svc.AcceptTrip(ctx, id)
			}))
			r.Post("/reject", tripAction(func(ctx context.Context, id uint64, req tripActionRequest) (*models.Trip, error) {
				return opts.svc.RejectTrip(ctx, id, req.Reason)
			}))
			r.Post("/start", tripAction(func(ctx context.Context, id uint64, req tripActionRequest) (*models.Trip, error) {
				return opts.svc.StartTrip(ctx, id, req.Location)
			}))
			r.Post("/complete", tripAction(func(ctx context.Context, id uint64, req tripActionRequest) (*models.Trip, error) {
				return opts.svc.CompleteTrip(ctx, id, req.Location)
			}))
		})

		r.Route("/points/{pointID}", func(r chi.Router) {
			r.Post("/start", pointAction(func(ctx context.Context, id uint64, req pointActionRequest) (*models.DeliveryPoint, error) {
				return opts.svc.StartDelivery(ctx, id, req.Location)
			}))
			r.Post("/proof", pointAction(func(ctx context.Context, id uint64, req pointActionRequest) (*models.DeliveryPoint, error) {
				return opts.svc.AttachProof(ctx, id, req.Proof)
			}))
			r.Post("/payment", pointAction(func(ctx context.Context, id uint64, req pointActionRequest) (*models.DeliveryPoint, error) {
				return opts.svc.ProcessPayment(ctx, id, lifecycle.PaymentInput{
					Method:        req.Method,
					AmountMinor:   req.AmountMinor,
					Currency:      req.Currency,
					TransactionID: req.TransactionID,
					ProofRef:      req.ProofRef,
				})
			}))
			r.Post("/complete", pointAction(func(ctx context.Context, id uint64, req pointActionRequest) (*models.DeliveryPoint, error) {
				return opts.svc.CompleteDelivery(ctx, id, req.Proof, req.Location)
			}))
			r.Post("/fail", pointAction(func(ctx context.Context, id uint64, req pointActionRequest) (*models.DeliveryPoint, error) {
				return opts.svc.FailDelivery(ctx, id, req.Reason, req.Notes, req.Location)
			}))
			r.Post("/escalate", pointAction(func(ctx context.Context, id uint64, req pointActionRequest) (*models.DeliveryPoint, error) {
				return opts.svc.EscalateDelivery(ctx, id, req.Notes)
			}))
			r.Post("/resume", pointAction(func(ctx context.Context, id uint64, _ pointActionRequest) (*models.DeliveryPoint, error) {
				return opts.svc.ResumeDelivery(ctx, id)
			}))
		})
	})

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}

type tripActionRequest struct {
	Reason   string          `json:"reason,omitempty"`
	Location models.GeoPoint `json:"location"`
}

type pointActionRequest struct {
	Location models.GeoPoint         `json:"location"`
	Proof    *models.ProofOfDelivery `json:"proof,omitempty"`

	Method        string  `json:"method,omitempty"`
	AmountMinor   int64   `json:"amount_minor,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	TransactionID *string `json:"transaction_id,omitempty"`
	ProofRef      *string `json:"proof_ref,omitempty"`

	Reason string `json:"reason,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

func tripAction(do func(ctx context.Context, id uint64, req tripActionRequest) (*models.Trip, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "tripID")
		if !ok {
			return
		}
		var req tripActionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		t, err := do(r.Context(), id, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func pointAction(do func(ctx context.Context, id uint64, req pointActionRequest) (*models.DeliveryPoint, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "pointID")
		if !ok {
			return
		}
		var req pointActionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := do(r.Context(), id, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		writeErrorKind(w, http.StatusBadRequest, string(lifecycle.KindValidationFailed), name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// decodeBody tolerates an empty body: action endpoints without parameters
// are callable with a bare POST.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeErrorKind(w, http.StatusBadRequest, string(lifecycle.KindValidationFailed), "malformed json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps guard rejections onto HTTP statuses the driver UI reacts to:
// PAYMENT_REQUIRED opens the payment screen, INVALID_TRANSITION refreshes state.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, workflow.ErrNotFound) {
		writeErrorKind(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	switch lifecycle.KindOf(err) {
	case lifecycle.KindPaymentRequired:
		writeErrorKind(w, http.StatusPaymentRequired, string(lifecycle.KindPaymentRequired), err.Error())
	case lifecycle.KindInvalidTransition:
		writeErrorKind(w, http.StatusConflict, string(lifecycle.KindInvalidTransition), err.Error())
	case lifecycle.KindAmountMismatch:
		writeErrorKind(w, http.StatusUnprocessableEntity, string(lifecycle.KindAmountMismatch), err.Error())
	case lifecycle.KindValidationFailed:
		writeErrorKind(w, http.StatusUnprocessableEntity, string(lifecycle.KindValidationFailed), err.Error())
	default:
		writeErrorKind(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func writeErrorKind(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"kind": kind, "message": msg},
	})
}
