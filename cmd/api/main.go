package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hoangnv/shopcore/internal/apperr"
	"github.com/hoangnv/shopcore/internal/cache"
	"github.com/hoangnv/shopcore/internal/config"
	"github.com/hoangnv/shopcore/internal/database"
	"github.com/hoangnv/shopcore/internal/engine"
	"github.com/hoangnv/shopcore/internal/events"
	"github.com/hoangnv/shopcore/internal/models"
	"github.com/hoangnv/shopcore/internal/payos"
	"github.com/hoangnv/shopcore/internal/scheduler"
	"github.com/hoangnv/shopcore/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Init logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	rdb, err := cache.InitRedis(cfg.Redis.Addr, cfg.Redis.Password, logger)
	if err != nil {
		logger.Fatal("connect to redis", zap.Error(err))
	}
	defer rdb.Close()
	orderCache := cache.NewOrderCache(rdb, cfg.Redis.OrderTTL, logger)

	producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer producer.Close()

	gateway := payos.NewClient(payos.Config{
		Endpoint:    cfg.PayOS.Endpoint,
		ClientID:    cfg.PayOS.ClientID,
		APIKey:      cfg.PayOS.APIKey,
		ChecksumKey: cfg.PayOS.ChecksumKey,
		ReturnURL:   cfg.PayOS.ReturnURL,
		CancelURL:   cfg.PayOS.CancelURL,
		Timeout:     cfg.PayOS.HTTPTimeout,
	}, logger)

	jobs := scheduler.New(logger)
	defer jobs.Stop()

	eng := engine.New(db, gateway, jobs, orderCache, producer, engine.Config{
		ExpiryWindow:    cfg.Payment.ExpiryWindow,
		RetryAttempts:   cfg.Payment.RetryAttempts,
		RetryBackoff:    cfg.Payment.RetryBackoff,
		PayoutTxTimeout: cfg.Payment.PayoutTxTimeout,
	}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/orders", handleOrders(eng, db))
	mux.HandleFunc("/orders/", handleOrderByID(eng))
	mux.HandleFunc("/admin/orders/", handleAdminOrders(eng))
	mux.HandleFunc("/webhooks/payos", handlePayOSWebhook(eng, cfg.PayOS.ChecksumKey, logger))

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
}

// callerID reads the authenticated user id the gateway in front of this
// service injects. Zero means unauthenticated.
func callerID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	return id
}

func handleOrders(eng *engine.Engine, db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			listOrders(db, w, r)
			return
		}
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req struct {
			DeliveryAddress string `json:"delivery_address"`
			Note            string `json:"note"`
			PaymentMethod   string `json:"payment_method"`
			Items           []struct {
				ProductVariantID int64  `json:"product_variant_id"`
				Quantity         int    `json:"quantity"`
				Note             string `json:"note"`
			} `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		items := make([]engine.OrderItemRequest, len(req.Items))
		for i, item := range req.Items {
			items[i] = engine.OrderItemRequest{
				VariantID: item.ProductVariantID,
				Quantity:  item.Quantity,
				Note:      item.Note,
			}
		}

		result, err := eng.CreateOrder(r.Context(), engine.CreateOrderRequest{
			UserID:          callerID(r),
			DeliveryAddress: req.DeliveryAddress,
			Note:            req.Note,
			PaymentMethod:   models.PaymentMethod(req.PaymentMethod),
			Items:           items,
		})
		if err != nil {
			respondAppError(w, err)
			return
		}

		respondJSON(w, http.StatusCreated, result)
	}
}

func listOrders(db *sql.DB, w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID <= 0 {
		respondError(w, http.StatusUnauthorized, "missing or invalid user id")
		return
	}

	cursor, err := store.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid cursor")
		return
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	page, err := store.ListOrders(r.Context(), db, userID, cursor, pageSize)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func handleOrderByID(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, action, ok := parseOrderPath(r.URL.Path, "/orders/")
		if !ok {
			respondError(w, http.StatusBadRequest, "Invalid order ID")
			return
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			userID := callerID(r)
			if userID <= 0 {
				respondError(w, http.StatusUnauthorized, "missing or invalid user id")
				return
			}
			order, err := eng.GetOrder(r.Context(), id, userID)
			if err != nil {
				respondAppError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, order)

		case action == "retry-payment" && r.Method == http.MethodPost:
			info, err := eng.RetryPayment(r.Context(), id, callerID(r))
			if err != nil {
				respondAppError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, info)

		default:
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

func handleAdminOrders(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		id, action, ok := parseOrderPath(r.URL.Path, "/admin/orders/")
		if !ok {
			respondError(w, http.StatusBadRequest, "Invalid order ID")
			return
		}
		adminID := callerID(r)

		switch action {
		case "confirm":
			result, err := eng.ConfirmOrder(r.Context(), id, adminID)
			if err != nil {
				respondAppError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, result)

		case "reject":
			if err := eng.RejectOrder(r.Context(), id, adminID); err != nil {
				respondAppError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})

		case "payout":
			refund, err := eng.CreatePayoutOrder(r.Context(), id)
			if err != nil {
				respondAppError(w, err)
				return
			}
			respondJSON(w, http.StatusCreated, refund)

		default:
			respondError(w, http.StatusNotFound, "Unknown action")
		}
	}
}

func handlePayOSWebhook(eng *engine.Engine, checksumKey string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var hook payos.Webhook
		if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		data, err := payos.VerifyWebhook(checksumKey, hook)
		if err != nil {
			logger.Warn("webhook rejected", zap.Error(err))
			respondError(w, http.StatusUnauthorized, "Invalid signature")
			return
		}

		err = eng.HandlePaymentPaid(r.Context(), engine.WebhookPayload{
			OrderID:              data.OrderCode,
			Amount:               decimal.NewFromInt(data.Amount),
			Reference:            data.Reference,
			CounterAccountBankID: data.CounterAccountBankID,
			CounterAccountNumber: data.CounterAccountNumber,
			CounterAccountName:   data.CounterAccountName,
		})
		if err != nil {
			respondAppError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// parseOrderPath splits "<prefix><id>[/<action>]" into its parts.
func parseOrderPath(path, prefix string) (int64, string, bool) {
	rest := strings.TrimPrefix(path, prefix)
	idStr, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, action, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondAppError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		respondJSON(w, status, appErr)
		return
	}
	respondError(w, status, "internal server error")
}
