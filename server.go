package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/fieldmaxhq/inventory_backend/config"
	"github.com/fieldmaxhq/inventory_backend/models"
	"github.com/fieldmaxhq/inventory_backend/utils"
	"github.com/fieldmaxhq/inventory_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// RateLimiter throttles per client IP through a Redis counter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
}

// statusForError maps the domain error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidMovement):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrProductNotAvailable),
		errors.Is(err, models.ErrCannotRestockSingleItem),
		errors.Is(err, models.ErrSaleAlreadyReversed),
		errors.Is(err, models.ErrConcurrencyTimeout):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// actorMiddleware lifts the upstream gateway's identity headers into the
// request context so ledger entries record who acted.
func actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if v := strings.TrimSpace(c.GetHeader("x-user-id")); v != "" {
			if userId, err := strconv.Atoi(v); err == nil {
				ctx = utils.SetUserIdInContext(ctx, userId)
			}
		}
		if v := strings.TrimSpace(c.GetHeader("x-user-name")); v != "" {
			ctx = utils.SetUserNameInContext(ctx, v)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func createCategoryHandler(c *gin.Context) {
	var input models.NewCategory
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	category, err := models.CreateCategory(c.Request.Context(), &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

func updateCategoryHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewCategory
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	category, err := models.UpdateCategory(c.Request.Context(), id, &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func deleteCategoryHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	category, err := models.DeleteCategory(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func listCategoriesHandler(c *gin.Context) {
	var name *string
	if v := c.Query("name"); v != "" {
		name = &v
	}
	categories, err := models.GetCategoryAll(c.Request.Context(), name)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

func createProductHandler(c *gin.Context) {
	var input models.NewProduct
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	product, err := models.CreateProduct(c.Request.Context(), &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func getProductHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	product, err := models.GetProduct(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func searchProductsHandler(c *gin.Context) {
	products, err := models.SearchProducts(c.Request.Context(), c.Query("search"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func updateProductHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.UpdateProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	product, err := models.UpdateProduct(c.Request.Context(), id, &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func deactivateProductHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	product, err := models.DeactivateProduct(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func restockProductHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.RestockInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	product, err := models.RestockProduct(c.Request.Context(), id, &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func recordStockMovementHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewStockEntry
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry, err := models.RecordStockMovement(c.Request.Context(), id, &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func listStockEntriesHandler(c *gin.Context) {
	var productId *int
	if v := c.Query("product_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product_id"})
			return
		}
		productId = &id
	}
	var entryKind *models.StockEntryKind
	if v := c.Query("entry_kind"); v != "" {
		kind := models.StockEntryKind(v)
		if err := kind.Valid(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		entryKind = &kind
	}
	entries, err := models.GetStockEntryAll(c.Request.Context(), productId, entryKind)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func retractStockEntryHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	compensation, err := models.RetractStockEntry(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, compensation)
}

func checkoutHandler(c *gin.Context) {
	var input models.NewSale
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sale, err := models.CreateSale(c.Request.Context(), &input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sale)
}

func getSaleHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	sale, err := models.GetSale(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func listSalesHandler(c *gin.Context) {
	includeReversed := strings.EqualFold(c.Query("include_reversed"), "true")
	sales, err := models.GetSaleAll(c.Request.Context(), includeReversed)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sales)
}

type reverseSaleRequest struct {
	Reason string `json:"reason"`
}

func reverseSaleHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req reverseSaleRequest
	// Reason is optional; an empty or missing body is fine.
	_ = c.ShouldBindJSON(&req)
	sale, err := models.ReverseSale(c.Request.Context(), id, req.Reason)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func deleteSaleHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	sale, err := models.DeleteSale(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func deleteSaleItemHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	sale, err := models.DeleteSaleItem(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func assignReceiptHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	sale, err := models.AssignFiscalReceipt(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func rebuildInventoryHandler(c *gin.Context) {
	fix := strings.EqualFold(c.Query("fix"), "true")
	drifts, err := workflow.RebuildInventory(c.Request.Context(), fix)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fix": fix, "drift_count": len(drifts), "drifts": drifts})
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the platform considers the revision
	// healthy. Until the DB is ready, app endpoints return 503.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production an explicit allowlist is required; elsewhere allow all.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-user-id", "x-user-name")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Optional rate limiting.
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(actorMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/categories", createCategoryHandler)
	r.GET("/categories", listCategoriesHandler)
	r.PUT("/categories/:id", updateCategoryHandler)
	r.DELETE("/categories/:id", deleteCategoryHandler)

	r.POST("/products", createProductHandler)
	r.GET("/products", searchProductsHandler)
	r.GET("/products/:id", getProductHandler)
	r.PUT("/products/:id", updateProductHandler)
	r.DELETE("/products/:id", deactivateProductHandler)
	r.POST("/products/:id/restock", restockProductHandler)
	r.POST("/products/:id/stock-movements", recordStockMovementHandler)

	r.GET("/stock-entries", listStockEntriesHandler)
	r.POST("/stock-entries/:id/retract", retractStockEntryHandler)

	r.POST("/checkout", checkoutHandler)
	r.GET("/sales", listSalesHandler)
	r.GET("/sales/:id", getSaleHandler)
	r.POST("/sales/:id/reverse", reverseSaleHandler)
	r.POST("/sales/:id/receipt", assignReceiptHandler)
	r.DELETE("/sales/:id", deleteSaleHandler)
	r.DELETE("/sale-items/:id", deleteSaleItemHandler)

	// Ops tooling: report or repair ledger/projection drift.
	r.POST("/internal/ops/inventory-rebuild", rebuildInventoryHandler)

	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running it as a
	// separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTable(); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Panic(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger logs only requests that recorded errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware checks the per IP request counter in Redis.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
