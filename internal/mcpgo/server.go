package mcpgo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/noot-app/allergen-scanner/internal/allergen"
	"github.com/noot-app/allergen-scanner/internal/auth"
	"github.com/noot-app/allergen-scanner/internal/collection"
	"github.com/noot-app/allergen-scanner/internal/scanner"
	"github.com/noot-app/allergen-scanner/internal/types"
	"github.com/noot-app/allergen-scanner/internal/version"
)

const (
	healthCacheDuration = 10 * time.Second

	httpReadTimeout     = 15 * time.Second
	httpWriteTimeout    = 15 * time.Second
	httpIdleTimeout     = 60 * time.Second
	httpShutdownTimeout = 30 * time.Second
)

// responseRecorder wraps http.ResponseWriter to capture response details
type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	bytesWritten  int
	headerWritten bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.headerWritten {
		return // Prevent duplicate WriteHeader calls
	}
	r.statusCode = code
	r.headerWritten = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if !r.headerWritten {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(data)
	r.bytesWritten += n
	return n, err
}

// Flush lets streamed responses through the recorder
func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Server wraps the mark3labs MCP server with authentication
type Server struct {
	mcpServer *server.MCPServer
	scanner   *scanner.Service
	auth      *auth.BearerTokenAuth
	log       *slog.Logger

	// Health check caching to prevent DOS attacks
	healthMu        sync.RWMutex
	lastHealthCheck time.Time
	lastHealthError error
}

// FoodView is one food card as returned by the tools
type FoodView struct {
	Food     types.Food       `json:"food"`
	Warnings []types.Allergen `json:"warnings"`
	Count    int              `json:"count"`
	Summary  string           `json:"summary"`
	Favorite bool             `json:"favorite"`
	SafeFood bool             `json:"safe_food"`
}

// ScanBarcodeResponse represents the response from scan_barcode
type ScanBarcodeResponse struct {
	Found   bool      `json:"found"`
	Message string    `json:"message,omitempty"`
	Result  *FoodView `json:"result,omitempty"`
}

// SearchFoodsResponse represents the response from search_foods
type SearchFoodsResponse struct {
	Found   bool       `json:"found"`
	Count   int        `json:"count"`
	Results []FoodView `json:"results"`
}

// ToggleFoodResponse represents the response from toggle_favorite and toggle_safe_food
type ToggleFoodResponse struct {
	Barcode      string `json:"barcode"`
	Name         string `json:"name"`
	Collection   string `json:"collection"`
	InCollection bool   `json:"in_collection"`
	Persisted    bool   `json:"persisted"`
}

// ListFoodsResponse represents the response from list_favorites and list_safe_foods
type ListFoodsResponse struct {
	Count int          `json:"count"`
	Foods []types.Food `json:"foods"`
}

// AllergenPreference is one monitoring flag
type AllergenPreference struct {
	Name      string `json:"name"`
	Monitored bool   `json:"monitored"`
}

// ToggleAllergenResponse represents the response from toggle_allergen
type ToggleAllergenResponse struct {
	Name      string `json:"name"`
	Monitored bool   `json:"monitored"`
	Persisted bool   `json:"persisted"`
}

// PreferencesResponse represents the response from get_allergen_preferences
type PreferencesResponse struct {
	Allergens []AllergenPreference `json:"allergens"`
}

// NewServer creates a new MCP server with the mark3labs SDK
func NewServer(svc *scanner.Service, authenticator *auth.BearerTokenAuth, logger *slog.Logger) *Server {
	mcpServer := server.NewMCPServer(
		"Allergen Scanner MCP Server",
		version.Tag(),
		server.WithToolCapabilities(false), // Tools don't change dynamically
		server.WithRecovery(),              // Recover from panics
		server.WithLogging(),               // Enable logging
	)

	s := &Server{
		mcpServer: mcpServer,
		scanner:   svc,
		auth:      authenticator,
		log:       logger,
	}

	s.addTools()

	return s
}

// checkHealthWithCache checks health with 10-second caching to prevent DOS attacks
func (s *Server) checkHealthWithCache(ctx context.Context) error {
	s.healthMu.RLock()
	if time.Since(s.lastHealthCheck) < healthCacheDuration {
		err := s.lastHealthError
		s.healthMu.RUnlock()
		s.log.Debug("Health check: using cached result",
			"cached_error", err != nil,
			"cache_age", time.Since(s.lastHealthCheck))
		return err
	}
	s.healthMu.RUnlock()

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	// Double-check in case another goroutine updated while waiting for write lock
	if time.Since(s.lastHealthCheck) < healthCacheDuration {
		s.log.Debug("Health check: using cached result after lock",
			"cached_error", s.lastHealthError != nil,
			"cache_age", time.Since(s.lastHealthCheck))
		return s.lastHealthError
	}

	s.log.Debug("Health check: performing store and provider check")
	err := s.scanner.HealthCheck(ctx)
	s.lastHealthCheck = time.Now()
	s.lastHealthError = err

	return err
}

func (s *Server) addTools() {
	barcodeArg := mcp.WithString("barcode",
		mcp.Required(),
		mcp.MinLength(1),
		mcp.Description("The product barcode (EAN/UPC) as printed on the package"),
	)

	s.mcpServer.AddTool(mcp.NewTool("scan_barcode",
		mcp.WithDescription("Look a food up by barcode and report which monitored allergens it contains"),
		barcodeArg,
		mcp.WithOutputSchema[ScanBarcodeResponse](),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleScanBarcode)

	s.mcpServer.AddTool(mcp.NewTool("search_foods",
		mcp.WithDescription(fmt.Sprintf("Search foods by product name or brand. Queries shorter than %d characters return no results.", scanner.MinQueryLength)),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Product name or brand to search for"),
		),
		mcp.WithOutputSchema[SearchFoodsResponse](),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleSearchFoods)

	s.mcpServer.AddTool(mcp.NewTool("toggle_favorite",
		mcp.WithDescription("Add a food to favorites, or remove it if it is already there"),
		barcodeArg,
		mcp.WithOutputSchema[ToggleFoodResponse](),
	), s.handleToggleFavorite)

	s.mcpServer.AddTool(mcp.NewTool("toggle_safe_food",
		mcp.WithDescription("Mark a food as safe, or unmark it if it is already marked"),
		barcodeArg,
		mcp.WithOutputSchema[ToggleFoodResponse](),
	), s.handleToggleSafeFood)

	s.mcpServer.AddTool(mcp.NewTool("list_favorites",
		mcp.WithDescription("List favorite foods in the order they were added"),
		mcp.WithOutputSchema[ListFoodsResponse](),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleListFavorites)

	s.mcpServer.AddTool(mcp.NewTool("list_safe_foods",
		mcp.WithDescription("List foods marked as safe in the order they were added"),
		mcp.WithOutputSchema[ListFoodsResponse](),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleListSafeFoods)

	s.mcpServer.AddTool(mcp.NewTool("get_allergen_preferences",
		mcp.WithDescription("Show which of the seven Irish-regulated allergens are monitored"),
		mcp.WithOutputSchema[PreferencesResponse](),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleGetPreferences)

	s.mcpServer.AddTool(mcp.NewTool("toggle_allergen",
		mcp.WithDescription("Turn monitoring of one allergen on or off"),
		mcp.WithString("allergen",
			mcp.Required(),
			mcp.Description(fmt.Sprintf("Allergen name, matched ignoring case. One of: %s", strings.Join(allergen.Names(), ", "))),
		),
		mcp.WithOutputSchema[ToggleAllergenResponse](),
	), s.handleToggleAllergen)
}

func (s *Server) handleScanBarcode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.log.Debug("handleScanBarcode: Starting tool call", "arguments", request.GetArguments())

	barcode, err := request.RequireString("barcode")
	if err != nil {
		s.log.Warn("handleScanBarcode: Missing 'barcode' parameter", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Missing required parameter 'barcode': %v", err)), nil
	}

	response := ScanBarcodeResponse{}
	food, found := s.scanner.ScanBarcode(ctx, barcode)
	if found {
		view := s.view(ctx, food)
		response.Found = true
		response.Result = &view
	} else {
		response.Message = scanner.NotFoundMessage
	}

	return s.structured("handleScanBarcode", response)
}

func (s *Server) handleSearchFoods(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.log.Debug("handleSearchFoods: Starting tool call", "arguments", request.GetArguments())

	query, err := request.RequireString("query")
	if err != nil {
		s.log.Warn("handleSearchFoods: Missing 'query' parameter", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Missing required parameter 'query': %v", err)), nil
	}

	foods := s.scanner.Search(ctx, query)
	results := make([]FoodView, 0, len(foods))
	for _, food := range foods {
		results = append(results, s.view(ctx, food))
	}

	return s.structured("handleSearchFoods", SearchFoodsResponse{
		Found:   len(results) > 0,
		Count:   len(results),
		Results: results,
	})
}

func (s *Server) handleToggleFavorite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleToggleFood(ctx, request, "favorites", s.scanner.ToggleFavoriteByBarcode)
}

func (s *Server) handleToggleSafeFood(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleToggleFood(ctx, request, "safe_foods", s.scanner.ToggleSafeByBarcode)
}

type toggleByBarcodeFunc func(ctx context.Context, barcode string) (types.Food, collection.ToggleResult, error)

func (s *Server) handleToggleFood(ctx context.Context, request mcp.CallToolRequest, name string, toggle toggleByBarcodeFunc) (*mcp.CallToolResult, error) {
	s.log.Debug("handleToggleFood: Starting tool call", "collection", name, "arguments", request.GetArguments())

	barcode, err := request.RequireString("barcode")
	if err != nil {
		s.log.Warn("handleToggleFood: Missing 'barcode' parameter", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Missing required parameter 'barcode': %v", err)), nil
	}

	food, result, err := toggle(ctx, barcode)
	if err != nil {
		if errors.Is(err, scanner.ErrFoodNotFound) {
			return mcp.NewToolResultError(scanner.NotFoundMessage), nil
		}
		s.log.Error("handleToggleFood: Toggle failed", "collection", name, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Toggle failed: %v", err)), nil
	}

	return s.structured("handleToggleFood", ToggleFoodResponse{
		Barcode:      food.Barcode,
		Name:         food.Name,
		Collection:   name,
		InCollection: result.Present,
		Persisted:    result.Persisted,
	})
}

func (s *Server) handleListFavorites(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	foods := s.scanner.Favorites(ctx)
	return s.structured("handleListFavorites", ListFoodsResponse{Count: len(foods), Foods: foods})
}

func (s *Server) handleListSafeFoods(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	foods := s.scanner.SafeFoods(ctx)
	return s.structured("handleListSafeFoods", ListFoodsResponse{Count: len(foods), Foods: foods})
}

func (s *Server) handleGetPreferences(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prefs := s.scanner.Preferences(ctx)

	response := PreferencesResponse{Allergens: make([]AllergenPreference, 0, len(prefs))}
	for _, name := range allergen.Names() {
		response.Allergens = append(response.Allergens, AllergenPreference{Name: name, Monitored: prefs.Monitored(name)})
	}
	return s.structured("handleGetPreferences", response)
}

func (s *Server) handleToggleAllergen(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.log.Debug("handleToggleAllergen: Starting tool call", "arguments", request.GetArguments())

	name, err := request.RequireString("allergen")
	if err != nil {
		s.log.Warn("handleToggleAllergen: Missing 'allergen' parameter", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Missing required parameter 'allergen': %v", err)), nil
	}

	canonical, toggled, err := s.scanner.ToggleAllergen(ctx, name)
	if err != nil {
		s.log.Warn("handleToggleAllergen: Unknown allergen", "allergen", name)
		return mcp.NewToolResultError(fmt.Sprintf("Unknown allergen %q. Valid names: %v", name, allergen.Names())), nil
	}

	return s.structured("handleToggleAllergen", ToggleAllergenResponse{
		Name:      canonical,
		Monitored: toggled.Enabled,
		Persisted: toggled.Persisted,
	})
}

func (s *Server) view(ctx context.Context, food types.Food) FoodView {
	v := s.scanner.Inspect(ctx, food)
	return FoodView{
		Food:     v.Food,
		Warnings: v.Assessment.Allergens,
		Count:    v.Assessment.Count,
		Summary:  v.Summary,
		Favorite: v.Favorite,
		SafeFood: v.Safe,
	}
}

// structured returns both structured content and a JSON text fallback for maximum compatibility
func (s *Server) structured(handler string, response any) (*mcp.CallToolResult, error) {
	responseJSON, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		s.log.Error(handler+": Failed to marshal response", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal response: %v", err)), nil
	}

	s.log.Debug(handler+": Returning structured result", "response_size", len(responseJSON))
	return mcp.NewToolResultStructured(response, string(responseJSON)), nil
}

// Handler returns the HTTP routes: /health without auth and /mcp behind the bearer token
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := s.checkHealthWithCache(r.Context()); err != nil {
			s.log.Error("Health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "healthy",
			"version": version.Tag(),
		})
	})

	streamableServer := server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
	)

	mux.Handle("/mcp", s.auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovery := recover(); recovery != nil {
				s.log.Error("MCP endpoint panic recovered",
					"panic", recovery,
					"method", r.Method,
					"url", r.URL.String(),
					"remote_addr", r.RemoteAddr)
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("Internal Server Error"))
			}
		}()

		s.log.Debug("MCP request received",
			"method", r.Method,
			"content_type", r.Header.Get("Content-Type"),
			"content_length", r.ContentLength,
			"remote_addr", r.RemoteAddr)

		recorder := &responseRecorder{ResponseWriter: w}
		streamableServer.ServeHTTP(recorder, r)

		s.log.Debug("MCP response sent",
			"status_code", recorder.statusCode,
			"response_size", recorder.bytesWritten,
			"content_type", recorder.Header().Get("Content-Type"))
	})))

	return mux
}

// ServeHTTP serves the MCP server over HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  httpReadTimeout,
		WriteTimeout: httpWriteTimeout,
		IdleTimeout:  httpIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting MCP server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down MCP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.log.Info("MCP server stopped")
	return nil
}

// ServeStdio serves the MCP server over stdio (no auth required for local use)
func (s *Server) ServeStdio() error {
	s.log.Info("Starting MCP server in stdio mode")
	return server.ServeStdio(s.mcpServer)
}
