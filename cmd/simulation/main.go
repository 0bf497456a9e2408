package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ksred/skyline-api/internal/auth"
	"github.com/ksred/skyline-api/internal/batch"
	"github.com/ksred/skyline-api/internal/config"
	"github.com/ksred/skyline-api/internal/database"
	"github.com/ksred/skyline-api/internal/events"
	"github.com/ksred/skyline-api/internal/lab"
	"github.com/ksred/skyline-api/internal/trading"
	"github.com/ksred/skyline-api/pkg/middleware"
)

const (
	minTrades     = 15
	maxTrades     = 150
	numWorkers    = 5
	serverPort    = "8090"
	serverAddress = "http://localhost:" + serverPort
	simAPIKey     = "sim-key"
	simAPISecret  = "sim-secret"
	pollInterval  = 100 * time.Millisecond
)

var assets = map[string][]string{
	"FX_SPOT": {"USDINR", "EURUSD", "GBPUSD", "USDJPY", "EURINR"},
	"IRS":     {"SOFR_5Y", "MIFOR_5Y", "EURIBOR_10Y"},
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) record(d time.Duration, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if err != nil {
		rs.failures++
	}
}

// calculate returns min, max, mean, median, p95 and p99 of the recorded durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient drives one lab session over HTTP
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"session": {name: "Open Session"},
			"book":    {name: "Book Trade"},
			"batch":   {name: "Start Batch"},
			"poll":    {name: "Poll Batch"},
			"summary": {name: "Summary"},
		},
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token
	return sc, nil
}

// call sends a JSON request and decodes the data field of the envelope into out
func (sc *simulationClient) call(route, method, path string, in, out any) (err error) {
	start := time.Now()
	defer func() { sc.stats[route].record(time.Since(start), err) }()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}

	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if len(envelope.Data) == 0 {
		// not enveloped
		return json.Unmarshal(respBody, out)
	}
	return json.Unmarshal(envelope.Data, out)
}

func (sc *simulationClient) authenticate() (string, error) {
	var result auth.TokenResponse
	err := sc.call("auth", http.MethodPost, "/api/v1/auth/token", auth.Credentials{
		APIKey:    simAPIKey,
		APISecret: simAPISecret,
	}, &result)
	return result.Token, err
}

func (sc *simulationClient) openSession() (string, error) {
	var info lab.SessionInfo
	if err := sc.call("session", http.MethodPost, "/api/v1/labs/sessions", nil, &info); err != nil {
		return "", err
	}
	return info.ID, nil
}

func (sc *simulationClient) bookTrade(sessionID string, req map[string]string) (trading.Trade, error) {
	var trade trading.Trade
	err := sc.call("book", http.MethodPost, "/api/v1/labs/sessions/"+sessionID+"/trades", req, &trade)
	return trade, err
}

func (sc *simulationClient) startBatch(sessionID string) (batch.Run, error) {
	var run batch.Run
	err := sc.call("batch", http.MethodPost, "/api/v1/labs/sessions/"+sessionID+"/batch", nil, &run)
	return run, err
}

func (sc *simulationClient) batchStatus(sessionID string) (batch.Run, error) {
	var run batch.Run
	err := sc.call("poll", http.MethodGet, "/api/v1/labs/sessions/"+sessionID+"/batch", nil, &run)
	return run, err
}

func (sc *simulationClient) summary(sessionID string) (trading.Summary, error) {
	var s trading.Summary
	err := sc.call("summary", http.MethodGet, "/api/v1/labs/sessions/"+sessionID+"/summary", nil, &s)
	return s, err
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	routes := make([]string, 0, len(sc.stats))
	for r := range sc.stats {
		routes = append(routes, r)
	}
	sort.Strings(routes)

	for _, r := range routes {
		stats := sc.stats[r]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// randomBooking picks a supported product and asset with a random rate and notional
func randomBooking(rng *rand.Rand) map[string]string {
	product := "FX_SPOT"
	if rng.Intn(2) == 0 {
		product = "IRS"
	}
	list := assets[product]
	rate := 1 + rng.Float64()*100
	notional := (rng.Intn(100) + 1) * 100_000
	return map[string]string{
		"product_type": product,
		"asset":        list[rng.Intn(len(list))],
		"trade_rate":   fmt.Sprintf("%.4f", rate),
		"notional":     fmt.Sprintf("%d", notional),
	}
}

// main runs the lab simulation: it starts an in-process API server, books
// random trades from several workers into one session and drives an EOD run.
func main() {
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	sessionID, err := simClient.openSession()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open lab session")
	}

	targetTrades := rand.Intn(maxTrades-minTrades) + minTrades
	log.Info().Int("target_trades", targetTrades).Str("session_id", sessionID).Msg("Starting simulation")

	started := time.Now()
	var (
		mu       sync.Mutex
		booked   []trading.Trade
		products = map[string]int{}
	)

	var g errgroup.Group
	for i := 0; i < numWorkers; i++ {
		workerID := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			for j := 0; j < targetTrades/numWorkers; j++ {
				req := randomBooking(rng)
				trade, err := simClient.bookTrade(sessionID, req)
				if err != nil {
					log.Error().Err(err).Int("worker_id", workerID).Str("asset", req["asset"]).Msg("Failed to book trade")
					continue
				}
				mu.Lock()
				booked = append(booked, trade)
				products[string(trade.ProductType)]++
				mu.Unlock()

				log.Info().
					Int("worker_id", workerID).
					Str("trade_id", trade.ID).
					Str("asset", trade.Asset).
					Str("notional", trade.Notional.String()).
					Msg("Trade booked")

				time.Sleep(time.Duration(rng.Intn(100)) * time.Millisecond)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info().Int("trades_booked", len(booked)).Msg("All trades booked")

	run, err := simClient.startBatch(sessionID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start EOD batch")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for run.Stage != batch.StageComplete && run.Error == "" {
		select {
		case <-ctx.Done():
			log.Fatal().Str("stage", string(run.Stage)).Msg("EOD batch did not complete in time")
		case <-time.After(pollInterval):
		}
		if run, err = simClient.batchStatus(sessionID); err != nil {
			log.Error().Err(err).Msg("Failed to poll batch")
		}
	}

	summary, err := simClient.summary(sessionID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load summary")
	}

	duration := time.Since(started)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("LAB SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Trade Statistics
----------------
Target Trades:    %d
Booked:           %d
Final Stage:      %s
Batch Error:      %s
Total NPV:        %s
Total DV01:       %s
Duration:         %v

Product Distribution
--------------------
`, targetTrades, len(booked), run.Stage, run.Error,
		summary.TotalNPV.StringFixed(2), summary.TotalDV01.StringFixed(2), duration.Round(time.Millisecond))

	for product, count := range products {
		barLength := int(float64(count) / float64(len(booked)) * 20)
		fmt.Printf("%-8s: %s (%d)\n", product, strings.Repeat("#", barLength), count)
	}

	fmt.Println("\nBatch Log")
	fmt.Println("---------")
	for _, entry := range run.Log {
		fmt.Println(entry.String())
	}
	fmt.Println("\n" + strings.Repeat("=", 80))

	simClient.printPerformanceStats()
}

// startServer runs an in-memory lab API with short stage delays
func startServer() error {
	db, err := database.NewDatabase(":memory:")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	authService := auth.NewService(config.AuthConfig{
		JWTSecret: "simulation-secret",
		TokenTTL:  time.Hour,
		Clients:   map[string]string{simAPIKey: simAPISecret},
	})

	reports := lab.NewDatabase(db)
	store := events.NewStorePublisher(db)
	manager := lab.NewManager(lab.Options{
		TickInterval: time.Second,
		StageDelay:   200 * time.Millisecond,
		Publisher:    store,
		Reports:      reports,
	}, time.Hour, 1)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	v1.POST("/auth/token", auth.NewGinHandlers(authService).GenerateTokenHandler())
	lab.NewGinHandlers(manager, reports, store).RegisterRoutes(v1.Group("/labs", middleware.JWTAuth(authService.Secret())))

	return router.Run(":" + serverPort)
}
