package main

import (
	"bytes"
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

	"github.com/openvenue/venue-core/internal/auth"
	"github.com/openvenue/venue-core/internal/database"
	"github.com/openvenue/venue-core/internal/engine"
	"github.com/openvenue/venue-core/internal/ledger"
	"github.com/openvenue/venue-core/internal/notify"
	"github.com/openvenue/venue-core/internal/orderbook"
	"github.com/openvenue/venue-core/internal/pairs"
	"github.com/openvenue/venue-core/internal/settlement"
	"github.com/openvenue/venue-core/pkg/middleware"
)

const (
	minOrders     = 50
	maxOrders     = 300
	numTraders    = 5
	serverAddress = "http://localhost:8080"
	jwtSecret     = "simulation-secret-key"
	databasePath  = "simulation.db"
)

var currencies = []struct {
	Symbol   string
	Name     string
	Decimals int
	PriceUSD float64
}{
	{"BTC", "Bitcoin", 8, 64000},
	{"ETH", "Ethereum", 18, 3200},
	{"USD", "US Dollar", 2, 1},
}

var markets = []struct {
	Base     string
	Quote    string
	MidPrice float64
}{
	{"BTC", "USD", 64000},
	{"ETH", "USD", 3200},
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
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

// traderClient is one simulated market participant talking to the API
// over HTTP with its own identity and token.
type traderClient struct {
	userID    string
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

func newTraderClient(userID, apiSecret string, stats map[string]*routeStats) (*traderClient, error) {
	tc := &traderClient{
		userID:  userID,
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats:   stats,
	}

	token, err := tc.authenticate(userID, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate %s: %w", userID, err)
	}
	tc.authToken = token

	return tc, nil
}

// authenticate performs API authentication and returns a JWT token
func (tc *traderClient) authenticate(apiKey, apiSecret string) (string, error) {
	start := time.Now()
	defer func() {
		tc.stats["auth"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	})
	if err != nil {
		return "", err
	}

	resp, err := tc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", tc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// call performs one authenticated request and decodes the data envelope
// into out when provided.
func (tc *traderClient) call(statKey, method, path string, payload interface{}, out interface{}) error {
	start := time.Now()
	defer func() {
		tc.stats[statKey].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, tc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", tc.authToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := tc.client.Do(req)
	if err != nil {
		tc.stats[statKey].addFailure()
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode >= http.StatusBadRequest {
		tc.stats[statKey].addFailure()
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

// orderResult is the subset of the order payload the simulation inspects.
type orderResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Filled  string `json:"filled"`
}

func (tc *traderClient) deposit(currency string, amount float64) error {
	return tc.call("deposit", "POST", "/api/v1/internal/deposits", map[string]interface{}{
		"user_id":  tc.userID,
		"currency": currency,
		"amount":   amount,
	}, nil)
}

func (tc *traderClient) placeLimitOrder(pairID, side string, price, amount float64, tif string) (*orderResult, error) {
	var order orderResult
	err := tc.call("limit", "POST", "/api/v1/orders/limit", map[string]interface{}{
		"pair_id":       pairID,
		"side":          side,
		"price":         price,
		"amount":        amount,
		"time_in_force": tif,
	}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (tc *traderClient) placeMarketOrder(pairID, side string, amount float64) (*orderResult, error) {
	var order orderResult
	err := tc.call("market", "POST", "/api/v1/orders/market", map[string]interface{}{
		"pair_id": pairID,
		"side":    side,
		"amount":  amount,
	}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (tc *traderClient) cancelOrder(orderID string) error {
	return tc.call("cancel", "DELETE", "/api/v1/orders/"+orderID, nil, nil)
}

func (tc *traderClient) getDepth(pairID string) error {
	return tc.call("depth", "GET", fmt.Sprintf("/api/v1/pairs/%s/depth", pairID), nil, nil)
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func printPerformanceStats(stats map[string]*routeStats) {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 110))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 110))

	for _, rs := range stats {
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			rs.name,
			rs.totalCalls,
			rs.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 110))
}

// main runs the trading simulation. It starts a local API server,
// seeds reference data and balances, then simulates concurrent traders
// placing, matching and cancelling orders across two markets.
func main() {
	authService, err := startServer()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}

	// Wait for server to start
	time.Sleep(2 * time.Second)

	stats := map[string]*routeStats{
		"auth":    {name: "Authentication"},
		"deposit": {name: "Deposit"},
		"limit":   {name: "Limit Order"},
		"market":  {name: "Market Order"},
		"cancel":  {name: "Cancel Order"},
		"depth":   {name: "Book Depth"},
	}

	// Register per-trader credentials and build clients
	traders := make([]*traderClient, 0, numTraders)
	for i := 0; i < numTraders; i++ {
		userID := fmt.Sprintf("trader-%d", i)
		secret := fmt.Sprintf("secret-%d", i)
		authService.RegisterAPICredentials(userID, secret)

		tc, err := newTraderClient(userID, secret, stats)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize trader client")
		}
		traders = append(traders, tc)
	}

	pairIDs, err := seedVenue(traders[0])
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed reference data")
	}

	// Fund every trader in every currency
	for _, tc := range traders {
		for _, currency := range currencies {
			amount := 1_000_000.0
			if currency.Symbol == "USD" {
				amount = 50_000_000.0
			}
			if err := tc.deposit(currency.Symbol, amount); err != nil {
				log.Fatal().Err(err).Str("user_id", tc.userID).Msg("Failed to fund trader")
			}
		}
	}

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	summary := struct {
		mu         sync.Mutex
		placed     int
		filled     int
		partial    int
		cancelled  int
		failed     int
		byPair     map[string]int
		bySide     map[string]int
		cancelSent int
		startTime  time.Time
	}{
		byPair:    make(map[string]int),
		bySide:    make(map[string]int),
		startTime: time.Now(),
	}

	var wg sync.WaitGroup
	perTrader := targetOrders / numTraders

	for i, tc := range traders {
		wg.Add(1)
		go func(workerID int, tc *traderClient) {
			defer wg.Done()

			var resting []string
			for n := 0; n < perTrader; n++ {
				market := markets[rand.Intn(len(markets))]
				pairID := pairIDs[market.Base+"/"+market.Quote]
				side := "buy"
				if rand.Intn(2) == 0 {
					side = "sell"
				}
				amount := float64(rand.Intn(20)+1) / 10.0

				var order *orderResult
				var err error
				if rand.Float64() < 0.8 {
					// Limit price jitters around the mid so some orders cross
					jitter := 1 + (rand.Float64()-0.5)*0.02
					tif := "GTC"
					switch rand.Intn(10) {
					case 0:
						tif = "IOC"
					case 1:
						tif = "FOK"
					}
					order, err = tc.placeLimitOrder(pairID, side, market.MidPrice*jitter, amount, tif)
				} else {
					order, err = tc.placeMarketOrder(pairID, side, amount)
				}

				summary.mu.Lock()
				if err != nil {
					summary.failed++
					summary.mu.Unlock()
					log.Error().Err(err).Str("user_id", tc.userID).Msg("Failed to place order")
					continue
				}
				summary.placed++
				summary.byPair[market.Base+"/"+market.Quote]++
				summary.bySide[side]++
				switch order.Status {
				case "filled":
					summary.filled++
				case "partially_filled":
					summary.partial++
				case "cancelled", "expired":
					summary.cancelled++
				}
				summary.mu.Unlock()

				if order.Status == "open" || order.Status == "partially_filled" {
					resting = append(resting, order.OrderID)
				}

				// Occasionally cancel an older resting order
				if len(resting) > 0 && rand.Intn(5) == 0 {
					victim := resting[0]
					resting = resting[1:]
					if err := tc.cancelOrder(victim); err == nil {
						summary.mu.Lock()
						summary.cancelSent++
						summary.mu.Unlock()
					}
				}

				if rand.Intn(10) == 0 {
					tc.getDepth(pairID)
				}

				time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
			}
		}(i, tc)
	}

	wg.Wait()

	duration := time.Since(summary.startTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("TRADING SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Order Statistics
----------------
Orders Placed:      %d
Fully Filled:       %d
Partially Filled:   %d
Cancelled/Killed:   %d
Explicit Cancels:   %d
Failed Requests:    %d
Duration:           %v

Market Distribution
-------------------
`, summary.placed, summary.filled, summary.partial, summary.cancelled,
		summary.cancelSent, summary.failed, duration.Round(time.Millisecond))

	maxCount := 0
	for _, count := range summary.byPair {
		if count > maxCount {
			maxCount = count
		}
	}
	for symbol, count := range summary.byPair {
		barLength := 0
		if maxCount > 0 {
			barLength = int(float64(count) / float64(maxCount) * 20)
		}
		fmt.Printf("%-8s: %s (%d)\n", symbol, strings.Repeat("#", barLength), count)
	}

	fmt.Println("\nSide Distribution")
	fmt.Println("-----------------")
	for side, count := range summary.bySide {
		barLength := 0
		if summary.placed > 0 {
			barLength = int(float64(count) / float64(summary.placed) * 20)
		}
		fmt.Printf("%-4s: %s (%d)\n", side, strings.Repeat("#", barLength), count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("orders_placed", summary.placed).
		Int("filled", summary.filled).
		Dur("duration", duration).
		Msg("Simulation completed")

	printPerformanceStats(stats)
}

// seedVenue creates currencies and trading pairs through the internal
// API and returns the pair IDs keyed by symbol.
func seedVenue(tc *traderClient) (map[string]string, error) {
	for _, currency := range currencies {
		err := tc.call("deposit", "POST", "/api/v1/internal/currencies", map[string]interface{}{
			"symbol":    currency.Symbol,
			"name":      currency.Name,
			"decimals":  currency.Decimals,
			"price_usd": currency.PriceUSD,
			"is_active": true,
		}, nil)
		if err != nil {
			return nil, err
		}
	}

	pairIDs := make(map[string]string)
	for _, market := range markets {
		var pair struct {
			PairID string `json:"pair_id"`
			Symbol string `json:"symbol"`
		}
		err := tc.call("deposit", "POST", "/api/v1/internal/pairs", map[string]interface{}{
			"base_currency":    market.Base,
			"quote_currency":   market.Quote,
			"min_trade_amount": 0.01,
			"maker_fee":        0.001,
			"taker_fee":        0.002,
		}, &pair)
		if err != nil {
			return nil, err
		}
		pairIDs[pair.Symbol] = pair.PairID
		log.Info().Str("pair_id", pair.PairID).Str("symbol", pair.Symbol).Msg("Market created")
	}

	return pairIDs, nil
}

// startServer initializes and starts the trading API server in-process.
// Returns the auth service so the simulation can register credentials.
func startServer() (*auth.Service, error) {
	if err := os.Remove(databasePath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	db, err := database.NewDatabase(databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)

	hub := notify.NewHub()

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	pairsService := pairs.NewService(db)
	pairsHandlers := pairs.NewGinHandlers(pairsService)

	bookService := orderbook.NewService(db)
	bookHandlers := orderbook.NewGinHandlers(bookService)

	recorder := settlement.NewRecorder(db, hub, 3)
	engineService := engine.NewService(db, bookService, recorder, hub)
	engineHandlers := engine.NewGinHandlers(engineService)

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	router.GET("/ws", hub.Handler())

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		pairsGroup := v1.Group("/pairs")
		{
			pairsGroup.GET("", pairsHandlers.ListPairsHandler())
			pairsGroup.GET("/:pair_id", pairsHandlers.GetPairHandler())
			pairsGroup.GET("/:pair_id/trades", pairsHandlers.RecentTradesHandler())
			pairsGroup.GET("/:pair_id/book", bookHandlers.GetBookHandler())
			pairsGroup.GET("/:pair_id/depth", bookHandlers.GetDepthHandler())
			pairsGroup.GET("/:pair_id/spread", bookHandlers.GetSpreadHandler())
		}

		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(jwtSecret))
		{
			orders.POST("/limit", engineHandlers.PlaceLimitOrderHandler())
			orders.POST("/market", engineHandlers.PlaceMarketOrderHandler())
			orders.GET("", engineHandlers.GetOpenOrdersHandler())
			orders.GET("/:order_id", engineHandlers.GetOrderHandler())
			orders.DELETE("/:order_id", engineHandlers.CancelOrderHandler())
		}

		balances := v1.Group("/balances")
		balances.Use(middleware.JWTAuth(jwtSecret))
		{
			balances.GET("", ledgerHandlers.GetBalancesHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/pairs", pairsHandlers.CreatePairHandler())
			internal.POST("/currencies", pairsHandlers.UpsertCurrencyHandler())
			internal.POST("/deposits", ledgerHandlers.DepositHandler())
		}
	}

	go func() {
		if err := router.Run(":8080"); err != nil {
			log.Fatal().Err(err).Msg("Server stopped")
		}
	}()

	return authService, nil
}
