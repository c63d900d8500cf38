package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/session"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	AcceptRatio  float64
	CancelRatio  float64
	ReadRatio    float64
	PatientLimit int
	SlotLimit    int
}

type DataPool struct {
	Patients []uuid.UUID
	Slots    []uuid.UUID

	mu       sync.RWMutex
	bookings []simBooking
}

type simBooking struct {
	ID        uuid.UUID
	PatientID uuid.UUID
}

func (dp *DataPool) AddBooking(b simBooking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (simBooking, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return simBooking{}, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95)
}

type Metrics struct {
	Request    OperationMetrics
	Accept     OperationMetrics
	Cancel     OperationMetrics
	ReadByID   OperationMetrics
	ListSlots  OperationMetrics
	ListBySlot OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	issuer  *session.Issuer
	staff   string
	logger  *zap.Logger
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if baseCfg.StoreBackend != config.StorePostgres {
		log.Fatalf("the simulator reads ids from Postgres, got STORE_BACKEND=%q", baseCfg.StoreBackend)
	}

	logger, err := logging.New(baseCfg.Env, baseCfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("request", cfg.BookingRatio),
		zap.Float64("accept", cfg.AcceptRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("data pool loaded", zap.Int("patients", len(dataPool.Patients)), zap.Int("slots", len(dataPool.Slots)))

	// Tokens are signed locally with the server's secret.
	issuer := session.NewIssuer(baseCfg.JWTSecret, cfg.Duration+time.Hour)
	staffToken, err := issuer.Issue(session.Actor{ID: uuid.New(), Role: session.RoleStaff, Name: "simulator"})
	if err != nil {
		logger.Fatal("issue staff token", zap.Error(err))
	}

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		issuer: issuer,
		staff:  staffToken,
		logger: logger,
	}

	if err := sim.Run(); err != nil {
		logger.Error("simulation aborted", zap.Error(err))
	}
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.4),
		AcceptRatio:  getFloat("SIM_ACCEPT_RATIO", 0.2),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 2000),
		SlotLimit:    getInt("SIM_SLOT_LIMIT", 1000),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.AcceptRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.AcceptRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	var err error
	dataPool.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	dataPool.Slots, err = loadIDs(ctx, pool, `
		SELECT id FROM slots
		WHERE date >= current_date AND booked_count < capacity
		ORDER BY date, start_hour
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no slots loaded")
	}
	return dataPool, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, sql string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Simulator) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			return s.worker(gctx, workerID)
		})
	}

	err := g.Wait()
	s.logger.Info("simulation complete")
	return err
}

func (s *Simulator) worker(ctx context.Context, workerID int) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		r := rng.Float64()
		var err error
		switch {
		case r < s.config.BookingRatio:
			err = s.doRequest(ctx, rng)
		case r < s.config.BookingRatio+s.config.AcceptRatio:
			s.doTransition(ctx, rng, "accept", s.staff, &s.metrics.Accept)
		case r < s.config.BookingRatio+s.config.AcceptRatio+s.config.CancelRatio:
			err = s.doCancel(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doRead(ctx, rng)
			case 1:
				s.doGet(ctx, "/slots?page=1&limit=20", &s.metrics.ListSlots)
			case 2:
				slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
				s.doGet(ctx, "/bookings?slot="+slotID.String(), &s.metrics.ListBySlot)
			}
		}
		if err != nil {
			return err
		}
	}
}

// patientToken signs a token for the given patient; a signing failure
// means the secret is unusable and ends the run.
func (s *Simulator) patientToken(id uuid.UUID) (string, error) {
	return s.issuer.Issue(session.Actor{ID: id, Role: session.RolePatient, Name: "patient"})
}

func (s *Simulator) doRequest(ctx context.Context, rng *rand.Rand) error {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	token, err := s.patientToken(patientID)
	if err != nil {
		return err
	}

	body, _ := json.Marshal(map[string]string{
		"slot_id": slotID.String(),
		"reason":  "load test",
	})

	start := time.Now()
	status, payload, err := s.call(ctx, http.MethodPost, "/bookings", token, body)
	latency := time.Since(start)

	success := err == nil && status == http.StatusCreated
	if success {
		var resp struct {
			Data struct {
				ID uuid.UUID `json:"id"`
			} `json:"data"`
		}
		if json.Unmarshal(payload, &resp) == nil && resp.Data.ID != uuid.Nil {
			s.pool.AddBooking(simBooking{ID: resp.Data.ID, PatientID: patientID})
		}
	}
	s.metrics.Request.Record(latency, success, err == nil && status == http.StatusConflict)
	return nil
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) error {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return nil
	}
	token, err := s.patientToken(b.PatientID)
	if err != nil {
		return err
	}
	s.transition(ctx, b.ID, "cancel", token, &s.metrics.Cancel)
	return nil
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand, event, token string, om *OperationMetrics) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	s.transition(ctx, b.ID, event, token, om)
}

// transition counts 409s as conflicts: full slots and bookings that
// already moved on are expected under load.
func (s *Simulator) transition(ctx context.Context, id uuid.UUID, event, token string, om *OperationMetrics) {
	start := time.Now()
	status, _, err := s.call(ctx, http.MethodPost, fmt.Sprintf("/bookings/%s/%s", id, event), token, nil)
	om.Record(time.Since(start), err == nil && status == http.StatusOK, err == nil && status == http.StatusConflict)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	s.doGet(ctx, "/bookings/"+b.ID.String(), &s.metrics.ReadByID)
}

func (s *Simulator) doGet(ctx context.Context, path string, om *OperationMetrics) {
	start := time.Now()
	status, _, err := s.call(ctx, http.MethodGet, path, s.staff, nil)
	om.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) call(ctx context.Context, method, path, token string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	return resp.StatusCode, payload, err
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Request booking", &s.metrics.Request)
	printOperationReport("Accept", &s.metrics.Accept)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List slots", &s.metrics.ListSlots)
	printOperationReport("List by slot", &s.metrics.ListBySlot)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
