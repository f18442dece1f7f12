package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/availability-engine/internal/config"
	"github.com/hackgods/availability-engine/internal/db"
	"github.com/hackgods/availability-engine/internal/logging"
	"github.com/hackgods/availability-engine/internal/schedule"
)

// SimConfig drives a contention run: every round picks one open slot and
// fires Contenders concurrent reservations at it.
type SimConfig struct {
	APIBaseURL   string
	Rounds       int
	Contenders   int
	PatientLimit int
	LookAhead    int // days searched for an open slot
	PostgresDSN  string
	Location     *time.Location
}

type calendarKey struct {
	ProviderID uuid.UUID
	FacilityID uuid.UUID
}

type DataPool struct {
	Patients  []uuid.UUID
	Calendars []calendarKey
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
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Reserve OperationMetrics
	Slots   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *slog.Logger
	metrics Metrics

	rounds        int
	doubleBooked  int
	skippedRounds int
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base config: %v\n", err)
		os.Exit(1)
	}
	logger, closeLog := logging.New("simulate", baseCfg)
	defer closeLog.Close()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Error("invalid config", "err", err)
		return
	}
	logger.Info("simulator starting", "rounds", cfg.Rounds, "contenders", cfg.Contenders, "api", cfg.APIBaseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", "err", err)
		return
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Error("load data pool", "err", err)
		return
	}
	logger.Info("data loaded", "patients", len(dataPool.Patients), "calendars", len(dataPool.Calendars))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	sim.Run(context.Background())
	sim.PrintReport()
}

func loadConfig(base config.Config) SimConfig {
	return SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Rounds:       getInt("SIM_ROUNDS", 50),
		Contenders:   getInt("SIM_CONTENDERS", 20),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 2000),
		LookAhead:    getInt("SIM_LOOKAHEAD_DAYS", 14),
		PostgresDSN:  base.PostgresDSN,
		Location:     base.Location,
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Rounds <= 0 {
		return fmt.Errorf("SIM_ROUNDS must be > 0")
	}
	if cfg.Contenders <= 1 {
		return fmt.Errorf("SIM_CONTENDERS must be > 1")
	}
	if cfg.LookAhead <= 0 {
		return fmt.Errorf("SIM_LOOKAHEAD_DAYS must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = pool.Query(ctx, `SELECT DISTINCT provider_id, facility_id FROM recurring_templates`)
	if err != nil {
		return nil, fmt.Errorf("load calendars: %w", err)
	}
	for rows.Next() {
		var k calendarKey
		if err := rows.Scan(&k.ProviderID, &k.FacilityID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Calendars = append(dataPool.Calendars, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Patients) < cfg.Contenders {
		return nil, fmt.Errorf("need at least %d patients, found %d", cfg.Contenders, len(dataPool.Patients))
	}
	if len(dataPool.Calendars) == 0 {
		return nil, fmt.Errorf("no provider templates found, run the seed command first")
	}
	return dataPool, nil
}

func (s *Simulator) Run(ctx context.Context) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < s.config.Rounds; i++ {
		if ctx.Err() != nil {
			return
		}
		s.round(ctx, rng)
	}
	s.logger.Info("simulation complete", "rounds", s.rounds, "skipped", s.skippedRounds)
}

// round finds an open slot and races Contenders reservations for it.
func (s *Simulator) round(ctx context.Context, rng *rand.Rand) {
	cal := s.pool.Calendars[rng.Intn(len(s.pool.Calendars))]
	date, slot, ok := s.findOpenSlot(ctx, cal, rng)
	if !ok {
		s.skippedRounds++
		return
	}
	s.rounds++

	patients := rng.Perm(len(s.pool.Patients))[:s.config.Contenders]
	start := make(chan struct{})
	var (
		wg      sync.WaitGroup
		winners int64
	)
	for _, idx := range patients {
		wg.Add(1)
		go func(patientID uuid.UUID) {
			defer wg.Done()
			<-start
			if s.reserve(ctx, cal, date, slot, patientID) {
				atomic.AddInt64(&winners, 1)
			}
		}(s.pool.Patients[idx])
	}
	close(start)
	wg.Wait()

	if winners > 1 {
		s.doubleBooked++
		s.logger.Error("slot double booked", "provider_id", cal.ProviderID, "date", date, "time", slot, "winners", winners)
	}
}

func (s *Simulator) findOpenSlot(ctx context.Context, cal calendarKey, rng *rand.Rand) (string, string, bool) {
	today := schedule.DateOf(schedule.WallClock(time.Now(), s.config.Location))
	for offset := 1; offset <= s.config.LookAhead; offset++ {
		date := schedule.FormatDate(today.AddDate(0, 0, offset))
		times, ok := s.availableTimes(ctx, cal, date)
		if ok && len(times) > 0 {
			return date, times[rng.Intn(len(times))], true
		}
	}
	return "", "", false
}

func (s *Simulator) availableTimes(ctx context.Context, cal calendarKey, date string) ([]string, bool) {
	u := fmt.Sprintf("%s/providers/%s/facilities/%s/slots?date=%s",
		s.config.APIBaseURL, cal.ProviderID, cal.FacilityID, url.QueryEscape(date))

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Slots.Record(latency, false, false)
		return nil, false
	}
	defer resp.Body.Close()

	var body struct {
		Times []string `json:"times"`
	}
	ok := resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&body) == nil
	s.metrics.Slots.Record(latency, ok, false)
	return body.Times, ok
}

func (s *Simulator) reserve(ctx context.Context, cal calendarKey, date, slot string, patientID uuid.UUID) bool {
	body, _ := json.Marshal(map[string]string{
		"provider_id": cal.ProviderID.String(),
		"facility_id": cal.FacilityID.String(),
		"patient_id":  patientID.String(),
		"date":        date,
		"time":        slot,
		"reason":      "simulated visit",
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusCreated
		conflict = resp.StatusCode == http.StatusConflict
	}
	s.metrics.Reserve.Record(latency, success, conflict)
	return success
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Rounds: %d (skipped %d)\n", s.rounds, s.skippedRounds)
	fmt.Printf("Contenders per slot: %d\n", s.config.Contenders)
	fmt.Printf("Double-booked slots: %d\n", s.doubleBooked)
	fmt.Println()

	printOperationReport("Reserve", &s.metrics.Reserve)
	printOperationReport("Available slots", &s.metrics.Slots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

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
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
