package api

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfold/crashsim/internal/backtester"
	"github.com/quantfold/crashsim/internal/data"
	"github.com/quantfold/crashsim/internal/metrics"
	"github.com/quantfold/crashsim/internal/montecarlo"
	"github.com/quantfold/crashsim/pkg/types"
)

func decimalFrom(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// job tracks an asynchronous simulation run.
type job struct {
	ID       string      `json:"id"`
	Kind     string      `json:"kind"` // "backtest", "montecarlo"
	Status   string      `json:"status"`
	Started  time.Time   `json:"started"`
	Finished time.Time   `json:"finished,omitempty"`
	Error    string      `json:"error,omitempty"`
	Result   interface{} `json:"result,omitempty"`
}

func (s *Server) putJob(j *job) {
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()
}

// finishJob marks a job done under the lock; readers get snapshots.
func (s *Server) finishJob(j *job, status string, result interface{}, errMsg string) {
	s.mu.Lock()
	j.Status = status
	j.Finished = time.Now()
	j.Result = result
	j.Error = errMsg
	s.mu.Unlock()
}

func (s *Server) getJob(id string) (job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return job{}, false
	}
	return *j, true
}

// BacktestRequest configures one backtest run.
type BacktestRequest struct {
	Symbol         string  `json:"symbol"`
	BenchmarkIndex string  `json:"benchmarkIndex"` // equity index for the canary
	InitialCapital float64 `json:"initialCapital,omitempty"`
	SlippagePct    float64 `json:"slippagePct,omitempty"`
	UseIntensity   bool    `json:"useIntensity,omitempty"`
}

// BacktestResponse is the full result of a run.
type BacktestResponse struct {
	JobID           string              `json:"jobId"`
	Symbol          string              `json:"symbol"`
	Days            int                 `json:"days"`
	Strategy        metrics.Report      `json:"strategy"`
	BuyAndHold      metrics.Report      `json:"buyAndHold"`
	FinalValue      string              `json:"finalValue"`
	Drawdown        float64             `json:"maxDrawdown"`
	Recovered       bool                `json:"recovered"`
	Ledger          []types.LedgerPoint `json:"ledger,omitempty"`
	RegimeBreakdown map[string]int      `json:"regimeBreakdown"`
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" {
		s.respondError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	asset, err := s.deps.Store.Get(req.Symbol)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}

	// Without a benchmark index the canary inputs are simply missing.
	nasdaqReturns := make([]float64, len(asset.Bars))
	for i := range nasdaqReturns {
		nasdaqReturns[i] = math.NaN()
	}
	if req.BenchmarkIndex != "" {
		index, err := s.deps.Store.Get(req.BenchmarkIndex)
		if err != nil {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		aligned := data.Align(asset, index)
		asset = aligned[0]
		nasdaqReturns = aligned[1].Returns()
	}

	j := &job{
		ID:      uuid.NewString(),
		Kind:    "backtest",
		Status:  "running",
		Started: time.Now(),
	}
	s.putJob(j)
	s.metrics.jobsActive.Inc()
	defer s.metrics.jobsActive.Dec()

	started := time.Now()

	rows := s.deps.Engineer.Generate(asset.Dates(), asset.Closes(), nasdaqReturns)
	labels := s.deps.Detector.DetectSeries(rows)

	var signals []types.SignalPoint
	if req.UseIntensity {
		points := s.deps.IntensityStrategy.Run(rows)
		signals = make([]types.SignalPoint, len(points))
		for i, p := range points {
			signals[i] = types.SignalPoint{
				Date:         rows[i].Date,
				Signal:       p.Signal,
				PositionSize: p.PositionSize,
			}
		}
	} else {
		signals = s.deps.Strategy.Run(rows, labels)
	}

	bt := s.backtesterFor(req.InitialCapital, req.SlippagePct)
	ledger := bt.Run(rows, signals)
	benchmark := bt.BuyAndHold(rows)

	equity := backtester.EquityCurve(ledger)
	returns := backtester.Returns(equity)
	dd := backtester.Drawdown(equity)

	benchEquity := backtester.EquityCurve(benchmark)
	benchDD := backtester.Drawdown(benchEquity)

	rf := s.deps.Backtest.RiskFreeRate

	breakdown := map[string]int{}
	for _, label := range labels {
		breakdown[string(label)]++
	}

	resp := BacktestResponse{
		JobID:           j.ID,
		Symbol:          req.Symbol,
		Days:            len(ledger),
		Strategy:        metrics.Compute(equity, returns, dd.MaxDrawdown, rf),
		BuyAndHold:      metrics.Compute(benchEquity, backtester.Returns(benchEquity), benchDD.MaxDrawdown, rf),
		Drawdown:        dd.MaxDrawdown,
		Recovered:       dd.Recovered,
		Ledger:          ledger,
		RegimeBreakdown: breakdown,
	}
	if len(ledger) > 0 {
		resp.FinalValue = ledger[len(ledger)-1].PortfolioValue.StringFixed(2)
	}

	s.finishJob(j, "completed", resp, "")
	s.metrics.backtestDuration.Observe(time.Since(started).Seconds())

	s.hub.Broadcast(Event{Type: "completed", JobID: j.ID, Payload: map[string]interface{}{
		"kind":   "backtest",
		"symbol": req.Symbol,
	}})

	s.logger.Info("backtest served",
		zap.String("symbol", req.Symbol),
		zap.Int("days", resp.Days),
		zap.Bool("intensity", req.UseIntensity),
	)

	s.respondJSON(w, http.StatusOK, resp)
}

// MonteCarloRequest configures one simulation run. Zero values fall back
// to the configured defaults.
type MonteCarloRequest struct {
	NumSimulations int   `json:"numSimulations,omitempty"`
	SimulationDays int   `json:"simulationDays,omitempty"`
	Seed           int64 `json:"seed,omitempty"`
	Compare        bool  `json:"compare,omitempty"`
}

// MonteCarloResponse carries the aggregated distributions.
type MonteCarloResponse struct {
	JobID     string              `json:"jobId"`
	Strategy  montecarlo.Results  `json:"strategy"`
	Benchmark *montecarlo.Results `json:"benchmark,omitempty"`
}

func (s *Server) handleRunMonteCarlo(w http.ResponseWriter, r *http.Request) {
	var req MonteCarloRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := montecarlo.DefaultConfig()
	cfg.NumSimulations = s.deps.MonteCarlo.NumSimulations
	cfg.SimulationDays = s.deps.MonteCarlo.SimulationDays
	cfg.Seed = s.deps.MonteCarlo.Seed
	if req.NumSimulations > 0 {
		cfg.NumSimulations = req.NumSimulations
	}
	if req.SimulationDays > 0 {
		cfg.SimulationDays = req.SimulationDays
	}
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}
	if cfg.NumSimulations > 100000 {
		s.respondError(w, http.StatusBadRequest, "too many simulations")
		return
	}

	j := &job{
		ID:      uuid.NewString(),
		Kind:    "montecarlo",
		Status:  "running",
		Started: time.Now(),
	}
	s.putJob(j)
	s.metrics.jobsActive.Inc()

	s.hub.Broadcast(Event{Type: "progress", JobID: j.ID, Payload: map[string]interface{}{
		"status":      "started",
		"simulations": cfg.NumSimulations,
	}})

	// Runs can take a while at full size; answer with the job id and
	// publish completion over the hub.
	go func() {
		defer s.metrics.jobsActive.Dec()
		started := time.Now()

		sim := montecarlo.New(s.logger, cfg, s.deps.Pool)

		resp := MonteCarloResponse{JobID: j.ID}
		if req.Compare {
			strategyResults, benchmarkResults := sim.CompareWithBenchmark()
			resp.Strategy = strategyResults
			resp.Benchmark = &benchmarkResults
		} else {
			resp.Strategy = sim.Run()
		}

		s.finishJob(j, "completed", resp, "")
		s.metrics.simulationDuration.Observe(time.Since(started).Seconds())

		s.hub.Broadcast(Event{Type: "completed", JobID: j.ID, Payload: map[string]interface{}{
			"kind":         "montecarlo",
			"survivalRate": resp.Strategy.SurvivalRate,
		}})
	}()

	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  j.ID,
		"status": "running",
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	j, ok := s.getJob(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "unknown job")
		return
	}
	s.respondJSON(w, http.StatusOK, j)
}
