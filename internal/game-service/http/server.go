package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/dice-lottery-platform-poc/internal/engine/bet"
	"github.com/radieske/dice-lottery-platform-poc/internal/engine/pool"
	"github.com/radieske/dice-lottery-platform-poc/internal/game-service/dto"
	"github.com/radieske/dice-lottery-platform-poc/internal/ports"
)

// Métricas de negócio da API pública; registradas no main do game-service
var (
	WagersPlaced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "game_wagers_placed_total",
		Help: "Apostas de dado criadas",
	})
	EntriesSold = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "game_entries_sold_total",
		Help: "Bilhetes de loteria vendidos",
	})
)

// Server expõe a API pública do game-service: apostas de dado, bilhetes
// de loteria, consultas (sem efeitos) e a superfície administrativa
// protegida por token de operador.
type Server struct {
	log           *zap.Logger
	bets          *bet.Engine
	rounds        *pool.Engine
	ledger        ports.Ledger
	operatorToken string
}

func NewServer(log *zap.Logger, bets *bet.Engine, rounds *pool.Engine, ledger ports.Ledger, operatorToken string) *Server {
	return &Server{log: log, bets: bets, rounds: rounds, ledger: ledger, operatorToken: operatorToken}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/wagers", s.wagers)                        // POST | GET ?userId=
	mux.HandleFunc("/wagers/", s.getWager)                     // GET /wagers/{id}
	mux.HandleFunc("/rounds", s.listRounds)                    // GET ?userId=
	mux.HandleFunc("/rounds/current", s.getCurrentRound)       // GET
	mux.HandleFunc("/rounds/", s.roundSubroutes)               // GET /rounds/{id} | POST /rounds/{id}/entries
	mux.HandleFunc("/admin/limits", s.adminLimits)             // POST
	mux.HandleFunc("/admin/withdraw-house", s.adminWithdraw)   // POST
	mux.HandleFunc("/admin/rounds/", s.adminRounds)            // POST /admin/rounds/{id}/refund | /void-draw
	return mux
}

func (s *Server) wagers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.placeWager(w, r)
	case http.MethodGet:
		s.listWagers(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// placeWager cria uma aposta de dado: debita o stake e deixa a aposta
// pendente até o fulfillment do oráculo
func (s *Server) placeWager(w http.ResponseWriter, r *http.Request) {
	var req dto.PlaceWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}

	id, err := s.bets.PlaceWager(r.Context(), req.UserID, req.StakeCents, req.Prediction)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	WagersPlaced.Inc()
	writeJSON(w, dto.PlaceWagerResponse{WagerID: id, Status: string(bet.StatusPending)})
}

func (s *Server) getWager(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := parseID(strings.TrimPrefix(r.URL.Path, "/wagers/"))
	if !ok {
		http.Error(w, "wagerId required", http.StatusBadRequest)
		return
	}

	wg, err := s.bets.Wager(id)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	writeJSON(w, dto.WagerResponse{
		WagerID:     wg.ID,
		Bettor:      wg.Bettor,
		StakeCents:  wg.StakeCents,
		Prediction:  wg.Prediction,
		Outcome:     wg.Outcome,
		Status:      string(wg.Status),
		PayoutCents: wg.PayoutCents,
		CreatedAt:   wg.CreatedAt,
	})
}

func (s *Server) listWagers(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}
	writeJSON(w, dto.WagerIDsResponse{UserID: userID, WagerIDs: s.bets.WagerIDsByBettor(userID)})
}

func (s *Server) listRounds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}
	writeJSON(w, dto.RoundIDsResponse{UserID: userID, RoundIDs: s.rounds.RoundIDsByParticipant(userID)})
}

func (s *Server) getCurrentRound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rd, err := s.rounds.Round(s.rounds.CurrentRoundID())
	if err != nil {
		http.Error(w, "no open round", http.StatusNotFound)
		return
	}
	writeJSON(w, roundToDTO(rd))
}

// roundSubroutes resolve /rounds/{id} e /rounds/{id}/entries
func (s *Server) roundSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/rounds/")

	if idStr, found := strings.CutSuffix(rest, "/entries"); found {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id, ok := parseID(idStr)
		if !ok {
			http.Error(w, "roundId required", http.StatusBadRequest)
			return
		}
		s.buyEntries(w, r, id)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := parseID(rest)
	if !ok {
		http.Error(w, "roundId required", http.StatusBadRequest)
		return
	}
	rd, err := s.rounds.Round(id)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, roundToDTO(rd))
}

// buyEntries compra bilhetes; quem cruza o limiar de fechamento paga o
// custo de selar o round na mesma chamada (latência maior, documentado)
func (s *Server) buyEntries(w http.ResponseWriter, r *http.Request, roundID uint64) {
	var req dto.BuyEntriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}

	sealed, err := s.rounds.BuyEntries(r.Context(), roundID, req.UserID, req.Count)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	EntriesSold.Add(float64(req.Count))

	rd, rerr := s.rounds.Round(roundID)
	if rerr != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, dto.BuyEntriesResponse{
		RoundID:      rd.ID,
		TotalEntries: rd.TotalEntries,
		PoolCents:    rd.PoolCents,
		Sealed:       sealed,
	})
}

// adminLimits atualiza limites de stake e, opcionalmente, o preço do
// bilhete pra rounds futuros
func (s *Server) adminLimits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorizeOperator(w, r) {
		return
	}
	var req dto.UpdateLimitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	if err := s.bets.SetLimits(req.MinStakeCents, req.MaxStakeCents); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if req.EntryPriceCents > 0 {
		if err := s.rounds.SetEntryPrice(req.EntryPriceCents); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"UPDATED"}`))
}

// adminWithdraw saca o acumulado da casa dos dois engines pra conta do
// operador. Se o crédito falhar, o acumulado é devolvido aos engines.
func (s *Server) adminWithdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorizeOperator(w, r) {
		return
	}
	var req dto.WithdrawHouseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.ToUserID == "" {
		http.Error(w, "toUserId required", http.StatusBadRequest)
		return
	}

	fromBets := s.bets.DrainHouseAccrual()
	fromRounds := s.rounds.DrainHouseAccrual()
	total := fromBets + fromRounds
	if total <= 0 {
		// nada a sacar (ou a casa está no prejuízo no engine de dados)
		s.bets.RestoreHouseAccrual(fromBets)
		s.rounds.RestoreHouseAccrual(fromRounds)
		writeJSON(w, dto.WithdrawHouseResponse{AmountCents: 0})
		return
	}

	if err := s.ledger.Credit(r.Context(), req.ToUserID, total, "house:withdraw"); err != nil {
		s.bets.RestoreHouseAccrual(fromBets)
		s.rounds.RestoreHouseAccrual(fromRounds)
		s.log.Error("house withdraw credit failed", zap.Error(err))
		http.Error(w, "withdraw failed", http.StatusBadGateway)
		return
	}

	s.log.Info("house edge withdrawn",
		zap.String("toUserId", req.ToUserID),
		zap.Int64("amountCents", total))
	writeJSON(w, dto.WithdrawHouseResponse{AmountCents: total})
}

// adminRounds resolve as intervenções de operador sobre um round:
// POST /admin/rounds/{id}/void-draw anula um sorteio preso em
// PENDING_DRAW; POST /admin/rounds/{id}/refund estorna os bilhetes de
// um round anulado.
func (s *Server) adminRounds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorizeOperator(w, r) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/admin/rounds/")

	if idStr, found := strings.CutSuffix(rest, "/refund"); found {
		id, ok := parseID(idStr)
		if !ok {
			http.Error(w, "roundId required", http.StatusBadRequest)
			return
		}
		if err := s.rounds.HandleNoWinner(r.Context(), id); err != nil {
			s.writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"REFUNDED"}`))
		return
	}

	if idStr, found := strings.CutSuffix(rest, "/void-draw"); found {
		id, ok := parseID(idStr)
		if !ok {
			http.Error(w, "roundId required", http.StatusBadRequest)
			return
		}
		if err := s.rounds.VoidDraw(r.Context(), id); err != nil {
			s.writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"VOIDED"}`))
		return
	}

	http.Error(w, "not found", http.StatusNotFound)
}

// authorizeOperator exige o token privilegiado no header X-Operator-Token;
// mesma rigidez da checagem de identidade do oráculo
func (s *Server) authorizeOperator(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("X-Operator-Token") != s.operatorToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// writeEngineError mapeia erros dos engines pra status HTTP:
// validação 422, saldo 402, estado/idempotência 409, desconhecido 404
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bet.ErrStakeOutOfRange),
		errors.Is(err, bet.ErrInvalidPrediction),
		errors.Is(err, pool.ErrInvalidCount),
		errors.Is(err, pool.ErrEntryCapExceeded):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ports.ErrInsufficientFunds):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, bet.ErrWagerNotFound), errors.Is(err, pool.ErrRoundNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, bet.ErrAlreadySettled),
		errors.Is(err, pool.ErrRoundNotOpen),
		errors.Is(err, pool.ErrAlreadyDrawn),
		errors.Is(err, pool.ErrRoundNotDrawn),
		errors.Is(err, pool.ErrRoundHasWinner),
		errors.Is(err, pool.ErrAlreadyRefunded):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.log.Error("engine error", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func roundToDTO(rd pool.Round) dto.RoundResponse {
	resp := dto.RoundResponse{
		RoundID:       rd.ID,
		Status:        string(rd.Status),
		OpenedAt:      rd.OpenedAt,
		ClosesAt:      rd.ClosesAt,
		PriceCents:    rd.PriceCents,
		TotalEntries:  rd.TotalEntries,
		PoolCents:     rd.PoolCents,
		Winner:        rd.Winner,
		PrizeCents:    rd.PrizeCents,
		HouseCutCents: rd.HouseCutCents,
	}
	if rd.Status == pool.StatusDrawn && rd.WinningIndex >= 0 {
		wi := rd.WinningIndex
		resp.WinningIndex = &wi
	}
	return resp
}

func parseID(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// writeJSON serializa e envia resposta JSON
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
