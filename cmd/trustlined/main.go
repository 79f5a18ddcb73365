package main

import (
	"encoding/hex"
	"flag"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"trustline/config"
	"trustline/core/events"
	"trustline/gateway"
	"trustline/native/claims"
	nativecommon "trustline/native/common"
	"trustline/native/lending"
	"trustline/native/liquidation"
	"trustline/native/reputation"
	"trustline/observability/logging"
	"trustline/state"
	"trustline/storage"
)

// Module treasury addresses are derived deterministically from stable labels
// so deployments agree on vault locations without coordination.
var (
	claimVaultAddr      = moduleAddress("trustline/vault/claims")
	lendingVaultAddr    = moduleAddress("trustline/vault/lending")
	collateralVaultAddr = moduleAddress("trustline/vault/collateral")
)

func moduleAddress(label string) [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte(label))[:20])
	return addr
}

// logEmitter forwards module events to the structured log.
type logEmitter struct {
	logger *slog.Logger
}

func (e logEmitter) Emit(evt events.Event) {
	if e.logger == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		e.logger.Info("event", slog.String("type", evt.EventType()))
		return
	}
	attrs := make([]any, 0, len(payload.Attributes)+1)
	attrs = append(attrs, slog.String("type", payload.Type))
	for key, value := range payload.Attributes {
		attrs = append(attrs, slog.String(key, value))
	}
	e.logger.Info("event", attrs...)
}

// approveAllVerifier accepts any non-empty proof. Deployments bind a real
// Merkle verifier here; the daemon default keeps single-node setups usable.
type approveAllVerifier struct{}

func (approveAllVerifier) Verify(_ [32]byte, proof []byte) bool {
	return len(proof) > 0
}

// storedScoreFeed serves composite scores registered out of band under
// deterministic keys, defaulting to zero for unknown subjects.
type storedScoreFeed struct {
	manager *state.Manager
}

func (f storedScoreFeed) CompositeScore(subject [20]byte) (uint64, error) {
	var score uint64
	key := []byte("reputation/feed/" + hex.EncodeToString(subject[:]))
	if _, err := f.manager.KVGet(key, &score); err != nil {
		return 0, err
	}
	return score, nil
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TRUSTLINE_ENV"))
	logger := logging.Setup("trustlined", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data dir", slog.Any("error", err))
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "trustline"))
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	emitter := logEmitter{logger: logging.Module(logger, "events")}
	roles := nativecommon.NewRoles()
	pauses := nativecommon.NewPauses(cfg.Pauses.Modules)

	ledger := reputation.NewLedger(manager)
	ledger.SetScoreFeed(storedScoreFeed{manager: manager})
	ledger.SetRoles(roles)
	ledger.SetEmitter(emitter)

	claimEngine := claims.NewEngine(claimVaultAddr)
	claimEngine.SetState(manager)
	if stakeString := strings.TrimSpace(cfg.Claims.UserStakeWei); stakeString != "" {
		stakeWei, ok := new(big.Int).SetString(stakeString, 10)
		if !ok {
			logger.Error("invalid claim stake", slog.String("value", stakeString))
			os.Exit(1)
		}
		claimEngine.SetMinimumStake(stakeWei)
	}
	claimEngine.SetVerifier(approveAllVerifier{})
	claimEngine.SetReputation(ledger)
	claimEngine.SetRoles(roles)
	claimEngine.SetPauses(pauses)
	claimEngine.SetEmitter(emitter)

	breaker := lending.NewCircuitBreaker(manager, nil)
	breaker.SetWindowSeconds(cfg.Lending.BreakerWindowSeconds)
	for poolType, capString := range cfg.Lending.BreakerCapsWei {
		capWei, ok := new(big.Int).SetString(strings.TrimSpace(capString), 10)
		if !ok {
			logger.Error("invalid breaker cap", slog.String("pool", poolType))
			os.Exit(1)
		}
		breaker.SetPoolCap(poolType, capWei)
	}

	lendingEngine := lending.NewEngine(lendingVaultAddr, collateralVaultAddr, lending.DefaultRiskParameters())
	lendingEngine.SetState(manager)
	lendingEngine.SetReputation(ledger)
	lendingEngine.SetBreaker(breaker)
	lendingEngine.SetRoles(roles)
	lendingEngine.SetPauses(pauses)
	lendingEngine.SetEmitter(emitter)

	liquidationEngine := liquidation.NewEngine()
	liquidationEngine.SetState(manager)
	liquidationEngine.SetLoans(lendingEngine)
	liquidationEngine.SetOracle(lendingEngine)
	liquidationEngine.SetReputation(ledger)
	liquidationEngine.SetRoles(roles)
	liquidationEngine.SetPauses(pauses)
	liquidationEngine.SetEmitter(emitter)

	server := gateway.NewServer(gateway.Config{
		Claims:      claimEngine,
		Reputation:  ledger,
		Lending:     lendingEngine,
		Liquidation: liquidationEngine,
		Logger:      logger,
		RateLimiter: gateway.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
	})

	logger.Info("trustlined listening", slog.String("address", cfg.ListenAddress))
	if err := http.ListenAndServe(cfg.ListenAddress, server.Router()); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
