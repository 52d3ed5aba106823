package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"crosslend/config"
	"crosslend/core/types"
	"crosslend/native/ledger"
	"crosslend/native/pricing"
	"crosslend/native/rewards"
	"crosslend/native/risk"
	"crosslend/observability/logging"
	"crosslend/rpc"
	"crosslend/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "crosslendd.yaml", "path to crosslendd config")
	flag.Parse()

	svc, err := loadServiceConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("CROSSLEND_ENV"))
	if env == "" {
		env = svc.Environment
	}
	logger := logging.SetupWithOptions(logging.Options{
		Service:  "crosslendd",
		Env:      env,
		FilePath: svc.LogFile,
	})

	protocol, err := config.Load(svc.ProtocolConfig)
	if err != nil {
		log.Fatalf("load protocol config: %v", err)
	}

	db, err := storage.NewLevelDB(svc.DataDir)
	if err != nil {
		log.Fatalf("open database at %s: %v", svc.DataDir, err)
	}
	defer db.Close()
	store := storage.NewStore(db)

	riskEngine, rewardEngine, clock, err := buildEngines(protocol, store)
	if err != nil {
		log.Fatalf("construct engines: %v", err)
	}

	server := rpc.NewServer(rpc.Config{
		ListenAddress:     svc.ListenAddress,
		AuthToken:         svc.AuthToken,
		RequestsPerMinute: svc.RatePerMinute,
		Burst:             svc.RateBurst,
	}, riskEngine, rewardEngine, store, logger)
	if clock != nil {
		server.SetBlockClock(clock)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err.Error())
		}
	case err := <-serverErr:
		if err != nil {
			log.Fatalf("serve: %v", err)
		}
	}
}

// buildEngines constructs both engines over the store and applies the
// configured markets, prices, and reward speeds. The returned block counter
// is non-nil when the reward clock is block-based; the host must keep it
// advanced for accrual to run.
func buildEngines(protocol *config.Config, store *storage.Store) (*risk.Engine, *rewards.Engine, *rewards.BlockCounter, error) {
	params, err := protocol.EngineParams()
	if err != nil {
		return nil, nil, nil, err
	}
	riskEngine := risk.NewEngine(protocol.EngineID, params)
	riskEngine.SetState(store)

	oracle := pricing.NewStaticGateway()
	riskEngine.SetPriceGateway(oracle)

	var (
		slots rewards.SlotSource
		clock *rewards.BlockCounter
	)
	if protocol.Rewards.TimeBase == config.TimeBaseTime {
		slots = rewards.TimeSource()
	} else {
		clock = rewards.NewBlockCounter(0)
		slots = clock
	}
	rewardEngine := rewards.NewEngine(slots)
	rewardEngine.SetState(store)
	rewardEngine.SetLedgerSource(riskEngine)
	rewardEngine.SetMaxLoopsLimit(protocol.MaxLoopsLimit)

	budget, err := protocol.Rewards.BudgetAmount()
	if err != nil {
		return nil, nil, nil, err
	}
	rewardEngine.SetRewardPool(rewards.NewBudgetPool(budget))
	riskEngine.AddRewardHook(rewardEngine)

	if err := applyMarkets(protocol, riskEngine, oracle, store); err != nil {
		return nil, nil, nil, err
	}
	if err := applySpeeds(protocol, rewardEngine); err != nil {
		return nil, nil, nil, err
	}
	return riskEngine, rewardEngine, clock, nil
}

func applyMarkets(protocol *config.Config, engine *risk.Engine, oracle *pricing.StaticGateway, store *storage.Store) error {
	for i := range protocol.Markets {
		mc := &protocol.Markets[i]
		addr, err := mc.LedgerAddress()
		if err != nil {
			return err
		}
		price, err := mc.PriceAmount()
		if err != nil {
			return err
		}
		if price != nil {
			oracle.SetPrice(addr, price)
		}

		marketLedger := ledger.NewLedger(addr, protocol.EngineID, store)
		marketLedger.Attach(engine)
		err = engine.SupportMarket(marketLedger)
		if errors.Is(err, risk.ErrMarketAlreadyListed) {
			err = engine.AttachLedger(marketLedger)
		}
		if err != nil {
			return err
		}

		factor, threshold, supplyCap, borrowCap, err := mc.RiskParameters()
		if err != nil {
			return err
		}
		if err := engine.SetCollateralFactor(addr, factor, threshold); err != nil {
			return err
		}
		if err := engine.SetSupplyCaps([]types.Address{addr}, []*big.Int{supplyCap}); err != nil {
			return err
		}
		if err := engine.SetBorrowCaps([]types.Address{addr}, []*big.Int{borrowCap}); err != nil {
			return err
		}
		if err := engine.SetForcedLiquidation(addr, mc.ForcedLiquidation); err != nil {
			return err
		}
	}
	return nil
}

func applySpeeds(protocol *config.Config, engine *rewards.Engine) error {
	if len(protocol.Rewards.Speeds) == 0 {
		return nil
	}
	markets := make([]types.Address, 0, len(protocol.Rewards.Speeds))
	supplySpeeds := make([]*big.Int, 0, len(protocol.Rewards.Speeds))
	borrowSpeeds := make([]*big.Int, 0, len(protocol.Rewards.Speeds))
	for i := range protocol.Rewards.Speeds {
		sc := &protocol.Rewards.Speeds[i]
		market, err := types.ParseAddress(sc.Market)
		if err != nil {
			return err
		}
		supply, borrow, err := sc.SpeedAmounts()
		if err != nil {
			return err
		}
		markets = append(markets, market)
		supplySpeeds = append(supplySpeeds, supply)
		borrowSpeeds = append(borrowSpeeds, borrow)
	}
	return engine.SetSpeeds(markets, supplySpeeds, borrowSpeeds)
}
