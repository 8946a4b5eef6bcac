package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"storefront/internal/challenge"
	"storefront/internal/config"
	"storefront/internal/domain"
	"storefront/internal/env"
	"storefront/internal/infrastructure/idp"
	"storefront/internal/infrastructure/network"
	"storefront/internal/infrastructure/repo"
	"storefront/internal/infrastructure/terminalhub"
	"storefront/internal/infrastructure/wallet"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	"storefront/internal/server"
	"storefront/internal/usecase"
	"storefront/internal/worker"
)

type productStore interface {
	usecase.ProductCatalog
	Put(ctx context.Context, p domain.Product) error
}

type stores struct {
	orders    usecase.OrderRepo
	products  productStore
	carts     usecase.CartStore
	terminals usecase.TerminalRepo
	payments  usecase.TerminalPaymentRepo
	close     func() error
}

func main() {
	env.Load(".env", ".env.local")
	envDefaults := config.EnvDefaults()

	envName := flag.String("env", envDefaults.Env, "")
	port := flag.Int("port", envDefaults.Port, "")
	logJSON := flag.Bool("log-json", envDefaults.LogJSON, "")
	dbURL := flag.String("database-url", envDefaults.DatabaseURL, "")
	baseURL := flag.String("public-base-url", envDefaults.PublicBaseURL, "")

	flag.Parse()

	cfg := envDefaults
	cfg.Env = *envName
	cfg.Port = *port
	cfg.LogJSON = *logJSON
	cfg.DatabaseURL = *dbURL
	cfg.PublicBaseURL = *baseURL

	logger, err := logging.New(cfg.Env, cfg.LogJSON)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("storefront stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.close() }()
	if err := seed(ctx, cfg, st); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	providers := idp.NewRegistry(logger.Named("idp"), providerConfigs(cfg)...)
	challenges := challenge.NewStore(cfg.ChallengeTTL)
	binder := &challenge.Binder{Store: challenges}
	net := &network.Client{
		BaseURL: cfg.NetworkURL,
		APIKey:  cfg.NetworkAPIKey,
		HTTP:    &http.Client{Timeout: cfg.NetworkTimeout},
		Logger:  logger.Named("network"),
	}
	hub := terminalhub.New(logger.Named("terminalhub"))

	terminals := &usecase.TerminalService{
		Terminals:    st.terminals,
		Payments:     st.payments,
		Notifier:     hub,
		MerchantID:   cfg.MerchantID,
		MerchantName: cfg.MerchantName,
		ReturnURL:    cfg.MobileReturnURL(),
		PaymentTTL:   cfg.TerminalPaymentTTL,
		Logger:       logger.Named("terminal"),
		Metrics:      m,
	}
	if cfg.WalletAPIURL != "" {
		terminals.Wallet = &wallet.Client{
			BaseURL:        cfg.WalletAPIURL,
			StatusEndpoint: cfg.WalletStatusEndpoint,
			APIKey:         cfg.WalletAPIKey,
			Logger:         logger.Named("wallet"),
		}
	}
	hub.OnStatus = func(id string, online bool) {
		terminals.SetPresence(context.Background(), id, online)
	}

	orders := &usecase.OrderService{Orders: st.orders, Network: net, MerchantID: cfg.MerchantID, Logger: logger.Named("orders"), Metrics: m}
	srv := server.New(cfg, server.Deps{
		Auth: &usecase.AuthService{
			Providers: providers, Challenges: binder, JWTSecret: cfg.SessionSecret, TTL: cfg.SessionTTL, Logger: logger.Named("auth"),
		},
		Cart: &usecase.CartService{Carts: st.carts, Products: st.products},
		Checkout: &usecase.CheckoutService{
			Orders: st.orders, Products: st.products, Carts: st.carts, Providers: providers, Challenges: binder,
			Network: net, MerchantID: cfg.MerchantID, Currency: cfg.Currency, Logger: logger.Named("checkout"), Metrics: m,
		},
		Orders:    orders,
		Terminals: terminals,
		Hub:       hub,
		Logger:    logger.Named("http"),
		Metrics:   m,
		Gatherer:  reg,
	})

	sweeper := worker.NewExpiryWorker(orders, terminals, challenges, cfg.OrderPendingTTL, cfg.SweepInterval, logger.Named("expiry"))
	go sweeper.Run(ctx)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("storefront listening",
			zap.Int("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.Bool("postgres", cfg.DatabaseURL != ""),
			zap.Bool("wallet_idp", providers.Enabled(domain.ProviderWallet)),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	hub.Close()
	err = httpSrv.Shutdown(shutdownCtx)
	terminals.Wait()
	return err
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	if cfg.DatabaseURL == "" {
		return &stores{
			orders:    repo.NewMemoryOrderRepo(),
			products:  repo.NewMemoryProductRepo(),
			carts:     repo.NewMemoryCartRepo(),
			terminals: repo.NewMemoryTerminalRepo(),
			payments:  repo.NewMemoryTerminalPaymentRepo(),
			close:     func() error { return nil },
		}, nil
	}
	pg, err := repo.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &stores{
		orders:    pg.Orders,
		products:  pg.Products,
		carts:     pg.Carts,
		terminals: pg.Terminals,
		payments:  pg.TerminalPayments,
		close:     pg.Close,
	}, nil
}

// seed loads the configured catalog and terminal credentials.
func seed(ctx context.Context, cfg config.Config, st *stores) error {
	for _, p := range cfg.Products {
		if err := st.products.Put(ctx, p); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	for _, t := range cfg.Terminals {
		err := st.terminals.Put(ctx, domain.Terminal{
			ID:      t.ID,
			StoreID: cfg.StoreID,
			Name:    t.Name,
			APIKey:  t.APIKey,
			Status:  domain.TerminalOffline,
		})
		if err != nil {
			return fmt.Errorf("seed terminal %s: %w", t.ID, err)
		}
	}
	return nil
}

func providerConfigs(cfg config.Config) []idp.ProviderConfig {
	bank := idp.ProviderConfig{
		Kind:             domain.ProviderBank,
		Enabled:          cfg.Bank.Enabled,
		Issuer:           cfg.Bank.Issuer,
		ClientID:         cfg.Bank.ClientID,
		ClientSecret:     cfg.Bank.ClientSecret,
		RedirectURL:      cfg.RedirectURL(domain.ProviderBank),
		LoginRedirectURL: cfg.LoginRedirectURL(),
		PaymentScope:     cfg.Bank.PaymentScope,
		VerifyIDToken:    true,
	}
	walletCfg := idp.ProviderConfig{
		Kind:          domain.ProviderWallet,
		Enabled:       cfg.Wallet.Enabled,
		Issuer:        cfg.Wallet.Issuer,
		ClientID:      cfg.Wallet.ClientID,
		ClientSecret:  cfg.Wallet.ClientSecret,
		RedirectURL:   cfg.RedirectURL(domain.ProviderWallet),
		PaymentScope:  cfg.Wallet.PaymentScope,
		Resource:      cfg.Wallet.Resource,
		VerifyIDToken: true,
	}
	return []idp.ProviderConfig{bank, walletCfg}
}
