package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/craftlane/api/internal/platform/config"
	pfirestore "github.com/craftlane/api/internal/platform/firestore"
	"github.com/craftlane/api/internal/repositories"
	firestoreRepo "github.com/craftlane/api/internal/repositories/firestore"
	"github.com/craftlane/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete
// implementations are assembled in NewContainer.
type Services struct {
	Requests      services.RequestService
	Pricing       services.PricingService
	Payments      services.PaymentService
	Production    services.ProductionService
	Disbursements services.DisbursementService
	Disputes      services.DisputeService
	System        services.SystemService
}

// Repositories exposes the persistence layer for callers that need direct access,
// such as health checks and maintenance jobs.
type Repositories struct {
	Requests repositories.RequestRepository
	Disputes repositories.DisputeRepository
	Orders   repositories.OrderRepository
	Products repositories.ProductRepository
	Shops    repositories.ShopRepository
	Accounts repositories.PayoutAccountRepository
}

// Deps carries the collaborators that are constructed outside the container:
// infrastructure clients, gateway seams, and observability hooks.
type Deps struct {
	Provider *pfirestore.Provider
	Gateway  services.PaymentGateway
	Verifier services.PaymentMethodVerifier
	Signer   services.AttachmentSigner
	Events   services.LifecycleEventPublisher
	Health   repositories.HealthRepository
	Build    services.BuildInfo
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories Repositories
	Services     Services
}

// NewContainer constructs the runtime dependency graph. Repositories are built
// against the provided Firestore provider; services are layered on top in
// dependency order (disputes before pricing, because pricing rejections after
// payment are routed into the dispute lifecycle).
func NewContainer(cfg config.Config, deps Deps) (*Container, error) {
	if deps.Provider == nil {
		return nil, errors.New("di: firestore provider is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("di: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	repos, err := buildRepositories(deps.Provider)
	if err != nil {
		return nil, err
	}

	svc, err := buildServices(cfg, repos, deps, clock)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: repos,
		Services:     svc,
	}, nil
}

func buildRepositories(provider *pfirestore.Provider) (Repositories, error) {
	requestRepo, err := firestoreRepo.NewRequestRepository(provider)
	if err != nil {
		return Repositories{}, fmt.Errorf("build request repository: %w", err)
	}
	disputeRepo, err := firestoreRepo.NewDisputeRepository(provider)
	if err != nil {
		return Repositories{}, fmt.Errorf("build dispute repository: %w", err)
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return Repositories{}, fmt.Errorf("build order repository: %w", err)
	}
	productRepo, err := firestoreRepo.NewProductRepository(provider)
	if err != nil {
		return Repositories{}, fmt.Errorf("build product repository: %w", err)
	}
	shopRepo, err := firestoreRepo.NewShopRepository(provider)
	if err != nil {
		return Repositories{}, fmt.Errorf("build shop repository: %w", err)
	}
	accountRepo, err := firestoreRepo.NewPayoutAccountRepository(provider)
	if err != nil {
		return Repositories{}, fmt.Errorf("build payout account repository: %w", err)
	}

	return Repositories{
		Requests: requestRepo,
		Disputes: disputeRepo,
		Orders:   orderRepo,
		Products: productRepo,
		Shops:    shopRepo,
		Accounts: accountRepo,
	}, nil
}

func buildServices(cfg config.Config, repos Repositories, deps Deps, clock func() time.Time) (Services, error) {
	var svc Services

	if deps.Health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: deps.Health,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	disputeSvc, err := services.NewDisputeService(services.DisputeServiceDeps{
		Disputes:          repos.Disputes,
		Orders:            repos.Orders,
		Requests:          repos.Requests,
		Shops:             repos.Shops,
		Events:            deps.Events,
		Clock:             clock,
		Logger:            deps.Logger,
		NegotiationWindow: cfg.Disputes.NegotiationWindow,
		ResolutionWindow:  cfg.Disputes.ResolutionWindow,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build dispute service: %w", err)
	}
	svc.Disputes = disputeSvc

	pricingSvc, err := services.NewPricingService(services.PricingServiceDeps{
		Requests:              repos.Requests,
		Products:              repos.Products,
		Shops:                 repos.Shops,
		Disputes:              disputeSvc,
		Events:                deps.Events,
		Clock:                 clock,
		Logger:                deps.Logger,
		DisableMilestonePlans: !cfg.Features.EnableMilestonePlans,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing service: %w", err)
	}
	svc.Pricing = pricingSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Requests: repos.Requests,
		Accounts: repos.Accounts,
		Gateway:  deps.Gateway,
		Verifier: deps.Verifier,
		Events:   deps.Events,
		Clock:    clock,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	productionSvc, err := services.NewProductionService(services.ProductionServiceDeps{
		Requests: repos.Requests,
		Shops:    repos.Shops,
		Events:   deps.Events,
		Clock:    clock,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build production service: %w", err)
	}
	svc.Production = productionSvc

	disbursementSvc, err := services.NewDisbursementService(services.DisbursementServiceDeps{
		Requests: repos.Requests,
		Events:   deps.Events,
		Clock:    clock,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build disbursement service: %w", err)
	}
	svc.Disbursements = disbursementSvc

	requestSvc, err := services.NewRequestService(services.RequestServiceDeps{
		Requests: repos.Requests,
		Signer:   deps.Signer,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build request service: %w", err)
	}
	svc.Requests = requestSvc

	return svc, nil
}
