package main

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/accessledger"
	"github.com/medgrid/health-exchange/internal/accountrules"
	"github.com/medgrid/health-exchange/internal/consent"
	consentmodel "github.com/medgrid/health-exchange/internal/consent/model"
	"github.com/medgrid/health-exchange/internal/directory"
	"github.com/medgrid/health-exchange/internal/ledger"
	"github.com/medgrid/health-exchange/internal/marketplace"
	"github.com/medgrid/health-exchange/internal/noderules"
	"github.com/medgrid/health-exchange/internal/system/config"
	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/log"
	"github.com/medgrid/health-exchange/internal/system/stores"
)

// registerServices wires every module's store into the registry, then
// initializes the modules in dependency order: the role ledger first (it
// authorizes everything else), the admission engines, then the consent and
// marketplace pipeline with its collaborators injected.
func registerServices(rg *gin.RouterGroup, registry *stores.StoreRegistry, cfg *config.Config) {
	logger := log.GetLogger()

	dbClient := registry.DBClient()
	registry.AccessRole = accessledger.NewStore(dbClient)
	registry.Account = accountrules.NewStore(dbClient)
	registry.Node = noderules.NewStore(dbClient)
	registry.Consent = consent.NewStore(dbClient)
	registry.Marketplace = marketplace.NewStore(dbClient)
	registry.Patient = directory.NewPatientStore(dbClient)
	registry.Researcher = directory.NewResearcherStore(dbClient)
	registry.Ledger = ledger.NewStore(dbClient)

	var bootstrapAdmin *common.Address
	if admin, ok := cfg.Admission.GetBootstrapAdmin(); ok {
		bootstrapAdmin = &admin
	}

	authz := accessledger.Initialize(rg, registry, bootstrapAdmin)
	logger.Info("AccessLedger module initialized")

	accountrules.Initialize(rg, registry, authz, bootstrapAdmin)
	logger.Info("AccountRules module initialized")

	bootstrapValidator, _ := cfg.Admission.GetBootstrapValidator()
	noderules.Initialize(rg, registry, authz, bootstrapValidator)
	logger.Info("NodeRules module initialized")

	consentService := consent.Initialize(rg, registry, authz)
	logger.Info("Consent module initialized")

	patients, researchers := directory.Initialize(rg, registry, authz)
	logger.Info("Directory module initialized")

	ledgerService := ledger.Initialize(rg, registry, authz)
	logger.Info("Ledger module initialized")

	marketplace.Initialize(rg, registry, authz,
		patients, researchers,
		&consentGate{service: consentService},
		ledgerService,
		cfg.Marketplace.GetPlatformAccount(),
		int64(cfg.Marketplace.PlatformFeeBps))
	logger.Info("Marketplace module initialized")
}

// consentGate adapts the consent service's keyed API to the narrow interface
// the marketplace consumes.
type consentGate struct {
	service consent.ConsentService
}

func (g *consentGate) IsConsentValid(patientID, researcherID, category common.Hash) (bool, error) {
	valid, serviceErr := g.service.IsValid(consentKey(patientID, researcherID, category))
	if serviceErr != nil {
		return false, errors.New(serviceErr.ErrorDescription)
	}
	return valid, nil
}

func (g *consentGate) RecordAccessTx(tx dbmodel.TxInterface, patientID, researcherID, category common.Hash) (bool, int64, error) {
	return g.service.RecordAccessTx(tx, consentKey(patientID, researcherID, category))
}

func consentKey(patientID, researcherID, category common.Hash) consentmodel.ConsentKey {
	return consentmodel.ConsentKey{
		PatientID:    patientID,
		ResearcherID: researcherID,
		DataCategory: category,
	}
}
