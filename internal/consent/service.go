package consent

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/medgrid/health-exchange/internal/accessledger"
	"github.com/medgrid/health-exchange/internal/consent/model"
	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/error/serviceerror"
	"github.com/medgrid/health-exchange/internal/system/log"
	"github.com/medgrid/health-exchange/internal/system/stores"
	"github.com/medgrid/health-exchange/internal/system/utils"
)

// ConsentService is the authoritative gate for whether a data access may
// proceed. Consent invalidity is a soft outcome: RecordAccess and IsValid
// report it as a boolean, never as a ServiceError. Hard errors are reserved
// for bad input and infrastructure failures.
type ConsentService interface {
	Grant(actor common.Address, key model.ConsentKey, terms model.GrantTerms) *serviceerror.ServiceError
	GrantFromTemplate(actor common.Address, key model.ConsentKey, price int64, templateName string) *serviceerror.ServiceError
	Revoke(actor common.Address, key model.ConsentKey) *serviceerror.ServiceError

	// RecordAccess is the check-and-increment primitive, called once per
	// completed data transfer. A false return means no valid consent; the
	// lazy Granted→Expired transition is persisted here and only here.
	RecordAccess(key model.ConsentKey) (bool, int64, *serviceerror.ServiceError)
	// RecordAccessTx is RecordAccess composed into the caller's transaction.
	// The expiry write is skipped: a failed caller transaction must leave the
	// ledger untouched.
	RecordAccessTx(tx dbmodel.TxInterface, key model.ConsentKey) (bool, int64, error)
	// IsValid runs the same checks as RecordAccess but is strictly read-only:
	// it neither increments the counter nor persists the Expired status.
	IsValid(key model.ConsentKey) (bool, *serviceerror.ServiceError)

	SetGlobalOptOut(actor common.Address, patientID common.Hash, optOut bool) *serviceerror.ServiceError
	SetMinPrice(actor common.Address, patientID common.Hash, minPrice int64) *serviceerror.ServiceError
	GetPreference(patientID common.Hash) (*model.PatientPreference, *serviceerror.ServiceError)

	RegisterTemplate(actor common.Address, template model.Template) *serviceerror.ServiceError
	ListTemplates() []model.Template

	Get(key model.ConsentKey) (*model.Consent, *serviceerror.ServiceError)
	ListByPatient(patientID common.Hash) ([]model.Consent, *serviceerror.ServiceError)
	ListByResearcher(researcherID common.Hash) ([]model.Consent, *serviceerror.ServiceError)
}

type consentService struct {
	templateMu sync.RWMutex
	templates  map[string]model.Template

	authz  accessledger.RoleService
	stores *stores.StoreRegistry
	logger *log.Logger
}

func newConsentService(registry *stores.StoreRegistry, authz accessledger.RoleService) *consentService {
	s := &consentService{
		templates: make(map[string]model.Template),
		authz:     authz,
		stores:    registry,
		logger:    log.GetLogger().With(log.String(log.LoggerKeyComponentName, "ConsentLedger")),
	}
	for _, template := range builtinTemplates() {
		s.templates[model.NormalizeTemplateName(template.Name)] = template
	}
	return s
}

// builtinTemplates are the fixed presets available on every deployment.
func builtinTemplates() []model.Template {
	return []model.Template{
		{
			Name:            "Basic Research",
			DurationSeconds: 180 * 24 * 3600,
			Purpose:         "General medical research",
			MaxAccessCount:  100,
		},
		{
			Name:                 "Academic Study",
			DurationSeconds:      365 * 24 * 3600,
			Purpose:              "Peer-reviewed academic study",
			AllowDerivativeWorks: true,
			MaxAccessCount:       0,
		},
		{
			Name:                 "Commercial Research",
			DurationSeconds:      90 * 24 * 3600,
			Purpose:              "Commercial product research",
			AllowDerivativeWorks: true,
			AllowCommercialUse:   true,
			RequireNotification:  true,
			MaxAccessCount:       50,
		},
		{
			Name:                "One-Time Access",
			DurationSeconds:     7 * 24 * 3600,
			Purpose:             "Single data access",
			RequireNotification: true,
			MaxAccessCount:      1,
		},
	}
}

func (s *consentService) consentStore() ConsentStore {
	return s.stores.Consent.(ConsentStore)
}

// Grant writes or unconditionally overwrites the consent record at the key,
// resetting counters and expiry. The patient's opt-out flag and price floor
// are checked here and only here; existing consents are never re-evaluated
// against later preference changes.
func (s *consentService) Grant(actor common.Address, key model.ConsentKey, terms model.GrantTerms) *serviceerror.ServiceError {
	if err := validateKey(key); err != nil {
		return err
	}
	if terms.DurationSeconds <= 0 {
		return serviceerror.Named(serviceerror.ValidationError, "invalid_duration",
			"consent duration must be positive")
	}
	if terms.Price < 0 || terms.MaxAccessCount < 0 {
		return serviceerror.CustomServiceError(serviceerror.ValidationError,
			"price and access cap must not be negative")
	}

	store := s.consentStore()
	pref, err := store.GetPreference(key.PatientID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if pref != nil {
		if pref.GlobalOptOut {
			return serviceerror.Named(serviceerror.ConflictError, "patient_opted_out",
				fmt.Sprintf("patient %s has opted out of data sharing", key.PatientID.Hex()))
		}
		if terms.Price < pref.MinPrice {
			return serviceerror.Named(serviceerror.ValidationError, "price_below_minimum",
				fmt.Sprintf("price %d is below the patient's minimum of %d", terms.Price, pref.MinPrice))
		}
	}

	previous, err := store.Get(key)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	fromStatus := model.StatusNotSet
	if previous != nil {
		fromStatus = previous.Status
	}

	now := utils.GetCurrentTimeMillis()
	consent := &model.Consent{
		PatientID:            key.PatientID,
		ResearcherID:         key.ResearcherID,
		DataCategory:         key.DataCategory,
		Status:               model.StatusGranted,
		GrantedAt:            now,
		ExpiresAt:            now + terms.DurationSeconds*1000,
		Purpose:              terms.Purpose,
		AllowDerivativeWorks: terms.AllowDerivativeWorks,
		AllowCommercialUse:   terms.AllowCommercialUse,
		RequireNotification:  terms.RequireNotification,
		MaxAccessCount:       terms.MaxAccessCount,
		CurrentAccessCount:   0,
		AgreedPrice:          terms.Price,
	}
	if err := store.Upsert(consent); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if err := store.AppendStatusAudit(key, fromStatus, model.StatusGranted, actor.Hex()); err != nil {
		s.logger.Warn("Failed to append consent audit entry", log.Error(err))
	}

	s.logger.Info("Consent granted",
		log.String("consent_key", key.String()),
		log.Int64("price", terms.Price),
		log.Int64("expires_at", consent.ExpiresAt),
		log.String("actor", actor.Hex()))
	return nil
}

// GrantFromTemplate grants using a named preset's duration, caps and flags.
// Price is always caller-supplied.
func (s *consentService) GrantFromTemplate(actor common.Address, key model.ConsentKey, price int64, templateName string) *serviceerror.ServiceError {
	s.templateMu.RLock()
	template, ok := s.templates[model.NormalizeTemplateName(templateName)]
	s.templateMu.RUnlock()
	if !ok {
		return serviceerror.Named(serviceerror.ResourceNotFoundError, "template_not_found",
			fmt.Sprintf("no consent template named '%s'", templateName))
	}

	return s.Grant(actor, key, model.GrantTerms{
		Price:                price,
		DurationSeconds:      template.DurationSeconds,
		Purpose:              template.Purpose,
		AllowDerivativeWorks: template.AllowDerivativeWorks,
		AllowCommercialUse:   template.AllowCommercialUse,
		RequireNotification:  template.RequireNotification,
		MaxAccessCount:       template.MaxAccessCount,
	})
}

// Revoke transitions a Granted record to Revoked. Any other current status is
// a state conflict.
func (s *consentService) Revoke(actor common.Address, key model.ConsentKey) *serviceerror.ServiceError {
	if err := validateKey(key); err != nil {
		return err
	}

	store := s.consentStore()
	consent, err := store.Get(key)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if consent == nil || consent.Status != model.StatusGranted {
		return serviceerror.Named(serviceerror.ConflictError, "consent_not_granted",
			fmt.Sprintf("consent %s is not in granted status", key.String()))
	}

	if err := store.UpdateStatus(key, model.StatusRevoked, utils.GetCurrentTimeMillis()); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if err := store.AppendStatusAudit(key, model.StatusGranted, model.StatusRevoked, actor.Hex()); err != nil {
		s.logger.Warn("Failed to append consent audit entry", log.Error(err))
	}

	s.logger.Info("Consent revoked",
		log.String("consent_key", key.String()),
		log.String("actor", actor.Hex()))
	return nil
}

// RecordAccess returns (false, 0) when the consent is absent, revoked,
// expired or exhausted — an ordinary negative outcome, not an error. The
// increment itself is a guarded UPDATE so the count can never pass the cap
// even under concurrent callers.
func (s *consentService) RecordAccess(key model.ConsentKey) (bool, int64, *serviceerror.ServiceError) {
	store := s.consentStore()
	consent, err := store.Get(key)
	if err != nil {
		return false, 0, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if consent == nil || consent.Status != model.StatusGranted {
		return false, 0, nil
	}

	now := utils.GetCurrentTimeMillis()
	if now > consent.ExpiresAt {
		expired, err := store.MarkExpired(key)
		if err != nil {
			return false, 0, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
		}
		if expired {
			if err := store.AppendStatusAudit(key, model.StatusGranted, model.StatusExpired, "system"); err != nil {
				s.logger.Warn("Failed to append consent audit entry", log.Error(err))
			}
			s.logger.Info("Consent lazily expired", log.String("consent_key", key.String()))
		}
		return false, 0, nil
	}

	incremented, err := store.IncrementAccessCount(key, now)
	if err != nil {
		return false, 0, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if !incremented {
		return false, 0, nil
	}
	return true, consent.AgreedPrice, nil
}

func (s *consentService) RecordAccessTx(tx dbmodel.TxInterface, key model.ConsentKey) (bool, int64, error) {
	store := s.consentStore()
	consent, err := store.Get(key)
	if err != nil {
		return false, 0, err
	}
	if consent == nil || consent.Status != model.StatusGranted {
		return false, 0, nil
	}

	incremented, err := store.IncrementAccessCountTx(tx, key, utils.GetCurrentTimeMillis())
	if err != nil {
		return false, 0, err
	}
	if !incremented {
		return false, 0, nil
	}
	return true, consent.AgreedPrice, nil
}

// IsValid runs the validity checks without any accounting side effect. An
// expired-but-still-Granted record reads invalid here while its stored status
// stays Granted until RecordAccess observes the expiry.
func (s *consentService) IsValid(key model.ConsentKey) (bool, *serviceerror.ServiceError) {
	consent, err := s.consentStore().Get(key)
	if err != nil {
		return false, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if consent == nil || consent.Status != model.StatusGranted {
		return false, nil
	}
	if utils.GetCurrentTimeMillis() > consent.ExpiresAt {
		return false, nil
	}
	if consent.MaxAccessCount > 0 && consent.CurrentAccessCount >= consent.MaxAccessCount {
		return false, nil
	}
	return true, nil
}

func (s *consentService) SetGlobalOptOut(actor common.Address, patientID common.Hash, optOut bool) *serviceerror.ServiceError {
	return s.updatePreference(actor, patientID, func(pref *model.PatientPreference) {
		pref.GlobalOptOut = optOut
	})
}

func (s *consentService) SetMinPrice(actor common.Address, patientID common.Hash, minPrice int64) *serviceerror.ServiceError {
	if minPrice < 0 {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, "minimum price must not be negative")
	}
	return s.updatePreference(actor, patientID, func(pref *model.PatientPreference) {
		pref.MinPrice = minPrice
	})
}

func (s *consentService) updatePreference(actor common.Address, patientID common.Hash, apply func(*model.PatientPreference)) *serviceerror.ServiceError {
	if patientID == (common.Hash{}) {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, "patient id must not be zero")
	}

	store := s.consentStore()
	pref, err := store.GetPreference(patientID)
	if err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if pref == nil {
		pref = &model.PatientPreference{PatientID: patientID}
	}
	apply(pref)

	if err := store.UpsertPreference(pref); err != nil {
		return serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}

	s.logger.Info("Patient preference updated",
		log.String("patient_id", patientID.Hex()),
		log.Bool("global_opt_out", pref.GlobalOptOut),
		log.Int64("min_price", pref.MinPrice),
		log.String("actor", actor.Hex()))
	return nil
}

func (s *consentService) GetPreference(patientID common.Hash) (*model.PatientPreference, *serviceerror.ServiceError) {
	pref, err := s.consentStore().GetPreference(patientID)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if pref == nil {
		// Absent preferences read as the defaults: not opted out, no floor.
		return &model.PatientPreference{PatientID: patientID}, nil
	}
	return pref, nil
}

// RegisterTemplate adds a named preset. Admin only. Built-in templates cannot
// be overwritten.
func (s *consentService) RegisterTemplate(actor common.Address, template model.Template) *serviceerror.ServiceError {
	if err := s.authz.RequireRole(actor, accessledger.RoleAdmin); err != nil {
		return err
	}
	normalized := model.NormalizeTemplateName(template.Name)
	if normalized == "" {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, "template name must not be blank")
	}
	if template.DurationSeconds <= 0 {
		return serviceerror.Named(serviceerror.ValidationError, "invalid_duration",
			"template duration must be positive")
	}
	if template.MaxAccessCount < 0 {
		return serviceerror.CustomServiceError(serviceerror.ValidationError, "access cap must not be negative")
	}

	s.templateMu.Lock()
	defer s.templateMu.Unlock()
	if _, exists := s.templates[normalized]; exists {
		return serviceerror.Named(serviceerror.ConflictError, "duplicate_template",
			fmt.Sprintf("a consent template named '%s' already exists", template.Name))
	}
	s.templates[normalized] = template

	s.logger.Info("Consent template registered",
		log.String("template", template.Name),
		log.String("actor", actor.Hex()))
	return nil
}

func (s *consentService) ListTemplates() []model.Template {
	s.templateMu.RLock()
	defer s.templateMu.RUnlock()

	templates := make([]model.Template, 0, len(s.templates))
	for _, template := range s.templates {
		templates = append(templates, template)
	}
	return templates
}

func (s *consentService) Get(key model.ConsentKey) (*model.Consent, *serviceerror.ServiceError) {
	consent, err := s.consentStore().Get(key)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	if consent == nil {
		return nil, serviceerror.Named(serviceerror.ResourceNotFoundError, "consent_not_found",
			fmt.Sprintf("no consent record at %s", key.String()))
	}
	return consent, nil
}

func (s *consentService) ListByPatient(patientID common.Hash) ([]model.Consent, *serviceerror.ServiceError) {
	consents, err := s.consentStore().ListByPatient(patientID)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	return consents, nil
}

func (s *consentService) ListByResearcher(researcherID common.Hash) ([]model.Consent, *serviceerror.ServiceError) {
	consents, err := s.consentStore().ListByResearcher(researcherID)
	if err != nil {
		return nil, serviceerror.CustomServiceError(serviceerror.DatabaseError, err.Error())
	}
	return consents, nil
}

func validateKey(key model.ConsentKey) *serviceerror.ServiceError {
	if key.PatientID == (common.Hash{}) || key.ResearcherID == (common.Hash{}) || key.DataCategory == (common.Hash{}) {
		return serviceerror.CustomServiceError(serviceerror.ValidationError,
			"patient id, researcher id and data category must all be non-zero")
	}
	return nil
}
