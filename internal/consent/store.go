package consent

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/medgrid/health-exchange/internal/consent/model"
	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/database/provider"
	"github.com/medgrid/health-exchange/internal/system/utils"
)

// DBQuery objects for consent ledger persistence.
var (
	QueryUpsertConsent = dbmodel.DBQuery{
		ID: "UPSERT_DATA_CONSENT",
		Query: "INSERT INTO DATA_CONSENT (PATIENT_ID, RESEARCHER_ID, DATA_CATEGORY, STATUS, GRANTED_AT, EXPIRES_AT, " +
			"REVOKED_AT, PURPOSE, ALLOW_DERIVATIVES, ALLOW_COMMERCIAL, REQUIRE_NOTIFICATION, MAX_ACCESS_COUNT, " +
			"CURRENT_ACCESS_COUNT, AGREED_PRICE) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) " +
			"ON DUPLICATE KEY UPDATE STATUS = VALUES(STATUS), GRANTED_AT = VALUES(GRANTED_AT), " +
			"EXPIRES_AT = VALUES(EXPIRES_AT), REVOKED_AT = VALUES(REVOKED_AT), PURPOSE = VALUES(PURPOSE), " +
			"ALLOW_DERIVATIVES = VALUES(ALLOW_DERIVATIVES), ALLOW_COMMERCIAL = VALUES(ALLOW_COMMERCIAL), " +
			"REQUIRE_NOTIFICATION = VALUES(REQUIRE_NOTIFICATION), MAX_ACCESS_COUNT = VALUES(MAX_ACCESS_COUNT), " +
			"CURRENT_ACCESS_COUNT = VALUES(CURRENT_ACCESS_COUNT), AGREED_PRICE = VALUES(AGREED_PRICE)",
	}

	QueryGetConsent = dbmodel.DBQuery{
		ID: "GET_DATA_CONSENT",
		Query: "SELECT PATIENT_ID, RESEARCHER_ID, DATA_CATEGORY, STATUS, GRANTED_AT, EXPIRES_AT, REVOKED_AT, " +
			"PURPOSE, ALLOW_DERIVATIVES, ALLOW_COMMERCIAL, REQUIRE_NOTIFICATION, MAX_ACCESS_COUNT, " +
			"CURRENT_ACCESS_COUNT, AGREED_PRICE FROM DATA_CONSENT " +
			"WHERE PATIENT_ID = ? AND RESEARCHER_ID = ? AND DATA_CATEGORY = ?",
	}

	QueryListConsentsByPatient = dbmodel.DBQuery{
		ID: "LIST_DATA_CONSENT_BY_PATIENT",
		Query: "SELECT PATIENT_ID, RESEARCHER_ID, DATA_CATEGORY, STATUS, GRANTED_AT, EXPIRES_AT, REVOKED_AT, " +
			"PURPOSE, ALLOW_DERIVATIVES, ALLOW_COMMERCIAL, REQUIRE_NOTIFICATION, MAX_ACCESS_COUNT, " +
			"CURRENT_ACCESS_COUNT, AGREED_PRICE FROM DATA_CONSENT WHERE PATIENT_ID = ?",
	}

	QueryListConsentsByResearcher = dbmodel.DBQuery{
		ID: "LIST_DATA_CONSENT_BY_RESEARCHER",
		Query: "SELECT PATIENT_ID, RESEARCHER_ID, DATA_CATEGORY, STATUS, GRANTED_AT, EXPIRES_AT, REVOKED_AT, " +
			"PURPOSE, ALLOW_DERIVATIVES, ALLOW_COMMERCIAL, REQUIRE_NOTIFICATION, MAX_ACCESS_COUNT, " +
			"CURRENT_ACCESS_COUNT, AGREED_PRICE FROM DATA_CONSENT WHERE RESEARCHER_ID = ?",
	}

	QueryUpdateConsentStatus = dbmodel.DBQuery{
		ID: "UPDATE_DATA_CONSENT_STATUS",
		Query: "UPDATE DATA_CONSENT SET STATUS = ?, REVOKED_AT = ? " +
			"WHERE PATIENT_ID = ? AND RESEARCHER_ID = ? AND DATA_CATEGORY = ?",
	}

	// QueryMarkConsentExpired only flips Granted records; replaying it against
	// an already-expired record is a no-op.
	QueryMarkConsentExpired = dbmodel.DBQuery{
		ID: "MARK_DATA_CONSENT_EXPIRED",
		Query: "UPDATE DATA_CONSENT SET STATUS = ? " +
			"WHERE PATIENT_ID = ? AND RESEARCHER_ID = ? AND DATA_CATEGORY = ? AND STATUS = ?",
	}

	// QueryIncrementAccessCount is the guarded check-and-increment: the WHERE
	// clause re-verifies status, expiry and cap so the increment is atomic
	// with its own preconditions. Zero affected rows means the consent is no
	// longer valid.
	QueryIncrementAccessCount = dbmodel.DBQuery{
		ID: "INCREMENT_DATA_CONSENT_ACCESS_COUNT",
		Query: "UPDATE DATA_CONSENT SET CURRENT_ACCESS_COUNT = CURRENT_ACCESS_COUNT + 1 " +
			"WHERE PATIENT_ID = ? AND RESEARCHER_ID = ? AND DATA_CATEGORY = ? AND STATUS = ? " +
			"AND EXPIRES_AT >= ? AND (MAX_ACCESS_COUNT = 0 OR CURRENT_ACCESS_COUNT < MAX_ACCESS_COUNT)",
	}

	QueryUpsertPreference = dbmodel.DBQuery{
		ID: "UPSERT_PATIENT_PREFERENCE",
		Query: "INSERT INTO PATIENT_PREFERENCE (PATIENT_ID, GLOBAL_OPT_OUT, MIN_PRICE) VALUES (?, ?, ?) " +
			"ON DUPLICATE KEY UPDATE GLOBAL_OPT_OUT = VALUES(GLOBAL_OPT_OUT), MIN_PRICE = VALUES(MIN_PRICE)",
	}

	QueryGetPreference = dbmodel.DBQuery{
		ID:    "GET_PATIENT_PREFERENCE",
		Query: "SELECT PATIENT_ID, GLOBAL_OPT_OUT, MIN_PRICE FROM PATIENT_PREFERENCE WHERE PATIENT_ID = ?",
	}

	QueryInsertStatusAudit = dbmodel.DBQuery{
		ID: "INSERT_CONSENT_STATUS_AUDIT",
		Query: "INSERT INTO CONSENT_STATUS_AUDIT (AUDIT_ID, PATIENT_ID, RESEARCHER_ID, DATA_CATEGORY, " +
			"FROM_STATUS, TO_STATUS, ACTOR, CHANGED_AT) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
	}
)

// ConsentStore persists consent records, patient preferences and the status
// audit trail.
type ConsentStore interface {
	Upsert(consent *model.Consent) error
	Get(key model.ConsentKey) (*model.Consent, error)
	ListByPatient(patientID common.Hash) ([]model.Consent, error)
	ListByResearcher(researcherID common.Hash) ([]model.Consent, error)
	UpdateStatus(key model.ConsentKey, status model.ConsentStatus, revokedAt int64) error
	MarkExpired(key model.ConsentKey) (bool, error)
	IncrementAccessCount(key model.ConsentKey, now int64) (bool, error)
	// IncrementAccessCountTx runs the guarded increment inside the caller's
	// transaction, for orchestration flows that must commit the consent
	// accounting together with their own writes.
	IncrementAccessCountTx(tx dbmodel.TxInterface, key model.ConsentKey, now int64) (bool, error)
	GetPreference(patientID common.Hash) (*model.PatientPreference, error)
	UpsertPreference(pref *model.PatientPreference) error
	AppendStatusAudit(key model.ConsentKey, from, to model.ConsentStatus, actor string) error
}

type store struct {
	dbClient provider.DBClientInterface
}

func newConsentStore(dbClient provider.DBClientInterface) ConsentStore {
	return &store{
		dbClient: dbClient,
	}
}

func (s *store) Upsert(consent *model.Consent) error {
	_, err := s.dbClient.Execute(&QueryUpsertConsent,
		consent.PatientID.Hex(), consent.ResearcherID.Hex(), consent.DataCategory.Hex(),
		int(consent.Status), consent.GrantedAt, consent.ExpiresAt, consent.RevokedAt,
		consent.Purpose, consent.AllowDerivativeWorks, consent.AllowCommercialUse,
		consent.RequireNotification, consent.MaxAccessCount, consent.CurrentAccessCount,
		consent.AgreedPrice)
	return err
}

func (s *store) Get(key model.ConsentKey) (*model.Consent, error) {
	rows, err := s.dbClient.Query(&QueryGetConsent,
		key.PatientID.Hex(), key.ResearcherID.Hex(), key.DataCategory.Hex())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return mapToConsent(rows[0]), nil
}

func (s *store) ListByPatient(patientID common.Hash) ([]model.Consent, error) {
	return s.list(&QueryListConsentsByPatient, patientID)
}

func (s *store) ListByResearcher(researcherID common.Hash) ([]model.Consent, error) {
	return s.list(&QueryListConsentsByResearcher, researcherID)
}

func (s *store) list(query *dbmodel.DBQuery, id common.Hash) ([]model.Consent, error) {
	rows, err := s.dbClient.Query(query, id.Hex())
	if err != nil {
		return nil, err
	}

	consents := make([]model.Consent, 0, len(rows))
	for _, row := range rows {
		if consent := mapToConsent(row); consent != nil {
			consents = append(consents, *consent)
		}
	}
	return consents, nil
}

func (s *store) UpdateStatus(key model.ConsentKey, status model.ConsentStatus, revokedAt int64) error {
	_, err := s.dbClient.Execute(&QueryUpdateConsentStatus,
		int(status), revokedAt,
		key.PatientID.Hex(), key.ResearcherID.Hex(), key.DataCategory.Hex())
	return err
}

func (s *store) MarkExpired(key model.ConsentKey) (bool, error) {
	affected, err := s.dbClient.Execute(&QueryMarkConsentExpired,
		int(model.StatusExpired),
		key.PatientID.Hex(), key.ResearcherID.Hex(), key.DataCategory.Hex(),
		int(model.StatusGranted))
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *store) IncrementAccessCount(key model.ConsentKey, now int64) (bool, error) {
	affected, err := s.dbClient.Execute(&QueryIncrementAccessCount,
		key.PatientID.Hex(), key.ResearcherID.Hex(), key.DataCategory.Hex(),
		int(model.StatusGranted), now)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *store) IncrementAccessCountTx(tx dbmodel.TxInterface, key model.ConsentKey, now int64) (bool, error) {
	result, err := tx.Exec(QueryIncrementAccessCount.GetQuery(s.dbClient.DBType()),
		key.PatientID.Hex(), key.ResearcherID.Hex(), key.DataCategory.Hex(),
		int(model.StatusGranted), now)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *store) GetPreference(patientID common.Hash) (*model.PatientPreference, error) {
	rows, err := s.dbClient.Query(&QueryGetPreference, patientID.Hex())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	pref := &model.PatientPreference{PatientID: patientID}
	pref.GlobalOptOut = mapToBool(rows[0]["GLOBAL_OPT_OUT"])
	if minPrice, ok := rows[0]["MIN_PRICE"].(int64); ok {
		pref.MinPrice = minPrice
	}
	return pref, nil
}

func (s *store) UpsertPreference(pref *model.PatientPreference) error {
	_, err := s.dbClient.Execute(&QueryUpsertPreference,
		pref.PatientID.Hex(), pref.GlobalOptOut, pref.MinPrice)
	return err
}

func (s *store) AppendStatusAudit(key model.ConsentKey, from, to model.ConsentStatus, actor string) error {
	_, err := s.dbClient.Execute(&QueryInsertStatusAudit,
		utils.GenerateUUID(),
		key.PatientID.Hex(), key.ResearcherID.Hex(), key.DataCategory.Hex(),
		int(from), int(to), actor, utils.GetCurrentTimeMillis())
	return err
}

func mapToConsent(row map[string]interface{}) *model.Consent {
	if row == nil {
		return nil
	}

	consent := &model.Consent{}

	if patient, ok := row["PATIENT_ID"].(string); ok {
		consent.PatientID = common.HexToHash(patient)
	}
	if researcher, ok := row["RESEARCHER_ID"].(string); ok {
		consent.ResearcherID = common.HexToHash(researcher)
	}
	if category, ok := row["DATA_CATEGORY"].(string); ok {
		consent.DataCategory = common.HexToHash(category)
	}
	if status, ok := row["STATUS"].(int64); ok {
		consent.Status = model.ConsentStatus(status)
	}
	if grantedAt, ok := row["GRANTED_AT"].(int64); ok {
		consent.GrantedAt = grantedAt
	}
	if expiresAt, ok := row["EXPIRES_AT"].(int64); ok {
		consent.ExpiresAt = expiresAt
	}
	if revokedAt, ok := row["REVOKED_AT"].(int64); ok {
		consent.RevokedAt = revokedAt
	}
	if purpose, ok := row["PURPOSE"].(string); ok {
		consent.Purpose = purpose
	}
	consent.AllowDerivativeWorks = mapToBool(row["ALLOW_DERIVATIVES"])
	consent.AllowCommercialUse = mapToBool(row["ALLOW_COMMERCIAL"])
	consent.RequireNotification = mapToBool(row["REQUIRE_NOTIFICATION"])
	if maxCount, ok := row["MAX_ACCESS_COUNT"].(int64); ok {
		consent.MaxAccessCount = maxCount
	}
	if current, ok := row["CURRENT_ACCESS_COUNT"].(int64); ok {
		consent.CurrentAccessCount = current
	}
	if price, ok := row["AGREED_PRICE"].(int64); ok {
		consent.AgreedPrice = price
	}

	return consent
}

func mapToBool(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case string:
		return v == "1"
	}
	return false
}
