package directory

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/medgrid/health-exchange/internal/directory/model"
	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/database/provider"
)

// DBQuery objects for directory persistence.
var (
	QueryInsertPatient = dbmodel.DBQuery{
		ID: "INSERT_PATIENT_RECORD",
		Query: "INSERT INTO PATIENT_RECORD (PATIENT_ID, NAME, WALLET_ADDRESS, VERIFIED, DATASET_COUNT, " +
			"TOTAL_EARNINGS, REGISTERED_AT) VALUES (?, ?, ?, ?, 0, 0, ?)",
	}

	QueryGetPatient = dbmodel.DBQuery{
		ID: "GET_PATIENT_RECORD",
		Query: "SELECT PATIENT_ID, NAME, WALLET_ADDRESS, VERIFIED, DATASET_COUNT, TOTAL_EARNINGS, " +
			"REGISTERED_AT FROM PATIENT_RECORD WHERE PATIENT_ID = ?",
	}

	QuerySetPatientVerified = dbmodel.DBQuery{
		ID:    "SET_PATIENT_VERIFIED",
		Query: "UPDATE PATIENT_RECORD SET VERIFIED = ? WHERE PATIENT_ID = ?",
	}

	QueryIncrementPatientDatasets = dbmodel.DBQuery{
		ID:    "INCREMENT_PATIENT_DATASETS",
		Query: "UPDATE PATIENT_RECORD SET DATASET_COUNT = DATASET_COUNT + 1 WHERE PATIENT_ID = ?",
	}

	QueryRecordPatientEarnings = dbmodel.DBQuery{
		ID:    "RECORD_PATIENT_EARNINGS",
		Query: "UPDATE PATIENT_RECORD SET TOTAL_EARNINGS = TOTAL_EARNINGS + ? WHERE PATIENT_ID = ?",
	}

	QueryInsertResearcher = dbmodel.DBQuery{
		ID: "INSERT_RESEARCHER_RECORD",
		Query: "INSERT INTO RESEARCHER_RECORD (RESEARCHER_ID, NAME, ORG_NAME, WALLET_ADDRESS, VERIFIED, " +
			"ACCESS_TIER, TOTAL_ACCESSES, TOTAL_SPENT, REGISTERED_AT) VALUES (?, ?, ?, ?, ?, 0, 0, 0, ?)",
	}

	QueryGetResearcher = dbmodel.DBQuery{
		ID: "GET_RESEARCHER_RECORD",
		Query: "SELECT RESEARCHER_ID, NAME, ORG_NAME, WALLET_ADDRESS, VERIFIED, ACCESS_TIER, " +
			"TOTAL_ACCESSES, TOTAL_SPENT, REGISTERED_AT FROM RESEARCHER_RECORD WHERE RESEARCHER_ID = ?",
	}

	QuerySetResearcherVerified = dbmodel.DBQuery{
		ID:    "SET_RESEARCHER_VERIFIED",
		Query: "UPDATE RESEARCHER_RECORD SET VERIFIED = ?, ACCESS_TIER = ? WHERE RESEARCHER_ID = ?",
	}

	QueryRecordResearcherAccess = dbmodel.DBQuery{
		ID: "RECORD_RESEARCHER_ACCESS",
		Query: "UPDATE RESEARCHER_RECORD SET TOTAL_ACCESSES = TOTAL_ACCESSES + 1, " +
			"TOTAL_SPENT = TOTAL_SPENT + ? WHERE RESEARCHER_ID = ?",
	}

	QueryInsertResearcherCategory = dbmodel.DBQuery{
		ID: "INSERT_RESEARCHER_CATEGORY",
		Query: "INSERT INTO RESEARCHER_CATEGORY (RESEARCHER_ID, DATA_CATEGORY, GRANTED_AT) " +
			"VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE GRANTED_AT = GRANTED_AT",
	}

	QueryDeleteResearcherCategory = dbmodel.DBQuery{
		ID:    "DELETE_RESEARCHER_CATEGORY",
		Query: "DELETE FROM RESEARCHER_CATEGORY WHERE RESEARCHER_ID = ? AND DATA_CATEGORY = ?",
	}

	QueryHasResearcherCategory = dbmodel.DBQuery{
		ID:    "HAS_RESEARCHER_CATEGORY",
		Query: "SELECT 1 FROM RESEARCHER_CATEGORY WHERE RESEARCHER_ID = ? AND DATA_CATEGORY = ?",
	}

	QueryListResearcherCategories = dbmodel.DBQuery{
		ID:    "LIST_RESEARCHER_CATEGORIES",
		Query: "SELECT DATA_CATEGORY FROM RESEARCHER_CATEGORY WHERE RESEARCHER_ID = ?",
	}
)

// PatientStore persists patient records. The counter updates exist in
// tx-composed form so callers can commit them atomically with their own
// writes.
type PatientStore interface {
	Insert(patient *model.Patient) error
	Get(patientID common.Hash) (*model.Patient, error)
	SetVerified(patientID common.Hash, verified bool) error
	IncrementDatasetsTx(tx dbmodel.TxInterface, patientID common.Hash) error
	RecordEarningsTx(tx dbmodel.TxInterface, patientID common.Hash, amount int64) error
}

// ResearcherStore persists researcher records and their category grants.
type ResearcherStore interface {
	Insert(researcher *model.Researcher) error
	Get(researcherID common.Hash) (*model.Researcher, error)
	SetVerified(researcherID common.Hash, verified bool, accessTier int64) error
	RecordDataAccessTx(tx dbmodel.TxInterface, researcherID common.Hash, amount int64) error
	GrantCategory(researcherID, category common.Hash, grantedAt int64) error
	RevokeCategory(researcherID, category common.Hash) (bool, error)
	HasCategory(researcherID, category common.Hash) (bool, error)
	ListCategories(researcherID common.Hash) ([]common.Hash, error)
}

type patientStore struct {
	dbClient provider.DBClientInterface
}

func newPatientStore(dbClient provider.DBClientInterface) PatientStore {
	return &patientStore{
		dbClient: dbClient,
	}
}

func (s *patientStore) Insert(patient *model.Patient) error {
	_, err := s.dbClient.Execute(&QueryInsertPatient,
		patient.ID.Hex(), patient.Name, patient.Wallet.Hex(), patient.Verified, patient.RegisteredAt)
	return err
}

func (s *patientStore) Get(patientID common.Hash) (*model.Patient, error) {
	rows, err := s.dbClient.Query(&QueryGetPatient, patientID.Hex())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return mapToPatient(rows[0]), nil
}

func (s *patientStore) SetVerified(patientID common.Hash, verified bool) error {
	_, err := s.dbClient.Execute(&QuerySetPatientVerified, verified, patientID.Hex())
	return err
}

func (s *patientStore) IncrementDatasetsTx(tx dbmodel.TxInterface, patientID common.Hash) error {
	_, err := tx.Exec(QueryIncrementPatientDatasets.GetQuery(s.dbClient.DBType()), patientID.Hex())
	return err
}

func (s *patientStore) RecordEarningsTx(tx dbmodel.TxInterface, patientID common.Hash, amount int64) error {
	_, err := tx.Exec(QueryRecordPatientEarnings.GetQuery(s.dbClient.DBType()), amount, patientID.Hex())
	return err
}

type researcherStore struct {
	dbClient provider.DBClientInterface
}

func newResearcherStore(dbClient provider.DBClientInterface) ResearcherStore {
	return &researcherStore{
		dbClient: dbClient,
	}
}

func (s *researcherStore) Insert(researcher *model.Researcher) error {
	_, err := s.dbClient.Execute(&QueryInsertResearcher,
		researcher.ID.Hex(), researcher.Name, researcher.Organization, researcher.Wallet.Hex(),
		researcher.Verified, researcher.RegisteredAt)
	return err
}

func (s *researcherStore) Get(researcherID common.Hash) (*model.Researcher, error) {
	rows, err := s.dbClient.Query(&QueryGetResearcher, researcherID.Hex())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return mapToResearcher(rows[0]), nil
}

func (s *researcherStore) SetVerified(researcherID common.Hash, verified bool, accessTier int64) error {
	_, err := s.dbClient.Execute(&QuerySetResearcherVerified, verified, accessTier, researcherID.Hex())
	return err
}

func (s *researcherStore) RecordDataAccessTx(tx dbmodel.TxInterface, researcherID common.Hash, amount int64) error {
	_, err := tx.Exec(QueryRecordResearcherAccess.GetQuery(s.dbClient.DBType()), amount, researcherID.Hex())
	return err
}

func (s *researcherStore) GrantCategory(researcherID, category common.Hash, grantedAt int64) error {
	_, err := s.dbClient.Execute(&QueryInsertResearcherCategory,
		researcherID.Hex(), category.Hex(), grantedAt)
	return err
}

func (s *researcherStore) RevokeCategory(researcherID, category common.Hash) (bool, error) {
	affected, err := s.dbClient.Execute(&QueryDeleteResearcherCategory,
		researcherID.Hex(), category.Hex())
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *researcherStore) HasCategory(researcherID, category common.Hash) (bool, error) {
	rows, err := s.dbClient.Query(&QueryHasResearcherCategory,
		researcherID.Hex(), category.Hex())
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *researcherStore) ListCategories(researcherID common.Hash) ([]common.Hash, error) {
	rows, err := s.dbClient.Query(&QueryListResearcherCategories, researcherID.Hex())
	if err != nil {
		return nil, err
	}

	categories := make([]common.Hash, 0, len(rows))
	for _, row := range rows {
		if category, ok := row["DATA_CATEGORY"].(string); ok {
			categories = append(categories, common.HexToHash(category))
		}
	}
	return categories, nil
}

func mapToPatient(row map[string]interface{}) *model.Patient {
	if row == nil {
		return nil
	}

	patient := &model.Patient{}

	if id, ok := row["PATIENT_ID"].(string); ok {
		patient.ID = common.HexToHash(id)
	}
	if name, ok := row["NAME"].(string); ok {
		patient.Name = name
	}
	if wallet, ok := row["WALLET_ADDRESS"].(string); ok {
		patient.Wallet = common.HexToAddress(wallet)
	}
	patient.Verified = mapToBool(row["VERIFIED"])
	if datasets, ok := row["DATASET_COUNT"].(int64); ok {
		patient.DatasetCount = datasets
	}
	if earnings, ok := row["TOTAL_EARNINGS"].(int64); ok {
		patient.TotalEarnings = earnings
	}
	if registered, ok := row["REGISTERED_AT"].(int64); ok {
		patient.RegisteredAt = registered
	}

	return patient
}

func mapToResearcher(row map[string]interface{}) *model.Researcher {
	if row == nil {
		return nil
	}

	researcher := &model.Researcher{}

	if id, ok := row["RESEARCHER_ID"].(string); ok {
		researcher.ID = common.HexToHash(id)
	}
	if name, ok := row["NAME"].(string); ok {
		researcher.Name = name
	}
	if org, ok := row["ORG_NAME"].(string); ok {
		researcher.Organization = org
	}
	if wallet, ok := row["WALLET_ADDRESS"].(string); ok {
		researcher.Wallet = common.HexToAddress(wallet)
	}
	researcher.Verified = mapToBool(row["VERIFIED"])
	if tier, ok := row["ACCESS_TIER"].(int64); ok {
		researcher.AccessTier = tier
	}
	if accesses, ok := row["TOTAL_ACCESSES"].(int64); ok {
		researcher.TotalAccesses = accesses
	}
	if spent, ok := row["TOTAL_SPENT"].(int64); ok {
		researcher.TotalSpent = spent
	}
	if registered, ok := row["REGISTERED_AT"].(int64); ok {
		researcher.RegisteredAt = registered
	}

	return researcher
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
