package marketplace

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/medgrid/health-exchange/internal/marketplace/model"
	dbmodel "github.com/medgrid/health-exchange/internal/system/database/model"
	"github.com/medgrid/health-exchange/internal/system/database/provider"
)

// DBQuery objects for marketplace persistence.
var (
	QueryInsertListing = dbmodel.DBQuery{
		ID: "INSERT_DATA_LISTING",
		Query: "INSERT INTO DATA_LISTING (LISTING_ID, PATIENT_ID, DATA_CATEGORY, PRICE, ACTIVE, " +
			"TOTAL_ACCESSES, TOTAL_EARNINGS, CREATED_AT) VALUES (?, ?, ?, ?, ?, 0, 0, ?)",
	}

	QueryGetListing = dbmodel.DBQuery{
		ID: "GET_DATA_LISTING",
		Query: "SELECT LISTING_ID, PATIENT_ID, DATA_CATEGORY, PRICE, ACTIVE, TOTAL_ACCESSES, " +
			"TOTAL_EARNINGS, CREATED_AT FROM DATA_LISTING WHERE LISTING_ID = ?",
	}

	QueryListListingsByPatient = dbmodel.DBQuery{
		ID: "LIST_DATA_LISTINGS_BY_PATIENT",
		Query: "SELECT LISTING_ID, PATIENT_ID, DATA_CATEGORY, PRICE, ACTIVE, TOTAL_ACCESSES, " +
			"TOTAL_EARNINGS, CREATED_AT FROM DATA_LISTING WHERE PATIENT_ID = ?",
	}

	QueryUpdateListingStats = dbmodel.DBQuery{
		ID: "UPDATE_DATA_LISTING_STATS",
		Query: "UPDATE DATA_LISTING SET TOTAL_ACCESSES = TOTAL_ACCESSES + 1, " +
			"TOTAL_EARNINGS = TOTAL_EARNINGS + ? WHERE LISTING_ID = ?",
	}

	QueryInsertRequest = dbmodel.DBQuery{
		ID: "INSERT_ACCESS_REQUEST",
		Query: "INSERT INTO ACCESS_REQUEST (REQUEST_ID, RESEARCHER_ID, LISTING_ID, OFFERED_PRICE, " +
			"STATUS, DECRYPTION_KEY_REF, REJECT_REASON, CREATED_AT, UPDATED_AT) " +
			"VALUES (?, ?, ?, ?, ?, '', '', ?, ?)",
	}

	QueryGetRequest = dbmodel.DBQuery{
		ID: "GET_ACCESS_REQUEST",
		Query: "SELECT REQUEST_ID, RESEARCHER_ID, LISTING_ID, OFFERED_PRICE, STATUS, " +
			"DECRYPTION_KEY_REF, REJECT_REASON, CREATED_AT, UPDATED_AT FROM ACCESS_REQUEST " +
			"WHERE REQUEST_ID = ?",
	}

	QueryListRequestsByResearcher = dbmodel.DBQuery{
		ID: "LIST_ACCESS_REQUESTS_BY_RESEARCHER",
		Query: "SELECT REQUEST_ID, RESEARCHER_ID, LISTING_ID, OFFERED_PRICE, STATUS, " +
			"DECRYPTION_KEY_REF, REJECT_REASON, CREATED_AT, UPDATED_AT FROM ACCESS_REQUEST " +
			"WHERE RESEARCHER_ID = ?",
	}

	// Status transitions are guarded at the SQL level: the WHERE clause pins
	// the expected current status, so a concurrent transition loses cleanly
	// with zero affected rows.
	QueryApproveRequest = dbmodel.DBQuery{
		ID: "APPROVE_ACCESS_REQUEST",
		Query: "UPDATE ACCESS_REQUEST SET STATUS = ?, DECRYPTION_KEY_REF = ?, UPDATED_AT = ? " +
			"WHERE REQUEST_ID = ? AND STATUS = ?",
	}

	QueryRejectRequest = dbmodel.DBQuery{
		ID: "REJECT_ACCESS_REQUEST",
		Query: "UPDATE ACCESS_REQUEST SET STATUS = ?, REJECT_REASON = ?, UPDATED_AT = ? " +
			"WHERE REQUEST_ID = ? AND STATUS = ?",
	}

	QueryCompleteRequest = dbmodel.DBQuery{
		ID: "COMPLETE_ACCESS_REQUEST",
		Query: "UPDATE ACCESS_REQUEST SET STATUS = ?, UPDATED_AT = ? " +
			"WHERE REQUEST_ID = ? AND STATUS = ?",
	}
)

// MarketplaceStore persists listings and access requests. Completion-path
// writes exist in tx-composed form so the whole payout commits atomically.
type MarketplaceStore interface {
	InsertListingTx(tx dbmodel.TxInterface, listing *model.Listing) error
	GetListing(listingID common.Hash) (*model.Listing, error)
	ListListingsByPatient(patientID common.Hash) ([]model.Listing, error)
	UpdateListingStatsTx(tx dbmodel.TxInterface, listingID common.Hash, earnings int64) error

	InsertRequest(request *model.AccessRequest) error
	GetRequest(requestID common.Hash) (*model.AccessRequest, error)
	ListRequestsByResearcher(researcherID common.Hash) ([]model.AccessRequest, error)
	ApproveRequest(requestID common.Hash, keyRef string, updatedAt int64) (bool, error)
	RejectRequest(requestID common.Hash, reason string, updatedAt int64) (bool, error)
	CompleteRequestTx(tx dbmodel.TxInterface, requestID common.Hash, updatedAt int64) (bool, error)
}

type store struct {
	dbClient provider.DBClientInterface
}

func newMarketplaceStore(dbClient provider.DBClientInterface) MarketplaceStore {
	return &store{
		dbClient: dbClient,
	}
}

func (s *store) InsertListingTx(tx dbmodel.TxInterface, listing *model.Listing) error {
	_, err := tx.Exec(QueryInsertListing.GetQuery(s.dbClient.DBType()),
		listing.ID.Hex(), listing.PatientID.Hex(), listing.DataCategory.Hex(),
		listing.Price, listing.Active, listing.CreatedAt)
	return err
}

func (s *store) GetListing(listingID common.Hash) (*model.Listing, error) {
	rows, err := s.dbClient.Query(&QueryGetListing, listingID.Hex())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return mapToListing(rows[0]), nil
}

func (s *store) ListListingsByPatient(patientID common.Hash) ([]model.Listing, error) {
	rows, err := s.dbClient.Query(&QueryListListingsByPatient, patientID.Hex())
	if err != nil {
		return nil, err
	}

	listings := make([]model.Listing, 0, len(rows))
	for _, row := range rows {
		if listing := mapToListing(row); listing != nil {
			listings = append(listings, *listing)
		}
	}
	return listings, nil
}

func (s *store) UpdateListingStatsTx(tx dbmodel.TxInterface, listingID common.Hash, earnings int64) error {
	_, err := tx.Exec(QueryUpdateListingStats.GetQuery(s.dbClient.DBType()), earnings, listingID.Hex())
	return err
}

func (s *store) InsertRequest(request *model.AccessRequest) error {
	_, err := s.dbClient.Execute(&QueryInsertRequest,
		request.ID.Hex(), request.ResearcherID.Hex(), request.ListingID.Hex(),
		request.OfferedPrice, int(request.Status), request.CreatedAt, request.UpdatedAt)
	return err
}

func (s *store) GetRequest(requestID common.Hash) (*model.AccessRequest, error) {
	rows, err := s.dbClient.Query(&QueryGetRequest, requestID.Hex())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return mapToRequest(rows[0]), nil
}

func (s *store) ListRequestsByResearcher(researcherID common.Hash) ([]model.AccessRequest, error) {
	rows, err := s.dbClient.Query(&QueryListRequestsByResearcher, researcherID.Hex())
	if err != nil {
		return nil, err
	}

	requests := make([]model.AccessRequest, 0, len(rows))
	for _, row := range rows {
		if request := mapToRequest(row); request != nil {
			requests = append(requests, *request)
		}
	}
	return requests, nil
}

func (s *store) ApproveRequest(requestID common.Hash, keyRef string, updatedAt int64) (bool, error) {
	affected, err := s.dbClient.Execute(&QueryApproveRequest,
		int(model.RequestApproved), keyRef, updatedAt,
		requestID.Hex(), int(model.RequestPending))
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *store) RejectRequest(requestID common.Hash, reason string, updatedAt int64) (bool, error) {
	affected, err := s.dbClient.Execute(&QueryRejectRequest,
		int(model.RequestRejected), reason, updatedAt,
		requestID.Hex(), int(model.RequestPending))
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *store) CompleteRequestTx(tx dbmodel.TxInterface, requestID common.Hash, updatedAt int64) (bool, error) {
	result, err := tx.Exec(QueryCompleteRequest.GetQuery(s.dbClient.DBType()),
		int(model.RequestCompleted), updatedAt,
		requestID.Hex(), int(model.RequestApproved))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func mapToListing(row map[string]interface{}) *model.Listing {
	if row == nil {
		return nil
	}

	listing := &model.Listing{}

	if id, ok := row["LISTING_ID"].(string); ok {
		listing.ID = common.HexToHash(id)
	}
	if patient, ok := row["PATIENT_ID"].(string); ok {
		listing.PatientID = common.HexToHash(patient)
	}
	if category, ok := row["DATA_CATEGORY"].(string); ok {
		listing.DataCategory = common.HexToHash(category)
	}
	if price, ok := row["PRICE"].(int64); ok {
		listing.Price = price
	}
	listing.Active = mapToBool(row["ACTIVE"])
	if accesses, ok := row["TOTAL_ACCESSES"].(int64); ok {
		listing.TotalAccesses = accesses
	}
	if earnings, ok := row["TOTAL_EARNINGS"].(int64); ok {
		listing.TotalEarnings = earnings
	}
	if created, ok := row["CREATED_AT"].(int64); ok {
		listing.CreatedAt = created
	}

	return listing
}

func mapToRequest(row map[string]interface{}) *model.AccessRequest {
	if row == nil {
		return nil
	}

	request := &model.AccessRequest{}

	if id, ok := row["REQUEST_ID"].(string); ok {
		request.ID = common.HexToHash(id)
	}
	if researcher, ok := row["RESEARCHER_ID"].(string); ok {
		request.ResearcherID = common.HexToHash(researcher)
	}
	if listing, ok := row["LISTING_ID"].(string); ok {
		request.ListingID = common.HexToHash(listing)
	}
	if price, ok := row["OFFERED_PRICE"].(int64); ok {
		request.OfferedPrice = price
	}
	if status, ok := row["STATUS"].(int64); ok {
		request.Status = model.RequestStatus(status)
	}
	if keyRef, ok := row["DECRYPTION_KEY_REF"].(string); ok {
		request.DecryptionKeyRef = keyRef
	}
	if reason, ok := row["REJECT_REASON"].(string); ok {
		request.RejectReason = reason
	}
	if created, ok := row["CREATED_AT"].(int64); ok {
		request.CreatedAt = created
	}
	if updated, ok := row["UPDATED_AT"].(int64); ok {
		request.UpdatedAt = updated
	}

	return request
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
