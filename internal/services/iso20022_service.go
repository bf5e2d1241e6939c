package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/ledgerpay/backend/internal/models"
)

const institutionBIC = "LEDGPAYX"

// ISO20022Service renders committed ledger transfers as ISO 20022 messages
// for downstream settlement and audit consumers. It reads the transaction
// log and account store; it never mutates either.
type ISO20022Service struct {
	accounts  *AccountStore
	txlog     *TransactionLog
	validator *ValidationHelper
}

func NewISO20022Service(db *sql.DB) *ISO20022Service {
	return &ISO20022Service{
		accounts:  NewAccountStore(db),
		txlog:     NewTransactionLog(db, nil),
		validator: NewValidationHelper(),
	}
}

type exportRequest struct {
	Reference string `json:"reference" validate:"required,max=64"`
}

// ExportTransfer renders a committed transfer as pacs.008
// @Summary Export transfer as ISO 20022
// @Description Render the debit leg of a committed transfer as a pacs.008 credit transfer message
// @Tags iso20022
// @Accept json
// @Produce json
// @Param request body exportRequest true "Transfer reference"
// @Success 200 {object} object{status=string,messageType=string,xml=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /iso20022/export [post]
func (iso *ISO20022Service) ExportTransfer(w http.ResponseWriter, r *http.Request) {
	var req exportRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := iso.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	record, err := iso.txlog.GetByReference(r.Context(), req.Reference)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[ISO20022] Failed to fetch transaction %s: %v", req.Reference, err)
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	doc, err := iso.CreatePacs008(r.Context(), record)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	xmlData, err := iso.ConvertToXML(doc)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "converted",
		"messageType": "pacs.008.001.08",
		"xml":         xmlData,
	})
}

// CreatePacs008 builds a pacs.008 FIToFICustomerCreditTransfer message from
// the debit leg of a committed transfer or fee charge.
func (iso *ISO20022Service) CreatePacs008(ctx context.Context, record *models.Transaction) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if record.Type != models.TransactionTypeTransferOut && record.Type != models.TransactionTypeFee {
		return nil, fmt.Errorf("reference %s is not the debit leg of a transfer", record.ReferenceNumber)
	}
	if record.Status != models.TransactionStatusCompleted {
		return nil, fmt.Errorf("transfer %s is not completed", record.ReferenceNumber)
	}
	if record.RelatedAccountID == nil {
		return nil, errors.New("transfer leg has no counterparty account")
	}

	debtor, err := iso.accounts.Get(ctx, record.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load debtor account: %w", err)
	}
	creditor, err := iso.accounts.Get(ctx, *record.RelatedAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load creditor account: %w", err)
	}

	msgID := uuid.New().String()
	settlementDate := record.CreatedAt
	amount := record.Amount.InexactFloat64()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(time.Now()),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(debtor.Currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(record.ID)}[0],
					EndToEndId: common.Max35Text(BaseReference(record.ReferenceNumber)),
					TxId:       &[]common.Max35Text{common.Max35Text(record.ReferenceNumber)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(debtor.Currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(institutionBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(debtor.AccountName)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(institutionBIC)}[0],
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(creditor.AccountName)}[0],
				},
			},
		},
	}

	return doc, nil
}

// CreatePacs002 builds a pacs.002 status report for a ledger transaction.
func (iso *ISO20022Service) CreatePacs002(record *models.Transaction, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgID := uuid.New().String()

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(time.Now()),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(record.ID)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(BaseReference(record.ReferenceNumber))}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(record.ReferenceNumber)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
			},
		},
	}

	return doc, nil
}

// ConvertToXML serializes an ISO 20022 document.
func (iso *ISO20022Service) ConvertToXML(doc any) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
