package erpsync

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Upstream record shapes. The ERP exposes brokers as generic creditors with
// an isBroker flag; everything else maps one-to-one.

type erpCreditor struct {
	ID          json.Number `json:"id"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Phone       string      `json:"phone"`
	Mobile      string      `json:"mobile"`
	Document    string      `json:"document"`
	IsBroker    bool        `json:"isBroker"`
	BrokerClass string      `json:"brokerClass"`
	ModifiedAt  string      `json:"modifiedAt"`
}

type erpCustomer struct {
	ID         json.Number `json:"id"`
	Name       string      `json:"name"`
	Email      string      `json:"email"`
	Phone      string      `json:"phone"`
	Document   string      `json:"document"`
	BirthDate  string      `json:"birthDate"`
	City       string      `json:"city"`
	ModifiedAt string      `json:"modifiedAt"`
}

type erpEnterprise struct {
	ID              json.Number         `json:"id"`
	Name            string              `json:"name"`
	City            string              `json:"city"`
	CommissionRates []erpCommissionRate `json:"commissionRates"`
	ModifiedAt      string              `json:"modifiedAt"`
}

type erpCommissionRate struct {
	BrokerClass string      `json:"brokerClass"`
	Percentage  json.Number `json:"percentage"`
}

type erpUnit struct {
	ID           json.Number `json:"id"`
	EnterpriseId json.Number `json:"enterpriseId"`
	Name         string      `json:"name"`
	Status       string      `json:"status"`
	PrivateArea  string      `json:"privateArea"`
	ModifiedAt   string      `json:"modifiedAt"`
}

type erpContract struct {
	ID                json.Number           `json:"id"`
	EnterpriseId      json.Number           `json:"enterpriseId"`
	UnitId            json.Number           `json:"unitId"`
	BrokerId          json.Number           `json:"brokerId"`
	CustomerId        json.Number           `json:"customerId"`
	Coborrowers       []erpContractCustomer `json:"coborrowers"`
	Value             json.Number           `json:"value"`
	Status            string                `json:"status"`
	ContractDate      string                `json:"contractDate"`
	PaymentConditions []erpPaymentCondition `json:"paymentConditions"`
	ModifiedAt        string                `json:"modifiedAt"`
}

type erpContractCustomer struct {
	CustomerId json.Number `json:"customerId"`
	Main       bool        `json:"main"`
}

type erpPaymentCondition struct {
	ConditionTypeId    string      `json:"conditionTypeId"`
	TotalValue         json.Number `json:"totalValue"`
	InstallmentsNumber int         `json:"installmentsNumber"`
	FirstPaymentDate   string      `json:"firstPaymentDate"`
}

func decimalFromNumber(num json.Number) decimal.Decimal {
	if num.String() == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(num.String()); err == nil {
		return d
	}
	return decimal.Zero
}
