package domain

// CRMImportRequest identifies a registry company to materialize in the CRM.
type CRMImportRequest struct {
	Name    string `json:"name"`
	OIB     string `json:"oib,omitempty"`
	MBS     string `json:"mbs,omitempty"`
	Website string `json:"website,omitempty"`
}

// CRMCompanyInput is the resolved company data written to the CRM store.
type CRMCompanyInput struct {
	Name           string
	OIB            string
	MBS            string
	Website        string
	RegistrySource string
}

type CRMImportResult struct {
	CompanyID int64 `json:"company_id"`
	LeadID    int64 `json:"lead_id"`
	Created   bool  `json:"created"`
}
