package registry

import (
	"strings"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
)

var (
	seatKeys            = []string{"sjediste", "sjedista", "seat"}
	primaryActivityKeys = []string{"pretezita_djelatnost", "glavna_djelatnost", "primary_activity"}
	activityKeys        = []string{"predmeti_poslovanja", "djelatnosti", "evidencijske_djelatnosti", "activities"}
	capitalKeys         = []string{"temeljni_kapitali", "kapitali", "capital_history"}
	procedureKeys       = []string{"postupci", "statusni_postupci", "status_procedures"}
	financialKeys       = []string{"gfi", "financijska_izvjesca", "godisnja_financijska_izvjesca", "financial_reports"}
	changeKeys          = []string{"promjene", "povijest_promjena", "change_history"}
	foreignNameKeys     = []string{"tvrtke_na_stranom_jeziku", "strane_tvrtke", "foreign_names"}
	activityTextKeys    = []string{"djelatnost_tekst", "tekst", "opis", "naziv", "description"}
)

// HasExpandedDetail reports whether a cached document carries the expanded
// detail structure rather than a list-level stub.
func HasExpandedDetail(doc Node) bool {
	rec := UnwrapDetail(doc)
	if !rec.IsObject() {
		return false
	}
	if firstOf(rec, mbsAccessors) == "" {
		return false
	}
	if firstOf(rec, nameAccessors) == "" && firstOf(rec, oibAccessors) == "" {
		return false
	}
	if !hasSeat(rec) {
		return false
	}
	if primaryActivity(rec) == nil {
		return false
	}
	if _, ok := listAt(rec, activityKeys); !ok {
		return false
	}
	_, ok := listAt(rec, financialKeys)
	return ok
}

func hasSeat(rec Node) bool {
	for _, key := range seatKeys {
		v := rec.At(key)
		if v.IsObject() || (v.IsArray() && len(v.Items()) > 0) {
			return true
		}
	}
	return false
}

// listAt returns the first array found under keys. The bool reports presence,
// so an empty list still counts.
func listAt(rec Node, keys []string) ([]Node, bool) {
	for _, key := range keys {
		v, ok := rec.GetFold(key)
		if ok && v.IsArray() {
			return v.Items(), true
		}
	}
	return nil, false
}

func listOrEmpty(rec Node, keys []string) []Node {
	items, ok := listAt(rec, keys)
	if !ok {
		return []Node{}
	}
	return items
}

// deepCodeName finds the first code and name pair under n, looking through
// nested objects and arrays.
func deepCodeName(n Node) (code, name string) {
	switch n.Kind() {
	case KindObject:
		code, _ = firstKey(n, codeKeys)
		name, _ = firstKey(n, nameKeys)
		if code != "" || name != "" {
			return NormalizeCode(code), name
		}
		for _, f := range n.Fields() {
			if c, nm := deepCodeName(f.Value); c != "" || nm != "" {
				return c, nm
			}
		}
	case KindArray:
		for _, item := range n.Items() {
			if c, nm := deepCodeName(item); c != "" || nm != "" {
				return c, nm
			}
		}
	}
	return "", ""
}

func primaryActivity(rec Node) *CodeName {
	for _, key := range primaryActivityKeys {
		if code, name := deepCodeName(rec.At(key)); code != "" || name != "" {
			return &CodeName{Code: code, Name: name}
		}
	}
	for _, c := range ExtractClassifications(rec) {
		if c.RelationType == domain.RelationPrimary {
			return &CodeName{Code: c.Code, Name: c.Name}
		}
	}
	return nil
}

type CodeName struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type Identifiers struct {
	MBS     string `json:"mbs"`
	OIB     string `json:"oib"`
	FullMBS string `json:"full_mbs"`
	FullOIB string `json:"full_oib"`
	EUID    string `json:"euid"`
}

type StatusInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type Courts struct {
	Competent *CodeName `json:"competent"`
	Service   *CodeName `json:"service"`
}

type CompanyNames struct {
	Name         string   `json:"name"`
	ShortName    string   `json:"short_name"`
	Designation  string   `json:"designation"`
	ForeignNames []string `json:"foreign_names"`
}

type Seat struct {
	County       string `json:"county"`
	Municipality string `json:"municipality"`
	Settlement   string `json:"settlement"`
	Street       string `json:"street"`
	HouseNumber  string `json:"house_number"`
	PostalCode   string `json:"postal_code"`
	Address      string `json:"address"`
}

type Dates struct {
	Founded     string `json:"founded"`
	Registered  string `json:"registered"`
	Deleted     string `json:"deleted"`
	LastChanged string `json:"last_changed"`
}

type Flags struct {
	Deleted       bool `json:"deleted"`
	InBankruptcy  bool `json:"in_bankruptcy"`
	InLiquidation bool `json:"in_liquidation"`
	ForeignBranch bool `json:"foreign_branch"`
}

type Activity struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Structured is the stable projection of a registry detail document. Absent
// sub-objects are null and absent lists are empty.
type Structured struct {
	Identifiers      *Identifiers     `json:"identifiers"`
	Status           *StatusInfo      `json:"status"`
	Courts           *Courts          `json:"courts"`
	Names            *CompanyNames    `json:"names"`
	Seat             *Seat            `json:"seat"`
	LegalForm        *CodeName        `json:"legal_form"`
	PrimaryActivity  *CodeName        `json:"primary_activity"`
	Dates            *Dates           `json:"dates"`
	Flags            *Flags           `json:"flags"`
	Activities       []Activity       `json:"activities"`
	Classifications  []Classification `json:"classifications"`
	CapitalHistory   []Node           `json:"capital_history"`
	StatusProcedures []Node           `json:"status_procedures"`
	FinancialReports []Node           `json:"financial_reports"`
	ChangeHistory    []Node           `json:"change_history"`
}

// BuildStructured projects any document onto the Structured contract.
func BuildStructured(doc Node) Structured {
	rec := UnwrapDetail(doc)
	return Structured{
		Identifiers:      buildIdentifiers(rec),
		Status:           buildStatus(rec),
		Courts:           buildCourts(rec),
		Names:            buildNames(rec),
		Seat:             buildSeat(rec),
		LegalForm:        buildLegalForm(rec),
		PrimaryActivity:  primaryActivity(rec),
		Dates:            buildDates(rec),
		Flags:            buildFlags(rec),
		Activities:       buildActivities(rec),
		Classifications:  ExtractClassifications(rec),
		CapitalHistory:   listOrEmpty(rec, capitalKeys),
		StatusProcedures: listOrEmpty(rec, procedureKeys),
		FinancialReports: listOrEmpty(rec, financialKeys),
		ChangeHistory:    listOrEmpty(rec, changeKeys),
	}
}

func buildIdentifiers(rec Node) *Identifiers {
	ids := Identifiers{
		MBS:     firstOf(rec, mbsAccessors),
		OIB:     firstOf(rec, oibAccessors),
		FullMBS: rec.At("potpuni_mbs").Text(),
		FullOIB: rec.At("potpuni_oib").Text(),
		EUID:    rec.At("euid").Text(),
	}
	if ids == (Identifiers{}) {
		return nil
	}
	return &ids
}

func buildStatus(rec Node) *StatusInfo {
	raw := rec.At("status")
	st := StatusInfo{Code: raw.Text(), Name: firstOf(rec, statusAccessors)}
	if raw.IsObject() {
		st.Code = firstOf(raw, []accessor{path("sifra"), path("code"), path("oznaka")})
	}
	if st == (StatusInfo{}) {
		return nil
	}
	return &st
}

func codeNameAt(n Node) *CodeName {
	if !n.IsObject() {
		if text := n.Text(); text != "" {
			return &CodeName{Name: text}
		}
		return nil
	}
	code, _ := firstKey(n, codeKeys)
	name, _ := firstKey(n, nameKeys)
	if code == "" && name == "" {
		return nil
	}
	return &CodeName{Code: code, Name: name}
}

func buildCourts(rec Node) *Courts {
	competent := codeNameAt(rec.At("sud_nadlezan"))
	if competent == nil {
		competent = codeNameAt(rec.At("sud"))
	}
	service := codeNameAt(rec.At("sud_sluzba"))
	if competent == nil && service == nil {
		return nil
	}
	return &Courts{Competent: competent, Service: service}
}

func buildNames(rec Node) *CompanyNames {
	names := CompanyNames{
		Name:         firstOf(rec, nameAccessors),
		ShortName:    rec.At("skracena_tvrtka", "ime").Text(),
		Designation:  rec.At("tvrtka", "naznaka_imena").Text(),
		ForeignNames: []string{},
	}
	for _, item := range listOrEmpty(rec, foreignNameKeys) {
		if v := firstOf(item, []accessor{path("ime"), path("naziv"), path("name"), path()}); v != "" {
			names.ForeignNames = append(names.ForeignNames, v)
		}
	}
	if names.Name == "" && names.ShortName == "" && names.Designation == "" && len(names.ForeignNames) == 0 {
		return nil
	}
	return &names
}

func buildSeat(rec Node) *Seat {
	if !hasSeat(rec) {
		return nil
	}
	seat := rec.At("sjediste")
	if seat.IsNull() {
		seat = rec.At("seat")
	}
	if seat.IsNull() {
		seat = rec.At("sjedista").At("0")
	}
	return &Seat{
		County:       seat.At("naziv_zupanije").Text(),
		Municipality: seat.At("naziv_opcine").Text(),
		Settlement:   seat.At("naziv_naselja").Text(),
		Street:       seat.At("ulica").Text(),
		HouseNumber:  seat.At("kucni_broj").Text(),
		PostalCode:   seat.At("postanski_broj").Text(),
		Address:      firstOf(Object(Field{Key: "sjediste", Value: seat}), addressAccessors),
	}
}

func buildLegalForm(rec Node) *CodeName {
	form := rec.At("pravni_oblik")
	if nested := codeNameAt(form.At("vrsta_pravnog_oblika")); nested != nil {
		return nested
	}
	if cn := codeNameAt(form); cn != nil {
		return cn
	}
	return codeNameAt(rec.At("legal_form"))
}

func buildDates(rec Node) *Dates {
	d := Dates{
		Founded:     firstOf(rec, []accessor{path("datum_osnivanja"), path("founded")}),
		Registered:  firstOf(rec, []accessor{path("datum_upisa"), path("registered")}),
		Deleted:     firstOf(rec, []accessor{path("datum_brisanja"), path("deleted")}),
		LastChanged: firstOf(rec, []accessor{path("vrijeme_zadnje_izmjene"), path("datum_zadnje_promjene"), path("last_changed")}),
	}
	if d == (Dates{}) {
		return nil
	}
	return &d
}

func buildFlags(rec Node) *Flags {
	_, hasDeleted := rec.GetFold("datum_brisanja")
	_, hasBranch := rec.GetFold("ino_podruznica")
	_, hasBankruptcy := rec.GetFold("stecaj")
	_, hasLiquidation := rec.GetFold("likvidacija")
	procedures := listOrEmpty(rec, procedureKeys)
	if !hasDeleted && !hasBranch && !hasBankruptcy && !hasLiquidation && len(procedures) == 0 {
		return nil
	}

	flags := Flags{
		Deleted:       rec.At("datum_brisanja").Text() != "" || rec.At("brisan").Truthy(),
		InBankruptcy:  rec.At("stecaj").Truthy(),
		InLiquidation: rec.At("likvidacija").Truthy(),
		ForeignBranch: rec.At("ino_podruznica").Truthy(),
	}
	for _, p := range procedures {
		_, name := deepCodeName(p)
		lower := strings.ToLower(name)
		if strings.Contains(lower, "stečaj") || strings.Contains(lower, "stecaj") {
			flags.InBankruptcy = true
		}
		if strings.Contains(lower, "likvidacij") {
			flags.InLiquidation = true
		}
	}
	return &flags
}

func buildActivities(rec Node) []Activity {
	items := listOrEmpty(rec, activityKeys)
	out := make([]Activity, 0, len(items))
	for _, item := range items {
		if !item.IsObject() {
			if text := item.Text(); text != "" {
				out = append(out, Activity{Description: text})
			}
			continue
		}
		code, _ := firstKey(item, codeKeys)
		desc, _ := firstKey(item, activityTextKeys)
		if code == "" && desc == "" {
			continue
		}
		out = append(out, Activity{Code: code, Description: desc})
	}
	return out
}

// CompanyDetail is the cached row plus its structured projection.
type CompanyDetail struct {
	Company    domain.CanonicalCompany `json:"company"`
	Structured Structured              `json:"structured"`
}
