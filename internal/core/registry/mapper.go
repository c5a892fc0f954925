package registry

import (
	"strings"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
)

// accessor reads one candidate value for a canonical field.
type accessor func(Node) string

func path(keys ...string) accessor {
	return func(n Node) string {
		return n.At(keys...).Text()
	}
}

// firstItem reads keys from the first element of an array field.
func firstItem(list string, keys ...string) accessor {
	return func(n Node) string {
		return n.At(list).At("0").At(keys...).Text()
	}
}

func firstOf(n Node, accessors []accessor) string {
	for _, get := range accessors {
		if v := get(n); v != "" {
			return v
		}
	}
	return ""
}

var (
	nameAccessors = []accessor{
		path("tvrtka", "ime"),
		path("skracena_tvrtka", "ime"),
		path("tvrtka"),
		path("naziv"),
		path("ime"),
		path("name"),
		firstItem("tvrtke", "ime"),
	}
	oibAccessors = []accessor{
		path("oib"),
		path("potpuni_oib"),
		path("porezni_broj"),
		path("tax_id"),
	}
	mbsAccessors = []accessor{
		path("mbs"),
		path("potpuni_mbs"),
		path("maticni_broj_subjekta"),
		path("mbs_subjekta"),
		path("subjekt", "mbs"),
	}
	courtAccessors = []accessor{
		path("sud_nadlezan", "naziv"),
		path("sud", "naziv"),
		path("sud_sluzba", "naziv"),
		path("nadlezni_sud"),
		path("sud"),
		path("court"),
	}
	statusAccessors = []accessor{
		path("status", "naziv"),
		path("postupak", "vrsta_postupka", "naziv"),
		path("postupak", "naziv"),
		path("status_naziv"),
		path("stanje"),
		path("status"),
	}
	cityAccessors = []accessor{
		path("sjediste", "naziv_naselja"),
		path("sjediste", "naziv_opcine"),
		path("sjediste", "mjesto"),
		path("naselje"),
		path("grad"),
		path("mjesto"),
		path("city"),
	}
	addressAccessors = []accessor{
		path("sjediste", "adresa"),
		path("adresa"),
		path("address"),
		path("sjediste", "ulica_i_broj"),
		syntheticAddress,
	}
	websiteAccessors = []accessor{
		path("web_stranica"),
		path("internet_adresa"),
		path("website"),
		path("web"),
		firstItem("web_adrese", "adresa"),
		path("url"),
	}
)

// syntheticAddress joins street, house number and settlement when no single
// address field exists.
func syntheticAddress(n Node) string {
	seat := n.At("sjediste")
	if seat.IsNull() {
		seat = n
	}
	street := strings.TrimSpace(strings.Join(nonEmpty(seat.At("ulica").Text(), seat.At("kucni_broj").Text()), " "))
	return strings.Join(nonEmpty(street, seat.At("naziv_naselja").Text()), ", ")
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// MapToCanonical projects an upstream record (list or detail shape) onto the
// canonical company fields. It never fails; missing fields become "".
func MapToCanonical(raw Node) domain.CanonicalCompany {
	rec := UnwrapDetail(raw)
	return domain.CanonicalCompany{
		MBS:     firstOf(rec, mbsAccessors),
		Name:    firstOf(rec, nameAccessors),
		OIB:     firstOf(rec, oibAccessors),
		Court:   firstOf(rec, courtAccessors),
		Status:  firstOf(rec, statusAccessors),
		City:    firstOf(rec, cityAccessors),
		Address: firstOf(rec, addressAccessors),
		Website: firstOf(rec, websiteAccessors),
	}
}

// MergeCanonical keeps every non-empty field of primary and fills the gaps
// from fallback.
func MergeCanonical(primary, fallback domain.CanonicalCompany) domain.CanonicalCompany {
	out := primary
	out.MBS = coalesce(primary.MBS, fallback.MBS)
	out.Name = coalesce(primary.Name, fallback.Name)
	out.OIB = coalesce(primary.OIB, fallback.OIB)
	out.Court = coalesce(primary.Court, fallback.Court)
	out.Status = coalesce(primary.Status, fallback.Status)
	out.City = coalesce(primary.City, fallback.City)
	out.Address = coalesce(primary.Address, fallback.Address)
	out.Website = coalesce(primary.Website, fallback.Website)
	return out
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
