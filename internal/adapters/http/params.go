package httpadapter

import (
	"net/http"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
)

// searchParams mirrors the search query parameters; optional values are
// pointers as the runtime binder expects.
type searchParams struct {
	Q       *string
	Nkd     *[]string
	NkdMode *string
	City    *string
	Region  *string
	Limit   *int
}

func bindCompanySearch(r *http.Request) (domain.CompanySearch, error) {
	var params searchParams
	query := r.URL.Query()
	bindings := []struct {
		name string
		dest any
	}{
		{"q", &params.Q},
		{"nkd", &params.Nkd},
		{"nkd_mode", &params.NkdMode},
		{"city", &params.City},
		{"region", &params.Region},
		{"limit", &params.Limit},
	}
	for _, b := range bindings {
		if err := runtime.BindQueryParameter("form", true, false, b.name, query, b.dest); err != nil {
			return domain.CompanySearch{}, domain.WrapError(domain.ErrInvalidInput, "bind "+b.name, err)
		}
	}

	return domain.CompanySearch{
		Query:               deref(params.Q),
		ClassificationCodes: deref(params.Nkd),
		ClassificationMode:  domain.ClassificationMode(deref(params.NkdMode)),
		City:                deref(params.City),
		Region:              deref(params.Region),
		Limit:               deref(params.Limit),
	}, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
