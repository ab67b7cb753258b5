package checks

import (
	"context"
	"encoding/json"

	"github.com/migrapass/checkgate/internal/gateway"
)

// TaxIDPayload is the tax-ID lookup result payload.
type TaxIDPayload struct {
	TaxID string `json:"tax_id"`
}

type taxIDResponse struct {
	Code int    `json:"code"`
	INN  string `json:"inn"`
}

// taxIDPerform resolves a person's tax identifier through the tax
// service's form endpoint; no browser involved.
func taxIDPerform(fetcher *httpFetcher, serviceURL string) gateway.Perform {
	return func(ctx context.Context, in gateway.Input) (gateway.Outcome, error) {
		form := map[string]string{
			"c":       "innMy",
			"fam":     in.LastName,
			"nam":     in.FirstName,
			"otch":    in.MiddleName,
			"bdate":   in.BirthDate,
			"doctype": "21",
			"docno":   in.DocumentSeries + in.DocumentNumber,
		}

		body, err := fetcher.PostForm(ctx, serviceURL, form)
		if err != nil {
			return gateway.Outcome{}, err
		}

		var resp taxIDResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return gateway.Outcome{}, &gateway.ParseError{Reason: "unexpected tax service response shape", Err: err}
		}

		if resp.Code == 1 && resp.INN != "" {
			return gateway.Outcome{Status: gateway.StatusFound, Payload: TaxIDPayload{TaxID: resp.INN}}, nil
		}
		return gateway.Outcome{Status: gateway.StatusNotFound, Payload: TaxIDPayload{}}, nil
	}
}
