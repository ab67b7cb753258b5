package checks

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/migrapass/checkgate/internal/gateway"
)

// Fine is one unpaid traffic fine.
type Fine struct {
	Date    string  `json:"date"`
	Article string  `json:"article"`
	Amount  float64 `json:"amount"`
}

// FinesPayload is the fines check result payload.
type FinesPayload struct {
	Count       int     `json:"count"`
	TotalAmount float64 `json:"total_amount"`
	Fines       []Fine  `json:"fines,omitempty"`
}

type finesResponse struct {
	Count int    `json:"count"`
	Fines []Fine `json:"fines"`
}

// finesPerform queries the fines registry over its JSON endpoint; no
// browser involved.
func finesPerform(fetcher *httpFetcher, serviceURL string) gateway.Perform {
	return func(ctx context.Context, in gateway.Input) (gateway.Outcome, error) {
		q := url.Values{}
		q.Set("series", in.DocumentSeries)
		q.Set("number", in.DocumentNumber)

		body, err := fetcher.Get(ctx, serviceURL+"?"+q.Encode())
		if err != nil {
			return gateway.Outcome{}, err
		}

		var resp finesResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return gateway.Outcome{}, &gateway.ParseError{Reason: "unexpected fines response shape", Err: err}
		}

		payload := FinesPayload{Count: resp.Count, Fines: resp.Fines}
		for _, f := range resp.Fines {
			payload.TotalAmount += f.Amount
		}
		if payload.Count == 0 && len(payload.Fines) == 0 {
			return gateway.Outcome{Status: gateway.StatusNotFound, Payload: payload}, nil
		}
		return gateway.Outcome{Status: gateway.StatusFound, Payload: payload}, nil
	}
}
