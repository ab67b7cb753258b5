package checks

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/migrapass/checkgate/internal/browser"
	"github.com/migrapass/checkgate/internal/captcha"
	"github.com/migrapass/checkgate/internal/config"
	"github.com/migrapass/checkgate/internal/gateway"
)

// DebtRecord is one enforcement proceeding found in the debt registry.
type DebtRecord struct {
	Proceeding string `json:"proceeding"`
	Subject    string `json:"subject"`
	Amount     string `json:"amount"`
	Department string `json:"department"`
}

// DebtPayload is the debt check result payload.
type DebtPayload struct {
	Records []DebtRecord `json:"records"`
}

// debtFiller drives the enforcement-proceedings search form.
func debtFiller(solver *captcha.Solver, cfg config.CheckConfig) formFiller {
	return func(ctx context.Context, sess *browser.Session, in gateway.Input) error {
		if err := sess.SendKeys(ctx, "input[name='is[last_name]']", in.LastName); err != nil {
			return err
		}
		if err := sess.SendKeys(ctx, "input[name='is[first_name]']", in.FirstName); err != nil {
			return err
		}
		if in.BirthDate != "" {
			if err := sess.SendKeys(ctx, "input[name='is[date]']", in.BirthDate); err != nil {
				return err
			}
		}
		if err := solveChallenge(ctx, sess, solver, cfg); err != nil {
			return err
		}
		if err := sess.Click(ctx, submitSelector); err != nil {
			return err
		}
		// The registry renders results client-side; give it a chance before
		// extraction, absence of the block means an empty result page.
		sess.Visible(ctx, ".results, .b-search-result", 0)
		return nil
	}
}

// extractDebt reads the proceedings table from the rendered results.
func extractDebt(doc *goquery.Document, _ gateway.Input) (gateway.Outcome, error) {
	if pageContains(doc, "ничего не найдено", "отсутствуют сведения") {
		return gateway.Outcome{Status: gateway.StatusNotFound, Payload: DebtPayload{}}, nil
	}

	rows := doc.Find("table.iss-table tbody tr, .b-search-result table tbody tr")
	if rows.Length() == 0 {
		return gateway.Outcome{}, &gateway.ParseError{Reason: "expected proceedings table or empty-result marker"}
	}

	payload := DebtPayload{}
	rows.Each(func(_ int, row *goquery.Selection) {
		record := DebtRecord{
			Proceeding: cellText(row, 1),
			Subject:    cellText(row, 2),
			Amount:     cellText(row, 3),
			Department: cellText(row, 4),
		}
		if record.Proceeding != "" {
			payload.Records = append(payload.Records, record)
		}
	})
	if len(payload.Records) == 0 {
		return gateway.Outcome{Status: gateway.StatusNotFound, Payload: payload}, nil
	}
	return gateway.Outcome{Status: gateway.StatusFound, Payload: payload}, nil
}
