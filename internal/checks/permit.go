package checks

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/migrapass/checkgate/internal/browser"
	"github.com/migrapass/checkgate/internal/captcha"
	"github.com/migrapass/checkgate/internal/config"
	"github.com/migrapass/checkgate/internal/gateway"
)

// PermitPayload is the result payload for patent and work-permit checks.
// Both run against the same document-validity service, differing only in
// the endpoint and document kind.
type PermitPayload struct {
	DocumentSeries string `json:"document_series,omitempty"`
	DocumentNumber string `json:"document_number"`
	Verdict        string `json:"verdict"`
}

// permitFiller drives the document-validity lookup form shared by the
// patent and work-permit services.
func permitFiller(solver *captcha.Solver, cfg config.CheckConfig) formFiller {
	return func(ctx context.Context, sess *browser.Session, in gateway.Input) error {
		if in.DocumentSeries != "" {
			if err := sess.SendKeys(ctx, "input[name=serial]", in.DocumentSeries); err != nil {
				return err
			}
		}
		if err := sess.SendKeys(ctx, "input[name=number]", in.DocumentNumber); err != nil {
			return err
		}
		if err := solveChallenge(ctx, sess, solver, cfg); err != nil {
			return err
		}
		if err := sess.Click(ctx, submitSelector); err != nil {
			return err
		}
		sess.Visible(ctx, ".result, #checkresult", 0)
		return nil
	}
}

// extractPermit interprets the document-validity answer shared by patent
// and work-permit lookups.
func extractPermit(doc *goquery.Document, in gateway.Input) (gateway.Outcome, error) {
	payload := PermitPayload{DocumentSeries: in.DocumentSeries, DocumentNumber: in.DocumentNumber}

	// Negated markers first: "недействителен" contains "действителен" as a
	// substring, so the order of these cases matters.
	switch {
	case pageContains(doc, "срок действия истек", "истек срок"):
		payload.Verdict = "document has expired"
		return gateway.Outcome{Status: gateway.StatusExpired, Payload: payload}, nil
	case pageContains(doc, "аннулирован", "недействителен"):
		payload.Verdict = "document was revoked"
		return gateway.Outcome{Status: gateway.StatusInvalid, Payload: payload}, nil
	case pageContains(doc, "не найдено", "отсутствуют сведения"):
		return gateway.Outcome{Status: gateway.StatusNotFound, Payload: payload}, nil
	case pageContains(doc, "действует", "действителен"):
		payload.Verdict = "document is active"
		return gateway.Outcome{Status: gateway.StatusValid, Payload: payload}, nil
	}
	return gateway.Outcome{}, &gateway.ParseError{Reason: "no recognizable verdict on document page"}
}
