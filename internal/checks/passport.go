package checks

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/migrapass/checkgate/internal/browser"
	"github.com/migrapass/checkgate/internal/captcha"
	"github.com/migrapass/checkgate/internal/config"
	"github.com/migrapass/checkgate/internal/gateway"
)

// PassportPayload is the passport validity check result payload.
type PassportPayload struct {
	Series  string `json:"series"`
	Number  string `json:"number"`
	Verdict string `json:"verdict"`
}

// passportFiller drives the invalid-passports lookup form.
func passportFiller(solver *captcha.Solver, cfg config.CheckConfig) formFiller {
	return func(ctx context.Context, sess *browser.Session, in gateway.Input) error {
		if err := sess.SendKeys(ctx, "input[name=sery]", in.DocumentSeries); err != nil {
			return err
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

// extractPassport interprets the invalid-passport registry answer. The
// registry lists revoked documents, so "not listed" means the passport is
// good.
func extractPassport(doc *goquery.Document, in gateway.Input) (gateway.Outcome, error) {
	payload := PassportPayload{Series: in.DocumentSeries, Number: in.DocumentNumber}

	switch {
	case pageContains(doc, "не значится", "не найден в списке недействительных"):
		payload.Verdict = "not listed among invalid documents"
		return gateway.Outcome{Status: gateway.StatusValid, Payload: payload}, nil
	case pageContains(doc, "значится недействительным", "недействителен"):
		payload.Verdict = "listed as invalid"
		return gateway.Outcome{Status: gateway.StatusInvalid, Payload: payload}, nil
	case pageContains(doc, "данные не найдены", "проверка временно недоступна"):
		return gateway.Outcome{Status: gateway.StatusUnknown, Payload: payload}, nil
	}
	return gateway.Outcome{}, &gateway.ParseError{Reason: "no recognizable verdict on passport page"}
}
