package checks

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/migrapass/checkgate/internal/browser"
	"github.com/migrapass/checkgate/internal/captcha"
	"github.com/migrapass/checkgate/internal/config"
	"github.com/migrapass/checkgate/internal/gateway"
)

// EntryBanPayload is the entry-ban check result payload.
type EntryBanPayload struct {
	Verdict string `json:"verdict"`
}

// entryBanFiller drives the entry-restriction lookup form.
func entryBanFiller(solver *captcha.Solver, cfg config.CheckConfig) formFiller {
	return func(ctx context.Context, sess *browser.Session, in gateway.Input) error {
		if err := sess.SendKeys(ctx, "input[name=lastname]", in.LastName); err != nil {
			return err
		}
		if err := sess.SendKeys(ctx, "input[name=firstname]", in.FirstName); err != nil {
			return err
		}
		if in.BirthDate != "" {
			if err := sess.SendKeys(ctx, "input[name=birthdate]", in.BirthDate); err != nil {
				return err
			}
		}
		if in.Citizenship != "" {
			if err := sess.SendKeys(ctx, "input[name=citizenship]", in.Citizenship); err != nil {
				return err
			}
		}
		if err := sess.SendKeys(ctx, "input[name=doc_number]", in.DocumentNumber); err != nil {
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

// extractEntryBan interprets the entry-restriction answer. A "found" status
// means grounds for refusing entry exist.
func extractEntryBan(doc *goquery.Document, _ gateway.Input) (gateway.Outcome, error) {
	switch {
	case pageContains(doc, "не имеется", "не выявлено"):
		return gateway.Outcome{
			Status:  gateway.StatusNotFound,
			Payload: EntryBanPayload{Verdict: "no entry restrictions on record"},
		}, nil
	case pageContains(doc, "имеются основания", "въезд не разрешен"):
		return gateway.Outcome{
			Status:  gateway.StatusFound,
			Payload: EntryBanPayload{Verdict: "grounds for entry restriction on record"},
		}, nil
	}
	return gateway.Outcome{}, &gateway.ParseError{Reason: "no recognizable verdict on entry-ban page"}
}
