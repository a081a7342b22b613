package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"propchain/pkg/gateway"
	"propchain/pkg/hcs"
	"propchain/pkg/models"
	"propchain/pkg/notify"
	"propchain/pkg/withdrawal"

	"github.com/shopspring/decimal"
)

func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "withdraw":
		return a.withdraw(ctx, args)
	case "cancel":
		return a.cancel(ctx, args)
	case "list":
		return a.list(ctx, args)
	case "balance":
		return a.balance(ctx, args)
	case "session":
		return a.showSession(ctx)
	case "topic":
		return a.topic(ctx, args)
	}
	return errUsage
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func (a *app) withdraw(ctx context.Context, args []string) error {
	fs := newFlagSet("withdraw")
	amount := fs.String("amount", "", "amount in NGN")
	bankAccount := fs.String("bank-account", "", "bank account name")
	accountNumber := fs.String("account-number", "", "bank account number")
	bankCode := fs.String("bank-code", "", "bank code")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	sess, err := a.currentSession(ctx)
	if err != nil {
		return a.report(err)
	}

	// A missing amount is left zero and rejected by validation.
	var amt decimal.Decimal
	if raw := strings.TrimSpace(*amount); raw != "" {
		if amt, err = decimal.NewFromString(raw); err != nil {
			return a.report(&withdrawal.ValidationError{
				Fields:  []string{"amount_ngn"},
				Message: fmt.Sprintf("amount_ngn %q is not a number", raw),
			})
		}
	}

	w, err := a.coord.InitiateWithdrawal(ctx, sess, withdrawal.Input{
		Amount:        amt,
		BankAccount:   *bankAccount,
		AccountNumber: *accountNumber,
		BankCode:      *bankCode,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "id: %s\nstatus: %s\n", w.ID, w.Status)
	return nil
}

func (a *app) cancel(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}

	sess, err := a.currentSession(ctx)
	if err != nil {
		return a.report(err)
	}

	w, err := a.coord.CancelWithdrawal(ctx, sess, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "id: %s\nstatus: %s\n", w.ID, w.Status)
	return nil
}

func (a *app) list(ctx context.Context, args []string) error {
	fs := newFlagSet("list")
	user := fs.String("user", "", "user id (defaults to the session's user)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	sess, err := a.currentSession(ctx)
	if err != nil {
		return a.report(err)
	}
	userID := *user
	if userID == "" {
		userID = sess.UserID
	}

	list, err := a.coord.ListWithdrawals(ctx, sess, userID)
	if err != nil {
		return a.report(err)
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAMOUNT (NGN)\tBANK\tACCOUNT\tSTATUS\tCREATED")
	for _, w := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			w.ID, w.Amount.StringFixed(2), w.BankAccount, w.AccountNumber, w.Status,
			w.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func (a *app) balance(ctx context.Context, args []string) error {
	fs := newFlagSet("balance")
	address := fs.String("address", a.cfg.Observer.TreasuryAddress, "treasury account id")
	watch := fs.Bool("watch", false, "keep polling until interrupted")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if !*watch {
		snap := a.observer.View(ctx, *address)
		if snap == nil {
			fmt.Fprintln(a.out, "balance unavailable")
			return nil
		}
		a.printBalance(snap)
		return nil
	}

	sub := a.observer.Subscribe(ctx, *address)
	if sub == nil {
		fmt.Fprintln(a.out, "no treasury address configured")
		return nil
	}
	defer sub.Stop()

	for {
		select {
		case snap := <-sub.Updates():
			a.printBalance(snap)
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *app) printBalance(s *models.BalanceSnapshot) {
	fmt.Fprintf(a.out, "%s  HBAR %s  USDC %s  synced %s\n",
		s.TreasuryAddress, s.BalanceHBAR.String(), s.BalanceUSDC.StringFixed(2),
		s.LastSynced.Local().Format(time.DateTime))
}

func (a *app) showSession(ctx context.Context) error {
	sess, err := a.currentSession(ctx)
	if err != nil {
		return a.report(err)
	}

	fmt.Fprintf(a.out, "state: %s\n", sess.State)
	if sess.UserID != "" {
		fmt.Fprintf(a.out, "user: %s\n", sess.UserID)
	}
	return nil
}

func (a *app) topic(ctx context.Context, args []string) error {
	fs := newFlagSet("topic")
	memo := fs.String("memo", "", "topic memo (default "+hcs.DefaultMemo+")")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	sess, err := a.currentSession(ctx)
	if err != nil {
		return a.report(err)
	}

	payload := map[string]string{}
	if *memo != "" {
		payload["memo"] = *memo
	}

	raw, err := a.gateway.InvokeServerFunction(ctx, sess, hcs.FunctionName, payload)
	if err != nil {
		return a.report(err)
	}

	resp, err := gateway.Decode[hcs.Response](hcs.FunctionName, raw)
	if err != nil {
		return a.report(err)
	}
	if !resp.Success || resp.Data == nil {
		return a.report(fmt.Errorf("topic creation failed: %s", resp.Error))
	}

	out, _ := json.MarshalIndent(resp.Data, "", "  ")
	fmt.Fprintln(a.out, string(out))
	return nil
}

// report prints the user-facing message for an error raised outside the
// coordinator, which reports its own failures.
func (a *app) report(err error) error {
	fmt.Fprintf(a.out, "error: %s\n", notify.Message(err))
	return err
}
